package eventhandler

import (
	"context"
	"log/slog"

	"github.com/planloop/schedule-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON RESET COMPLETED / FAILED HANDLERS
// Пересылают итоги еженедельного прогона координаторам через вебхук.
// Сводка по батчу и отказы отдельных инстансов — разные события с
// разными флагами, поэтому обработчики тоже разделены.
// ═══════════════════════════════════════════════════════════════════════════

// OnResetCompletedHandler обрабатывает сводку завершённого прогона.
type OnResetCompletedHandler struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewOnResetCompletedHandler создаёт новый обработчик.
func NewOnResetCompletedHandler(notifier Notifier, logger *slog.Logger) *OnResetCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnResetCompletedHandler{
		notifier: notifier,
		logger:   logger.With("handler", "on_reset_completed"),
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnResetCompletedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.ResetBatchCompletedEvent)
	if !ok {
		h.logger.Warn("received non-ResetBatchCompletedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	if h.notifier == nil {
		return nil
	}

	if err := h.notifier.NotifyResetCompleted(context.Background(), e); err != nil {
		h.logger.Warn("failed to notify reset completed",
			"run_id", e.AggregateID(),
			"error", err,
		)
	}

	return nil
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnResetCompletedHandler) EventType() shared.EventType {
	return shared.EventResetBatchCompleted
}

// OnResetFailedHandler обрабатывает отказ одного инстанса в прогоне.
type OnResetFailedHandler struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewOnResetFailedHandler создаёт новый обработчик.
func NewOnResetFailedHandler(notifier Notifier, logger *slog.Logger) *OnResetFailedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnResetFailedHandler{
		notifier: notifier,
		logger:   logger.With("handler", "on_reset_failed"),
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnResetFailedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.ResetInstanceFailedEvent)
	if !ok {
		h.logger.Warn("received non-ResetInstanceFailedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	if h.notifier == nil {
		return nil
	}

	if err := h.notifier.NotifyResetFailure(context.Background(), e); err != nil {
		h.logger.Warn("failed to notify reset failure",
			"instance_id", e.AggregateID(),
			"student_id", e.StudentID,
			"error", err,
		)
	}

	return nil
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnResetFailedHandler) EventType() shared.EventType {
	return shared.EventResetInstanceFailed
}
