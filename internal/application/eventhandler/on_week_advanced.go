// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"log/slog"

	"github.com/planloop/schedule-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON WEEK ADVANCED HANDLER
// Обрабатывает событие перехода инстанса на следующую неделю.
//
// Ключевые функции:
// 1. Инвалидация кэша — закрытая неделя меняет все отчёты инстанса
// 2. Уведомление студента — опционально, за feature-флагом
//
// Обработчик никогда не возвращает ошибку наружу: переход недели уже
// зафиксирован в базе, и ни кэш, ни вебхук не должны его "откатывать".
// ═══════════════════════════════════════════════════════════════════════════

// Notifier — порт на инфраструктурный сервис уведомлений.
type Notifier interface {
	NotifyWeekAdvanced(ctx context.Context, e shared.WeekAdvancedEvent) error
	NotifyResetCompleted(ctx context.Context, e shared.ResetBatchCompletedEvent) error
	NotifyResetFailure(ctx context.Context, e shared.ResetInstanceFailedEvent) error
}

// CacheInvalidator — порт на кэш отчётов.
type CacheInvalidator interface {
	InvalidateInstance(ctx context.Context, instanceID string) error
}

// OnWeekAdvancedHandler обрабатывает событие перехода недели.
type OnWeekAdvancedHandler struct {
	cache    CacheInvalidator
	notifier Notifier
	logger   *slog.Logger
}

// NewOnWeekAdvancedHandler создаёт новый обработчик.
func NewOnWeekAdvancedHandler(cache CacheInvalidator, notifier Notifier, logger *slog.Logger) *OnWeekAdvancedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnWeekAdvancedHandler{
		cache:    cache,
		notifier: notifier,
		logger:   logger.With("handler", "on_week_advanced"),
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnWeekAdvancedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.WeekAdvancedEvent)
	if !ok {
		h.logger.Warn("received non-WeekAdvancedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	ctx := context.Background()

	if h.cache != nil {
		if err := h.cache.InvalidateInstance(ctx, e.AggregateID()); err != nil {
			h.logger.Warn("failed to invalidate instance cache",
				"instance_id", e.AggregateID(),
				"error", err,
			)
		}
	}

	if h.notifier != nil {
		if err := h.notifier.NotifyWeekAdvanced(ctx, e); err != nil {
			h.logger.Warn("failed to notify week advanced",
				"instance_id", e.AggregateID(),
				"student_id", e.StudentID,
				"error", err,
			)
		}
	}

	h.logger.Debug("week advanced event processed",
		"instance_id", e.AggregateID(),
		"from_week", e.FromWeek,
		"to_week", e.ToWeek,
		"terminated", e.Terminated,
	)

	return nil
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnWeekAdvancedHandler) EventType() shared.EventType {
	return shared.EventWeekAdvanced
}
