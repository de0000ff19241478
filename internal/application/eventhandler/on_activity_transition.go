package eventhandler

import (
	"context"
	"log/slog"

	"github.com/planloop/schedule-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACTIVITY TRANSITION HANDLER
// Любой переход статуса активности (выполнено, пропущено) меняет живой
// отчёт текущей недели, поэтому кэш инстанса сбрасывается. Один
// обработчик подписывается на оба события.
// ═══════════════════════════════════════════════════════════════════════════

// OnActivityTransitionHandler сбрасывает кэш после перехода активности.
type OnActivityTransitionHandler struct {
	cache  CacheInvalidator
	logger *slog.Logger
}

// NewOnActivityTransitionHandler создаёт новый обработчик.
func NewOnActivityTransitionHandler(cache CacheInvalidator, logger *slog.Logger) *OnActivityTransitionHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnActivityTransitionHandler{
		cache:  cache,
		logger: logger.With("handler", "on_activity_transition"),
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnActivityTransitionHandler) Handle(event shared.Event) error {
	var instanceID string

	switch e := event.(type) {
	case shared.ActivityCompletedEvent:
		instanceID = e.InstanceID
	case shared.ActivitySkippedEvent:
		instanceID = e.InstanceID
	default:
		h.logger.Warn("received unexpected event",
			"event_type", event.EventType(),
		)
		return nil
	}

	if h.cache == nil || instanceID == "" {
		return nil
	}

	if err := h.cache.InvalidateInstance(context.Background(), instanceID); err != nil {
		h.logger.Warn("failed to invalidate instance cache",
			"instance_id", instanceID,
			"error", err,
		)
	}

	return nil
}

// EventTypes возвращает типы событий, которые обрабатывает этот handler.
func (h *OnActivityTransitionHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventActivityCompleted,
		shared.EventActivitySkipped,
	}
}
