// Package service contains infrastructure-side implementations of
// application-facing services: outbound notifications and API identity.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/planloop/schedule-hub/config"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/infrastructure/external/webhook"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFIER SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// NotifierService delivers domain events to the configured webhook
// receiver. Every delivery is gated by a feature flag, so notification
// volume can be rolled out per student and cut off without a deploy.
type NotifierService struct {
	client *webhook.Client
	flags  *config.FeatureFlags
	logger *slog.Logger

	// sendTimeout bounds a single delivery including retries.
	sendTimeout time.Duration
}

// NewNotifierService creates a new NotifierService.
func NewNotifierService(client *webhook.Client, flags *config.FeatureFlags, logger *slog.Logger) *NotifierService {
	if logger == nil {
		logger = slog.Default()
	}

	return &NotifierService{
		client:      client,
		flags:       flags,
		logger:      logger.With("service", "notifier"),
		sendTimeout: 30 * time.Second,
	}
}

// NotifyWeekAdvanced delivers a week rollover notification.
// Off by default; enabled per student via the rollout flag.
func (s *NotifierService) NotifyWeekAdvanced(ctx context.Context, e shared.WeekAdvancedEvent) error {
	fctx := &config.FeatureContext{StudentID: e.StudentID}
	if !s.flags.IsEnabled(config.FeatureNotifyWeekAdvanced, fctx) {
		return nil
	}
	return s.send(ctx, e)
}

// NotifyResetCompleted delivers the reset run batch summary.
func (s *NotifierService) NotifyResetCompleted(ctx context.Context, e shared.ResetBatchCompletedEvent) error {
	if !s.flags.IsEnabled(config.FeatureNotifyResetCompleted, nil) {
		return nil
	}
	return s.send(ctx, e)
}

// NotifyResetFailure delivers a per-instance failure from a reset run.
func (s *NotifierService) NotifyResetFailure(ctx context.Context, e shared.ResetInstanceFailedEvent) error {
	fctx := &config.FeatureContext{StudentID: e.StudentID}
	if !s.flags.IsEnabled(config.FeatureNotifyResetFailures, fctx) {
		return nil
	}
	return s.send(ctx, e)
}

// send converts a domain event to the wire payload and delivers it.
func (s *NotifierService) send(ctx context.Context, e shared.Event) error {
	if !s.client.Enabled() {
		s.logger.Debug("webhook receiver not configured, dropping notification",
			"event_type", e.EventType(),
		)
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	n := webhook.Notification{
		Event:       string(e.EventType()),
		AggregateID: e.AggregateID(),
		OccurredAt:  e.OccurredAt(),
		Payload:     e.Payload(),
	}

	if err := s.client.Send(sendCtx, n); err != nil {
		s.logger.Error("notification delivery failed",
			"event_type", e.EventType(),
			"aggregate_id", e.AggregateID(),
			"error", err,
		)
		return err
	}

	s.logger.Debug("notification delivered",
		"event_type", e.EventType(),
		"aggregate_id", e.AggregateID(),
	)

	return nil
}
