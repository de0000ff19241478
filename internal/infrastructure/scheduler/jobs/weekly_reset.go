// Package jobs contains implementations of scheduled jobs for the
// schedule engine. The weekly reset is the heartbeat of the system:
// every open instance depends on it to close the ended week, freeze
// its snapshot and open the next one.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/planloop/schedule-hub/internal/application/command"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/infrastructure/persistence/redis"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY RESET JOB
// ══════════════════════════════════════════════════════════════════════════════

// ResetLock guards the run against concurrent worker replicas.
type ResetLock interface {
	// Acquire takes the lock and returns a release token.
	Acquire(ctx context.Context) (string, error)

	// Release frees the lock if the token still owns it.
	Release(ctx context.Context, token string) error
}

// WeeklyResetJob runs the weekly rollover over all due instances.
// A replica that loses the lock race skips the run silently; the
// winner's run is idempotent, so a crash mid-run is repaired by the
// next scheduled run (or a manual trigger).
type WeeklyResetJob struct {
	handler    *command.RunResetHandler
	lock       ResetLock
	logger     *slog.Logger
	runTimeout time.Duration
}

// NewWeeklyResetJob creates a new weekly reset job.
func NewWeeklyResetJob(
	handler *command.RunResetHandler,
	lock ResetLock,
	logger *slog.Logger,
	runTimeout time.Duration,
) *WeeklyResetJob {
	if logger == nil {
		logger = slog.Default()
	}
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}

	return &WeeklyResetJob{
		handler:    handler,
		lock:       lock,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Name returns the job name.
func (j *WeeklyResetJob) Name() string {
	return "weekly_reset"
}

// Description returns a human-readable description.
func (j *WeeklyResetJob) Description() string {
	return "Closes ended weeks, freezes performance snapshots and advances open instances"
}

// Run executes the weekly rollover under the distributed lock.
func (j *WeeklyResetJob) Run(ctx context.Context) error {
	token, err := j.lock.Acquire(ctx)
	if err != nil {
		if errors.Is(err, redis.ErrLockHeld) {
			j.logger.Info("weekly reset skipped: another worker holds the lock")
			return nil
		}
		return fmt.Errorf("weekly reset: lock acquire failed: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.lock.Release(releaseCtx, token); err != nil {
			j.logger.Warn("weekly reset: lock release failed", "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, j.runTimeout)
	defer cancel()

	result, err := j.handler.Handle(runCtx, command.RunResetCommand{
		Actor: shared.SystemActor(),
	})
	if err != nil {
		return fmt.Errorf("weekly reset: run failed: %w", err)
	}

	j.logger.Info("weekly reset finished",
		"processed", result.Processed,
		"snapshots_generated", result.SnapshotsGenerated,
		"terminated", result.Terminated,
		"reseeded", result.Reseeded,
		"skipped", result.Skipped,
		"failed", len(result.Failed),
	)

	for _, failure := range result.Failed {
		j.logger.Error("weekly reset: instance failed",
			"instance_id", failure.InstanceID,
			"reason", failure.Reason,
		)
	}

	return nil
}
