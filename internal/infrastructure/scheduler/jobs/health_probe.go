package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH PROBE JOB
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is a backing store that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthProbeJob pings the worker's backing stores between rollover
// runs, so a dead database or Redis surfaces in the logs hours before
// the next reset would hit it. The cache pinger may be nil.
type HealthProbeJob struct {
	db     Pinger
	cache  Pinger
	logger *slog.Logger
}

// NewHealthProbeJob creates a new health probe job.
func NewHealthProbeJob(db, cache Pinger, logger *slog.Logger) *HealthProbeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthProbeJob{db: db, cache: cache, logger: logger}
}

// Name returns the job name.
func (j *HealthProbeJob) Name() string {
	return "health_probe"
}

// Description returns a human-readable description.
func (j *HealthProbeJob) Description() string {
	return "Verifies database and cache connectivity between rollover runs"
}

// Run pings every configured store and fails if any is unreachable.
func (j *HealthProbeJob) Run(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error

	if err := j.db.Ping(probeCtx); err != nil {
		j.logger.Warn("health probe: database unreachable", "error", err)
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	if j.cache != nil {
		if err := j.cache.Ping(probeCtx); err != nil {
			j.logger.Warn("health probe: cache unreachable", "error", err)
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}

	return errors.Join(errs...)
}
