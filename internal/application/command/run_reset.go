package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/snapshot"
	"github.com/planloop/schedule-hub/internal/domain/template"
	"github.com/planloop/schedule-hub/pkg/retry"
	"github.com/planloop/schedule-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN RESET COMMAND
// The weekly reset: for every open instance whose week has ended, take a
// performance snapshot of the closed week, advance to the next week, and
// reseed progress rows when the template asks for it. One instance's
// failure never blocks the rest of the batch, and a re-run after a crash
// is safe: the snapshot's (instance, week) uniqueness is the guard.
// ══════════════════════════════════════════════════════════════════════════════

// RunResetCommand contains the parameters of one reset run.
type RunResetCommand struct {
	// Actor is who triggers the run. Must be elevated.
	Actor shared.Actor

	// DryRun computes snapshots and counts without writing anything.
	DryRun bool

	// Now overrides the cutoff instant (defaults to time.Now).
	Now time.Time

	// BatchSize overrides the configured fetch batch size when positive.
	BatchSize int

	// RunID identifies the run in events and logs (generated if empty).
	RunID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RunResetCommand) Validate() error {
	if !c.Actor.IsValid() {
		return errors.New("run_reset: valid actor is required")
	}
	if !c.Actor.Role.IsElevated() {
		return shared.ErrActorNotPermitted
	}
	return nil
}

// InstanceFailure describes one failed instance within a run.
type InstanceFailure struct {
	// InstanceID is the instance that failed.
	InstanceID string `json:"instance_id"`

	// StudentID is the owning student.
	StudentID string `json:"student_id"`

	// Reason is a short human-readable failure reason.
	Reason string `json:"reason"`
}

// RunResetResult contains the outcome of one reset run.
type RunResetResult struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// DryRun echoes the request flag.
	DryRun bool `json:"dry_run"`

	// Processed is the number of due instances picked up.
	Processed int `json:"processed"`

	// Successful is the number of instances advanced without error.
	Successful int `json:"successful"`

	// Skipped is the number of instances another run closed first:
	// either its per-instance lock was held, or the save lost the
	// optimistic-lock race. Skipped instances are not failures.
	Skipped int `json:"skipped"`

	// Failed lists per-instance failures.
	Failed []InstanceFailure `json:"failed"`

	// SnapshotsGenerated is the number of new snapshots written
	// (or, in a dry run, the number that would be written).
	SnapshotsGenerated int `json:"snapshots_generated"`

	// Terminated is the number of instances completed because the
	// next week starts past the template end date.
	Terminated int `json:"terminated"`

	// Reseeded is the number of instances that got fresh week rows.
	Reseeded int `json:"reseeded"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// InstanceLocker serializes the processing of one instance across
// overlapping runs (a forced API run racing the scheduled one). The
// lock narrows the race window; the snapshot's (instance, week)
// uniqueness remains the hard guard.
type InstanceLocker interface {
	// TryAcquire takes the lock for one instance without blocking.
	// acquired=false means another run holds it.
	TryAcquire(ctx context.Context, instanceID string) (token string, acquired bool, err error)

	// Release frees the lock if the token still owns it.
	Release(ctx context.Context, instanceID, token string) error
}

// RunResetHandlerConfig contains configuration for the handler.
type RunResetHandlerConfig struct {
	// StreakThreshold is the completion rate (percent) a closed week
	// must reach to extend the streak.
	StreakThreshold float64

	// BatchSize is how many due instances to fetch per page.
	BatchSize int

	// MaxConcurrency bounds parallel instance processing.
	MaxConcurrency int

	// InstanceTimeout bounds the processing of one instance.
	InstanceTimeout time.Duration

	// Location is the engine timezone for week arithmetic.
	Location *time.Location
}

// DefaultRunResetHandlerConfig returns default configuration.
func DefaultRunResetHandlerConfig() RunResetHandlerConfig {
	return RunResetHandlerConfig{
		StreakThreshold: snapshot.DefaultStreakThreshold,
		BatchSize:       100,
		MaxConcurrency:  8,
		InstanceTimeout: 30 * time.Second,
		Location:        timeutil.DefaultZone,
	}
}

// RunResetHandler handles the RunResetCommand.
type RunResetHandler struct {
	instanceRepo   instance.Repository
	templateRepo   template.Repository
	progressRepo   progress.Repository
	snapshotRepo   snapshot.Repository
	eventPublisher shared.EventPublisher
	locks          InstanceLocker
	retrier        *retry.Retrier
	config         RunResetHandlerConfig
}

// NewRunResetHandler creates a new RunResetHandler. locks may be nil;
// without it overlapping runs still converge through the snapshot
// guard and optimistic locking, they just duplicate read work.
func NewRunResetHandler(
	instanceRepo instance.Repository,
	templateRepo template.Repository,
	progressRepo progress.Repository,
	snapshotRepo snapshot.Repository,
	eventPublisher shared.EventPublisher,
	locks InstanceLocker,
	config RunResetHandlerConfig,
) *RunResetHandler {
	def := DefaultRunResetHandlerConfig()
	if config.StreakThreshold <= 0 {
		config.StreakThreshold = def.StreakThreshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.InstanceTimeout <= 0 {
		config.InstanceTimeout = def.InstanceTimeout
	}
	if config.Location == nil {
		config.Location = def.Location
	}

	return &RunResetHandler{
		instanceRepo:   instanceRepo,
		templateRepo:   templateRepo,
		progressRepo:   progressRepo,
		snapshotRepo:   snapshotRepo,
		eventPublisher: eventPublisher,
		locks:          locks,
		retrier:        retry.StoreRetrier(),
		config:         config,
	}
}

// instanceOutcome is the per-instance processing summary.
type instanceOutcome struct {
	snapshotCreated bool
	terminated      bool
	reseeded        bool
}

// Handle executes the reset run.
func (h *RunResetHandler) Handle(ctx context.Context, cmd RunResetCommand) (*RunResetResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("reset", "RunReset", shared.ErrValidation, "validation failed", err)
	}

	now := cmd.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	batchSize := cmd.BatchSize
	if batchSize <= 0 {
		batchSize = h.config.BatchSize
	}
	runID := cmd.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	started := time.Now()
	result := &RunResetResult{
		RunID:     runID,
		DryRun:    cmd.DryRun,
		Failed:    make([]InstanceFailure, 0),
		StartedAt: started.UTC(),
	}

	due, err := h.collectDue(ctx, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("run_reset: failed to list due instances: %w", err)
	}
	result.Processed = len(due)

	// Bounded fan-out; each instance gets its own timeout so one hung
	// store call cannot stall the whole run.
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, h.config.MaxConcurrency)
	)

	for _, inst := range due {
		inst := inst
		wg.Add(1)
		sem <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			instCtx, cancel := context.WithTimeout(ctx, h.config.InstanceTimeout)
			defer cancel()

			if h.locks != nil && !cmd.DryRun {
				token, acquired, lockErr := h.locks.TryAcquire(instCtx, inst.ID)
				switch {
				case lockErr != nil:
					// A lock-store fault does not stop the run; the
					// snapshot guard still protects against doubles.
				case !acquired:
					mu.Lock()
					result.Skipped++
					mu.Unlock()
					return
				default:
					defer func() {
						releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						_ = h.locks.Release(releaseCtx, inst.ID, token)
					}()
				}
			}

			outcome, err := h.processInstance(instCtx, inst, cmd.DryRun, now)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if shared.IsStateConflict(err) {
					// A rival run saved this instance first. The week
					// is already closed, so this is not a failure.
					result.Skipped++
					return
				}
				result.Failed = append(result.Failed, InstanceFailure{
					InstanceID: inst.ID,
					StudentID:  inst.StudentID,
					Reason:     err.Error(),
				})
				if !cmd.DryRun {
					_ = h.eventPublisher.Publish(shared.NewResetInstanceFailedEvent(inst.ID, runID, inst.StudentID, err.Error()))
				}
				return
			}

			result.Successful++
			if outcome.snapshotCreated {
				result.SnapshotsGenerated++
			}
			if outcome.terminated {
				result.Terminated++
			}
			if outcome.reseeded {
				result.Reseeded++
			}
		}()
	}

	wg.Wait()

	result.Duration = time.Since(started)

	if !cmd.DryRun {
		event := shared.NewResetBatchCompletedEvent(
			runID,
			result.Processed,
			result.Successful,
			len(result.Failed),
			result.SnapshotsGenerated,
			cmd.DryRun,
			result.Duration,
		)
		if cmd.CorrelationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		_ = h.eventPublisher.Publish(event)
	}

	return result, nil
}

// collectDue pages through all open instances whose week ended before now.
func (h *RunResetHandler) collectDue(ctx context.Context, before time.Time, batchSize int) ([]*instance.Instance, error) {
	var all []*instance.Instance
	offset := 0

	for {
		page, err := h.instanceRepo.ListDue(ctx, before, batchSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < batchSize {
			return all, nil
		}
		offset += len(page)
	}
}

// processInstance runs the reset pipeline for one instance:
// snapshot the closed week, advance, reseed when the template resets.
func (h *RunResetHandler) processInstance(
	ctx context.Context,
	inst *instance.Instance,
	dryRun bool,
	now time.Time,
) (instanceOutcome, error) {
	var out instanceOutcome
	week := inst.CurrentWeekNumber

	// Previous snapshot feeds the improvement delta; a missing one is
	// normal for week 1.
	var prev *snapshot.Snapshot
	if week > 1 {
		p, err := h.snapshotRepo.GetByInstanceWeek(ctx, inst.ID, week-1)
		if err != nil && !shared.IsNotFound(err) {
			return out, fmt.Errorf("load previous snapshot: %w", err)
		}
		prev = p
	}

	rows, err := h.progressRepo.ListByInstanceWeek(ctx, inst.ID, week)
	if err != nil {
		return out, fmt.Errorf("load week rows: %w", err)
	}

	snap, err := snapshot.Generate(snapshot.GenerateInput{
		SnapshotID:      uuid.New().String(),
		InstanceID:      inst.ID,
		StudentID:       inst.StudentID,
		WeekNumber:      week,
		Rows:            rows,
		Previous:        prev,
		PreviousStreak:  inst.Cache.StreakWeeks,
		StreakThreshold: h.config.StreakThreshold,
		Now:             now,
	})
	if err != nil {
		return out, fmt.Errorf("generate snapshot: %w", err)
	}

	if dryRun {
		exists, err := h.snapshotRepo.ExistsForWeek(ctx, inst.ID, week)
		if err != nil {
			return out, fmt.Errorf("check snapshot: %w", err)
		}
		out.snapshotCreated = !exists
		return out, nil
	}

	// Idempotency guard: at most one snapshot per (instance, week).
	// created=false means a previous run already closed this week;
	// advancing below is still correct because the instance is due.
	var created bool
	err = h.withRetry(ctx, func(ctx context.Context) error {
		var err error
		created, err = h.snapshotRepo.CreateIfAbsent(ctx, snap)
		return err
	})
	if err != nil {
		return out, fmt.Errorf("save snapshot: %w", err)
	}
	out.snapshotCreated = created

	tpl, err := h.templateRepo.GetByID(ctx, inst.TemplateID)
	if err != nil {
		return out, fmt.Errorf("load template: %w", err)
	}

	inst.UpdateStreak(snap.Engagement.CompletionRate >= h.config.StreakThreshold)

	terminated, err := inst.AdvanceWeek(tpl.EndDate)
	if err != nil {
		return out, fmt.Errorf("advance week: %w", err)
	}
	out.terminated = terminated

	if !terminated && tpl.RepeatRules.ResetOnRepeat {
		// Reseed from the originally assigned version, never a newer fork.
		newRows, err := buildWeekRows(tpl, inst, inst.CurrentWeekNumber, h.config.Location)
		if err != nil {
			return out, fmt.Errorf("build week rows: %w", err)
		}
		err = h.withRetry(ctx, func(ctx context.Context) error {
			err := h.progressRepo.BulkCreate(ctx, newRows)
			if shared.IsAlreadyExists(err) {
				// A crashed run already seeded this week.
				return nil
			}
			return err
		})
		if err != nil {
			return out, fmt.Errorf("seed week rows: %w", err)
		}
		inst.ResetWeekCache(tpl.WeeklyActivityCount())
		out.reseeded = true
	}

	err = h.withRetry(ctx, func(ctx context.Context) error {
		return h.instanceRepo.Update(ctx, inst)
	})
	if err != nil {
		return out, fmt.Errorf("save instance: %w", err)
	}

	_ = h.eventPublisher.Publish(shared.NewWeekAdvancedEvent(inst.ID, inst.StudentID, week, inst.CurrentWeekNumber, terminated))
	if created {
		_ = h.eventPublisher.Publish(shared.NewSnapshotGeneratedEvent(snap.ID, inst.ID, inst.StudentID, week, snap.Engagement.CompletionRate))
	}

	return out, nil
}

// withRetry retries transient store faults with bounded backoff.
func (h *RunResetHandler) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	return h.retrier.Do(ctx, func(ctx context.Context) error {
		err := op(ctx)
		if err != nil && shared.IsRetryable(err) {
			return retry.Retryable(err)
		}
		return err
	})
}
