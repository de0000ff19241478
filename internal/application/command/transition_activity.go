package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITION ACTIVITY COMMAND
// Moves one progress row through its lifecycle: start, complete, skip,
// or save a draft of execution data. Completion is the only transition
// that awards points, and it is written atomically with the instance
// cache update so points can never be awarded twice.
// ══════════════════════════════════════════════════════════════════════════════

// TransitionType defines the requested lifecycle transition.
type TransitionType string

const (
	// TransitionStart - pending → in_progress. Idempotent.
	TransitionStart TransitionType = "start"

	// TransitionComplete - in_progress → completed. Awards points.
	TransitionComplete TransitionType = "complete"

	// TransitionSkip - pending/in_progress → skipped.
	TransitionSkip TransitionType = "skip"

	// TransitionSaveDraft - merges partial execution data without
	// changing status.
	TransitionSaveDraft TransitionType = "save_draft"
)

// TransitionActivityCommand contains the data for one transition.
type TransitionActivityCommand struct {
	// Actor is who performs the operation.
	Actor shared.Actor

	// ProgressID is the progress row being transitioned.
	ProgressID string

	// Transition is the requested lifecycle transition.
	Transition TransitionType

	// ExecutionData carries activity answers (complete, save_draft).
	ExecutionData progress.ExecutionData

	// SkipReason is an optional reason (skip).
	SkipReason string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c TransitionActivityCommand) Validate() error {
	if !c.Actor.IsValid() {
		return errors.New("transition_activity: valid actor is required")
	}
	if c.ProgressID == "" {
		return errors.New("transition_activity: progress_id is required")
	}

	switch c.Transition {
	case TransitionStart, TransitionComplete, TransitionSkip:
		// Valid transitions without additional requirements
	case TransitionSaveDraft:
		if len(c.ExecutionData) == 0 {
			return errors.New("transition_activity: execution_data is required for save_draft")
		}
	default:
		return fmt.Errorf("transition_activity: unknown transition: %s", c.Transition)
	}

	return nil
}

// TransitionActivityResult contains the result of a transition.
type TransitionActivityResult struct {
	// ProgressID is the transitioned row.
	ProgressID string

	// InstanceID is the owning instance.
	InstanceID string

	// Status is the row status after the transition.
	Status progress.Status

	// PointsAwarded is non-zero only for complete.
	PointsAwarded int

	// WeekCompletionPercentage is the instance cache value after the
	// transition (complete only).
	WeekCompletionPercentage float64

	// TransitionedAt is when the transition was recorded.
	TransitionedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// TransitionActivityHandler handles the TransitionActivityCommand.
type TransitionActivityHandler struct {
	progressRepo    progress.Repository
	instanceRepo    instance.Repository
	templateRepo    template.Repository
	completionStore progress.CompletionStore
	rosterRepo      instance.RosterRepository
	eventPublisher  shared.EventPublisher
}

// NewTransitionActivityHandler creates a new TransitionActivityHandler.
func NewTransitionActivityHandler(
	progressRepo progress.Repository,
	instanceRepo instance.Repository,
	templateRepo template.Repository,
	completionStore progress.CompletionStore,
	rosterRepo instance.RosterRepository,
	eventPublisher shared.EventPublisher,
) *TransitionActivityHandler {
	return &TransitionActivityHandler{
		progressRepo:    progressRepo,
		instanceRepo:    instanceRepo,
		templateRepo:    templateRepo,
		completionStore: completionStore,
		rosterRepo:      rosterRepo,
		eventPublisher:  eventPublisher,
	}
}

// Handle executes the transition activity command.
func (h *TransitionActivityHandler) Handle(ctx context.Context, cmd TransitionActivityCommand) (*TransitionActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("progress", "TransitionActivity", shared.ErrValidation, "validation failed", err)
	}

	row, err := h.progressRepo.GetByID(ctx, cmd.ProgressID)
	if err != nil {
		return nil, fmt.Errorf("transition_activity: failed to get progress row: %w", err)
	}

	if err := h.authorize(ctx, cmd.Actor, row); err != nil {
		return nil, err
	}

	inst, err := h.instanceRepo.GetByID(ctx, row.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("transition_activity: failed to get instance: %w", err)
	}

	if !inst.Status.IsOpen() {
		return nil, shared.WrapError("progress", "TransitionActivity", shared.ErrStateConflict, "instance is not open", shared.ErrInstanceTerminated)
	}

	if err := h.checkWeek(ctx, row, inst); err != nil {
		return nil, err
	}

	result := &TransitionActivityResult{
		ProgressID:     row.ID,
		InstanceID:     inst.ID,
		TransitionedAt: time.Now().UTC(),
	}

	switch cmd.Transition {
	case TransitionStart:
		if err := h.handleStart(ctx, row); err != nil {
			return nil, err
		}
	case TransitionComplete:
		if err := h.handleComplete(ctx, cmd, row, inst, result); err != nil {
			return nil, err
		}
	case TransitionSkip:
		if err := h.handleSkip(ctx, cmd, row, inst); err != nil {
			return nil, err
		}
	case TransitionSaveDraft:
		if err := h.handleSaveDraft(ctx, cmd, row); err != nil {
			return nil, err
		}
	}

	result.Status = row.Status
	return result, nil
}

// authorize checks that the actor may touch this row: the owning
// student, an elevated actor, or a professional with the student
// on their roster.
func (h *TransitionActivityHandler) authorize(ctx context.Context, actor shared.Actor, row *progress.Progress) error {
	if actor.Role.IsElevated() {
		return nil
	}
	if actor.Role == shared.RoleStudent {
		if actor.ID != row.StudentID {
			return shared.NewDomainError("progress", "TransitionActivity", shared.ErrForbidden, "students may only transition their own activities")
		}
		return nil
	}

	onRoster, err := h.rosterRepo.IsOnRoster(ctx, actor.ID, row.StudentID)
	if err != nil {
		return fmt.Errorf("transition_activity: roster check failed: %w", err)
	}
	if !onRoster {
		return shared.WrapError("progress", "TransitionActivity", shared.ErrForbidden, "student is not on the professional's roster", shared.ErrNotOnRoster)
	}
	return nil
}

// checkWeek rejects transitions on rows of an already closed week when
// the template reseeds weekly. Templates that carry progress over keep
// older rows actionable.
func (h *TransitionActivityHandler) checkWeek(ctx context.Context, row *progress.Progress, inst *instance.Instance) error {
	if row.WeekNumber == inst.CurrentWeekNumber {
		return nil
	}
	if row.WeekNumber > inst.CurrentWeekNumber {
		return shared.NewDomainError("progress", "TransitionActivity", shared.ErrStateConflict, "row belongs to a future week")
	}

	tpl, err := h.templateRepo.GetByID(ctx, inst.TemplateID)
	if err != nil {
		return fmt.Errorf("transition_activity: failed to get template: %w", err)
	}
	if tpl.RepeatRules.ResetOnRepeat {
		return shared.NewDomainError("progress", "TransitionActivity", shared.ErrStateConflict, "week is already closed")
	}
	return nil
}

// handleStart handles the start transition.
func (h *TransitionActivityHandler) handleStart(ctx context.Context, row *progress.Progress) error {
	prev := row.Status
	if err := row.Start(); err != nil {
		return shared.WrapError("progress", "TransitionActivity", shared.ErrStateTransition, "start rejected", err)
	}
	if row.Status == prev {
		// Idempotent repeat, nothing to persist.
		return nil
	}
	if err := h.progressRepo.Update(ctx, row, prev); err != nil {
		return fmt.Errorf("transition_activity: failed to save row: %w", err)
	}
	return nil
}

// handleComplete handles the complete transition. The status guard,
// the instance cache update and the points upsert are one transaction
// in the completion store.
func (h *TransitionActivityHandler) handleComplete(
	ctx context.Context,
	cmd TransitionActivityCommand,
	row *progress.Progress,
	inst *instance.Instance,
	result *TransitionActivityResult,
) error {
	points, err := row.Complete(cmd.ExecutionData)
	if err != nil {
		return shared.WrapError("progress", "TransitionActivity", shared.ErrStateTransition, "complete rejected", err)
	}

	inst.ApplyCompletion(points)

	if err := h.completionStore.Complete(ctx, row, inst, points); err != nil {
		return fmt.Errorf("transition_activity: failed to record completion: %w", err)
	}

	result.PointsAwarded = points
	result.WeekCompletionPercentage = inst.Cache.CompletionPercentage

	event := shared.NewActivityCompletedEvent(row.ID, inst.ID, row.StudentID, row.ActivityID, row.WeekNumber, points)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventPublisher.Publish(event)

	return nil
}

// handleSkip handles the skip transition.
func (h *TransitionActivityHandler) handleSkip(
	ctx context.Context,
	cmd TransitionActivityCommand,
	row *progress.Progress,
	inst *instance.Instance,
) error {
	prev := row.Status
	if err := row.Skip(cmd.SkipReason); err != nil {
		return shared.WrapError("progress", "TransitionActivity", shared.ErrStateTransition, "skip rejected", err)
	}
	if err := h.progressRepo.Update(ctx, row, prev); err != nil {
		return fmt.Errorf("transition_activity: failed to save row: %w", err)
	}

	event := shared.NewActivitySkippedEvent(row.ID, inst.ID, row.StudentID, row.ActivityID, row.WeekNumber, cmd.SkipReason)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventPublisher.Publish(event)

	return nil
}

// handleSaveDraft handles the save_draft transition.
func (h *TransitionActivityHandler) handleSaveDraft(ctx context.Context, cmd TransitionActivityCommand, row *progress.Progress) error {
	prev := row.Status
	if err := row.SaveDraft(cmd.ExecutionData); err != nil {
		return shared.WrapError("progress", "TransitionActivity", shared.ErrStateTransition, "draft rejected", err)
	}
	if err := h.progressRepo.Update(ctx, row, prev); err != nil {
		return fmt.Errorf("transition_activity: failed to save row: %w", err)
	}
	return nil
}
