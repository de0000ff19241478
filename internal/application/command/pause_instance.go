package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAUSE / RESUME INSTANCE COMMANDS
// A paused instance stops accepting activity transitions but keeps
// participating in the weekly rollover, so its week counter never
// drifts from the calendar.
// ══════════════════════════════════════════════════════════════════════════════

// PauseInstanceCommand contains the data to pause an instance.
type PauseInstanceCommand struct {
	// Actor is who performs the operation.
	Actor shared.Actor

	// InstanceID is the instance to pause.
	InstanceID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c PauseInstanceCommand) Validate() error {
	if !c.Actor.IsValid() {
		return errors.New("pause_instance: valid actor is required")
	}
	if c.InstanceID == "" {
		return errors.New("pause_instance: instance_id is required")
	}
	return nil
}

// ResumeInstanceCommand contains the data to resume a paused instance.
type ResumeInstanceCommand struct {
	// Actor is who performs the operation.
	Actor shared.Actor

	// InstanceID is the instance to resume.
	InstanceID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ResumeInstanceCommand) Validate() error {
	if !c.Actor.IsValid() {
		return errors.New("resume_instance: valid actor is required")
	}
	if c.InstanceID == "" {
		return errors.New("resume_instance: instance_id is required")
	}
	return nil
}

// InstanceStatusResult contains the resulting instance status.
type InstanceStatusResult struct {
	// InstanceID is the affected instance.
	InstanceID string

	// Status is the status after the operation.
	Status instance.Status

	// ChangedAt is when the status changed.
	ChangedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// InstanceStatusHandler handles pause and resume commands.
type InstanceStatusHandler struct {
	instanceRepo instance.Repository
	rosterRepo   instance.RosterRepository
}

// NewInstanceStatusHandler creates a new InstanceStatusHandler.
func NewInstanceStatusHandler(
	instanceRepo instance.Repository,
	rosterRepo instance.RosterRepository,
) *InstanceStatusHandler {
	return &InstanceStatusHandler{
		instanceRepo: instanceRepo,
		rosterRepo:   rosterRepo,
	}
}

// HandlePause executes the pause instance command.
func (h *InstanceStatusHandler) HandlePause(ctx context.Context, cmd PauseInstanceCommand) (*InstanceStatusResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("instance", "PauseInstance", shared.ErrValidation, "validation failed", err)
	}
	return h.transition(ctx, cmd.Actor, cmd.InstanceID, "PauseInstance", func(inst *instance.Instance) error {
		return inst.Pause()
	})
}

// HandleResume executes the resume instance command.
func (h *InstanceStatusHandler) HandleResume(ctx context.Context, cmd ResumeInstanceCommand) (*InstanceStatusResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("instance", "ResumeInstance", shared.ErrValidation, "validation failed", err)
	}
	return h.transition(ctx, cmd.Actor, cmd.InstanceID, "ResumeInstance", func(inst *instance.Instance) error {
		return inst.Resume()
	})
}

// transition loads the instance, authorizes the actor, applies the
// status change and persists it.
func (h *InstanceStatusHandler) transition(
	ctx context.Context,
	actor shared.Actor,
	instanceID string,
	op string,
	change func(*instance.Instance) error,
) (*InstanceStatusResult, error) {
	inst, err := h.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get instance: %w", op, err)
	}

	if err := h.authorize(ctx, actor, inst); err != nil {
		return nil, err
	}

	if err := change(inst); err != nil {
		return nil, shared.WrapError("instance", op, shared.ErrStateTransition, "status change rejected", err)
	}

	if err := h.instanceRepo.Update(ctx, inst); err != nil {
		return nil, fmt.Errorf("%s: failed to save instance: %w", op, err)
	}

	return &InstanceStatusResult{
		InstanceID: inst.ID,
		Status:     inst.Status,
		ChangedAt:  inst.UpdatedAt,
	}, nil
}

// authorize allows the owning student, an elevated actor, or a
// professional with the student on their roster.
func (h *InstanceStatusHandler) authorize(ctx context.Context, actor shared.Actor, inst *instance.Instance) error {
	if actor.Role.IsElevated() {
		return nil
	}
	if actor.Role == shared.RoleStudent {
		if actor.ID != inst.StudentID {
			return shared.NewDomainError("instance", "InstanceStatus", shared.ErrForbidden, "students may only manage their own instances")
		}
		return nil
	}

	onRoster, err := h.rosterRepo.IsOnRoster(ctx, actor.ID, inst.StudentID)
	if err != nil {
		return fmt.Errorf("instance_status: roster check failed: %w", err)
	}
	if !onRoster {
		return shared.WrapError("instance", "InstanceStatus", shared.ErrForbidden, "student is not on the professional's roster", shared.ErrNotOnRoster)
	}
	return nil
}
