package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

// ══════════════════════════════════════════════════════════════════════════════
// FORK TEMPLATE COMMAND
// Edits never mutate a stored template version. An edit forks the latest
// version of the lineage into version N+1; instances assigned to older
// versions keep pointing at them.
// ══════════════════════════════════════════════════════════════════════════════

// ForkTemplateCommand contains the changed fields for a new template version.
// Zero-valued fields are inherited from the current version.
type ForkTemplateCommand struct {
	// Actor is who performs the operation.
	Actor shared.Actor

	// TemplateID is the version being edited. Must be the latest
	// version of its lineage.
	TemplateID string

	// Name overrides the template name when non-empty.
	Name string

	// Description overrides the description when non-empty.
	Description string

	// Category overrides the category when non-empty.
	Category template.Category

	// ActiveDays overrides the active weekdays when non-empty.
	ActiveDays template.ActiveDays

	// RepeatRules overrides repetition behavior when non-nil.
	RepeatRules *template.RepeatRules

	// StartDate overrides the start date when non-zero.
	StartDate time.Time

	// EndDate overrides the end date when non-zero.
	EndDate time.Time

	// Activities replaces the activity set when non-empty.
	Activities []ActivityInput

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ForkTemplateCommand) Validate() error {
	if !c.Actor.IsValid() {
		return errors.New("fork_template: valid actor is required")
	}
	if c.Actor.Role == shared.RoleStudent {
		return shared.ErrActorNotPermitted
	}
	if c.TemplateID == "" {
		return errors.New("fork_template: template_id is required")
	}
	return nil
}

// ForkTemplateResult contains the result of forking a template.
type ForkTemplateResult struct {
	// TemplateID is the ID of the new version.
	TemplateID string

	// LineageID identifies the shared lineage.
	LineageID string

	// PreviousVersion is the version that was edited.
	PreviousVersion int

	// Version is the new version number.
	Version int

	// CreatedAt is when the new version was created.
	CreatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ForkTemplateHandler handles the ForkTemplateCommand.
type ForkTemplateHandler struct {
	templateRepo   template.Repository
	eventPublisher shared.EventPublisher
}

// NewForkTemplateHandler creates a new ForkTemplateHandler.
func NewForkTemplateHandler(
	templateRepo template.Repository,
	eventPublisher shared.EventPublisher,
) *ForkTemplateHandler {
	return &ForkTemplateHandler{
		templateRepo:   templateRepo,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the fork template command.
func (h *ForkTemplateHandler) Handle(ctx context.Context, cmd ForkTemplateCommand) (*ForkTemplateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("template", "ForkTemplate", shared.ErrValidation, "validation failed", err)
	}

	tpl, err := h.templateRepo.GetByID(ctx, cmd.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("fork_template: failed to get template: %w", err)
	}

	if !tpl.IsOwnedBy(cmd.Actor.ID) && !cmd.Actor.Role.IsElevated() {
		return nil, shared.NewDomainError("template", "ForkTemplate", shared.ErrForbidden, "only the owner can edit a template")
	}

	if !tpl.IsActive {
		return nil, shared.WrapError("template", "ForkTemplate", shared.ErrArchived, "archived template cannot be edited", template.ErrAlreadyArchived)
	}

	// Only the latest version may be edited; forking an older one would
	// collide with an existing (lineage, version) pair.
	latest, err := h.templateRepo.GetLatestVersion(ctx, tpl.LineageID)
	if err != nil {
		return nil, fmt.Errorf("fork_template: failed to get latest version: %w", err)
	}
	if latest.ID != tpl.ID {
		return nil, shared.NewDomainError("template", "ForkTemplate", shared.ErrStateConflict,
			fmt.Sprintf("version %d is not the latest (latest is %d)", tpl.Version, latest.Version))
	}

	params := template.ForkParams{
		NewID:       uuid.New().String(),
		Name:        cmd.Name,
		Description: cmd.Description,
		Category:    cmd.Category,
		ActiveDays:  cmd.ActiveDays,
		RepeatRules: cmd.RepeatRules,
		StartDate:   cmd.StartDate,
		EndDate:     cmd.EndDate,
	}
	if len(cmd.Activities) > 0 {
		activities := make([]template.Activity, 0, len(cmd.Activities))
		for _, in := range cmd.Activities {
			activities = append(activities, in.toActivity())
		}
		params.Activities = activities
	}

	next, err := tpl.Fork(params)
	if err != nil {
		return nil, shared.WrapError("template", "ForkTemplate", shared.ErrInvalidEntity, "invalid new version", err)
	}

	if err := h.templateRepo.Create(ctx, next); err != nil {
		return nil, fmt.Errorf("fork_template: failed to save new version: %w", err)
	}

	event := shared.NewTemplateForkedEvent(next.ID, next.LineageID, tpl.Version, next.Version, cmd.Actor.ID)
	_ = h.eventPublisher.Publish(event)

	return &ForkTemplateResult{
		TemplateID:      next.ID,
		LineageID:       next.LineageID,
		PreviousVersion: tpl.Version,
		Version:         next.Version,
		CreatedAt:       next.CreatedAt,
	}, nil
}
