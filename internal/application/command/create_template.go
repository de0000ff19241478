// Package command contains write operations (CQRS - Commands).
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
// CREATE TEMPLATE COMMAND
// Creates version 1 of a new schedule template lineage. Later edits never
// touch this version: they fork a new one (see ForkTemplateCommand).
// ══════════════════════════════════════════════════════════════════════════════

// ActivityInput describes one activity of the new template version.
type ActivityInput struct {
	// Title is the student-facing activity title.
	Title string

	// DayOfWeek is the weekday the activity is scheduled on (0 = Sunday).
	DayOfWeek template.Weekday

	// OrderIndex orders activities within a day. Unique per day.
	OrderIndex int

	// Type is the activity type tag.
	Type template.ActivityType

	// Config is the decoded type-specific configuration.
	Config template.Config

	// Points awarded on completion.
	Points int

	// Metadata holds optional planning hints.
	Metadata template.Metadata
}

// toActivity converts the input into a domain activity with a fresh ID.
func (in ActivityInput) toActivity() template.Activity {
	return template.Activity{
		ID:         uuid.New().String(),
		Title:      in.Title,
		DayOfWeek:  in.DayOfWeek,
		OrderIndex: in.OrderIndex,
		Type:       in.Type,
		Config:     in.Config,
		Scoring:    template.Scoring{PointsOnCompletion: in.Points},
		Metadata:   in.Metadata,
	}
}

// CreateTemplateCommand contains the data to create a template.
type CreateTemplateCommand struct {
	// Actor is who performs the operation.
	Actor shared.Actor

	// OwnerID is the professional who will own the template.
	// Defaults to the actor; setting it for someone else requires
	// an elevated role.
	OwnerID string

	// Name is the template name.
	Name string

	// Description is shown to the professional and the student.
	Description string

	// Category is the plan category.
	Category template.Category

	// ActiveDays are the weekdays carrying activities.
	ActiveDays template.ActiveDays

	// RepeatRules control weekly repetition behavior.
	RepeatRules template.RepeatRules

	// StartDate is when the template becomes effective.
	StartDate time.Time

	// EndDate is when the template stops being effective.
	EndDate time.Time

	// Activities are the activities of the first version.
	Activities []ActivityInput

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c CreateTemplateCommand) Validate() error {
	if !c.Actor.IsValid() {
		return errors.New("create_template: valid actor is required")
	}
	if c.Actor.Role == shared.RoleStudent {
		return shared.ErrActorNotPermitted
	}
	if c.OwnerID != "" && c.OwnerID != c.Actor.ID && !c.Actor.Role.IsElevated() {
		return shared.ErrActorNotPermitted
	}
	if len(c.Activities) == 0 {
		return errors.New("create_template: at least one activity is required")
	}
	return nil
}

// CreateTemplateResult contains the result of creating a template.
type CreateTemplateResult struct {
	// TemplateID is the ID of the created version.
	TemplateID string

	// LineageID identifies the new version lineage.
	LineageID string

	// Version is always 1 for a fresh lineage.
	Version int

	// ActivityCount is the number of activities in the version.
	ActivityCount int

	// CreatedAt is when the version was created.
	CreatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CreateTemplateHandler handles the CreateTemplateCommand.
type CreateTemplateHandler struct {
	templateRepo template.Repository
}

// NewCreateTemplateHandler creates a new CreateTemplateHandler.
func NewCreateTemplateHandler(templateRepo template.Repository) *CreateTemplateHandler {
	return &CreateTemplateHandler{templateRepo: templateRepo}
}

// Handle executes the create template command.
func (h *CreateTemplateHandler) Handle(ctx context.Context, cmd CreateTemplateCommand) (*CreateTemplateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("template", "CreateTemplate", shared.ErrValidation, "validation failed", err)
	}

	ownerID := cmd.OwnerID
	if ownerID == "" {
		ownerID = cmd.Actor.ID
	}

	activities := make([]template.Activity, 0, len(cmd.Activities))
	for _, in := range cmd.Activities {
		activities = append(activities, in.toActivity())
	}

	tpl, err := template.NewTemplate(template.NewTemplateParams{
		ID:          uuid.New().String(),
		LineageID:   uuid.New().String(),
		Version:     1,
		OwnerID:     ownerID,
		Name:        cmd.Name,
		Description: cmd.Description,
		Category:    cmd.Category,
		ActiveDays:  cmd.ActiveDays,
		RepeatRules: cmd.RepeatRules,
		StartDate:   cmd.StartDate,
		EndDate:     cmd.EndDate,
		Activities:  activities,
	})
	if err != nil {
		return nil, shared.WrapError("template", "CreateTemplate", shared.ErrInvalidEntity, "invalid template", err)
	}

	if err := h.templateRepo.Create(ctx, tpl); err != nil {
		return nil, fmt.Errorf("create_template: failed to save template: %w", err)
	}

	return &CreateTemplateResult{
		TemplateID:    tpl.ID,
		LineageID:     tpl.LineageID,
		Version:       tpl.Version,
		ActivityCount: len(tpl.Activities),
		CreatedAt:     tpl.CreatedAt,
	}, nil
}
