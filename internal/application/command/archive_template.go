package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

// ══════════════════════════════════════════════════════════════════════════════
// ARCHIVE TEMPLATE COMMAND
// Archiving blocks new assignments; existing instances keep running
// against the archived version until their end date.
// ══════════════════════════════════════════════════════════════════════════════

// ArchiveTemplateCommand contains the data to archive a template version.
type ArchiveTemplateCommand struct {
	// Actor is who performs the operation.
	Actor shared.Actor

	// TemplateID is the version to archive.
	TemplateID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ArchiveTemplateCommand) Validate() error {
	if !c.Actor.IsValid() {
		return errors.New("archive_template: valid actor is required")
	}
	if c.Actor.Role == shared.RoleStudent {
		return shared.ErrActorNotPermitted
	}
	if c.TemplateID == "" {
		return errors.New("archive_template: template_id is required")
	}
	return nil
}

// ArchiveTemplateResult contains the result of archiving.
type ArchiveTemplateResult struct {
	// TemplateID is the archived version ID.
	TemplateID string

	// ArchivedAt is when the template was archived.
	ArchivedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ArchiveTemplateHandler handles the ArchiveTemplateCommand.
type ArchiveTemplateHandler struct {
	templateRepo template.Repository
}

// NewArchiveTemplateHandler creates a new ArchiveTemplateHandler.
func NewArchiveTemplateHandler(templateRepo template.Repository) *ArchiveTemplateHandler {
	return &ArchiveTemplateHandler{templateRepo: templateRepo}
}

// Handle executes the archive template command.
func (h *ArchiveTemplateHandler) Handle(ctx context.Context, cmd ArchiveTemplateCommand) (*ArchiveTemplateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("template", "ArchiveTemplate", shared.ErrValidation, "validation failed", err)
	}

	tpl, err := h.templateRepo.GetByID(ctx, cmd.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("archive_template: failed to get template: %w", err)
	}

	if !tpl.IsOwnedBy(cmd.Actor.ID) && !cmd.Actor.Role.IsElevated() {
		return nil, shared.NewDomainError("template", "ArchiveTemplate", shared.ErrForbidden, "only the owner can archive a template")
	}

	if err := tpl.Archive(); err != nil {
		return nil, shared.WrapError("template", "ArchiveTemplate", shared.ErrStateConflict, "archive rejected", err)
	}

	if err := h.templateRepo.SetArchived(ctx, tpl.ID, true); err != nil {
		return nil, fmt.Errorf("archive_template: failed to save template: %w", err)
	}

	return &ArchiveTemplateResult{
		TemplateID: tpl.ID,
		ArchivedAt: tpl.UpdatedAt,
	}, nil
}
