package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST TEMPLATES QUERY
// Lists the template versions owned by a professional, optionally with
// the full version history of one lineage.
// ══════════════════════════════════════════════════════════════════════════════

// ListTemplatesQuery contains the query parameters.
type ListTemplatesQuery struct {
	// Actor is who requests the list.
	Actor shared.Actor

	// OwnerID is whose templates to list. Defaults to the actor;
	// listing someone else's templates requires an elevated role.
	OwnerID string

	// LineageID, when set, lists all versions of one lineage instead.
	LineageID string

	// IncludeArchived includes archived versions.
	IncludeArchived bool

	// Page and PageSize page the result. PageSize defaults to 20,
	// capped at 100.
	Page     int
	PageSize int

	paging shared.Pagination
}

// Validate validates the query.
func (q *ListTemplatesQuery) Validate() error {
	if !q.Actor.IsValid() {
		return errors.New("valid actor is required")
	}
	if q.Actor.Role == shared.RoleStudent {
		return shared.ErrActorNotPermitted
	}
	if q.OwnerID == "" {
		q.OwnerID = q.Actor.ID
	}
	if q.OwnerID != q.Actor.ID && !q.Actor.Role.IsElevated() {
		return shared.ErrActorNotPermitted
	}
	q.paging = shared.NewPagination(q.Page, q.PageSize)
	return nil
}

// TemplateSummaryDTO is one template version in the listing.
type TemplateSummaryDTO struct {
	// TemplateID is the version ID.
	TemplateID string `json:"template_id"`

	// LineageID identifies the version lineage.
	LineageID string `json:"lineage_id"`

	// Version is the version number within the lineage.
	Version int `json:"version"`

	// Name is the template name.
	Name string `json:"name"`

	// Category is the plan category.
	Category string `json:"category"`

	// ActivityCount is the number of weekly activities.
	ActivityCount int `json:"activity_count"`

	// ResetOnRepeat echoes the weekly repetition mode.
	ResetOnRepeat bool `json:"reset_on_repeat"`

	// IsArchived is true for archived versions.
	IsArchived bool `json:"is_archived"`

	// StartDate and EndDate bound the template's effective range.
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	// CreatedAt is when the version was created.
	CreatedAt time.Time `json:"created_at"`
}

// ListTemplatesResult contains the result.
type ListTemplatesResult struct {
	// Templates are the matched versions.
	Templates []TemplateSummaryDTO `json:"templates"`

	// GeneratedAt is when the listing was built.
	GeneratedAt time.Time `json:"generated_at"`
}

// ListTemplatesHandler handles the query.
type ListTemplatesHandler struct {
	templateRepo template.Repository
}

// NewListTemplatesHandler creates a new handler.
func NewListTemplatesHandler(templateRepo template.Repository) *ListTemplatesHandler {
	return &ListTemplatesHandler{templateRepo: templateRepo}
}

// Handle executes the query.
func (h *ListTemplatesHandler) Handle(ctx context.Context, query ListTemplatesQuery) (*ListTemplatesResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "ListTemplates", shared.ErrValidation, "validation failed", err)
	}

	var (
		templates []*template.Template
		err       error
	)
	if query.LineageID != "" {
		templates, err = h.templateRepo.ListLineage(ctx, query.LineageID)
	} else {
		opts := template.DefaultListOptions().
			WithOffset(query.paging.Offset()).
			WithLimit(query.paging.Limit())
		if query.IncludeArchived {
			opts = opts.WithArchived()
		}
		templates, err = h.templateRepo.ListByOwner(ctx, query.OwnerID, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("list_templates: failed to list templates: %w", err)
	}

	result := &ListTemplatesResult{
		Templates:   make([]TemplateSummaryDTO, 0, len(templates)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, tpl := range templates {
		if query.LineageID != "" && !tpl.IsOwnedBy(query.OwnerID) && !query.Actor.Role.IsElevated() {
			return nil, shared.NewDomainError("query", "ListTemplates", shared.ErrForbidden, "only the owner can view this lineage")
		}
		result.Templates = append(result.Templates, TemplateSummaryDTO{
			TemplateID:    tpl.ID,
			LineageID:     tpl.LineageID,
			Version:       tpl.Version,
			Name:          tpl.Name,
			Category:      string(tpl.Category),
			ActivityCount: tpl.WeeklyActivityCount(),
			ResetOnRepeat: tpl.RepeatRules.ResetOnRepeat,
			IsArchived:    !tpl.IsActive,
			StartDate:     tpl.StartDate,
			EndDate:       tpl.EndDate,
			CreatedAt:     tpl.CreatedAt,
		})
	}

	return result, nil
}
