package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

type stubTemplateRepo struct {
	template.Repository
	templates []*template.Template
	lastOpts  template.ListOptions
}

func (r *stubTemplateRepo) ListByOwner(_ context.Context, _ string, opts template.ListOptions) ([]*template.Template, error) {
	r.lastOpts = opts
	return r.templates, nil
}

func listFixtureTemplate(t *testing.T, ownerID string) *template.Template {
	t.Helper()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	tpl, err := template.NewTemplate(template.NewTemplateParams{
		ID:          "tpl-1",
		LineageID:   "lin-1",
		Version:     1,
		OwnerID:     ownerID,
		Name:        "Weekly routine",
		Category:    template.CategoryTherapeutic,
		ActiveDays:  template.ActiveDays{1},
		RepeatRules: template.RepeatRules{ResetOnRepeat: true},
		StartDate:   start,
		EndDate:     start.AddDate(0, 6, 0),
		Activities: []template.Activity{{
			ID:         "act-1",
			Title:      "Morning check-in",
			DayOfWeek:  1,
			OrderIndex: 0,
			Type:       template.TypeQuick,
			Config:     template.QuickConfig{},
			Scoring:    template.Scoring{PointsOnCompletion: 10},
		}},
	})
	require.NoError(t, err)
	return tpl
}

func TestListTemplates_Pagination(t *testing.T) {
	ctx := context.Background()
	actor := shared.Actor{ID: "prof-1", Role: shared.RoleProfessional}

	t.Run("page translates to offset and limit", func(t *testing.T) {
		repo := &stubTemplateRepo{templates: []*template.Template{listFixtureTemplate(t, "prof-1")}}
		handler := NewListTemplatesHandler(repo)

		res, err := handler.Handle(ctx, ListTemplatesQuery{Actor: actor, Page: 3, PageSize: 10})
		require.NoError(t, err)
		require.Len(t, res.Templates, 1)

		assert.Equal(t, 20, repo.lastOpts.Offset)
		assert.Equal(t, 10, repo.lastOpts.Limit)
	})

	t.Run("defaults to the first page of twenty", func(t *testing.T) {
		repo := &stubTemplateRepo{}
		handler := NewListTemplatesHandler(repo)

		_, err := handler.Handle(ctx, ListTemplatesQuery{Actor: actor})
		require.NoError(t, err)

		assert.Equal(t, 0, repo.lastOpts.Offset)
		assert.Equal(t, shared.DefaultPageSize, repo.lastOpts.Limit)
	})

	t.Run("page size is capped", func(t *testing.T) {
		repo := &stubTemplateRepo{}
		handler := NewListTemplatesHandler(repo)

		_, err := handler.Handle(ctx, ListTemplatesQuery{Actor: actor, Page: 1, PageSize: 5000})
		require.NoError(t, err)

		assert.Equal(t, shared.MaxPageSize, repo.lastOpts.Limit)
	})
}

func TestListTemplates_StudentRejected(t *testing.T) {
	handler := NewListTemplatesHandler(&stubTemplateRepo{})
	_, err := handler.Handle(context.Background(), ListTemplatesQuery{
		Actor: shared.Actor{ID: "student-1", Role: shared.RoleStudent},
	})
	assert.ErrorIs(t, err, shared.ErrActorNotPermitted)
}
