package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

func validCreateCommand(actor shared.Actor) CreateTemplateCommand {
	return CreateTemplateCommand{
		Actor:       actor,
		Name:        "Weekly therapy plan",
		Category:    template.CategoryTherapeutic,
		ActiveDays:  template.ActiveDays{1, 3},
		RepeatRules: template.RepeatRules{ResetOnRepeat: true},
		StartDate:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, 6, 29, 0, 0, 0, 0, time.UTC),
		Activities: []ActivityInput{
			{Title: "Morning check-in", DayOfWeek: 1, Type: template.TypeQuick, Config: template.QuickConfig{}, Points: 10},
			{Title: "Evening journal", DayOfWeek: 3, Type: template.TypeText, Config: template.TextConfig{Prompt: "How was your day?"}, Points: 25},
		},
	}
}

func TestCreateTemplate_Success(t *testing.T) {
	ctx := context.Background()
	repo := newFakeTemplateRepo()
	handler := NewCreateTemplateHandler(repo)

	res, err := handler.Handle(ctx, validCreateCommand(shared.Actor{ID: "prof-1", Role: shared.RoleProfessional}))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 2, res.ActivityCount)
	assert.NotEmpty(t, res.LineageID)

	stored, err := repo.GetByID(ctx, res.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, "prof-1", stored.OwnerID)
	assert.True(t, stored.IsActive)
}

func TestCreateTemplate_StudentRejected(t *testing.T) {
	handler := NewCreateTemplateHandler(newFakeTemplateRepo())

	_, err := handler.Handle(context.Background(), validCreateCommand(shared.Actor{ID: "student-1", Role: shared.RoleStudent}))
	assert.ErrorIs(t, err, shared.ErrActorNotPermitted)
}

func TestCreateTemplate_OwnerForAnotherNeedsElevation(t *testing.T) {
	ctx := context.Background()
	handler := NewCreateTemplateHandler(newFakeTemplateRepo())

	cmd := validCreateCommand(shared.Actor{ID: "prof-1", Role: shared.RoleProfessional})
	cmd.OwnerID = "prof-2"
	_, err := handler.Handle(ctx, cmd)
	assert.ErrorIs(t, err, shared.ErrActorNotPermitted)

	cmd.Actor = shared.Actor{ID: "coord-1", Role: shared.RoleCoordinator}
	res, err := handler.Handle(ctx, cmd)
	require.NoError(t, err)

	stored, err := handler.templateRepo.GetByID(ctx, res.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, "prof-2", stored.OwnerID)
}

func TestForkTemplate_CreatesNextVersion(t *testing.T) {
	ctx := context.Background()
	repo := newFakeTemplateRepo()
	bus := newFakeBus()
	handler := NewForkTemplateHandler(repo, bus)

	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, repo.Create(ctx, tpl))

	res, err := handler.Handle(ctx, ForkTemplateCommand{
		Actor:      shared.Actor{ID: "prof-1", Role: shared.RoleProfessional},
		TemplateID: tpl.ID,
		Name:       "Weekly therapy plan v2",
	})
	require.NoError(t, err)

	assert.Equal(t, tpl.LineageID, res.LineageID)
	assert.Equal(t, 1, res.PreviousVersion)
	assert.Equal(t, 2, res.Version)
	assert.NotEqual(t, tpl.ID, res.TemplateID)

	// The previous version is untouched.
	prev, err := repo.GetByID(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly therapy plan", prev.Name)
	assert.True(t, prev.IsActive)

	next, err := repo.GetByID(ctx, res.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly therapy plan v2", next.Name)

	assert.Len(t, bus.byType(shared.EventTemplateForked), 1)
}

func TestForkTemplate_OnlyLatestVersion(t *testing.T) {
	ctx := context.Background()
	repo := newFakeTemplateRepo()
	handler := NewForkTemplateHandler(repo, newFakeBus())

	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, repo.Create(ctx, tpl))

	first, err := handler.Handle(ctx, ForkTemplateCommand{
		Actor:      shared.Actor{ID: "prof-1", Role: shared.RoleProfessional},
		TemplateID: tpl.ID,
	})
	require.NoError(t, err)
	require.Equal(t, 2, first.Version)

	// Editing v1 again must be rejected now that v2 exists.
	_, err = handler.Handle(ctx, ForkTemplateCommand{
		Actor:      shared.Actor{ID: "prof-1", Role: shared.RoleProfessional},
		TemplateID: tpl.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestForkTemplate_NonOwnerForbidden(t *testing.T) {
	ctx := context.Background()
	repo := newFakeTemplateRepo()
	handler := NewForkTemplateHandler(repo, newFakeBus())

	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, repo.Create(ctx, tpl))

	_, err := handler.Handle(ctx, ForkTemplateCommand{
		Actor:      shared.Actor{ID: "prof-2", Role: shared.RoleProfessional},
		TemplateID: tpl.ID,
	})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestForkTemplate_ArchivedRejected(t *testing.T) {
	ctx := context.Background()
	repo := newFakeTemplateRepo()
	handler := NewForkTemplateHandler(repo, newFakeBus())

	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, tpl.Archive())
	require.NoError(t, repo.Create(ctx, tpl))

	_, err := handler.Handle(ctx, ForkTemplateCommand{
		Actor:      shared.Actor{ID: "prof-1", Role: shared.RoleProfessional},
		TemplateID: tpl.ID,
	})
	assert.ErrorIs(t, err, shared.ErrArchived)
}

func TestArchiveTemplate_Success(t *testing.T) {
	ctx := context.Background()
	repo := newFakeTemplateRepo()
	handler := NewArchiveTemplateHandler(repo)

	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, repo.Create(ctx, tpl))

	res, err := handler.Handle(ctx, ArchiveTemplateCommand{
		Actor:      shared.Actor{ID: "prof-1", Role: shared.RoleProfessional},
		TemplateID: tpl.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, res.TemplateID)

	stored, err := repo.GetByID(ctx, tpl.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	// Archiving twice is a state conflict.
	_, err = handler.Handle(ctx, ArchiveTemplateCommand{
		Actor:      shared.Actor{ID: "prof-1", Role: shared.RoleProfessional},
		TemplateID: tpl.ID,
	})
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestArchiveTemplate_NonOwnerForbidden(t *testing.T) {
	ctx := context.Background()
	repo := newFakeTemplateRepo()
	handler := NewArchiveTemplateHandler(repo)

	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, repo.Create(ctx, tpl))

	_, err := handler.Handle(ctx, ArchiveTemplateCommand{
		Actor:      shared.Actor{ID: "prof-2", Role: shared.RoleProfessional},
		TemplateID: tpl.ID,
	})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}
