package command

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test fixtures
// ─────────────────────────────────────────────────────────────────────────────

type transitionEnv struct {
	templateRepo *fakeTemplateRepo
	instanceRepo *fakeInstanceRepo
	progressRepo *fakeProgressRepo
	store        *fakeCompletionStore
	roster       *fakeRoster
	bus          *fakeBus
	handler      *TransitionActivityHandler

	tpl  *template.Template
	inst *instance.Instance
	rows []*progress.Progress
}

// newTransitionEnv seeds one active instance in its first (current) week
// with its progress rows in pending state.
func newTransitionEnv(t *testing.T, resetOnRepeat bool) *transitionEnv {
	t.Helper()
	ctx := context.Background()

	env := &transitionEnv{
		templateRepo: newFakeTemplateRepo(),
		instanceRepo: newFakeInstanceRepo(),
		progressRepo: newFakeProgressRepo(),
		roster:       newFakeRoster(),
		bus:          newFakeBus(),
	}
	env.store = newFakeCompletionStore(env.progressRepo, env.instanceRepo)
	env.handler = NewTransitionActivityHandler(
		env.progressRepo,
		env.instanceRepo,
		env.templateRepo,
		env.store,
		env.roster,
		env.bus,
	)

	env.tpl = testTemplate(t, "prof-1", resetOnRepeat)
	require.NoError(t, env.templateRepo.Create(ctx, env.tpl))

	inst, err := instance.NewInstance(instance.NewInstanceParams{
		ID:              uuid.New().String(),
		TemplateID:      env.tpl.ID,
		TemplateVersion: env.tpl.Version,
		LineageID:       env.tpl.LineageID,
		StudentID:       "student-1",
		AssignedBy:      "prof-1",
		WeekStart:       env.tpl.StartDate,
		TotalActivities: env.tpl.WeeklyActivityCount(),
	})
	require.NoError(t, err)
	env.inst = inst
	require.NoError(t, env.instanceRepo.Create(ctx, inst))

	rows, err := buildWeekRows(env.tpl, inst, 1, time.UTC)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	env.rows = rows
	require.NoError(t, env.progressRepo.BulkCreate(ctx, rows))

	return env
}

func studentCmd(progressID string, transition TransitionType) TransitionActivityCommand {
	return TransitionActivityCommand{
		Actor:      shared.Actor{ID: "student-1", Role: shared.RoleStudent},
		ProgressID: progressID,
		Transition: transition,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestTransitionActivity_StartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTransitionEnv(t, true)
	rowID := env.rows[0].ID

	res, err := env.handler.Handle(ctx, studentCmd(rowID, TransitionStart))
	require.NoError(t, err)
	assert.Equal(t, progress.StatusInProgress, res.Status)

	// Repeating start succeeds without changing anything.
	res, err = env.handler.Handle(ctx, studentCmd(rowID, TransitionStart))
	require.NoError(t, err)
	assert.Equal(t, progress.StatusInProgress, res.Status)
}

func TestTransitionActivity_CompleteAwardsPointsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTransitionEnv(t, true)
	rowID := env.rows[0].ID
	points := env.rows[0].Snapshot.Scoring.PointsOnCompletion

	_, err := env.handler.Handle(ctx, studentCmd(rowID, TransitionStart))
	require.NoError(t, err)

	cmd := studentCmd(rowID, TransitionComplete)
	cmd.ExecutionData = progress.ExecutionData{"answer": "done"}
	res, err := env.handler.Handle(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, progress.StatusCompleted, res.Status)
	assert.Equal(t, points, res.PointsAwarded)
	assert.InDelta(t, 50.0, res.WeekCompletionPercentage, 0.01)
	assert.Equal(t, points, env.store.points["student-1"])

	after, err := env.instanceRepo.GetByID(ctx, env.inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Cache.CompletedActivities)
	assert.Equal(t, points, after.Lifetime.TotalPoints)

	assert.Len(t, env.bus.byType(shared.EventActivityCompleted), 1)

	// A repeated complete is rejected and awards nothing.
	_, err = env.handler.Handle(ctx, cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStateTransition)
	assert.Equal(t, points, env.store.points["student-1"])
}

func TestTransitionActivity_CompleteRequiresStart(t *testing.T) {
	env := newTransitionEnv(t, true)

	_, err := env.handler.Handle(context.Background(), studentCmd(env.rows[0].ID, TransitionComplete))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStateTransition)
	assert.ErrorIs(t, err, progress.ErrNotInProgress)
}

func TestTransitionActivity_SkipRecordsReason(t *testing.T) {
	ctx := context.Background()
	env := newTransitionEnv(t, true)
	rowID := env.rows[1].ID

	cmd := studentCmd(rowID, TransitionSkip)
	cmd.SkipReason = "felt unwell"
	res, err := env.handler.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusSkipped, res.Status)

	after, err := env.progressRepo.GetByID(ctx, rowID)
	require.NoError(t, err)
	assert.Equal(t, "felt unwell", after.SkipReason)

	assert.Len(t, env.bus.byType(shared.EventActivitySkipped), 1)
}

func TestTransitionActivity_DraftMerges(t *testing.T) {
	ctx := context.Background()
	env := newTransitionEnv(t, true)
	rowID := env.rows[0].ID

	first := studentCmd(rowID, TransitionSaveDraft)
	first.ExecutionData = progress.ExecutionData{"q1": "partial"}
	_, err := env.handler.Handle(ctx, first)
	require.NoError(t, err)

	second := studentCmd(rowID, TransitionSaveDraft)
	second.ExecutionData = progress.ExecutionData{"q2": "more"}
	res, err := env.handler.Handle(ctx, second)
	require.NoError(t, err)

	// Drafts never change the status.
	assert.Equal(t, progress.StatusPending, res.Status)

	after, err := env.progressRepo.GetByID(ctx, rowID)
	require.NoError(t, err)
	assert.Equal(t, "partial", after.ExecutionData["q1"])
	assert.Equal(t, "more", after.ExecutionData["q2"])
}

func TestTransitionActivity_DraftRequiresData(t *testing.T) {
	env := newTransitionEnv(t, true)

	_, err := env.handler.Handle(context.Background(), studentCmd(env.rows[0].ID, TransitionSaveDraft))
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransitionActivity_OtherStudentForbidden(t *testing.T) {
	env := newTransitionEnv(t, true)

	cmd := studentCmd(env.rows[0].ID, TransitionStart)
	cmd.Actor = shared.Actor{ID: "student-2", Role: shared.RoleStudent}

	_, err := env.handler.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestTransitionActivity_ProfessionalNeedsRoster(t *testing.T) {
	ctx := context.Background()
	env := newTransitionEnv(t, true)

	cmd := studentCmd(env.rows[0].ID, TransitionStart)
	cmd.Actor = shared.Actor{ID: "prof-1", Role: shared.RoleProfessional}

	_, err := env.handler.Handle(ctx, cmd)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	require.NoError(t, env.roster.Add(ctx, "prof-1", "student-1"))
	_, err = env.handler.Handle(ctx, cmd)
	assert.NoError(t, err)
}

func TestTransitionActivity_ClosedWeekRejectedWhenReseeding(t *testing.T) {
	ctx := context.Background()
	env := newTransitionEnv(t, true)

	// Advance the instance so the week-1 rows belong to a closed week.
	inst, err := env.instanceRepo.GetByID(ctx, env.inst.ID)
	require.NoError(t, err)
	_, err = inst.AdvanceWeek(env.tpl.EndDate)
	require.NoError(t, err)
	require.NoError(t, env.instanceRepo.Update(ctx, inst))

	_, err = env.handler.Handle(ctx, studentCmd(env.rows[0].ID, TransitionStart))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestTransitionActivity_ClosedWeekAllowedOnCarryOver(t *testing.T) {
	ctx := context.Background()
	env := newTransitionEnv(t, false)

	inst, err := env.instanceRepo.GetByID(ctx, env.inst.ID)
	require.NoError(t, err)
	_, err = inst.AdvanceWeek(env.tpl.EndDate)
	require.NoError(t, err)
	require.NoError(t, env.instanceRepo.Update(ctx, inst))

	res, err := env.handler.Handle(ctx, studentCmd(env.rows[0].ID, TransitionStart))
	require.NoError(t, err)
	assert.Equal(t, progress.StatusInProgress, res.Status)
}

func TestTransitionActivity_TerminatedInstanceRejected(t *testing.T) {
	ctx := context.Background()
	env := newTransitionEnv(t, true)

	inst, err := env.instanceRepo.GetByID(ctx, env.inst.ID)
	require.NoError(t, err)
	require.NoError(t, inst.MarkCompleted())
	require.NoError(t, env.instanceRepo.Update(ctx, inst))

	_, err = env.handler.Handle(ctx, studentCmd(env.rows[0].ID, TransitionStart))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestTransitionActivity_FutureWeekRejected(t *testing.T) {
	ctx := context.Background()
	env := newTransitionEnv(t, true)

	future, err := buildWeekRows(env.tpl, env.inst, 2, time.UTC)
	require.NoError(t, err)
	require.NoError(t, env.progressRepo.BulkCreate(ctx, future))

	_, err = env.handler.Handle(ctx, studentCmd(future[0].ID, TransitionStart))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}
