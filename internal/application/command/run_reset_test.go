package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/snapshot"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test fixtures
// ─────────────────────────────────────────────────────────────────────────────

type resetEnv struct {
	templateRepo *fakeTemplateRepo
	instanceRepo *fakeInstanceRepo
	progressRepo *fakeProgressRepo
	snapshotRepo *fakeSnapshotRepo
	bus          *fakeBus
	handler      *RunResetHandler
}

func newResetEnv(t *testing.T) *resetEnv {
	t.Helper()
	env := &resetEnv{
		templateRepo: newFakeTemplateRepo(),
		instanceRepo: newFakeInstanceRepo(),
		progressRepo: newFakeProgressRepo(),
		snapshotRepo: newFakeSnapshotRepo(),
		bus:          newFakeBus(),
	}
	env.handler = NewRunResetHandler(
		env.instanceRepo,
		env.templateRepo,
		env.progressRepo,
		env.snapshotRepo,
		env.bus,
		nil,
		RunResetHandlerConfig{StreakThreshold: 50, Location: time.UTC},
	)
	return env
}

// withLocks rebuilds the env handler with an instance locker attached.
func (env *resetEnv) withLocks(locks InstanceLocker) {
	env.handler = NewRunResetHandler(
		env.instanceRepo,
		env.templateRepo,
		env.progressRepo,
		env.snapshotRepo,
		env.bus,
		locks,
		RunResetHandlerConfig{StreakThreshold: 50, Location: time.UTC},
	)
}

// fakeInstanceLocks is an in-memory InstanceLocker. With held=true every
// TryAcquire reports the lock as taken by someone else.
type fakeInstanceLocks struct {
	mu       sync.Mutex
	held     bool
	acquired []string
	released []string
}

func (f *fakeInstanceLocks) TryAcquire(_ context.Context, instanceID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return "", false, nil
	}
	f.acquired = append(f.acquired, instanceID)
	return "token-" + instanceID, true, nil
}

func (f *fakeInstanceLocks) Release(_ context.Context, instanceID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, instanceID)
	return nil
}

// rivalSnapshotRepo lets a test interleave a competing write right after
// the snapshot guard fires, before the instance is saved.
type rivalSnapshotRepo struct {
	*fakeSnapshotRepo
	onCreate func()
}

func (r *rivalSnapshotRepo) CreateIfAbsent(ctx context.Context, snap *snapshot.Snapshot) (bool, error) {
	created, err := r.fakeSnapshotRepo.CreateIfAbsent(ctx, snap)
	if err == nil && r.onCreate != nil {
		r.onCreate()
	}
	return created, err
}

// resetTestNow pins the reset cutoff nine days into testTemplate's plan
// (StartDate 2026-01-05 + 8), so fixtures stay deterministic regardless of
// the calendar date the suite runs on.
var resetTestNow = time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)

// dueInstance stores an instance whose first week ended a day ago, with
// its week-1 rows seeded. The first `completed` rows are completed and
// mirrored into the instance cache, the way live traffic would have.
func dueInstance(t *testing.T, env *resetEnv, tpl *template.Template, studentID string, completed int) *instance.Instance {
	t.Helper()
	ctx := context.Background()

	weekStart := resetTestNow.AddDate(0, 0, -8)
	inst, err := instance.NewInstance(instance.NewInstanceParams{
		ID:              uuid.New().String(),
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		LineageID:       tpl.LineageID,
		StudentID:       studentID,
		AssignedBy:      "prof-1",
		WeekStart:       weekStart,
		TotalActivities: tpl.WeeklyActivityCount(),
	})
	require.NoError(t, err)

	rows, err := buildWeekRows(tpl, inst, 1, time.UTC)
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	for i := 0; i < completed && i < len(rows); i++ {
		require.NoError(t, rows[i].Start())
		points, err := rows[i].Complete(nil)
		require.NoError(t, err)
		inst.ApplyCompletion(points)
	}

	require.NoError(t, env.instanceRepo.Create(ctx, inst))
	require.NoError(t, env.progressRepo.BulkCreate(ctx, rows))
	return inst
}

func systemReset(dryRun bool) RunResetCommand {
	return RunResetCommand{
		Actor:  shared.SystemActor(),
		DryRun: dryRun,
		Now:    resetTestNow,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestRunReset_AdvancesSnapshotsAndReseeds(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))
	inst := dueInstance(t, env, tpl, "student-1", 2)

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Successful)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, res.SnapshotsGenerated)
	assert.Equal(t, 1, res.Reseeded)
	assert.Equal(t, 0, res.Terminated)

	// The closed week got its snapshot.
	snap, err := env.snapshotRepo.GetByInstanceWeek(ctx, inst.ID, 1)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, snap.Engagement.CompletionRate, 0.01)
	assert.Equal(t, 1, snap.Performance.StreakWeeks)

	// The instance moved to week 2 with a fresh cache and an extended streak.
	after, err := env.instanceRepo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.CurrentWeekNumber)
	assert.Equal(t, instance.StatusActive, after.Status)
	assert.Equal(t, 0, after.Cache.CompletedActivities)
	assert.Equal(t, 2, after.Cache.TotalActivities)
	assert.Equal(t, 1, after.Cache.StreakWeeks)
	assert.Equal(t, 1, after.Lifetime.WeeksElapsed)

	// Week 2 is seeded with pending rows.
	rows, err := env.progressRepo.ListByInstanceWeek(ctx, inst.ID, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, progress.StatusPending, row.Status)
	}

	assert.Len(t, env.bus.byType(shared.EventWeekAdvanced), 1)
	assert.Len(t, env.bus.byType(shared.EventSnapshotGenerated), 1)
	assert.Len(t, env.bus.byType(shared.EventResetBatchCompleted), 1)
}

func TestRunReset_RerunAfterCrashStillAdvances(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))
	inst := dueInstance(t, env, tpl, "student-1", 2)

	// A previous run already wrote the week-1 snapshot and crashed
	// before advancing the instance.
	created, err := env.snapshotRepo.CreateIfAbsent(ctx, &snapshot.Snapshot{
		ID:         uuid.New().String(),
		InstanceID: inst.ID,
		StudentID:  inst.StudentID,
		WeekNumber: 1,
		Engagement: snapshot.Engagement{CompletionRate: 100, CompletedActivities: 2, TotalActivities: 2},
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, created)

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)

	// No duplicate snapshot, but the instance still advances.
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 0, res.SnapshotsGenerated)

	after, err := env.instanceRepo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.CurrentWeekNumber)

	assert.Empty(t, env.bus.byType(shared.EventSnapshotGenerated))
	assert.Len(t, env.bus.byType(shared.EventWeekAdvanced), 1)
}

func TestRunReset_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))
	inst := dueInstance(t, env, tpl, "student-1", 1)

	res, err := env.handler.Handle(ctx, systemReset(true))
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.SnapshotsGenerated)

	exists, err := env.snapshotRepo.ExistsForWeek(ctx, inst.ID, 1)
	require.NoError(t, err)
	assert.False(t, exists)

	after, err := env.instanceRepo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.CurrentWeekNumber)

	rows, err := env.progressRepo.ListByInstanceWeek(ctx, inst.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.Empty(t, env.bus.events)
}

func TestRunReset_TerminatesPastEndDate(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)

	weekStart := resetTestNow.AddDate(0, 0, -8)
	tpl, err := template.NewTemplate(template.NewTemplateParams{
		ID:          uuid.New().String(),
		LineageID:   uuid.New().String(),
		Version:     1,
		OwnerID:     "prof-1",
		Name:        "Short plan",
		Category:    template.CategoryTherapeutic,
		ActiveDays:  template.ActiveDays{1},
		RepeatRules: template.RepeatRules{ResetOnRepeat: true},
		StartDate:   weekStart,
		EndDate:     weekStart.AddDate(0, 0, 5),
		Activities:  []template.Activity{testActivity("Morning check-in", 1, 0, 10)},
	})
	require.NoError(t, err)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))
	inst := dueInstance(t, env, tpl, "student-1", 1)

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Terminated)
	assert.Equal(t, 0, res.Reseeded)

	after, err := env.instanceRepo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusCompleted, after.Status)
	require.NotNil(t, after.CompletedAt)

	// A terminated instance gets no new week rows.
	rows, err := env.progressRepo.ListByInstanceWeek(ctx, inst.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunReset_CarryOverSkipsReseed(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", false)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))
	inst := dueInstance(t, env, tpl, "student-1", 1)

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 0, res.Reseeded)

	after, err := env.instanceRepo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.CurrentWeekNumber)

	// Carry-over keeps the week-1 rows as the only rows and the cache intact.
	rows, err := env.progressRepo.ListByInstanceWeek(ctx, inst.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 1, after.Cache.CompletedActivities)
}

func TestRunReset_StreakResetsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))

	// 0 of 2 completed: rate 0 is below the 50 threshold.
	inst := dueInstance(t, env, tpl, "student-1", 0)

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)
	require.Equal(t, 1, res.Successful)

	after, err := env.instanceRepo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Cache.StreakWeeks)

	snap, err := env.snapshotRepo.GetByInstanceWeek(ctx, inst.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Performance.StreakWeeks)
}

func TestRunReset_ReseedsFromAssignedVersion(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	v1 := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, v1))

	// The instance was assigned v1; a later fork must not leak into it.
	inst := dueInstance(t, env, v1, "student-1", 2)

	v2, err := v1.Fork(template.ForkParams{
		NewID: uuid.New().String(),
		Activities: []template.Activity{
			testActivity("Breathing exercise", 1, 0, 15),
			testActivity("Evening journal", 3, 0, 25),
		},
	})
	require.NoError(t, err)
	require.NoError(t, env.templateRepo.Create(ctx, v2))

	_, err = env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)

	rows, err := env.progressRepo.ListByInstanceWeek(ctx, inst.ID, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	titles := make(map[string]bool)
	for _, row := range rows {
		titles[row.Snapshot.Title] = true
	}
	assert.True(t, titles["Morning check-in"])
	assert.False(t, titles["Breathing exercise"])
}

func TestRunReset_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))

	healthy := dueInstance(t, env, tpl, "student-1", 2)

	// The second instance references a template that no longer loads.
	orphanTpl := testTemplate(t, "prof-1", true)
	broken := dueInstance(t, env, orphanTpl, "student-2", 2)

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Successful)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, broken.ID, res.Failed[0].InstanceID)
	assert.Equal(t, "student-2", res.Failed[0].StudentID)

	after, err := env.instanceRepo.GetByID(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.CurrentWeekNumber)

	assert.Len(t, env.bus.byType(shared.EventResetInstanceFailed), 1)
}

func TestRunReset_SkipsInstancesNotDue(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))

	inst, err := instance.NewInstance(instance.NewInstanceParams{
		ID:              uuid.New().String(),
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		LineageID:       tpl.LineageID,
		StudentID:       "student-1",
		AssignedBy:      "prof-1",
		WeekStart:       resetTestNow,
		TotalActivities: tpl.WeeklyActivityCount(),
	})
	require.NoError(t, err)
	require.NoError(t, env.instanceRepo.Create(ctx, inst))

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
}

func TestRunReset_PausedInstanceStillAdvances(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))

	inst := dueInstance(t, env, tpl, "student-1", 0)
	stored, err := env.instanceRepo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Pause())
	require.NoError(t, env.instanceRepo.Update(ctx, stored))

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)
	require.Equal(t, 1, res.Successful)

	after, err := env.instanceRepo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.CurrentWeekNumber)
	assert.Equal(t, instance.StatusPaused, after.Status)
}

func TestRunReset_NonElevatedActorRejected(t *testing.T) {
	env := newResetEnv(t)
	_, err := env.handler.Handle(context.Background(), RunResetCommand{
		Actor: shared.Actor{ID: "prof-1", Role: shared.RoleProfessional},
	})
	assert.ErrorIs(t, err, shared.ErrActorNotPermitted)
}

func TestRunReset_SecondRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))
	inst := dueInstance(t, env, tpl, "student-1", 2)

	first, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)
	require.Equal(t, 1, first.Successful)
	require.Equal(t, 1, first.SnapshotsGenerated)

	second, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)

	// The advanced instance is no longer due, so the second run finds
	// nothing and writes nothing.
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 0, second.SnapshotsGenerated)
	assert.Empty(t, second.Failed)

	// Exactly one snapshot for the closed week, exactly one advance.
	snaps, err := env.snapshotRepo.ListByInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].WeekNumber)

	after, err := env.instanceRepo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.CurrentWeekNumber)

	assert.Len(t, env.bus.byType(shared.EventWeekAdvanced), 1)
	assert.Len(t, env.bus.byType(shared.EventSnapshotGenerated), 1)
}

func TestRunReset_LosingOverlappedRunIsSkippedNotFailed(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))
	inst := dueInstance(t, env, tpl, "student-1", 2)

	// A competing run saves the instance between this run's snapshot
	// write and its own save, so the save here loses optimistic locking.
	rival := &rivalSnapshotRepo{fakeSnapshotRepo: env.snapshotRepo}
	rival.onCreate = func() {
		winner, err := env.instanceRepo.GetByID(ctx, inst.ID)
		require.NoError(t, err)
		require.NoError(t, env.instanceRepo.Update(ctx, winner))
	}
	env.handler = NewRunResetHandler(
		env.instanceRepo, env.templateRepo, env.progressRepo, rival, env.bus, nil,
		RunResetHandlerConfig{StreakThreshold: 50, Location: time.UTC},
	)

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Successful)
	assert.Empty(t, res.Failed)

	// Losing the race is not an instance failure.
	assert.Empty(t, env.bus.byType(shared.EventResetInstanceFailed))
}

func TestRunReset_HeldInstanceLockSkips(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))
	inst := dueInstance(t, env, tpl, "student-1", 2)

	env.withLocks(&fakeInstanceLocks{held: true})

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Successful)
	assert.Empty(t, res.Failed)

	// The other run owns the instance; nothing was written here.
	exists, err := env.snapshotRepo.ExistsForWeek(ctx, inst.ID, 1)
	require.NoError(t, err)
	assert.False(t, exists)

	after, err := env.instanceRepo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.CurrentWeekNumber)
}

func TestRunReset_InstanceLockAcquiredAndReleased(t *testing.T) {
	ctx := context.Background()
	env := newResetEnv(t)
	tpl := testTemplate(t, "prof-1", true)
	require.NoError(t, env.templateRepo.Create(ctx, tpl))
	inst := dueInstance(t, env, tpl, "student-1", 2)

	locks := &fakeInstanceLocks{}
	env.withLocks(locks)

	res, err := env.handler.Handle(ctx, systemReset(false))
	require.NoError(t, err)
	require.Equal(t, 1, res.Successful)

	assert.Equal(t, []string{inst.ID}, locks.acquired)
	assert.Equal(t, []string{inst.ID}, locks.released)
}
