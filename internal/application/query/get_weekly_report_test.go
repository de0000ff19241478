package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/snapshot"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

// Minimal read-side fakes. The write-side conflict semantics live with
// the command handler tests; queries only need lookups.

type stubInstanceRepo struct {
	instance.Repository
	instances map[string]*instance.Instance
}

func (r *stubInstanceRepo) GetByID(_ context.Context, id string) (*instance.Instance, error) {
	inst, ok := r.instances[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return inst.Clone(), nil
}

type stubProgressRepo struct {
	progress.Repository
	rows []*progress.Progress
}

func (r *stubProgressRepo) ListByInstanceWeek(_ context.Context, instanceID string, week int) ([]*progress.Progress, error) {
	out := make([]*progress.Progress, 0)
	for _, row := range r.rows {
		if row.InstanceID == instanceID && row.WeekNumber == week {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (r *stubProgressRepo) CountByInstanceWeek(ctx context.Context, instanceID string, week int) (progress.WeekCounts, error) {
	rows, _ := r.ListByInstanceWeek(ctx, instanceID, week)
	counts := progress.WeekCounts{Total: len(rows)}
	for _, row := range rows {
		switch row.Status {
		case progress.StatusCompleted:
			counts.Completed++
		case progress.StatusSkipped:
			counts.Skipped++
		case progress.StatusInProgress:
			counts.InProgress++
		default:
			counts.Pending++
		}
	}
	return counts, nil
}

type stubSnapshotRepo struct {
	snapshot.Repository
	snapshots map[string]*snapshot.Snapshot
}

func snapStubKey(instanceID string, week int) string {
	return fmt.Sprintf("%s#%d", instanceID, week)
}

func (r *stubSnapshotRepo) GetByInstanceWeek(_ context.Context, instanceID string, week int) (*snapshot.Snapshot, error) {
	s, ok := r.snapshots[snapStubKey(instanceID, week)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

type stubRoster struct {
	entries map[string]bool // "prof#student"
}

func (r *stubRoster) IsOnRoster(_ context.Context, professionalID, studentID string) (bool, error) {
	return r.entries[professionalID+"#"+studentID], nil
}

func (r *stubRoster) ListStudents(context.Context, string) ([]string, error) { return nil, nil }

func (r *stubRoster) Add(context.Context, string, string) error { return nil }

func (r *stubRoster) Remove(context.Context, string, string) error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

func reportFixture(t *testing.T) (*GetWeeklyReportHandler, *instance.Instance, *stubSnapshotRepo, *stubProgressRepo) {
	t.Helper()

	inst, err := instance.NewInstance(instance.NewInstanceParams{
		ID:              "inst-1",
		TemplateID:      "tpl-1",
		TemplateVersion: 1,
		LineageID:       "lin-1",
		StudentID:       "student-1",
		AssignedBy:      "prof-1",
		WeekStart:       time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC),
		TotalActivities: 2,
	})
	require.NoError(t, err)
	inst.CurrentWeekNumber = 3

	act := template.Activity{
		ID:         "act-1",
		Title:      "Morning check-in",
		DayOfWeek:  1,
		OrderIndex: 0,
		Type:       template.TypeQuick,
		Config:     template.QuickConfig{},
		Scoring:    template.Scoring{PointsOnCompletion: 10},
	}
	row, err := progress.NewProgress(progress.NewProgressParams{
		ID:            "row-1",
		InstanceID:    inst.ID,
		StudentID:     inst.StudentID,
		WeekNumber:    3,
		Activity:      act,
		ScheduledDate: inst.CurrentWeekStart,
	})
	require.NoError(t, err)
	require.NoError(t, row.Start())
	_, err = row.Complete(nil)
	require.NoError(t, err)

	pending, err := progress.NewProgress(progress.NewProgressParams{
		ID:            "row-2",
		InstanceID:    inst.ID,
		StudentID:     inst.StudentID,
		WeekNumber:    3,
		Activity:      act,
		ScheduledDate: inst.CurrentWeekStart,
	})
	require.NoError(t, err)

	snapRepo := &stubSnapshotRepo{snapshots: map[string]*snapshot.Snapshot{
		snapStubKey(inst.ID, 2): {
			ID:         "snap-2",
			InstanceID: inst.ID,
			StudentID:  inst.StudentID,
			WeekNumber: 2,
			Engagement: snapshot.Engagement{
				CompletionRate:      75,
				CompletedActivities: 3,
				TotalActivities:     4,
				PointsEarned:        30,
			},
			Performance: snapshot.Performance{StreakWeeks: 2},
			Insights:    snapshot.Insights{Strengths: []string{"strong and steady engagement this week"}},
			IsActive:    true,
			CreatedAt:   time.Now().UTC(),
		},
	}}
	progRepo := &stubProgressRepo{rows: []*progress.Progress{row, pending}}
	instRepo := &stubInstanceRepo{instances: map[string]*instance.Instance{inst.ID: inst}}
	roster := &stubRoster{entries: map[string]bool{"prof-1#student-1": true}}

	return NewGetWeeklyReportHandler(instRepo, progRepo, snapRepo, roster), inst, snapRepo, progRepo
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestGetWeeklyReport_ClosedWeekUsesSnapshot(t *testing.T) {
	handler, inst, _, _ := reportFixture(t)

	res, err := handler.Handle(context.Background(), GetWeeklyReportQuery{
		Actor:           shared.Actor{ID: "student-1", Role: shared.RoleStudent},
		InstanceID:      inst.ID,
		WeekNumber:      2,
		IncludeInsights: true,
	})
	require.NoError(t, err)

	assert.True(t, res.Week.IsClosed)
	assert.InDelta(t, 75.0, res.Week.CompletionRate, 0.01)
	assert.Equal(t, 30, res.Week.PointsEarned)
	assert.Equal(t, 2, res.Week.StreakWeeks)
	require.NotNil(t, res.Insights)
	assert.NotEmpty(t, res.Insights.Strengths)
}

func TestGetWeeklyReport_OpenWeekComputedLive(t *testing.T) {
	handler, inst, _, _ := reportFixture(t)

	res, err := handler.Handle(context.Background(), GetWeeklyReportQuery{
		Actor:       shared.Actor{ID: "student-1", Role: shared.RoleStudent},
		InstanceID:  inst.ID,
		IncludeRows: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Week.WeekNumber)
	assert.False(t, res.Week.IsClosed)
	assert.Equal(t, 1, res.Week.CompletedActivities)
	assert.Equal(t, 2, res.Week.TotalActivities)
	assert.InDelta(t, 50.0, res.Week.CompletionRate, 0.01)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Morning check-in", res.Rows[0].Title)
}

func TestGetWeeklyReport_HistorySkipsMissingWeeks(t *testing.T) {
	handler, inst, _, _ := reportFixture(t)

	res, err := handler.Handle(context.Background(), GetWeeklyReportQuery{
		Actor:          shared.Actor{ID: "student-1", Role: shared.RoleStudent},
		InstanceID:     inst.ID,
		IncludeHistory: true,
	})
	require.NoError(t, err)

	// Only week 2 has a snapshot; week 1 is silently absent.
	require.Len(t, res.History, 1)
	assert.Equal(t, 2, res.History[0].WeekNumber)
}

func TestGetWeeklyReport_FutureWeekRejected(t *testing.T) {
	handler, inst, _, _ := reportFixture(t)

	_, err := handler.Handle(context.Background(), GetWeeklyReportQuery{
		Actor:      shared.Actor{ID: "student-1", Role: shared.RoleStudent},
		InstanceID: inst.ID,
		WeekNumber: 4,
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetWeeklyReport_Authorization(t *testing.T) {
	handler, inst, _, _ := reportFixture(t)
	ctx := context.Background()

	_, err := handler.Handle(ctx, GetWeeklyReportQuery{
		Actor:      shared.Actor{ID: "student-2", Role: shared.RoleStudent},
		InstanceID: inst.ID,
	})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = handler.Handle(ctx, GetWeeklyReportQuery{
		Actor:      shared.Actor{ID: "prof-2", Role: shared.RoleProfessional},
		InstanceID: inst.ID,
	})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = handler.Handle(ctx, GetWeeklyReportQuery{
		Actor:      shared.Actor{ID: "prof-1", Role: shared.RoleProfessional},
		InstanceID: inst.ID,
	})
	assert.NoError(t, err)
}

func TestGetInstanceProgress_GroupsByDay(t *testing.T) {
	handler, inst, _, progRepo := reportFixture(t)
	_ = handler

	instRepo := &stubInstanceRepo{instances: map[string]*instance.Instance{inst.ID: inst}}
	roster := &stubRoster{entries: map[string]bool{}}
	viewHandler := NewGetInstanceProgressHandler(instRepo, progRepo, roster)

	res, err := viewHandler.Handle(context.Background(), GetInstanceProgressQuery{
		Actor:      shared.Actor{ID: "student-1", Role: shared.RoleStudent},
		InstanceID: inst.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.CurrentWeekNumber)
	require.Len(t, res.Days, 1)
	assert.Equal(t, 1, res.Days[0].DayOfWeek)
	assert.Len(t, res.Days[0].Rows, 2)
}
