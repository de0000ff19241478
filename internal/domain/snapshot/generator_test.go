package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/template"
)

func rowWithStatus(t *testing.T, id string, status progress.Status, points int) *progress.Progress {
	t.Helper()
	p, err := progress.NewProgress(progress.NewProgressParams{
		ID:         id,
		InstanceID: "inst-1",
		StudentID:  "student-1",
		WeekNumber: 1,
		Activity: template.Activity{
			ID:         "act-" + id,
			TemplateID: "tpl-1",
			Title:      "Activity",
			DayOfWeek:  1,
			Type:       template.TypeQuick,
			Config:     template.QuickConfig{},
			Scoring:    template.Scoring{PointsOnCompletion: points},
		},
		ScheduledDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	switch status {
	case progress.StatusInProgress:
		require.NoError(t, p.Start())
	case progress.StatusCompleted:
		require.NoError(t, p.Start())
		_, err := p.Complete(nil)
		require.NoError(t, err)
	case progress.StatusSkipped:
		require.NoError(t, p.Skip(""))
	}
	return p
}

func baseInput(rows []*progress.Progress) GenerateInput {
	return GenerateInput{
		SnapshotID: "snap-1",
		InstanceID: "inst-1",
		StudentID:  "student-1",
		WeekNumber: 1,
		Rows:       rows,
	}
}

func TestGenerate_FullCompletion(t *testing.T) {
	rows := []*progress.Progress{
		rowWithStatus(t, "1", progress.StatusCompleted, 10),
		rowWithStatus(t, "2", progress.StatusCompleted, 10),
		rowWithStatus(t, "3", progress.StatusCompleted, 10),
	}

	s, err := Generate(baseInput(rows))
	require.NoError(t, err)

	assert.Equal(t, float64(100), s.Engagement.CompletionRate)
	assert.Equal(t, 3, s.Engagement.CompletedActivities)
	assert.Equal(t, 30, s.Engagement.PointsEarned)
	// 100% >= default threshold: the streak starts.
	assert.Equal(t, 1, s.Performance.StreakWeeks)
	assert.NotEmpty(t, s.Insights.Strengths)
}

func TestGenerate_LowCompletion_ResetsStreak(t *testing.T) {
	rows := []*progress.Progress{
		rowWithStatus(t, "1", progress.StatusCompleted, 10),
		rowWithStatus(t, "2", progress.StatusPending, 10),
		rowWithStatus(t, "3", progress.StatusPending, 10),
	}

	in := baseInput(rows)
	in.PreviousStreak = 4

	s, err := Generate(in)
	require.NoError(t, err)

	// 33% is below the 50% threshold: the streak resets to zero.
	assert.InDelta(t, 33.33, s.Engagement.CompletionRate, 0.01)
	assert.Equal(t, 0, s.Performance.StreakWeeks)
	assert.NotEmpty(t, s.Insights.Challenges)
	assert.NotEmpty(t, s.Insights.Recommendations)
}

func TestGenerate_StreakContinues(t *testing.T) {
	rows := []*progress.Progress{
		rowWithStatus(t, "1", progress.StatusCompleted, 10),
		rowWithStatus(t, "2", progress.StatusCompleted, 10),
		rowWithStatus(t, "3", progress.StatusPending, 10),
	}

	in := baseInput(rows)
	in.PreviousStreak = 2

	s, err := Generate(in)
	require.NoError(t, err)

	// 66% >= 50% threshold: the streak increments.
	assert.Equal(t, 3, s.Performance.StreakWeeks)
}

func TestGenerate_ImprovementFromPreviousWeek(t *testing.T) {
	rows := []*progress.Progress{
		rowWithStatus(t, "1", progress.StatusCompleted, 10),
		rowWithStatus(t, "2", progress.StatusCompleted, 10),
	}

	in := baseInput(rows)
	in.WeekNumber = 2
	in.Previous = &Snapshot{
		ID:         "snap-0",
		InstanceID: "inst-1",
		WeekNumber: 1,
		Engagement: Engagement{CompletionRate: 50},
	}

	s, err := Generate(in)
	require.NoError(t, err)

	assert.Equal(t, float64(50), s.Performance.ImprovementFromPreviousWeek)
	// +50 >= +15: counted as a strength.
	assert.NotEmpty(t, s.Insights.Strengths)
}

func TestGenerate_DecliningEngagement(t *testing.T) {
	rows := []*progress.Progress{
		rowWithStatus(t, "1", progress.StatusCompleted, 10),
		rowWithStatus(t, "2", progress.StatusPending, 10),
	}

	in := baseInput(rows)
	in.WeekNumber = 3
	in.Previous = &Snapshot{
		ID:         "snap-0",
		InstanceID: "inst-1",
		WeekNumber: 2,
		Engagement: Engagement{CompletionRate: 100},
	}
	in.PreviousStreak = 1

	s, err := Generate(in)
	require.NoError(t, err)

	assert.Equal(t, float64(-50), s.Performance.ImprovementFromPreviousWeek)
	assert.NotEmpty(t, s.Insights.Challenges)
	// 50% meets the default threshold, so the streak still continues.
	assert.Equal(t, 2, s.Performance.StreakWeeks)
}

func TestGenerate_SkipHeavyWeek(t *testing.T) {
	rows := []*progress.Progress{
		rowWithStatus(t, "1", progress.StatusCompleted, 10),
		rowWithStatus(t, "2", progress.StatusSkipped, 10),
		rowWithStatus(t, "3", progress.StatusSkipped, 10),
	}

	s, err := Generate(baseInput(rows))
	require.NoError(t, err)

	assert.Equal(t, 2, s.Engagement.SkippedActivities)
	assert.NotEmpty(t, s.Insights.Recommendations)
}

func TestGenerate_EmptyWeek(t *testing.T) {
	s, err := Generate(baseInput(nil))
	require.NoError(t, err)

	assert.Equal(t, float64(0), s.Engagement.CompletionRate)
	assert.Equal(t, 0, s.Engagement.TotalActivities)
	assert.Equal(t, 0, s.Performance.StreakWeeks)
}

func TestGenerate_CustomThreshold(t *testing.T) {
	rows := []*progress.Progress{
		rowWithStatus(t, "1", progress.StatusCompleted, 10),
		rowWithStatus(t, "2", progress.StatusCompleted, 10),
		rowWithStatus(t, "3", progress.StatusPending, 10),
	}

	in := baseInput(rows)
	in.StreakThreshold = 80
	in.PreviousStreak = 5

	s, err := Generate(in)
	require.NoError(t, err)

	// 66% < 80% custom threshold: the streak resets.
	assert.Equal(t, 0, s.Performance.StreakWeeks)
}

func TestGenerate_DoesNotMutateRows(t *testing.T) {
	row := rowWithStatus(t, "1", progress.StatusInProgress, 10)
	before := row.Clone()

	_, err := Generate(baseInput([]*progress.Progress{row}))
	require.NoError(t, err)

	assert.Equal(t, before.Status, row.Status)
	assert.Equal(t, before.UpdatedAt, row.UpdatedAt)
}

func TestGenerate_Invalid(t *testing.T) {
	in := baseInput(nil)
	in.SnapshotID = ""
	_, err := Generate(in)
	assert.Error(t, err)

	in = baseInput(nil)
	in.WeekNumber = 0
	_, err = Generate(in)
	assert.Error(t, err)
}
