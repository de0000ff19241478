package instance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() NewInstanceParams {
	return NewInstanceParams{
		ID:              "inst-1",
		TemplateID:      "tpl-1",
		TemplateVersion: 1,
		LineageID:       "lin-1",
		StudentID:       "student-1",
		AssignedBy:      "pro-1",
		WeekStart:       time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		TotalActivities: 3,
	}
}

func TestNewInstance(t *testing.T) {
	inst, err := NewInstance(validParams())
	require.NoError(t, err)

	assert.Equal(t, StatusActive, inst.Status)
	assert.Equal(t, 1, inst.CurrentWeekNumber)
	assert.Equal(t, 3, inst.Cache.TotalActivities)
	assert.Equal(t, 0, inst.Cache.CompletedActivities)
	assert.Equal(t, float64(0), inst.Cache.CompletionPercentage)
	assert.Equal(t, int64(1), inst.Revision)
	// The week covers seven days.
	assert.True(t, inst.CurrentWeekEnd.After(inst.CurrentWeekStart.AddDate(0, 0, 6)))
	assert.True(t, inst.CurrentWeekEnd.Before(inst.CurrentWeekStart.AddDate(0, 0, 7)))
}

func TestNewInstance_Invalid(t *testing.T) {
	p := validParams()
	p.StudentID = ""
	_, err := NewInstance(p)
	assert.Error(t, err)

	p = validParams()
	p.TemplateVersion = 0
	_, err = NewInstance(p)
	assert.Error(t, err)
}

func TestInstance_IsDue(t *testing.T) {
	inst, err := NewInstance(validParams())
	require.NoError(t, err)

	assert.False(t, inst.IsDue(inst.CurrentWeekEnd.Add(-time.Hour)))
	assert.True(t, inst.IsDue(inst.CurrentWeekEnd.Add(time.Hour)))

	// Paused instances still roll over.
	require.NoError(t, inst.Pause())
	assert.True(t, inst.IsDue(inst.CurrentWeekEnd.Add(time.Hour)))

	// Completed instances never do.
	require.NoError(t, inst.MarkCompleted())
	assert.False(t, inst.IsDue(inst.CurrentWeekEnd.Add(time.Hour)))
}

func TestInstance_AdvanceWeek(t *testing.T) {
	inst, err := NewInstance(validParams())
	require.NoError(t, err)

	prevStart := inst.CurrentWeekStart
	terminated, err := inst.AdvanceWeek(prevStart.AddDate(0, 2, 0))
	require.NoError(t, err)

	assert.False(t, terminated)
	assert.Equal(t, 2, inst.CurrentWeekNumber)
	assert.Equal(t, prevStart.AddDate(0, 0, 7), inst.CurrentWeekStart)
	assert.Equal(t, 1, inst.Lifetime.WeeksElapsed)
}

func TestInstance_AdvanceWeek_TerminatesPastEndDate(t *testing.T) {
	inst, err := NewInstance(validParams())
	require.NoError(t, err)

	// Template ends before the next week begins.
	endDate := inst.CurrentWeekStart.AddDate(0, 0, 3)
	terminated, err := inst.AdvanceWeek(endDate)
	require.NoError(t, err)

	assert.True(t, terminated)
	assert.Equal(t, StatusCompleted, inst.Status)
	require.NotNil(t, inst.CompletedAt)

	// A completed instance cannot advance again.
	_, err = inst.AdvanceWeek(endDate)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestInstance_ResetWeekCache_KeepsLifetime(t *testing.T) {
	inst, err := NewInstance(validParams())
	require.NoError(t, err)

	inst.ApplyCompletion(10)
	inst.ApplyCompletion(5)
	assert.Equal(t, 2, inst.Cache.CompletedActivities)
	assert.Equal(t, 15, inst.Lifetime.TotalPoints)

	inst.ResetWeekCache(4)
	assert.Equal(t, 0, inst.Cache.CompletedActivities)
	assert.Equal(t, 4, inst.Cache.TotalActivities)
	assert.Equal(t, float64(0), inst.Cache.CompletionPercentage)
	// Lifetime counters survive the weekly reset.
	assert.Equal(t, 2, inst.Lifetime.TotalCompleted)
	assert.Equal(t, 15, inst.Lifetime.TotalPoints)
}

func TestInstance_ApplyCompletion_Percentage(t *testing.T) {
	inst, err := NewInstance(validParams())
	require.NoError(t, err)

	inst.ApplyCompletion(10)
	assert.InDelta(t, 33.33, inst.Cache.CompletionPercentage, 0.01)

	inst.ApplyCompletion(10)
	inst.ApplyCompletion(10)
	assert.Equal(t, float64(100), inst.Cache.CompletionPercentage)
}

func TestInstance_UpdateStreak(t *testing.T) {
	inst, err := NewInstance(validParams())
	require.NoError(t, err)

	inst.UpdateStreak(true)
	inst.UpdateStreak(true)
	assert.Equal(t, 2, inst.Cache.StreakWeeks)

	inst.UpdateStreak(false)
	assert.Equal(t, 0, inst.Cache.StreakWeeks)
}

func TestInstance_PauseResume(t *testing.T) {
	inst, err := NewInstance(validParams())
	require.NoError(t, err)

	assert.ErrorIs(t, inst.Resume(), ErrNotPaused)

	require.NoError(t, inst.Pause())
	assert.Equal(t, StatusPaused, inst.Status)
	assert.ErrorIs(t, inst.Pause(), ErrAlreadyPaused)

	require.NoError(t, inst.Resume())
	assert.Equal(t, StatusActive, inst.Status)

	require.NoError(t, inst.MarkCompleted())
	assert.ErrorIs(t, inst.Pause(), ErrAlreadyCompleted)
}
