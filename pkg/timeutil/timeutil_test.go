package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWeekWindow(t *testing.T) {
	// Monday 2026-01-05, 15:30 local: the window starts at midnight.
	anchor := time.Date(2026, 1, 5, 15, 30, 0, 0, time.UTC)
	w := NewWeekWindow(anchor, time.UTC)

	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2026, 1, 11, 23, 59, 59, 0, time.UTC), w.End)
}

func TestWeekWindow_Next(t *testing.T) {
	w := NewWeekWindow(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), time.UTC)
	next := w.Next()

	assert.Equal(t, time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), next.Start)
	assert.Equal(t, time.Date(2026, 1, 18, 23, 59, 59, 0, time.UTC), next.End)
}

func TestWeekWindow_Contains(t *testing.T) {
	w := NewWeekWindow(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), time.UTC)

	assert.True(t, w.Contains(time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)))
	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.End))
	assert.False(t, w.Contains(time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)))
}

func TestWindowForWeek(t *testing.T) {
	anchor := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	w1 := WindowForWeek(anchor, 1, time.UTC)
	assert.Equal(t, anchor, w1.Start)

	w3 := WindowForWeek(anchor, 3, time.UTC)
	assert.Equal(t, anchor.AddDate(0, 0, 14), w3.Start)
}

func TestScheduledDateFor(t *testing.T) {
	// Window anchored on a Monday.
	w := NewWeekWindow(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), time.UTC)

	// Wednesday of that week is 2026-01-07.
	wed := ScheduledDateFor(w, time.Wednesday, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC), wed)

	// Sunday wraps to the end of the anchored week, 2026-01-11.
	sun := ScheduledDateFor(w, time.Sunday, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC), sun)

	// Monday is the anchor day itself.
	mon := ScheduledDateFor(w, time.Monday, time.UTC)
	assert.Equal(t, w.Start, mon)
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("04:30")
	require.NoError(t, err)
	assert.Equal(t, 4, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseClock("25:00")
	assert.Error(t, err)
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)
	b := time.Date(2026, 1, 8, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 3, DaysBetween(a, b, time.UTC))
	assert.Equal(t, 3, DaysBetween(b, a, time.UTC))
	assert.Equal(t, 0, DaysBetween(a, a, time.UTC))
}

func TestLoadZone(t *testing.T) {
	loc, err := LoadZone("")
	require.NoError(t, err)
	assert.Equal(t, DefaultZone, loc)

	_, err = LoadZone("Not/AZone")
	assert.Error(t, err)
}
