// Package timeutil provides week-window arithmetic for schedule instances.
// Instance weeks are anchored at the assignment date rather than calendar
// weeks: week N covers [start+7*(N-1)d, start+7*N d). All computations are
// date-based in a single engine timezone so a rollover at midnight does not
// shift activities between days. No external dependencies - uses only
// standard library.
package timeutil

import (
	"fmt"
	"time"
)

// DefaultZone is the engine timezone used when no explicit location is
// configured. Week boundaries and scheduled dates are computed in it.
var DefaultZone = time.UTC

// LoadZone resolves an IANA timezone name, falling back to DefaultZone
// for an empty name.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return DefaultZone, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load zone %q: %w", name, err)
	}
	return loc, nil
}

// StartOfDay returns the start of the day (00:00:00) in the given location.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the end of the day (23:59:59) in the given location.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Second)
}

// WeekWindow is one instance week: a half-open seven-day interval
// represented by its inclusive start and inclusive end instants.
type WeekWindow struct {
	Start time.Time
	End   time.Time
}

// Contains checks if an instant falls inside the window.
func (w WeekWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Next returns the following week window (+7 days).
func (w WeekWindow) Next() WeekWindow {
	return WeekWindow{
		Start: w.Start.AddDate(0, 0, 7),
		End:   w.End.AddDate(0, 0, 7),
	}
}

// NewWeekWindow builds the window that starts at the given day.
// The start is truncated to the start of day in loc.
func NewWeekWindow(start time.Time, loc *time.Location) WeekWindow {
	s := StartOfDay(start, loc)
	return WeekWindow{
		Start: s,
		End:   s.AddDate(0, 0, 7).Add(-time.Second),
	}
}

// WindowForWeek returns the window of week number n (n >= 1) for an
// instance anchored at anchor.
func WindowForWeek(anchor time.Time, n int, loc *time.Location) WeekWindow {
	w := NewWeekWindow(anchor, loc)
	for i := 1; i < n; i++ {
		w = w.Next()
	}
	return w
}

// ScheduledDateFor returns the calendar date within the window on which
// an activity with the given weekday (0 = Sunday) falls.
func ScheduledDateFor(w WeekWindow, weekday time.Weekday, loc *time.Location) time.Time {
	start := w.Start.In(loc)
	offset := (int(weekday) - int(start.Weekday()) + 7) % 7
	return StartOfDay(start.AddDate(0, 0, offset), loc)
}

// IsSameDay checks if two times are on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	a, b := t1.In(loc), t2.In(loc)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// DaysBetween calculates the number of whole days between two times.
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	a := StartOfDay(t1, loc)
	b := StartOfDay(t2, loc)
	days := int(b.Sub(a).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the standard time format (HH:MM).
	FormatTime = "15:04"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
)

// ParseDate parses a date string (YYYY-MM-DD) in the given location.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, loc)
}

// ParseClock parses an HH:MM string into hour and minute.
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse(FormatTime, value)
	if err != nil {
		return 0, 0, fmt.Errorf("timeutil: parse clock %q: %w", value, err)
	}
	return t.Hour(), t.Minute(), nil
}

// FormatDateStr formats a time as a date string (YYYY-MM-DD) in loc.
func FormatDateStr(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(FormatDate)
}
