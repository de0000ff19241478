package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY SCHEDULE
// The rollover runs once a week (or daily during rollouts), so the
// schedule grammar is a restricted five-field cron: "M H * * DOW".
// Day-of-month and month must be "*"; DOW is 0-6 (Sunday = 0) or "*"
// for a daily run.
// ══════════════════════════════════════════════════════════════════════════════

// WeeklySchedule runs at a fixed wall-clock time on one weekday, or
// daily when no weekday is pinned.
type WeeklySchedule struct {
	Minute  int
	Hour    int
	Weekday time.Weekday

	// Daily is true when the DOW field was "*".
	Daily bool

	loc *time.Location
}

// ParseWeeklySchedule parses a restricted cron expression.
func ParseWeeklySchedule(expr string, loc *time.Location) (*WeeklySchedule, error) {
	if loc == nil {
		loc = time.UTC
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("schedule %q: want 5 fields \"M H * * DOW\", got %d", expr, len(fields))
	}
	if fields[2] != "*" || fields[3] != "*" {
		return nil, fmt.Errorf("schedule %q: day-of-month and month must be \"*\"", expr)
	}

	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: minute: %w", expr, err)
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: hour: %w", expr, err)
	}

	s := &WeeklySchedule{Minute: minute, Hour: hour, loc: loc}
	if fields[4] == "*" {
		s.Daily = true
		return s, nil
	}

	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: day-of-week: %w", expr, err)
	}
	s.Weekday = time.Weekday(dow)
	return s, nil
}

func parseField(field string, min, max int) (int, error) {
	v, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", field)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%d out of range %d-%d", v, min, max)
	}
	return v, nil
}

// Next returns the next scheduled time strictly after t.
func (s *WeeklySchedule) Next(t time.Time) time.Time {
	t = t.In(s.loc)

	next := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, s.loc)
	if s.Daily {
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}

	days := (int(s.Weekday) - int(next.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(t) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// String returns the schedule in cron form.
func (s *WeeklySchedule) String() string {
	if s.Daily {
		return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
	}
	return fmt.Sprintf("%d %d * * %d", s.Minute, s.Hour, int(s.Weekday))
}
