package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET INSTANCE PROGRESS QUERY
// The student-facing "my week" view: one instance with its current-week
// rows grouped by day, the week cache and the lifetime counters.
// ══════════════════════════════════════════════════════════════════════════════

// GetInstanceProgressQuery contains the query parameters.
type GetInstanceProgressQuery struct {
	// Actor is who requests the view.
	Actor shared.Actor

	// InstanceID is the instance to show.
	InstanceID string
}

// Validate validates the query.
func (q *GetInstanceProgressQuery) Validate() error {
	if !q.Actor.IsValid() {
		return errors.New("valid actor is required")
	}
	if q.InstanceID == "" {
		return errors.New("instance_id is required")
	}
	return nil
}

// DayProgressDTO groups the rows of one weekday.
type DayProgressDTO struct {
	// DayOfWeek is the weekday (0 = Sunday).
	DayOfWeek int `json:"day_of_week"`

	// ScheduledDate is the calendar date within the current week.
	ScheduledDate time.Time `json:"scheduled_date"`

	// Rows are the day's activities in order.
	Rows []ReportRowDTO `json:"rows"`
}

// GetInstanceProgressResult contains the result.
type GetInstanceProgressResult struct {
	// InstanceID is the shown instance.
	InstanceID string `json:"instance_id"`

	// StudentID is the owning student.
	StudentID string `json:"student_id"`

	// TemplateID is the assigned template version.
	TemplateID string `json:"template_id"`

	// TemplateVersion is the assigned version number.
	TemplateVersion int `json:"template_version"`

	// Status is the instance status.
	Status string `json:"status"`

	// CurrentWeekNumber is the instance week counter.
	CurrentWeekNumber int `json:"current_week_number"`

	// CurrentWeekStart is the start of the current week.
	CurrentWeekStart time.Time `json:"current_week_start"`

	// CurrentWeekEnd is the end of the current week.
	CurrentWeekEnd time.Time `json:"current_week_end"`

	// Week is the derived current-week cache.
	Week instance.ProgressCache `json:"week"`

	// Lifetime holds the cumulative counters.
	Lifetime instance.LifetimeStats `json:"lifetime"`

	// Days are the current-week rows grouped by weekday.
	Days []DayProgressDTO `json:"days"`

	// GeneratedAt is when the view was built.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetInstanceProgressHandler handles the query.
type GetInstanceProgressHandler struct {
	instanceRepo instance.Repository
	progressRepo progress.Repository
	rosterRepo   instance.RosterRepository
}

// NewGetInstanceProgressHandler creates a new handler.
func NewGetInstanceProgressHandler(
	instanceRepo instance.Repository,
	progressRepo progress.Repository,
	rosterRepo instance.RosterRepository,
) *GetInstanceProgressHandler {
	return &GetInstanceProgressHandler{
		instanceRepo: instanceRepo,
		progressRepo: progressRepo,
		rosterRepo:   rosterRepo,
	}
}

// Handle executes the query.
func (h *GetInstanceProgressHandler) Handle(ctx context.Context, query GetInstanceProgressQuery) (*GetInstanceProgressResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetInstanceProgress", shared.ErrValidation, err.Error(), err)
	}

	inst, err := h.instanceRepo.GetByID(ctx, query.InstanceID)
	if err != nil {
		return nil, shared.WrapError("query", "GetInstanceProgress", shared.ErrNotFound, "instance not found", err)
	}

	if err := h.authorize(ctx, query.Actor, inst); err != nil {
		return nil, err
	}

	rows, err := h.progressRepo.ListByInstanceWeek(ctx, inst.ID, inst.CurrentWeekNumber)
	if err != nil {
		return nil, fmt.Errorf("get_instance_progress: failed to list rows: %w", err)
	}

	return &GetInstanceProgressResult{
		InstanceID:        inst.ID,
		StudentID:         inst.StudentID,
		TemplateID:        inst.TemplateID,
		TemplateVersion:   inst.TemplateVersion,
		Status:            string(inst.Status),
		CurrentWeekNumber: inst.CurrentWeekNumber,
		CurrentWeekStart:  inst.CurrentWeekStart,
		CurrentWeekEnd:    inst.CurrentWeekEnd,
		Week:              inst.Cache,
		Lifetime:          inst.Lifetime,
		Days:              groupRowsByDay(rows),
		GeneratedAt:       time.Now().UTC(),
	}, nil
}

func (h *GetInstanceProgressHandler) authorize(ctx context.Context, actor shared.Actor, inst *instance.Instance) error {
	if actor.Role.IsElevated() {
		return nil
	}
	if actor.Role == shared.RoleStudent {
		if actor.ID != inst.StudentID {
			return shared.NewDomainError("query", "GetInstanceProgress", shared.ErrForbidden, "students may only view their own progress")
		}
		return nil
	}

	onRoster, err := h.rosterRepo.IsOnRoster(ctx, actor.ID, inst.StudentID)
	if err != nil {
		return fmt.Errorf("get_instance_progress: roster check failed: %w", err)
	}
	if !onRoster {
		return shared.WrapError("query", "GetInstanceProgress", shared.ErrForbidden, "student is not on the professional's roster", shared.ErrNotOnRoster)
	}
	return nil
}

// groupRowsByDay groups rows by weekday, days and rows in schedule order.
func groupRowsByDay(rows []*progress.Progress) []DayProgressDTO {
	byDay := make(map[int][]*progress.Progress)
	for _, row := range rows {
		day := int(row.DayOfWeek)
		byDay[day] = append(byDay[day], row)
	}

	days := make([]DayProgressDTO, 0, len(byDay))
	for day, dayRows := range byDay {
		sort.Slice(dayRows, func(i, j int) bool {
			return dayRows[i].Snapshot.OrderIndex < dayRows[j].Snapshot.OrderIndex
		})
		days = append(days, DayProgressDTO{
			DayOfWeek:     day,
			ScheduledDate: dayRows[0].ScheduledDate,
			Rows:          buildReportRows(dayRows),
		})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].DayOfWeek < days[j].DayOfWeek })
	return days
}
