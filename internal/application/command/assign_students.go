package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/template"
	"github.com/planloop/schedule-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGN STUDENTS COMMAND
// Assigns one template version to a batch of students. Each student gets
// an independent instance anchored at week 1, with the first week's
// progress rows seeded up front. Failures are isolated per student.
// ══════════════════════════════════════════════════════════════════════════════

// AssignStudentsCommand contains the data to assign a template.
type AssignStudentsCommand struct {
	// Actor is who performs the operation.
	Actor shared.Actor

	// TemplateID is the exact version to assign. Instances keep
	// referencing this version even after later forks.
	TemplateID string

	// StudentIDs are the students receiving the plan.
	StudentIDs []string

	// WeekStart anchors week 1. Defaults to today.
	WeekStart time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AssignStudentsCommand) Validate() error {
	if !c.Actor.IsValid() {
		return errors.New("assign_students: valid actor is required")
	}
	if c.Actor.Role == shared.RoleStudent {
		return shared.ErrActorNotPermitted
	}
	if c.TemplateID == "" {
		return errors.New("assign_students: template_id is required")
	}
	if len(c.StudentIDs) == 0 {
		return errors.New("assign_students: at least one student_id is required")
	}
	return nil
}

// AssignedInstance describes one successful assignment.
type AssignedInstance struct {
	// StudentID is the student the plan was assigned to.
	StudentID string `json:"student_id"`

	// InstanceID is the created instance.
	InstanceID string `json:"instance_id"`

	// SeededRows is the number of week-1 progress rows created.
	SeededRows int `json:"seeded_rows"`
}

// AssignmentFailure describes one failed assignment.
type AssignmentFailure struct {
	// StudentID is the student whose assignment failed.
	StudentID string `json:"student_id"`

	// Reason is a short human-readable failure reason.
	Reason string `json:"reason"`
}

// AssignStudentsResult contains the per-student outcome of the batch.
type AssignStudentsResult struct {
	// TemplateID is the assigned version.
	TemplateID string `json:"template_id"`

	// TemplateVersion is the version number assigned.
	TemplateVersion int `json:"template_version"`

	// Successful lists created instances.
	Successful []AssignedInstance `json:"successful"`

	// Failed lists per-student failures with reasons.
	Failed []AssignmentFailure `json:"failed"`

	// AssignedAt is when the batch ran.
	AssignedAt time.Time `json:"assigned_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AssignStudentsHandler handles the AssignStudentsCommand.
type AssignStudentsHandler struct {
	templateRepo   template.Repository
	instanceRepo   instance.Repository
	progressRepo   progress.Repository
	rosterRepo     instance.RosterRepository
	students       instance.StudentDirectory
	eventPublisher shared.EventPublisher
	location       *time.Location
}

// NewAssignStudentsHandler creates a new AssignStudentsHandler.
func NewAssignStudentsHandler(
	templateRepo template.Repository,
	instanceRepo instance.Repository,
	progressRepo progress.Repository,
	rosterRepo instance.RosterRepository,
	students instance.StudentDirectory,
	eventPublisher shared.EventPublisher,
	location *time.Location,
) *AssignStudentsHandler {
	if location == nil {
		location = timeutil.DefaultZone
	}
	return &AssignStudentsHandler{
		templateRepo:   templateRepo,
		instanceRepo:   instanceRepo,
		progressRepo:   progressRepo,
		rosterRepo:     rosterRepo,
		students:       students,
		eventPublisher: eventPublisher,
		location:       location,
	}
}

// Handle executes the assign students command.
func (h *AssignStudentsHandler) Handle(ctx context.Context, cmd AssignStudentsCommand) (*AssignStudentsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("instance", "AssignStudents", shared.ErrValidation, "validation failed", err)
	}

	tpl, err := h.templateRepo.GetByID(ctx, cmd.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("assign_students: failed to get template: %w", err)
	}

	if !tpl.IsActive {
		return nil, shared.WrapError("instance", "AssignStudents", shared.ErrArchived, "archived template cannot be assigned", template.ErrAlreadyArchived)
	}

	if !tpl.IsOwnedBy(cmd.Actor.ID) && !cmd.Actor.Role.IsElevated() {
		return nil, shared.NewDomainError("instance", "AssignStudents", shared.ErrForbidden, "only the owner can assign this template")
	}

	weekStart := cmd.WeekStart
	if weekStart.IsZero() {
		weekStart = time.Now().In(h.location)
	}
	window := timeutil.NewWeekWindow(weekStart, h.location)

	result := &AssignStudentsResult{
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		Successful:      make([]AssignedInstance, 0, len(cmd.StudentIDs)),
		Failed:          make([]AssignmentFailure, 0),
		AssignedAt:      time.Now().UTC(),
	}

	for _, studentID := range cmd.StudentIDs {
		assigned, reason := h.assignOne(ctx, cmd, tpl, studentID, window)
		if reason != "" {
			result.Failed = append(result.Failed, AssignmentFailure{StudentID: studentID, Reason: reason})
			continue
		}
		result.Successful = append(result.Successful, *assigned)
	}

	return result, nil
}

// assignOne assigns the template to a single student. A non-empty reason
// marks the assignment as failed without aborting the batch.
func (h *AssignStudentsHandler) assignOne(
	ctx context.Context,
	cmd AssignStudentsCommand,
	tpl *template.Template,
	studentID string,
	window timeutil.WeekWindow,
) (*AssignedInstance, string) {
	// Professionals may only manage students on their own roster.
	if !cmd.Actor.Role.IsElevated() {
		onRoster, err := h.rosterRepo.IsOnRoster(ctx, cmd.Actor.ID, studentID)
		if err != nil {
			return nil, fmt.Sprintf("roster check failed: %v", err)
		}
		if !onRoster {
			return nil, "student is not on the professional's roster"
		}
	}

	exists, err := h.students.Exists(ctx, studentID)
	if err != nil {
		return nil, fmt.Sprintf("student lookup failed: %v", err)
	}
	if !exists {
		return nil, "student not found"
	}

	// At most one open instance per (student, lineage).
	if _, err := h.instanceRepo.FindOpenByStudentAndLineage(ctx, studentID, tpl.LineageID); err == nil {
		return nil, "student already has an open instance of this template"
	} else if !shared.IsNotFound(err) {
		return nil, fmt.Sprintf("instance lookup failed: %v", err)
	}

	inst, err := instance.NewInstance(instance.NewInstanceParams{
		ID:              uuid.New().String(),
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		LineageID:       tpl.LineageID,
		StudentID:       studentID,
		AssignedBy:      cmd.Actor.ID,
		WeekStart:       window.Start,
		TotalActivities: tpl.WeeklyActivityCount(),
	})
	if err != nil {
		return nil, fmt.Sprintf("invalid instance: %v", err)
	}

	if err := h.instanceRepo.Create(ctx, inst); err != nil {
		if shared.IsAlreadyExists(err) {
			return nil, "student already has an open instance of this template"
		}
		return nil, fmt.Sprintf("failed to save instance: %v", err)
	}

	rows, err := buildWeekRows(tpl, inst, inst.CurrentWeekNumber, h.location)
	if err != nil {
		return nil, fmt.Sprintf("failed to build week rows: %v", err)
	}
	if err := h.progressRepo.BulkCreate(ctx, rows); err != nil && !shared.IsAlreadyExists(err) {
		return nil, fmt.Sprintf("failed to seed week rows: %v", err)
	}

	event := shared.NewInstanceAssignedEvent(inst.ID, studentID, tpl.ID, cmd.Actor.ID)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventPublisher.Publish(event)

	return &AssignedInstance{
		StudentID:  studentID,
		InstanceID: inst.ID,
		SeededRows: len(rows),
	}, ""
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK SEEDING
// Shared by assignment (week 1) and the weekly reset (reseeded weeks).
// ══════════════════════════════════════════════════════════════════════════════

// buildWeekRows creates the progress rows of one instance week from the
// originally assigned template version. Each row carries an immutable
// snapshot of its activity.
func buildWeekRows(
	tpl *template.Template,
	inst *instance.Instance,
	weekNumber int,
	loc *time.Location,
) ([]*progress.Progress, error) {
	window := timeutil.NewWeekWindow(inst.CurrentWeekStart, loc)

	rows := make([]*progress.Progress, 0, tpl.WeeklyActivityCount())
	for _, day := range tpl.ActiveDays {
		scheduled := timeutil.ScheduledDateFor(window, time.Weekday(day), loc)
		for _, act := range tpl.ActivitiesForDay(day) {
			row, err := progress.NewProgress(progress.NewProgressParams{
				ID:            uuid.New().String(),
				InstanceID:    inst.ID,
				StudentID:     inst.StudentID,
				WeekNumber:    weekNumber,
				Activity:      act,
				ScheduledDate: scheduled,
			})
			if err != nil {
				return nil, fmt.Errorf("activity %q: %w", act.Title, err)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}
