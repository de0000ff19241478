// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened in the schedule engine.
const (
	// Template events
	EventTemplateCreated  EventType = "template.created"
	EventTemplateForked   EventType = "template.forked"
	EventTemplateArchived EventType = "template.archived"

	// Instance events
	EventInstanceAssigned   EventType = "instance.assigned"
	EventInstancePaused     EventType = "instance.paused"
	EventInstanceResumed    EventType = "instance.resumed"
	EventInstanceTerminated EventType = "instance.terminated"
	EventWeekAdvanced       EventType = "instance.week_advanced"

	// Progress events
	EventActivityStarted   EventType = "progress.activity_started"
	EventActivityCompleted EventType = "progress.activity_completed"
	EventActivitySkipped   EventType = "progress.activity_skipped"
	EventPointsAwarded     EventType = "progress.points_awarded"

	// Snapshot events
	EventSnapshotGenerated EventType = "snapshot.generated"

	// Reset batch events
	EventResetBatchStarted   EventType = "reset.batch_started"
	EventResetBatchCompleted EventType = "reset.batch_completed"
	EventResetInstanceFailed EventType = "reset.instance_failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Template Events
// ═══════════════════════════════════════════════════════════════════════════

// TemplateForkedEvent is emitted when editing a published template
// produces a new version.
type TemplateForkedEvent struct {
	BaseEvent
	LineageID  string `json:"lineage_id"`
	OldVersion int    `json:"old_version"`
	NewVersion int    `json:"new_version"`
	EditorID   string `json:"editor_id"`
}

// Payload implements Event interface.
func (e TemplateForkedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lineage_id":  e.LineageID,
		"old_version": e.OldVersion,
		"new_version": e.NewVersion,
		"editor_id":   e.EditorID,
	}
}

// NewTemplateForkedEvent creates a new TemplateForkedEvent.
func NewTemplateForkedEvent(newTemplateID, lineageID string, oldVersion, newVersion int, editorID string) TemplateForkedEvent {
	return TemplateForkedEvent{
		BaseEvent:  NewBaseEvent(EventTemplateForked, newTemplateID),
		LineageID:  lineageID,
		OldVersion: oldVersion,
		NewVersion: newVersion,
		EditorID:   editorID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Instance Events
// ═══════════════════════════════════════════════════════════════════════════

// InstanceAssignedEvent is emitted when a template is assigned to a student.
type InstanceAssignedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	TemplateID string `json:"template_id"`
	AssignedBy string `json:"assigned_by"`
}

// Payload implements Event interface.
func (e InstanceAssignedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"template_id": e.TemplateID,
		"assigned_by": e.AssignedBy,
	}
}

// NewInstanceAssignedEvent creates a new InstanceAssignedEvent.
func NewInstanceAssignedEvent(instanceID, studentID, templateID, assignedBy string) InstanceAssignedEvent {
	return InstanceAssignedEvent{
		BaseEvent:  NewBaseEvent(EventInstanceAssigned, instanceID),
		StudentID:  studentID,
		TemplateID: templateID,
		AssignedBy: assignedBy,
	}
}

// WeekAdvancedEvent is emitted when the weekly rollover moves an instance
// to its next week.
type WeekAdvancedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	FromWeek   int    `json:"from_week"`
	ToWeek     int    `json:"to_week"`
	Terminated bool   `json:"terminated"`
}

// Payload implements Event interface.
func (e WeekAdvancedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"from_week":  e.FromWeek,
		"to_week":    e.ToWeek,
		"terminated": e.Terminated,
	}
}

// NewWeekAdvancedEvent creates a new WeekAdvancedEvent.
func NewWeekAdvancedEvent(instanceID, studentID string, fromWeek, toWeek int, terminated bool) WeekAdvancedEvent {
	return WeekAdvancedEvent{
		BaseEvent:  NewBaseEvent(EventWeekAdvanced, instanceID),
		StudentID:  studentID,
		FromWeek:   fromWeek,
		ToWeek:     toWeek,
		Terminated: terminated,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ActivityCompletedEvent is emitted when a student completes an activity.
type ActivityCompletedEvent struct {
	BaseEvent
	InstanceID    string `json:"instance_id"`
	StudentID     string `json:"student_id"`
	ActivityID    string `json:"activity_id"`
	WeekNumber    int    `json:"week_number"`
	PointsAwarded int    `json:"points_awarded"`
}

// Payload implements Event interface.
func (e ActivityCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"instance_id":    e.InstanceID,
		"student_id":     e.StudentID,
		"activity_id":    e.ActivityID,
		"week_number":    e.WeekNumber,
		"points_awarded": e.PointsAwarded,
	}
}

// NewActivityCompletedEvent creates a new ActivityCompletedEvent.
func NewActivityCompletedEvent(progressID, instanceID, studentID, activityID string, weekNumber, points int) ActivityCompletedEvent {
	return ActivityCompletedEvent{
		BaseEvent:     NewBaseEvent(EventActivityCompleted, progressID),
		InstanceID:    instanceID,
		StudentID:     studentID,
		ActivityID:    activityID,
		WeekNumber:    weekNumber,
		PointsAwarded: points,
	}
}

// ActivitySkippedEvent is emitted when a student skips an activity.
type ActivitySkippedEvent struct {
	BaseEvent
	InstanceID string `json:"instance_id"`
	StudentID  string `json:"student_id"`
	ActivityID string `json:"activity_id"`
	WeekNumber int    `json:"week_number"`
	Reason     string `json:"reason,omitempty"`
}

// Payload implements Event interface.
func (e ActivitySkippedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"instance_id": e.InstanceID,
		"student_id":  e.StudentID,
		"activity_id": e.ActivityID,
		"week_number": e.WeekNumber,
		"reason":      e.Reason,
	}
}

// NewActivitySkippedEvent creates a new ActivitySkippedEvent.
func NewActivitySkippedEvent(progressID, instanceID, studentID, activityID string, weekNumber int, reason string) ActivitySkippedEvent {
	return ActivitySkippedEvent{
		BaseEvent:  NewBaseEvent(EventActivitySkipped, progressID),
		InstanceID: instanceID,
		StudentID:  studentID,
		ActivityID: activityID,
		WeekNumber: weekNumber,
		Reason:     reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Snapshot / Reset Events
// ═══════════════════════════════════════════════════════════════════════════

// SnapshotGeneratedEvent is emitted when a weekly performance snapshot is
// persisted.
type SnapshotGeneratedEvent struct {
	BaseEvent
	InstanceID     string  `json:"instance_id"`
	StudentID      string  `json:"student_id"`
	WeekNumber     int     `json:"week_number"`
	CompletionRate float64 `json:"completion_rate"`
}

// Payload implements Event interface.
func (e SnapshotGeneratedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"instance_id":     e.InstanceID,
		"student_id":      e.StudentID,
		"week_number":     e.WeekNumber,
		"completion_rate": e.CompletionRate,
	}
}

// NewSnapshotGeneratedEvent creates a new SnapshotGeneratedEvent.
func NewSnapshotGeneratedEvent(snapshotID, instanceID, studentID string, weekNumber int, completionRate float64) SnapshotGeneratedEvent {
	return SnapshotGeneratedEvent{
		BaseEvent:      NewBaseEvent(EventSnapshotGenerated, snapshotID),
		InstanceID:     instanceID,
		StudentID:      studentID,
		WeekNumber:     weekNumber,
		CompletionRate: completionRate,
	}
}

// ResetBatchCompletedEvent is emitted after a weekly reset run finishes.
type ResetBatchCompletedEvent struct {
	BaseEvent
	Processed  int           `json:"processed"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Snapshots  int           `json:"snapshots"`
	DryRun     bool          `json:"dry_run"`
	Duration   time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e ResetBatchCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"processed":  e.Processed,
		"successful": e.Successful,
		"failed":     e.Failed,
		"snapshots":  e.Snapshots,
		"dry_run":    e.DryRun,
		"duration":   e.Duration.String(),
	}
}

// NewResetBatchCompletedEvent creates a new ResetBatchCompletedEvent.
func NewResetBatchCompletedEvent(runID string, processed, successful, failed, snapshots int, dryRun bool, duration time.Duration) ResetBatchCompletedEvent {
	return ResetBatchCompletedEvent{
		BaseEvent:  NewBaseEvent(EventResetBatchCompleted, runID),
		Processed:  processed,
		Successful: successful,
		Failed:     failed,
		Snapshots:  snapshots,
		DryRun:     dryRun,
		Duration:   duration,
	}
}

// ResetInstanceFailedEvent is emitted when a single instance fails during
// a reset run. The run itself continues.
type ResetInstanceFailedEvent struct {
	BaseEvent
	RunID     string `json:"run_id"`
	StudentID string `json:"student_id"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e ResetInstanceFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"run_id":     e.RunID,
		"student_id": e.StudentID,
		"reason":     e.Reason,
	}
}

// NewResetInstanceFailedEvent creates a new ResetInstanceFailedEvent.
func NewResetInstanceFailedEvent(instanceID, runID, studentID, reason string) ResetInstanceFailedEvent {
	return ResetInstanceFailedEvent{
		BaseEvent: NewBaseEvent(EventResetInstanceFailed, instanceID),
		RunID:     runID,
		StudentID: studentID,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
