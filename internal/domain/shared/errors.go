// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateConflict    = errors.New("state conflict")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrArchived         = errors.New("entity is archived")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")

	// Store / external errors
	ErrTransientStore     = errors.New("transient store error")
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "template", "instance", "progress"
	Op      string // Operation that failed, e.g., "Create", "Transition"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Template domain errors
var (
	ErrTemplateNotFound      = NewDomainError("template", "Find", ErrNotFound, "schedule template not found")
	ErrTemplateArchived      = NewDomainError("template", "Assign", ErrArchived, "schedule template is archived")
	ErrTemplateImmutable     = NewDomainError("template", "Update", ErrStateConflict, "published template version is immutable")
	ErrDuplicateOrderIndex   = NewDomainError("template", "Validate", ErrInvalidInput, "duplicate activity order index within day")
	ErrInvalidActivityConfig = NewDomainError("template", "Validate", ErrValidation, "invalid activity configuration")
	ErrUnknownActivityType   = NewDomainError("template", "Decode", ErrInvalidFormat, "unknown activity type")
)

// Instance domain errors
var (
	ErrInstanceNotFound   = NewDomainError("instance", "Find", ErrNotFound, "schedule instance not found")
	ErrInstanceExists     = NewDomainError("instance", "Assign", ErrAlreadyExists, "student already has an active instance of this template")
	ErrInstanceTerminated = NewDomainError("instance", "Update", ErrInvalidState, "schedule instance is terminated")
	ErrInstanceRevision   = NewDomainError("instance", "Update", ErrOptimisticLock, "instance was modified concurrently")
)

// Progress domain errors
var (
	ErrProgressNotFound   = NewDomainError("progress", "Find", ErrNotFound, "activity progress not found")
	ErrTerminalProgress   = NewDomainError("progress", "Transition", ErrStateConflict, "progress is in a terminal state")
	ErrInvalidTransition  = NewDomainError("progress", "Transition", ErrStateTransition, "invalid progress transition")
	ErrProgressNotStarted = NewDomainError("progress", "Complete", ErrStateConflict, "activity has not been started")
)

// Snapshot domain errors
var (
	ErrSnapshotNotFound = NewDomainError("snapshot", "Find", ErrNotFound, "performance snapshot not found")
	ErrSnapshotExists   = NewDomainError("snapshot", "Create", ErrAlreadyProcessed, "snapshot already exists for this week")
)

// Assignment / permission errors
var (
	ErrStudentNotFound   = NewDomainError("assignment", "Resolve", ErrNotFound, "student not found")
	ErrNotOnRoster       = NewDomainError("assignment", "Authorize", ErrForbidden, "student is not on the professional's roster")
	ErrActorNotPermitted = NewDomainError("assignment", "Authorize", ErrForbidden, "actor is not permitted to perform this operation")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsPermission checks if the error is an authorization failure.
func IsPermission(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}

// IsStateConflict checks if the error is a precondition / state-machine conflict.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrStateTransition) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrOptimisticLock) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
