// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Actor Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Role represents the role of an actor performing an operation.
type Role string

const (
	RoleStudent      Role = "student"
	RoleProfessional Role = "professional"
	RoleCoordinator  Role = "coordinator"
	RoleSystem       Role = "system"
)

// IsValid checks if the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleProfessional, RoleCoordinator, RoleSystem:
		return true
	}
	return false
}

// String returns the string representation.
func (r Role) String() string {
	return string(r)
}

// IsElevated returns true for roles that may trigger batch operations
// and manage any student's schedule.
func (r Role) IsElevated() bool {
	return r == RoleCoordinator || r == RoleSystem
}

// Actor identifies who is performing an operation. Every mutating
// operation receives an explicit actor; nothing is inferred from
// ambient request state.
type Actor struct {
	ID   string
	Role Role
}

// IsValid checks that the actor has an ID and a known role.
// The system actor carries a fixed ID and no user identity.
func (a Actor) IsValid() bool {
	if !a.Role.IsValid() {
		return false
	}
	return a.ID != ""
}

// IsSystem returns true for the internal batch actor.
func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

// SystemActor returns the actor used by scheduled batch runs.
func SystemActor() Actor {
	return Actor{ID: "system", Role: RoleSystem}
}

// NewActor creates an actor with validation.
func NewActor(id string, role Role) (Actor, error) {
	a := Actor{ID: strings.TrimSpace(id), Role: role}
	if !a.IsValid() {
		return Actor{}, NewDomainError("shared", "NewActor", ErrInvalidInput, "actor requires an ID and a known role")
	}
	return a, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// DefaultPagination returns default pagination.
func DefaultPagination() Pagination {
	return NewPagination(1, DefaultPageSize)
}
