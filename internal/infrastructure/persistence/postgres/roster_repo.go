package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RosterRepository implements instance.RosterRepository for PostgreSQL.
// A professional may assign plans and view reports only for students
// on their roster.
type RosterRepository struct {
	conn *Connection
}

// NewRosterRepository creates a new RosterRepository.
func NewRosterRepository(conn *Connection) *RosterRepository {
	return &RosterRepository{conn: conn}
}

// IsOnRoster checks whether a student is assigned to a professional.
func (r *RosterRepository) IsOnRoster(ctx context.Context, professionalID, studentID string) (bool, error) {
	var onRoster bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM professional_students WHERE professional_id = $1 AND student_id = $2)`,
		professionalID, studentID,
	).Scan(&onRoster)
	if err != nil {
		return false, fmt.Errorf("failed to check roster: %w", err)
	}
	return onRoster, nil
}

// ListStudents returns the IDs of a professional's students.
func (r *RosterRepository) ListStudents(ctx context.Context, professionalID string) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT student_id FROM professional_students WHERE professional_id = $1 ORDER BY added_at`,
		professionalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer rows.Close()

	students := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan roster entry: %w", err)
		}
		students = append(students, id)
	}
	return students, rows.Err()
}

// Add assigns a student to a professional. Re-adding is a no-op.
func (r *RosterRepository) Add(ctx context.Context, professionalID, studentID string) error {
	query := `
		INSERT INTO professional_students (professional_id, student_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (professional_id, student_id) DO NOTHING
	`
	_, err := r.conn.Exec(ctx, query, professionalID, studentID, time.Now().UTC())
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrNotFound
		}
		return fmt.Errorf("failed to add roster entry: %w", err)
	}
	return nil
}

// Remove unassigns a student from a professional.
func (r *RosterRepository) Remove(ctx context.Context, professionalID, studentID string) error {
	result, err := r.conn.Exec(ctx,
		`DELETE FROM professional_students WHERE professional_id = $1 AND student_id = $2`,
		professionalID, studentID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove roster entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT DIRECTORY & POINTS
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements instance.StudentDirectory and
// instance.PointsRepository for PostgreSQL. Student profiles live in an
// upstream identity system; this table keeps the IDs the engine
// references plus the cumulative points ledger.
type StudentRepository struct {
	conn *Connection
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection) *StudentRepository {
	return &StudentRepository{conn: conn}
}

// Exists checks whether a student is known to the engine.
func (r *StudentRepository) Exists(ctx context.Context, studentID string) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM students WHERE id = $1)`,
		studentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check student existence: %w", err)
	}
	return exists, nil
}

// Upsert registers a student ID, updating the display name if it changed.
func (r *StudentRepository) Upsert(ctx context.Context, studentID, displayName string) error {
	query := `
		INSERT INTO students (id, display_name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name
	`
	_, err := r.conn.Exec(ctx, query, studentID, displayName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert student: %w", err)
	}
	return nil
}

// AddPoints atomically adds points to a student's total.
func (r *StudentRepository) AddPoints(ctx context.Context, studentID string, delta int) error {
	query := `
		INSERT INTO student_points (student_id, total_points, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id)
		DO UPDATE SET total_points = student_points.total_points + EXCLUDED.total_points,
		              updated_at = EXCLUDED.updated_at
	`
	_, err := r.conn.Exec(ctx, query, studentID, delta, time.Now().UTC())
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrNotFound
		}
		return fmt.Errorf("failed to add points: %w", err)
	}
	return nil
}

// GetTotal returns a student's cumulative points.
func (r *StudentRepository) GetTotal(ctx context.Context, studentID string) (int, error) {
	var total int
	err := r.conn.QueryRow(ctx,
		`SELECT total_points FROM student_points WHERE student_id = $1`,
		studentID,
	).Scan(&total)
	if err != nil {
		if IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get points total: %w", err)
	}
	return total, nil
}
