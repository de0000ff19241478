package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// INSTANCE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// InstanceRepository implements instance.Repository for PostgreSQL.
//
// The "one open instance per (student, lineage)" invariant lives in the
// uq_instances_open partial index, and every update is guarded by the
// revision column. Concurrent writers lose with shared.ErrOptimisticLock
// instead of silently overwriting each other.
type InstanceRepository struct {
	conn *Connection
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(conn *Connection) *InstanceRepository {
	return &InstanceRepository{conn: conn}
}

const instanceColumns = `
	id, template_id, template_version, lineage_id, student_id, assigned_by,
	status, current_week_number, current_week_start, current_week_end,
	started_at, completed_at,
	completed_activities, total_activities, completion_percentage, streak_weeks,
	lifetime_completed, lifetime_points, weeks_elapsed,
	revision, created_at, updated_at
`

// ─────────────────────────────────────────────────────────────────────────────
// Write Operations
// ─────────────────────────────────────────────────────────────────────────────

// Create stores a new instance.
func (r *InstanceRepository) Create(ctx context.Context, inst *instance.Instance) error {
	query := `
		INSERT INTO schedule_instances (
			id, template_id, template_version, lineage_id, student_id, assigned_by,
			status, current_week_number, current_week_start, current_week_end,
			started_at, completed_at,
			completed_activities, total_activities, completion_percentage, streak_weeks,
			lifetime_completed, lifetime_points, weeks_elapsed,
			revision, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		          $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	_, err := r.conn.Exec(ctx, query,
		inst.ID,
		inst.TemplateID,
		inst.TemplateVersion,
		inst.LineageID,
		inst.StudentID,
		inst.AssignedBy,
		string(inst.Status),
		inst.CurrentWeekNumber,
		inst.CurrentWeekStart,
		inst.CurrentWeekEnd,
		inst.StartedAt,
		inst.CompletedAt,
		inst.Cache.CompletedActivities,
		inst.Cache.TotalActivities,
		inst.Cache.CompletionPercentage,
		inst.Cache.StreakWeeks,
		inst.Lifetime.TotalCompleted,
		inst.Lifetime.TotalPoints,
		inst.Lifetime.WeeksElapsed,
		inst.Revision,
		inst.CreatedAt,
		inst.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// Update stores a modified instance guarded by its revision. A stale
// revision loses the race and gets shared.ErrOptimisticLock; the winner
// observes the incremented revision on the passed entity.
func (r *InstanceRepository) Update(ctx context.Context, inst *instance.Instance) error {
	query := `
		UPDATE schedule_instances SET
			status = $1,
			current_week_number = $2,
			current_week_start = $3,
			current_week_end = $4,
			completed_at = $5,
			completed_activities = $6,
			total_activities = $7,
			completion_percentage = $8,
			streak_weeks = $9,
			lifetime_completed = $10,
			lifetime_points = $11,
			weeks_elapsed = $12,
			revision = revision + 1,
			updated_at = $13
		WHERE id = $14 AND revision = $15
		RETURNING revision
	`

	var newRevision int64
	err := r.conn.QueryRow(ctx, query,
		string(inst.Status),
		inst.CurrentWeekNumber,
		inst.CurrentWeekStart,
		inst.CurrentWeekEnd,
		inst.CompletedAt,
		inst.Cache.CompletedActivities,
		inst.Cache.TotalActivities,
		inst.Cache.CompletionPercentage,
		inst.Cache.StreakWeeks,
		inst.Lifetime.TotalCompleted,
		inst.Lifetime.TotalPoints,
		inst.Lifetime.WeeksElapsed,
		time.Now().UTC(),
		inst.ID,
		inst.Revision,
	).Scan(&newRevision)
	if err != nil {
		if IsNoRows(err) {
			return shared.ErrOptimisticLock
		}
		return fmt.Errorf("failed to update instance: %w", err)
	}

	inst.Revision = newRevision
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Read Operations
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns an instance by ID.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*instance.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM schedule_instances WHERE id = $1`
	return r.scanInstance(r.conn.QueryRow(ctx, query, id))
}

// FindOpenByStudentAndLineage returns the student's open instance of a
// template lineage, or shared.ErrNotFound.
func (r *InstanceRepository) FindOpenByStudentAndLineage(ctx context.Context, studentID, lineageID string) (*instance.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM schedule_instances
		WHERE student_id = $1 AND lineage_id = $2
		  AND status IN ('active', 'paused')
	`
	return r.scanInstance(r.conn.QueryRow(ctx, query, studentID, lineageID))
}

// ListByStudent returns a student's instances, newest first.
func (r *InstanceRepository) ListByStudent(ctx context.Context, studentID string, opts instance.ListOptions) ([]*instance.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM schedule_instances
		WHERE student_id = $1
	`
	args := []interface{}{studentID}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	args = append(args, opts.Limit, opts.Offset)
	query += fmt.Sprintf(`
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return r.queryInstances(ctx, query, args...)
}

// ListDue returns open instances whose current week ended before the
// given moment, in ended-first order for batch processing.
func (r *InstanceRepository) ListDue(ctx context.Context, before time.Time, limit, offset int) ([]*instance.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM schedule_instances
		WHERE status IN ('active', 'paused') AND current_week_end < $1
		ORDER BY current_week_end ASC
		LIMIT $2 OFFSET $3
	`
	return r.queryInstances(ctx, query, before, limit, offset)
}

// CountDue returns how many open instances are due for the weekly rollover.
func (r *InstanceRepository) CountDue(ctx context.Context, before time.Time) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM schedule_instances WHERE status IN ('active', 'paused') AND current_week_end < $1`,
		before,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count due instances: %w", err)
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *InstanceRepository) queryInstances(ctx context.Context, query string, args ...interface{}) ([]*instance.Instance, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	instances := make([]*instance.Instance, 0)
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (r *InstanceRepository) scanInstance(row pgx.Row) (*instance.Instance, error) {
	var (
		inst   instance.Instance
		status string
	)

	err := row.Scan(
		&inst.ID,
		&inst.TemplateID,
		&inst.TemplateVersion,
		&inst.LineageID,
		&inst.StudentID,
		&inst.AssignedBy,
		&status,
		&inst.CurrentWeekNumber,
		&inst.CurrentWeekStart,
		&inst.CurrentWeekEnd,
		&inst.StartedAt,
		&inst.CompletedAt,
		&inst.Cache.CompletedActivities,
		&inst.Cache.TotalActivities,
		&inst.Cache.CompletionPercentage,
		&inst.Cache.StreakWeeks,
		&inst.Lifetime.TotalCompleted,
		&inst.Lifetime.TotalPoints,
		&inst.Lifetime.WeeksElapsed,
		&inst.Revision,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	inst.Status = instance.Status(status)
	return &inst, nil
}
