package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/template"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
//
// Week rows are generated once per (instance, week) via BulkCreate; the
// UNIQUE(instance_id, week_number, activity_id) constraint turns any
// regeneration attempt into shared.ErrAlreadyExists.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

const progressColumns = `
	id, instance_id, student_id, week_number, day_of_week, activity_id,
	activity_snapshot, status, execution_data, scheduled_date,
	started_at, completed_at, skipped_at, skip_reason,
	revision, created_at, updated_at
`

// ─────────────────────────────────────────────────────────────────────────────
// Write Operations
// ─────────────────────────────────────────────────────────────────────────────

// BulkCreate inserts one week's rows in a single batch.
func (r *ProgressRepository) BulkCreate(ctx context.Context, rows []*progress.Progress) error {
	if len(rows) == 0 {
		return nil
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range rows {
			snapshotJSON, err := json.Marshal(row.Snapshot)
			if err != nil {
				return fmt.Errorf("failed to marshal activity snapshot: %w", err)
			}
			executionJSON, err := marshalExecutionData(row.ExecutionData)
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO activity_progress (
					id, instance_id, student_id, week_number, day_of_week, activity_id,
					activity_snapshot, status, execution_data, scheduled_date,
					started_at, completed_at, skipped_at, skip_reason,
					revision, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				          $11, $12, $13, $14, $15, $16, $17)`,
				row.ID,
				row.InstanceID,
				row.StudentID,
				row.WeekNumber,
				int16(row.DayOfWeek),
				row.ActivityID,
				snapshotJSON,
				string(row.Status),
				executionJSON,
				row.ScheduledDate,
				row.StartedAt,
				row.CompletedAt,
				row.SkippedAt,
				row.SkipReason,
				row.Revision,
				row.CreatedAt,
				row.UpdatedAt,
			)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range rows {
			if _, err := results.Exec(); err != nil {
				if IsUniqueViolation(err) {
					return shared.ErrAlreadyExists
				}
				return fmt.Errorf("failed to insert progress row: %w", err)
			}
		}
		return results.Close()
	})
}

// Update stores a modified row guarded by its revision and the expected
// source status. Zero affected rows means a concurrent writer won.
func (r *ProgressRepository) Update(ctx context.Context, p *progress.Progress, expectedStatus progress.Status) error {
	executionJSON, err := marshalExecutionData(p.ExecutionData)
	if err != nil {
		return err
	}

	query := `
		UPDATE activity_progress SET
			status = $1,
			execution_data = $2,
			started_at = $3,
			completed_at = $4,
			skipped_at = $5,
			skip_reason = $6,
			revision = revision + 1,
			updated_at = $7
		WHERE id = $8 AND revision = $9 AND status = $10
		RETURNING revision
	`

	var newRevision int64
	err = r.conn.QueryRow(ctx, query,
		string(p.Status),
		executionJSON,
		p.StartedAt,
		p.CompletedAt,
		p.SkippedAt,
		p.SkipReason,
		time.Now().UTC(),
		p.ID,
		p.Revision,
		string(expectedStatus),
	).Scan(&newRevision)
	if err != nil {
		if IsNoRows(err) {
			return shared.ErrOptimisticLock
		}
		return fmt.Errorf("failed to update progress row: %w", err)
	}

	p.Revision = newRevision
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Read Operations
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns a progress row by ID.
func (r *ProgressRepository) GetByID(ctx context.Context, id string) (*progress.Progress, error) {
	query := `SELECT ` + progressColumns + ` FROM activity_progress WHERE id = $1`
	return scanProgress(r.conn.QueryRow(ctx, query, id))
}

// ListByInstanceWeek returns all rows of one instance week in schedule order.
func (r *ProgressRepository) ListByInstanceWeek(ctx context.Context, instanceID string, weekNumber int) ([]*progress.Progress, error) {
	query := `
		SELECT ` + progressColumns + `
		FROM activity_progress
		WHERE instance_id = $1 AND week_number = $2
		ORDER BY day_of_week, (activity_snapshot->>'order_index')::int
	`

	rows, err := r.conn.Query(ctx, query, instanceID, weekNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress rows: %w", err)
	}
	defer rows.Close()

	out := make([]*progress.Progress, 0)
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountByInstanceWeek returns per-status counters of one instance week.
func (r *ProgressRepository) CountByInstanceWeek(ctx context.Context, instanceID string, weekNumber int) (progress.WeekCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'skipped')
		FROM activity_progress
		WHERE instance_id = $1 AND week_number = $2
	`

	var counts progress.WeekCounts
	err := r.conn.QueryRow(ctx, query, instanceID, weekNumber).Scan(
		&counts.Total,
		&counts.Pending,
		&counts.InProgress,
		&counts.Completed,
		&counts.Skipped,
	)
	if err != nil {
		return progress.WeekCounts{}, fmt.Errorf("failed to count progress rows: %w", err)
	}
	return counts, nil
}

// ExistsForWeek checks whether an instance week has at least one row.
func (r *ProgressRepository) ExistsForWeek(ctx context.Context, instanceID string, weekNumber int) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM activity_progress WHERE instance_id = $1 AND week_number = $2)`,
		instanceID, weekNumber,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check week rows: %w", err)
	}
	return exists, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan Helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanProgress(row pgx.Row) (*progress.Progress, error) {
	var (
		p             progress.Progress
		day           int16
		status        string
		snapshotJSON  []byte
		executionJSON []byte
	)

	err := row.Scan(
		&p.ID,
		&p.InstanceID,
		&p.StudentID,
		&p.WeekNumber,
		&day,
		&p.ActivityID,
		&snapshotJSON,
		&status,
		&executionJSON,
		&p.ScheduledDate,
		&p.StartedAt,
		&p.CompletedAt,
		&p.SkippedAt,
		&p.SkipReason,
		&p.Revision,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan progress row: %w", err)
	}

	p.DayOfWeek = template.Weekday(day)
	p.Status = progress.Status(status)
	if err := json.Unmarshal(snapshotJSON, &p.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity snapshot: %w", err)
	}
	if len(executionJSON) > 0 {
		if err := json.Unmarshal(executionJSON, &p.ExecutionData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution data: %w", err)
		}
	}
	return &p, nil
}

func marshalExecutionData(data progress.ExecutionData) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution data: %w", err)
	}
	return raw, nil
}
