package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/snapshot"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRepository implements snapshot.Repository for PostgreSQL.
//
// CreateIfAbsent relies on ON CONFLICT DO NOTHING against the
// (instance_id, week_number) constraint. A rollover re-run after a crash
// inserts zero rows and reports created=false without an error.
type SnapshotRepository struct {
	conn *Connection
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

const snapshotColumns = `
	id, instance_id, student_id, week_number,
	engagement, performance, insights, is_active, created_at
`

// CreateIfAbsent stores a snapshot unless the week already has one.
func (r *SnapshotRepository) CreateIfAbsent(ctx context.Context, s *snapshot.Snapshot) (bool, error) {
	engagementJSON, err := json.Marshal(s.Engagement)
	if err != nil {
		return false, fmt.Errorf("failed to marshal engagement: %w", err)
	}
	performanceJSON, err := json.Marshal(s.Performance)
	if err != nil {
		return false, fmt.Errorf("failed to marshal performance: %w", err)
	}
	insightsJSON, err := json.Marshal(s.Insights)
	if err != nil {
		return false, fmt.Errorf("failed to marshal insights: %w", err)
	}

	query := `
		INSERT INTO performance_snapshots (
			id, instance_id, student_id, week_number,
			engagement, performance, insights, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instance_id, week_number) DO NOTHING
	`

	result, err := r.conn.Exec(ctx, query,
		s.ID,
		s.InstanceID,
		s.StudentID,
		s.WeekNumber,
		engagementJSON,
		performanceJSON,
		insightsJSON,
		s.IsActive,
		s.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// GetByInstanceWeek returns the snapshot of one instance week.
func (r *SnapshotRepository) GetByInstanceWeek(ctx context.Context, instanceID string, weekNumber int) (*snapshot.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM performance_snapshots
		WHERE instance_id = $1 AND week_number = $2
	`
	return scanSnapshot(r.conn.QueryRow(ctx, query, instanceID, weekNumber))
}

// GetLatest returns the most recent snapshot of an instance.
func (r *SnapshotRepository) GetLatest(ctx context.Context, instanceID string) (*snapshot.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM performance_snapshots
		WHERE instance_id = $1
		ORDER BY week_number DESC
		LIMIT 1
	`
	return scanSnapshot(r.conn.QueryRow(ctx, query, instanceID))
}

// ExistsForWeek checks whether an instance week already has a snapshot.
func (r *SnapshotRepository) ExistsForWeek(ctx context.Context, instanceID string, weekNumber int) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM performance_snapshots WHERE instance_id = $1 AND week_number = $2)`,
		instanceID, weekNumber,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot existence: %w", err)
	}
	return exists, nil
}

// ListByInstance returns an instance's snapshots in ascending week order.
func (r *SnapshotRepository) ListByInstance(ctx context.Context, instanceID string) ([]*snapshot.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM performance_snapshots
		WHERE instance_id = $1
		ORDER BY week_number ASC
	`

	rows, err := r.conn.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]*snapshot.Snapshot, 0)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (*snapshot.Snapshot, error) {
	var (
		s               snapshot.Snapshot
		engagementJSON  []byte
		performanceJSON []byte
		insightsJSON    []byte
	)

	err := row.Scan(
		&s.ID,
		&s.InstanceID,
		&s.StudentID,
		&s.WeekNumber,
		&engagementJSON,
		&performanceJSON,
		&insightsJSON,
		&s.IsActive,
		&s.CreatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	if err := json.Unmarshal(engagementJSON, &s.Engagement); err != nil {
		return nil, fmt.Errorf("failed to unmarshal engagement: %w", err)
	}
	if err := json.Unmarshal(performanceJSON, &s.Performance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal performance: %w", err)
	}
	if err := json.Unmarshal(insightsJSON, &s.Insights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal insights: %w", err)
	}
	return &s, nil
}
