package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION STORE IMPLEMENTATION
// Completing an activity is a compound write: the guarded status
// transition, the instance cache update and the points credit commit or
// roll back together. The status precondition in the row UPDATE is what
// makes double-completion impossible: the second writer affects zero
// rows and no points move.
// ══════════════════════════════════════════════════════════════════════════════

// CompletionStore implements progress.CompletionStore for PostgreSQL.
type CompletionStore struct {
	conn *Connection
}

// NewCompletionStore creates a new CompletionStore.
func NewCompletionStore(conn *Connection) *CompletionStore {
	return &CompletionStore{conn: conn}
}

// Complete records the in_progress → completed transition atomically.
func (s *CompletionStore) Complete(ctx context.Context, p *progress.Progress, inst *instance.Instance, points int) error {
	executionJSON, err := marshalExecutionData(p.ExecutionData)
	if err != nil {
		return err
	}

	var (
		rowRevision  int64
		instRevision int64
	)

	err = s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		now := time.Now().UTC()

		// Guarded transition: only an in_progress row at the expected
		// revision can become completed.
		rowQuery := `
			UPDATE activity_progress SET
				status = $1,
				execution_data = $2,
				completed_at = $3,
				revision = revision + 1,
				updated_at = $4
			WHERE id = $5 AND revision = $6 AND status = $7
			RETURNING revision
		`
		err := tx.QueryRow(ctx, rowQuery,
			string(progress.StatusCompleted),
			executionJSON,
			p.CompletedAt,
			now,
			p.ID,
			p.Revision,
			string(progress.StatusInProgress),
		).Scan(&rowRevision)
		if err != nil {
			if IsNoRows(err) {
				return shared.ErrStateConflict
			}
			return fmt.Errorf("failed to record completion: %w", err)
		}

		instQuery := `
			UPDATE schedule_instances SET
				completed_activities = $1,
				total_activities = $2,
				completion_percentage = $3,
				lifetime_completed = $4,
				lifetime_points = $5,
				revision = revision + 1,
				updated_at = $6
			WHERE id = $7 AND revision = $8
			RETURNING revision
		`
		err = tx.QueryRow(ctx, instQuery,
			inst.Cache.CompletedActivities,
			inst.Cache.TotalActivities,
			inst.Cache.CompletionPercentage,
			inst.Lifetime.TotalCompleted,
			inst.Lifetime.TotalPoints,
			now,
			inst.ID,
			inst.Revision,
		).Scan(&instRevision)
		if err != nil {
			if IsNoRows(err) {
				return shared.ErrOptimisticLock
			}
			return fmt.Errorf("failed to update instance cache: %w", err)
		}

		if points > 0 {
			pointsQuery := `
				INSERT INTO student_points (student_id, total_points, updated_at)
				VALUES ($1, $2, $3)
				ON CONFLICT (student_id)
				DO UPDATE SET total_points = student_points.total_points + EXCLUDED.total_points,
				              updated_at = EXCLUDED.updated_at
			`
			if _, err := tx.Exec(ctx, pointsQuery, p.StudentID, points, now); err != nil {
				return fmt.Errorf("failed to credit points: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.Revision = rowRevision
	inst.Revision = instRevision
	return nil
}
