package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/template"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEMPLATE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// TemplateRepository implements template.Repository for PostgreSQL.
//
// A template version and its activity catalog are written in one
// transaction and never updated afterwards; the only mutable column
// is is_active.
type TemplateRepository struct {
	conn *Connection
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(conn *Connection) *TemplateRepository {
	return &TemplateRepository{conn: conn}
}

const templateColumns = `
	id, lineage_id, version, owner_id, name, description, category,
	active_days, reset_on_repeat, start_date, end_date, is_active,
	created_at, updated_at
`

// ─────────────────────────────────────────────────────────────────────────────
// Write Operations
// ─────────────────────────────────────────────────────────────────────────────

// Create stores a new template version together with its activities.
func (r *TemplateRepository) Create(ctx context.Context, tpl *template.Template) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		query := `
			INSERT INTO schedule_templates (
				id, lineage_id, version, owner_id, name, description, category,
				active_days, reset_on_repeat, start_date, end_date, is_active,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`

		_, err := tx.Exec(ctx, query,
			tpl.ID,
			tpl.LineageID,
			tpl.Version,
			tpl.OwnerID,
			tpl.Name,
			tpl.Description,
			string(tpl.Category),
			activeDaysToInt16(tpl.ActiveDays),
			tpl.RepeatRules.ResetOnRepeat,
			tpl.StartDate,
			tpl.EndDate,
			tpl.IsActive,
			tpl.CreatedAt,
			tpl.UpdatedAt,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return shared.ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert template version: %w", err)
		}

		batch := &pgx.Batch{}
		for _, act := range tpl.Activities {
			configJSON, err := template.MarshalConfig(act.Config)
			if err != nil {
				return fmt.Errorf("failed to marshal activity config: %w", err)
			}
			metadataJSON, err := json.Marshal(act.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal activity metadata: %w", err)
			}
			batch.Queue(`
				INSERT INTO schedule_activities (
					id, template_id, title, day_of_week, order_index,
					activity_type, config, points_on_completion, metadata
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				act.ID,
				tpl.ID,
				act.Title,
				int16(act.DayOfWeek),
				act.OrderIndex,
				string(act.Type),
				configJSON,
				act.Scoring.PointsOnCompletion,
				metadataJSON,
			)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range tpl.Activities {
			if _, err := results.Exec(); err != nil {
				if IsUniqueViolation(err) {
					return shared.ErrAlreadyExists
				}
				return fmt.Errorf("failed to insert template activity: %w", err)
			}
		}
		return results.Close()
	})
}

// SetArchived sets the archived flag of a template version.
func (r *TemplateRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	query := `
		UPDATE schedule_templates
		SET is_active = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := r.conn.Exec(ctx, query, !archived, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to archive template: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Read Operations
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns a template version with its activities. Historical
// versions stay readable after archiving or forking.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*template.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM schedule_templates WHERE id = $1`

	tpl, err := r.scanTemplate(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadActivities(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// GetLatestVersion returns the newest version of a lineage.
func (r *TemplateRepository) GetLatestVersion(ctx context.Context, lineageID string) (*template.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM schedule_templates
		WHERE lineage_id = $1
		ORDER BY version DESC
		LIMIT 1
	`

	tpl, err := r.scanTemplate(r.conn.QueryRow(ctx, query, lineageID))
	if err != nil {
		return nil, err
	}
	if err := r.loadActivities(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// ListByOwner returns the latest version of each lineage owned by ownerID.
func (r *TemplateRepository) ListByOwner(ctx context.Context, ownerID string, opts template.ListOptions) ([]*template.Template, error) {
	query := `
		SELECT DISTINCT ON (lineage_id) ` + templateColumns + `
		FROM schedule_templates
		WHERE owner_id = $1
	`
	args := []interface{}{ownerID}
	if !opts.IncludeArchived {
		query += ` AND is_active`
	}
	if opts.Category != "" {
		args = append(args, string(opts.Category))
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	args = append(args, opts.Limit, opts.Offset)
	query += fmt.Sprintf(`
		ORDER BY lineage_id, version DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return r.queryTemplates(ctx, query, args...)
}

// ListLineage returns all versions of a lineage in ascending version order.
func (r *TemplateRepository) ListLineage(ctx context.Context, lineageID string) ([]*template.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM schedule_templates
		WHERE lineage_id = $1
		ORDER BY version ASC
	`

	return r.queryTemplates(ctx, query, lineageID)
}

// Exists checks whether a template version exists.
func (r *TemplateRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schedule_templates WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check template existence: %w", err)
	}
	return exists, nil
}

// Count returns the number of lineages owned by ownerID.
func (r *TemplateRepository) Count(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx,
		`SELECT COUNT(DISTINCT lineage_id) FROM schedule_templates WHERE owner_id = $1 AND is_active`,
		ownerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count templates: %w", err)
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *TemplateRepository) queryTemplates(ctx context.Context, query string, args ...interface{}) ([]*template.Template, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	templates := make([]*template.Template, 0)
	for rows.Next() {
		tpl, err := r.scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}

	for _, tpl := range templates {
		if err := r.loadActivities(ctx, tpl); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

func (r *TemplateRepository) scanTemplate(row pgx.Row) (*template.Template, error) {
	var (
		tpl        template.Template
		category   string
		activeDays []int16
	)

	err := row.Scan(
		&tpl.ID,
		&tpl.LineageID,
		&tpl.Version,
		&tpl.OwnerID,
		&tpl.Name,
		&tpl.Description,
		&category,
		&activeDays,
		&tpl.RepeatRules.ResetOnRepeat,
		&tpl.StartDate,
		&tpl.EndDate,
		&tpl.IsActive,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	tpl.Category = template.Category(category)
	tpl.ActiveDays = int16ToActiveDays(activeDays)
	return &tpl, nil
}

func (r *TemplateRepository) loadActivities(ctx context.Context, tpl *template.Template) error {
	query := `
		SELECT id, template_id, title, day_of_week, order_index,
			   activity_type, config, points_on_completion, metadata
		FROM schedule_activities
		WHERE template_id = $1
		ORDER BY day_of_week, order_index
	`

	rows, err := r.conn.Query(ctx, query, tpl.ID)
	if err != nil {
		return fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	tpl.Activities = tpl.Activities[:0]
	for rows.Next() {
		var (
			act          template.Activity
			day          int16
			actType      string
			configJSON   []byte
			metadataJSON []byte
		)
		err := rows.Scan(
			&act.ID,
			&act.TemplateID,
			&act.Title,
			&day,
			&act.OrderIndex,
			&actType,
			&configJSON,
			&act.Scoring.PointsOnCompletion,
			&metadataJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to scan activity: %w", err)
		}

		act.DayOfWeek = template.Weekday(day)
		act.Type = template.ActivityType(actType)
		if act.Config, err = template.UnmarshalConfig(configJSON); err != nil {
			return fmt.Errorf("failed to unmarshal activity config: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &act.Metadata); err != nil {
				return fmt.Errorf("failed to unmarshal activity metadata: %w", err)
			}
		}
		tpl.Activities = append(tpl.Activities, act)
	}
	return rows.Err()
}

func activeDaysToInt16(days template.ActiveDays) []int16 {
	out := make([]int16, 0, len(days))
	for _, d := range days {
		out = append(out, int16(d))
	}
	return out
}

func int16ToActiveDays(days []int16) template.ActiveDays {
	out := make(template.ActiveDays, 0, len(days))
	for _, d := range days {
		out = append(out, template.Weekday(d))
	}
	return out
}
