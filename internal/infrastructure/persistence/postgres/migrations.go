// Package postgres implements the PostgreSQL persistence layer for the
// schedule engine.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE TEMPLATES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create template version tables
-- Version: 001
-- Template versions are immutable after creation: edits fork a new row
-- in the same lineage; the only mutable column is is_active.

CREATE TABLE IF NOT EXISTS schedule_templates (
    id UUID PRIMARY KEY,
    lineage_id UUID NOT NULL,
    version INTEGER NOT NULL,
    owner_id UUID NOT NULL,
    name VARCHAR(150) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category VARCHAR(30) NOT NULL,
    active_days SMALLINT[] NOT NULL,
    reset_on_repeat BOOLEAN NOT NULL DEFAULT TRUE,
    start_date TIMESTAMP WITH TIME ZONE NOT NULL,
    end_date TIMESTAMP WITH TIME ZONE NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- One row per version within a lineage; edits fork version + 1.
    UNIQUE(lineage_id, version),

    CONSTRAINT valid_category CHECK (category IN ('therapeutic', 'educational', 'mixed')),
    CONSTRAINT valid_version CHECK (version >= 1),
    CONSTRAINT valid_date_range CHECK (end_date > start_date)
);

CREATE INDEX IF NOT EXISTS idx_templates_owner ON schedule_templates(owner_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_templates_lineage ON schedule_templates(lineage_id, version DESC);

-- Activity catalog of one template version. Immutable together with
-- its version.
CREATE TABLE IF NOT EXISTS schedule_activities (
    id UUID PRIMARY KEY,
    template_id UUID NOT NULL REFERENCES schedule_templates(id) ON DELETE CASCADE,
    title VARCHAR(255) NOT NULL,
    day_of_week SMALLINT NOT NULL,
    order_index INTEGER NOT NULL DEFAULT 0,
    activity_type VARCHAR(20) NOT NULL,
    config JSONB NOT NULL DEFAULT '{}'::jsonb,
    points_on_completion INTEGER NOT NULL DEFAULT 0,
    metadata JSONB,

    UNIQUE(template_id, day_of_week, order_index),

    CONSTRAINT valid_day_of_week CHECK (day_of_week >= 0 AND day_of_week <= 6),
    CONSTRAINT valid_points CHECK (points_on_completion >= 0),
    CONSTRAINT valid_activity_type CHECK (activity_type IN ('quick', 'text', 'quiz', 'video', 'checklist', 'file', 'app'))
);

CREATE INDEX IF NOT EXISTS idx_activities_template ON schedule_activities(template_id, day_of_week, order_index);
`

const migration001Down = `
DROP TABLE IF EXISTS schedule_activities;
DROP TABLE IF EXISTS schedule_templates;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE INSTANCES AND PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create instance and progress tables
-- Version: 002
-- The partial unique index below is the storage form of the invariant
-- "at most one open instance per (student, lineage)".

CREATE TABLE IF NOT EXISTS schedule_instances (
    id UUID PRIMARY KEY,
    template_id UUID NOT NULL REFERENCES schedule_templates(id),
    template_version INTEGER NOT NULL,
    lineage_id UUID NOT NULL,
    student_id UUID NOT NULL,
    assigned_by UUID NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    current_week_number INTEGER NOT NULL DEFAULT 1,
    current_week_start TIMESTAMP WITH TIME ZONE NOT NULL,
    current_week_end TIMESTAMP WITH TIME ZONE NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP WITH TIME ZONE,

    -- Derived current-week cache; rebuildable from activity_progress.
    completed_activities INTEGER NOT NULL DEFAULT 0,
    total_activities INTEGER NOT NULL DEFAULT 0,
    completion_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
    streak_weeks INTEGER NOT NULL DEFAULT 0,

    -- Lifetime counters; never reset by the weekly rollover.
    lifetime_completed INTEGER NOT NULL DEFAULT 0,
    lifetime_points INTEGER NOT NULL DEFAULT 0,
    weeks_elapsed INTEGER NOT NULL DEFAULT 0,

    revision BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_instance_status CHECK (status IN ('active', 'paused', 'completed')),
    CONSTRAINT valid_week_number CHECK (current_week_number >= 1)
);

-- At most one open instance per (student, lineage).
CREATE UNIQUE INDEX IF NOT EXISTS uq_instances_open
    ON schedule_instances(student_id, lineage_id)
    WHERE status IN ('active', 'paused');

CREATE INDEX IF NOT EXISTS idx_instances_student ON schedule_instances(student_id);

-- The weekly rollover scans open instances whose week has ended.
CREATE INDEX IF NOT EXISTS idx_instances_due
    ON schedule_instances(current_week_end)
    WHERE status IN ('active', 'paused');

CREATE TABLE IF NOT EXISTS activity_progress (
    id UUID PRIMARY KEY,
    instance_id UUID NOT NULL REFERENCES schedule_instances(id) ON DELETE CASCADE,
    student_id UUID NOT NULL,
    week_number INTEGER NOT NULL,
    day_of_week SMALLINT NOT NULL,
    activity_id UUID NOT NULL,

    -- Immutable copy of the activity definition taken at row generation.
    activity_snapshot JSONB NOT NULL,

    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    execution_data JSONB,
    scheduled_date TIMESTAMP WITH TIME ZONE NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    skipped_at TIMESTAMP WITH TIME ZONE,
    skip_reason TEXT NOT NULL DEFAULT '',
    revision BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- Exactly one row per activity per instance week.
    UNIQUE(instance_id, week_number, activity_id),

    CONSTRAINT valid_progress_status CHECK (status IN ('pending', 'in_progress', 'completed', 'skipped')),
    CONSTRAINT valid_progress_week CHECK (week_number >= 1)
);

CREATE INDEX IF NOT EXISTS idx_progress_instance_week ON activity_progress(instance_id, week_number);
CREATE INDEX IF NOT EXISTS idx_progress_student ON activity_progress(student_id, scheduled_date);
`

const migration002Down = `
DROP TABLE IF EXISTS activity_progress;
DROP TABLE IF EXISTS schedule_instances;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE SNAPSHOTS, ROSTER, POINTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create snapshot, roster and points tables
-- Version: 003
-- The (instance_id, week_number) uniqueness is the idempotency guard of
-- the weekly rollover: a re-run after a crash hits ON CONFLICT DO NOTHING.

CREATE TABLE IF NOT EXISTS performance_snapshots (
    id UUID PRIMARY KEY,
    instance_id UUID NOT NULL REFERENCES schedule_instances(id) ON DELETE CASCADE,
    student_id UUID NOT NULL,
    week_number INTEGER NOT NULL,
    engagement JSONB NOT NULL,
    performance JSONB NOT NULL,
    insights JSONB NOT NULL DEFAULT '{}'::jsonb,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(instance_id, week_number),

    CONSTRAINT valid_snapshot_week CHECK (week_number >= 1)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_student ON performance_snapshots(student_id, created_at DESC);

-- Student directory. Profiles live in an upstream identity system;
-- this table keeps the IDs the engine references.
CREATE TABLE IF NOT EXISTS students (
    id UUID PRIMARY KEY,
    display_name VARCHAR(100) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- Professional rosters gate who may assign plans and view reports.
CREATE TABLE IF NOT EXISTS professional_students (
    professional_id UUID NOT NULL,
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    added_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (professional_id, student_id)
);

CREATE INDEX IF NOT EXISTS idx_roster_student ON professional_students(student_id);

-- Cumulative points per student across all instances.
CREATE TABLE IF NOT EXISTS student_points (
    student_id UUID PRIMARY KEY REFERENCES students(id) ON DELETE CASCADE,
    total_points INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_total_points CHECK (total_points >= 0)
);
`

const migration003Down = `
DROP TABLE IF EXISTS student_points;
DROP TABLE IF EXISTS professional_students;
DROP TABLE IF EXISTS students;
DROP TABLE IF EXISTS performance_snapshots;
`
