package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles and gradual rollouts.
// Supports percentage rollout, per-student overrides, and time-based
// activation, so new schedule behavior can be tested on a subset of
// students before a full release.
type FeatureFlags struct {
	mu sync.RWMutex

	// Core features
	features map[string]*Feature

	// Override rules (for testing/debugging)
	studentOverrides map[string]map[string]bool // studentID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Students are assigned based on hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	StudentID string // student UUID
	IsElevated bool  // coordinator or system actor
}

// Predefined feature flag names.
const (
	// === Snapshot / insight features ===
	FeatureSnapshotInsights    = "snapshot.insights"    // Derive strengths/challenges text
	FeatureSnapshotImprovement = "snapshot.improvement" // Week-over-week delta tracking

	// === Progress features ===
	FeatureProgressDrafts = "progress.drafts" // Save partial execution data
	FeatureProgressStreak = "progress.streak" // Streak tracking across weeks

	// === Notification features ===
	FeatureNotifyWeekAdvanced   = "notify.week_advanced"   // Webhook on week rollover
	FeatureNotifyResetCompleted = "notify.reset_completed" // Webhook with batch summary
	FeatureNotifyResetFailures  = "notify.reset_failures"  // Webhook on per-instance failures

	// === Experimental features ===
	FeatureExperimentalDryRunReport = "experimental.dry_run_report" // Extended dry-run output
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[string]map[string]bool),
	}

	// Initialize all features with defaults
	ff.initializeDefaults()

	// Load overrides from environment
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureSnapshotInsights] = &Feature{
		Name:           FeatureSnapshotInsights,
		Description:    "Derive strengths, challenges and recommendations in weekly snapshots",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSnapshotImprovement] = &Feature{
		Name:           FeatureSnapshotImprovement,
		Description:    "Track week-over-week completion rate deltas",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureProgressDrafts] = &Feature{
		Name:           FeatureProgressDrafts,
		Description:    "Allow saving partial execution data before completion",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureProgressStreak] = &Feature{
		Name:           FeatureProgressStreak,
		Description:    "Track consecutive weeks above the completion threshold",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyWeekAdvanced] = &Feature{
		Name:           FeatureNotifyWeekAdvanced,
		Description:    "Deliver a webhook when an instance rolls to the next week",
		Enabled:        false, // noisy at scale, opt-in
		RolloutPercent: 0,
	}

	ff.features[FeatureNotifyResetCompleted] = &Feature{
		Name:           FeatureNotifyResetCompleted,
		Description:    "Deliver a webhook with the weekly reset batch summary",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyResetFailures] = &Feature{
		Name:           FeatureNotifyResetFailures,
		Description:    "Deliver a webhook for each failed instance in a reset run",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureExperimentalDryRunReport] = &Feature{
		Name:           FeatureExperimentalDryRunReport,
		Description:    "Include per-instance detail in dry-run responses",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_PROGRESS_DRAFTS=true
// Example: FEATURE_NOTIFY_WEEK_ADVANCED=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "progress.drafts" -> "FEATURE_PROGRESS_DRAFTS"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check per-student overrides first
	if ctx != nil && ctx.StudentID != "" {
		if overrides, ok := ff.studentOverrides[ctx.StudentID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Elevated actors get all features
	if ctx != nil && ctx.IsElevated {
		return true
	}

	// Check if feature is enabled at all
	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.StudentID != "" {
		return ff.isInRollout(ctx.StudentID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a student is in the rollout percentage.
// Uses consistent hashing so students stay in their bucket.
func (ff *FeatureFlags) isInRollout(studentID, featureName string, percent int) bool {
	// Create a consistent hash for this student+feature combination
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(studentID))
	hash := h.Sum32()

	// Map to 0-99 range
	bucket := int(hash % 100)

	return bucket < percent
}

// SetStudentOverride sets a feature override for a specific student.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetStudentOverride(studentID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.studentOverrides[studentID]; !ok {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// ClearStudentOverrides removes all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(studentID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, studentID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		// Return a copy
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Convenience methods for common checks ---

// NotificationsEnabled checks if any webhook notifications are enabled.
func (ff *FeatureFlags) NotificationsEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureNotifyWeekAdvanced, ctx) ||
		ff.IsEnabled(FeatureNotifyResetCompleted, ctx) ||
		ff.IsEnabled(FeatureNotifyResetFailures, ctx)
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
