package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/schedule-hub/internal/domain/template"
)

func newTestProgress(t *testing.T) *Progress {
	t.Helper()
	p, err := NewProgress(NewProgressParams{
		ID:         "prog-1",
		InstanceID: "inst-1",
		StudentID:  "student-1",
		WeekNumber: 1,
		Activity: template.Activity{
			ID:         "act-1",
			TemplateID: "tpl-1",
			Title:      "Evening journal",
			DayOfWeek:  1,
			OrderIndex: 0,
			Type:       template.TypeText,
			Config:     template.TextConfig{Prompt: "How was your day?"},
			Scoring:    template.Scoring{PointsOnCompletion: 25},
		},
		ScheduledDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return p
}

func TestNewProgress(t *testing.T) {
	p := newTestProgress(t)

	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "act-1", p.ActivityID)
	assert.Equal(t, template.TypeText, p.Snapshot.Type)
	assert.Equal(t, 25, p.Snapshot.Scoring.PointsOnCompletion)
	assert.Nil(t, p.StartedAt)
}

func TestProgress_Start(t *testing.T) {
	p := newTestProgress(t)

	require.NoError(t, p.Start())
	assert.Equal(t, StatusInProgress, p.Status)
	require.NotNil(t, p.StartedAt)

	// Starting an already started activity is an idempotent no-op.
	first := *p.StartedAt
	require.NoError(t, p.Start())
	assert.Equal(t, first, *p.StartedAt)
}

func TestProgress_Start_TerminalRejected(t *testing.T) {
	p := newTestProgress(t)
	require.NoError(t, p.Skip("not today"))

	assert.ErrorIs(t, p.Start(), ErrTerminalState)
}

func TestProgress_Complete(t *testing.T) {
	p := newTestProgress(t)
	require.NoError(t, p.Start())

	points, err := p.Complete(ExecutionData{"answer": "a good day"})
	require.NoError(t, err)

	assert.Equal(t, 25, points)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "a good day", p.ExecutionData["answer"])
	require.NotNil(t, p.CompletedAt)
}

func TestProgress_Complete_FromPendingRejected(t *testing.T) {
	p := newTestProgress(t)

	_, err := p.Complete(nil)
	assert.ErrorIs(t, err, ErrNotInProgress)
	assert.Equal(t, StatusPending, p.Status)
}

func TestProgress_DoubleCompleteRejected(t *testing.T) {
	p := newTestProgress(t)
	require.NoError(t, p.Start())

	_, err := p.Complete(nil)
	require.NoError(t, err)

	// The second complete must be rejected so points are never awarded twice.
	points, err := p.Complete(nil)
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.Equal(t, 0, points)
}

func TestProgress_CompleteAfterSkipRejected(t *testing.T) {
	p := newTestProgress(t)
	require.NoError(t, p.Skip(""))

	_, err := p.Complete(nil)
	assert.ErrorIs(t, err, ErrTerminalState)
}

func TestProgress_Skip(t *testing.T) {
	p := newTestProgress(t)

	require.NoError(t, p.Skip("sick day"))
	assert.Equal(t, StatusSkipped, p.Status)
	assert.Equal(t, "sick day", p.SkipReason)
	require.NotNil(t, p.SkippedAt)

	assert.ErrorIs(t, p.Skip("again"), ErrTerminalState)
}

func TestProgress_SkipFromInProgress(t *testing.T) {
	p := newTestProgress(t)
	require.NoError(t, p.Start())

	require.NoError(t, p.Skip("too hard"))
	assert.Equal(t, StatusSkipped, p.Status)
}

func TestProgress_SaveDraft_MergesPerKey(t *testing.T) {
	p := newTestProgress(t)

	require.NoError(t, p.SaveDraft(ExecutionData{"answer": "draft one", "mood": "ok"}))
	require.NoError(t, p.SaveDraft(ExecutionData{"answer": "draft two"}))

	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "draft two", p.ExecutionData["answer"])
	assert.Equal(t, "ok", p.ExecutionData["mood"])
}

func TestProgress_SaveDraft_TerminalRejected(t *testing.T) {
	p := newTestProgress(t)
	require.NoError(t, p.Start())
	_, err := p.Complete(ExecutionData{"answer": "final"})
	require.NoError(t, err)

	assert.ErrorIs(t, p.SaveDraft(ExecutionData{"answer": "late edit"}), ErrTerminalState)
	assert.Equal(t, "final", p.ExecutionData["answer"])
}

func TestProgress_Complete_OverwritesDraft(t *testing.T) {
	p := newTestProgress(t)
	require.NoError(t, p.SaveDraft(ExecutionData{"answer": "draft", "scratch": true}))
	require.NoError(t, p.Start())

	_, err := p.Complete(ExecutionData{"answer": "final"})
	require.NoError(t, err)

	assert.Equal(t, "final", p.ExecutionData["answer"])
	_, hasScratch := p.ExecutionData["scratch"]
	assert.False(t, hasScratch)
}

func TestWeekCounts_CompletionRate(t *testing.T) {
	counts := WeekCounts{Total: 3, Completed: 1}
	assert.InDelta(t, 33.33, counts.CompletionRate(), 0.01)

	assert.Equal(t, float64(0), WeekCounts{}.CompletionRate())
}
