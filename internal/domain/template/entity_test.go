package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validActivity(id string, day Weekday, order int) Activity {
	return Activity{
		ID:         id,
		Title:      "Morning exercise",
		DayOfWeek:  day,
		OrderIndex: order,
		Type:       TypeQuick,
		Config:     QuickConfig{},
		Scoring:    Scoring{PointsOnCompletion: 10},
		Metadata:   Metadata{EstimatedDurationMinutes: 15, Difficulty: DifficultyEasy},
	}
}

func validTemplateParams() NewTemplateParams {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	return NewTemplateParams{
		ID:         "11111111-1111-1111-1111-111111111111",
		LineageID:  "22222222-2222-2222-2222-222222222222",
		Version:    1,
		OwnerID:    "owner-1",
		Name:       "Weekly therapy plan",
		Category:   CategoryTherapeutic,
		ActiveDays: ActiveDays{1, 3, 5},
		RepeatRules: RepeatRules{
			ResetOnRepeat: true,
		},
		StartDate: start,
		EndDate:   start.AddDate(0, 2, 0),
		Activities: []Activity{
			validActivity("a1", 1, 0),
			validActivity("a2", 3, 0),
			validActivity("a3", 5, 0),
		},
	}
}

func TestNewTemplate_Valid(t *testing.T) {
	tpl, err := NewTemplate(validTemplateParams())
	require.NoError(t, err)

	assert.Equal(t, 1, tpl.Version)
	assert.True(t, tpl.IsActive)
	assert.Len(t, tpl.Activities, 3)
	assert.Equal(t, 3, tpl.WeeklyActivityCount())
	// Activities inherit the template ID.
	for _, a := range tpl.Activities {
		assert.Equal(t, tpl.ID, a.TemplateID)
	}
}

func TestNewTemplate_EmptyActiveDays(t *testing.T) {
	params := validTemplateParams()
	params.ActiveDays = ActiveDays{}

	_, err := NewTemplate(params)
	assert.ErrorIs(t, err, ErrEmptyActiveDays)
}

func TestNewTemplate_NoActivities(t *testing.T) {
	params := validTemplateParams()
	params.Activities = nil

	_, err := NewTemplate(params)
	assert.ErrorIs(t, err, ErrNoActivities)
}

func TestNewTemplate_DayNotActive(t *testing.T) {
	params := validTemplateParams()
	params.Activities = append(params.Activities, validActivity("a4", 2, 0))

	_, err := NewTemplate(params)
	assert.ErrorIs(t, err, ErrDayNotActive)
}

func TestNewTemplate_DuplicateOrderIndex(t *testing.T) {
	params := validTemplateParams()
	params.Activities = append(params.Activities, validActivity("a4", 1, 0))

	_, err := NewTemplate(params)
	assert.ErrorIs(t, err, ErrDuplicateOrderIndex)
}

func TestNewTemplate_SameOrderIndexOnDifferentDaysAllowed(t *testing.T) {
	params := validTemplateParams()
	// a1 is day 1 index 0; another index 0 on day 3 already exists too.
	_, err := NewTemplate(params)
	assert.NoError(t, err)
}

func TestNewTemplate_InvalidDateRange(t *testing.T) {
	params := validTemplateParams()
	params.EndDate = params.StartDate

	_, err := NewTemplate(params)
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestNewTemplate_InvalidCategory(t *testing.T) {
	params := validTemplateParams()
	params.Category = Category("sports")

	_, err := NewTemplate(params)
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestTemplate_ActivitiesForDay_Sorted(t *testing.T) {
	params := validTemplateParams()
	params.Activities = []Activity{
		validActivity("a2", 1, 2),
		validActivity("a1", 1, 1),
		validActivity("a3", 3, 0),
	}
	tpl, err := NewTemplate(params)
	require.NoError(t, err)

	day1 := tpl.ActivitiesForDay(1)
	require.Len(t, day1, 2)
	assert.Equal(t, "a1", day1[0].ID)
	assert.Equal(t, "a2", day1[1].ID)
}

func TestTemplate_Archive(t *testing.T) {
	tpl, err := NewTemplate(validTemplateParams())
	require.NoError(t, err)

	require.NoError(t, tpl.Archive())
	assert.False(t, tpl.IsActive)

	assert.ErrorIs(t, tpl.Archive(), ErrAlreadyArchived)
}

func TestTemplate_Fork(t *testing.T) {
	tpl, err := NewTemplate(validTemplateParams())
	require.NoError(t, err)

	fork, err := tpl.Fork(ForkParams{
		NewID: "33333333-3333-3333-3333-333333333333",
		Name:  "Weekly therapy plan v2",
	})
	require.NoError(t, err)

	// The fork stays in the same lineage with the next version.
	assert.Equal(t, tpl.LineageID, fork.LineageID)
	assert.Equal(t, tpl.Version+1, fork.Version)
	assert.NotEqual(t, tpl.ID, fork.ID)
	assert.Equal(t, "Weekly therapy plan v2", fork.Name)

	// The original version is untouched.
	assert.Equal(t, "Weekly therapy plan", tpl.Name)
	assert.Equal(t, 1, tpl.Version)
	assert.Len(t, fork.Activities, len(tpl.Activities))
}

func TestActiveDays_Normalized(t *testing.T) {
	days := ActiveDays{5, 1, 3, 1}.Normalized()
	assert.Equal(t, ActiveDays{1, 3, 5}, days)
}
