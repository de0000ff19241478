package snapshot

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// GENERATOR
// Чистая функция над закрытым набором строк прогресса одной недели.
// Никогда не изменяет строки прогресса и ничего не пишет в хранилище.
// ══════════════════════════════════════════════════════════════════════════════

// Пороговые правила шаблонных выводов.
const (
	// ExcellentCompletionRate - порог вывода "excellent completion".
	ExcellentCompletionRate = 90.0

	// LowEngagementRate - порог вывода "low engagement".
	LowEngagementRate = 50.0

	// ImprovementDelta - порог значимого изменения динамики (п.п.).
	ImprovementDelta = 15.0

	// HeavySkipShare - доля пропусков, после которой рекомендуется
	// пересмотреть состав активностей.
	HeavySkipShare = 0.30

	// DefaultStreakThreshold - порог продолжения серии недель по умолчанию.
	DefaultStreakThreshold = 50.0
)

// GenerateInput - вход генератора: закрытая неделя одного инстанса.
type GenerateInput struct {
	// SnapshotID - ID для нового среза.
	SnapshotID string

	// InstanceID, StudentID, WeekNumber идентифицируют закрываемую неделю.
	InstanceID string
	StudentID  string
	WeekNumber int

	// Rows - полный набор строк прогресса закрываемой недели.
	Rows []*progress.Progress

	// Previous - срез предыдущей недели (nil для первой недели).
	Previous *Snapshot

	// PreviousStreak - серия недель на начало закрываемой недели.
	PreviousStreak int

	// StreakThreshold - порог продолжения серии (0 = значение по умолчанию).
	StreakThreshold float64

	// Now - момент генерации.
	Now time.Time
}

// Generate вычисляет метрики недели и порождает неизменяемый срез.
//
// Правило серии: серия недель увеличивается на 1, если completionRate
// закрытой недели не ниже порога, иначе обнуляется.
func Generate(in GenerateInput) (*Snapshot, error) {
	if in.SnapshotID == "" || in.InstanceID == "" {
		return nil, errors.New("generate: snapshot id and instance id are required")
	}
	if in.WeekNumber < 1 {
		return nil, errors.New("generate: week number must be >= 1")
	}

	threshold := in.StreakThreshold
	if threshold <= 0 {
		threshold = DefaultStreakThreshold
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	eng := computeEngagement(in.Rows)

	improvement := 0.0
	if in.Previous != nil {
		improvement = round2(eng.CompletionRate - in.Previous.Engagement.CompletionRate)
	}

	streak := 0
	if eng.CompletionRate >= threshold {
		streak = in.PreviousStreak + 1
	}

	s := &Snapshot{
		ID:         in.SnapshotID,
		InstanceID: in.InstanceID,
		StudentID:  in.StudentID,
		WeekNumber: in.WeekNumber,
		Engagement: eng,
		Performance: Performance{
			ImprovementFromPreviousWeek: improvement,
			StreakWeeks:                 streak,
		},
		Insights:  deriveInsights(eng, improvement, in.Previous != nil),
		IsActive:  true,
		CreatedAt: now.UTC(),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// computeEngagement агрегирует строки прогресса в метрики недели.
func computeEngagement(rows []*progress.Progress) Engagement {
	eng := Engagement{TotalActivities: len(rows)}
	for _, row := range rows {
		switch row.Status {
		case progress.StatusCompleted:
			eng.CompletedActivities++
			eng.PointsEarned += row.Snapshot.Scoring.PointsOnCompletion
		case progress.StatusSkipped:
			eng.SkippedActivities++
		}
	}
	if eng.TotalActivities > 0 {
		eng.CompletionRate = round2(float64(eng.CompletedActivities) / float64(eng.TotalActivities) * 100)
	}
	return eng
}

// deriveInsights порождает шаблонные выводы по пороговым правилам.
func deriveInsights(eng Engagement, improvement float64, hasPrevious bool) Insights {
	var ins Insights

	if eng.CompletionRate >= ExcellentCompletionRate {
		ins.Strengths = append(ins.Strengths,
			fmt.Sprintf("Excellent completion: %.0f%% of weekly activities finished", eng.CompletionRate))
	}
	if eng.CompletionRate < LowEngagementRate {
		ins.Challenges = append(ins.Challenges,
			fmt.Sprintf("Low engagement: only %.0f%% of weekly activities finished", eng.CompletionRate))
		ins.Recommendations = append(ins.Recommendations,
			"Consider reducing the weekly activity load or simplifying activities")
	}

	if hasPrevious {
		if improvement >= ImprovementDelta {
			ins.Strengths = append(ins.Strengths,
				fmt.Sprintf("Strong improvement: +%.0f points vs previous week", improvement))
		}
		if improvement <= -ImprovementDelta {
			ins.Challenges = append(ins.Challenges,
				fmt.Sprintf("Declining engagement: %.0f points vs previous week", improvement))
		}
	}

	if eng.TotalActivities > 0 {
		skipShare := float64(eng.SkippedActivities) / float64(eng.TotalActivities)
		if skipShare > HeavySkipShare {
			ins.Recommendations = append(ins.Recommendations,
				"Many activities were skipped; review whether the assigned activities fit the student")
		}
	}

	return ins
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
