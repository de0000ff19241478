// Package snapshot содержит доменную модель еженедельного среза
// производительности и чистый генератор метрик.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Engagement - метрики вовлечённости за одну неделю.
type Engagement struct {
	// CompletionRate - доля завершённых активностей (0-100).
	CompletionRate float64 `json:"completion_rate"`

	// CompletedActivities - завершено активностей.
	CompletedActivities int `json:"completed_activities"`

	// TotalActivities - всего активностей недели.
	TotalActivities int `json:"total_activities"`

	// SkippedActivities - пропущено активностей.
	SkippedActivities int `json:"skipped_activities"`

	// PointsEarned - заработано баллов за неделю.
	PointsEarned int `json:"points_earned"`
}

// Performance - производные показатели динамики.
type Performance struct {
	// ImprovementFromPreviousWeek - дельта completionRate
	// относительно предыдущего среза (в процентных пунктах).
	ImprovementFromPreviousWeek float64 `json:"improvement_from_previous_week"`

	// StreakWeeks - серия недель с долей завершения не ниже порога
	// по состоянию на конец этой недели.
	StreakWeeks int `json:"streak_weeks"`
}

// Insights - шаблонные выводы по пороговым правилам.
type Insights struct {
	Strengths       []string `json:"strengths,omitempty"`
	Challenges      []string `json:"challenges,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - неизменяемый срез производительности инстанса за одну
// завершённую неделю. Не более одного среза на (инстанс, неделя);
// после создания срез никогда не изменяется.
type Snapshot struct {
	// ID - уникальный идентификатор среза (UUID).
	ID string

	// InstanceID - инстанс, к которому относится срез.
	InstanceID string

	// StudentID - студент (денормализовано для выборок).
	StudentID string

	// WeekNumber - закрытая неделя.
	WeekNumber int

	// Engagement - метрики вовлечённости.
	Engagement Engagement

	// Performance - показатели динамики.
	Performance Performance

	// Insights - шаблонные выводы.
	Insights Insights

	// IsActive - false для срезов, снятых с учёта.
	IsActive bool

	// CreatedAt - время создания среза.
	CreatedAt time.Time
}

// ErrInvalidSnapshot - срез не прошёл валидацию.
var ErrInvalidSnapshot = errors.New("invalid performance snapshot")

// Validate проверяет внутреннюю согласованность среза.
func (s *Snapshot) Validate() error {
	if s.ID == "" || s.InstanceID == "" {
		return fmt.Errorf("%w: id and instance id are required", ErrInvalidSnapshot)
	}
	if s.WeekNumber < 1 {
		return fmt.Errorf("%w: week number must be >= 1", ErrInvalidSnapshot)
	}
	if s.Engagement.CompletionRate < 0 || s.Engagement.CompletionRate > 100 {
		return fmt.Errorf("%w: completion rate must be 0-100", ErrInvalidSnapshot)
	}
	if s.Engagement.CompletedActivities > s.Engagement.TotalActivities {
		return fmt.Errorf("%w: completed exceeds total", ErrInvalidSnapshot)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции хранилища для срезов.
type Repository interface {
	// CreateIfAbsent сохраняет срез, если для (instanceId, weekNumber)
	// среза ещё нет. Возвращает created=false без ошибки, если срез
	// уже существует - это идемпотентная защита еженедельного перехода.
	CreateIfAbsent(ctx context.Context, s *Snapshot) (created bool, err error)

	// GetByInstanceWeek возвращает срез недели инстанса.
	// Возвращает shared.ErrNotFound, если среза нет.
	GetByInstanceWeek(ctx context.Context, instanceID string, weekNumber int) (*Snapshot, error)

	// GetLatest возвращает последний срез инстанса, либо shared.ErrNotFound.
	GetLatest(ctx context.Context, instanceID string) (*Snapshot, error)

	// ExistsForWeek проверяет существование среза недели.
	ExistsForWeek(ctx context.Context, instanceID string, weekNumber int) (bool, error)

	// ListByInstance возвращает срезы инстанса по возрастанию недели.
	ListByInstance(ctx context.Context, instanceID string) ([]*Snapshot, error)
}
