// Package instance содержит доменную модель назначенного инстанса расписания:
// конкретное назначение одной версии шаблона одному студенту со своим
// счётчиком недель и прогрессом.
package instance

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS & ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Status определяет статус инстанса расписания.
type Status string

const (
	// StatusActive - студент выполняет план.
	StatusActive Status = "active"
	// StatusPaused - план приостановлен; еженедельный переход продолжается.
	StatusPaused Status = "paused"
	// StatusCompleted - план завершён (дата окончания шаблона пройдена).
	StatusCompleted Status = "completed"
)

// IsValid проверяет, что статус корректен.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted:
		return true
	default:
		return false
	}
}

// IsOpen возвращает true, если инстанс участвует в еженедельном переходе.
func (s Status) IsOpen() bool {
	return s == StatusActive || s == StatusPaused
}

// ProgressCache - производный кеш прогресса текущей недели.
// Обязан быть восстановимым пересчётом из строк ActivityProgress.
type ProgressCache struct {
	// CompletedActivities - завершено активностей на текущей неделе.
	CompletedActivities int `json:"completed_activities"`

	// TotalActivities - всего активностей на текущей неделе.
	TotalActivities int `json:"total_activities"`

	// CompletionPercentage - процент завершения (0-100).
	CompletionPercentage float64 `json:"completion_percentage"`

	// StreakWeeks - число подряд идущих недель с долей завершения
	// не ниже настроенного порога.
	StreakWeeks int `json:"streak_weeks"`
}

// Recompute пересчитывает процент завершения по счётчикам.
func (c *ProgressCache) Recompute() {
	if c.TotalActivities <= 0 {
		c.CompletionPercentage = 0
		return
	}
	pct := float64(c.CompletedActivities) / float64(c.TotalActivities) * 100
	c.CompletionPercentage = math.Round(pct*100) / 100
}

// LifetimeStats - накопительные счётчики за всё время жизни инстанса.
// Хранятся отдельно от недельного кеша и не обнуляются при переходе.
type LifetimeStats struct {
	// TotalCompleted - всего завершено активностей.
	TotalCompleted int `json:"total_completed"`

	// TotalPoints - всего заработано баллов в рамках инстанса.
	TotalPoints int `json:"total_points"`

	// WeeksElapsed - количество закрытых недель.
	WeeksElapsed int `json:"weeks_elapsed"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: INSTANCE
// ══════════════════════════════════════════════════════════════════════════════

// Instance - назначение одной версии шаблона одному студенту.
//
// Инвариант: в любой момент у студента не более одного инстанса
// в статусе {active, paused} на линию шаблона.
type Instance struct {
	// ID - уникальный идентификатор инстанса (UUID).
	ID string

	// TemplateID - версия шаблона, на которую ссылается инстанс.
	// Никогда не переназначается на более новую версию.
	TemplateID string

	// TemplateVersion - номер версии на момент назначения.
	TemplateVersion int

	// LineageID - линия шаблона; используется для проверки уникальности.
	LineageID string

	// StudentID - студент, которому назначен план.
	StudentID string

	// AssignedBy - кто назначил план (специалист или координатор).
	AssignedBy string

	// Status - текущий статус.
	Status Status

	// CurrentWeekNumber - номер текущей недели (>= 1).
	CurrentWeekNumber int

	// CurrentWeekStart - начало текущей недели.
	CurrentWeekStart time.Time

	// CurrentWeekEnd - конец текущей недели.
	CurrentWeekEnd time.Time

	// StartedAt - дата назначения.
	StartedAt time.Time

	// CompletedAt - дата завершения плана (если завершён).
	CompletedAt *time.Time

	// Cache - производный кеш текущей недели.
	Cache ProgressCache

	// Lifetime - накопительные счётчики.
	Lifetime LifetimeStats

	// Revision - токен оптимистичной конкурентности. Инкрементируется
	// хранилищем при каждой успешной записи.
	Revision int64

	// CreatedAt - время создания записи.
	CreatedAt time.Time

	// UpdatedAt - время последнего обновления.
	UpdatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNotOpen - операция требует статуса active или paused.
	ErrNotOpen = errors.New("schedule instance is not active or paused")

	// ErrAlreadyCompleted - инстанс уже завершён.
	ErrAlreadyCompleted = errors.New("schedule instance is already completed")

	// ErrNotPaused - возобновить можно только приостановленный инстанс.
	ErrNotPaused = errors.New("only a paused instance can be resumed")

	// ErrAlreadyPaused - инстанс уже приостановлен.
	ErrAlreadyPaused = errors.New("schedule instance is already paused")

	// ErrNotDue - неделя инстанса ещё не закончилась.
	ErrNotDue = errors.New("instance current week has not ended yet")
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewInstanceParams содержит параметры создания инстанса.
type NewInstanceParams struct {
	ID              string
	TemplateID      string
	TemplateVersion int
	LineageID       string
	StudentID       string
	AssignedBy      string
	WeekStart       time.Time
	TotalActivities int
}

// NewInstance создаёт инстанс на неделе 1 с валидацией параметров.
func NewInstance(params NewInstanceParams) (*Instance, error) {
	if params.ID == "" {
		return nil, errors.New("instance id is required")
	}
	if params.TemplateID == "" || params.LineageID == "" {
		return nil, errors.New("instance template reference is required")
	}
	if params.TemplateVersion < 1 {
		return nil, errors.New("instance template version must be >= 1")
	}
	if params.StudentID == "" {
		return nil, errors.New("instance student id is required")
	}
	if params.WeekStart.IsZero() {
		return nil, errors.New("instance week start is required")
	}
	if params.TotalActivities < 0 {
		return nil, errors.New("instance total activities cannot be negative")
	}

	now := time.Now().UTC()
	weekStart := params.WeekStart.UTC()

	inst := &Instance{
		ID:                params.ID,
		TemplateID:        params.TemplateID,
		TemplateVersion:   params.TemplateVersion,
		LineageID:         params.LineageID,
		StudentID:         params.StudentID,
		AssignedBy:        params.AssignedBy,
		Status:            StatusActive,
		CurrentWeekNumber: 1,
		CurrentWeekStart:  weekStart,
		CurrentWeekEnd:    weekStart.AddDate(0, 0, 7).Add(-time.Second),
		StartedAt:         now,
		Cache: ProgressCache{
			TotalActivities: params.TotalActivities,
		},
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inst.Cache.Recompute()
	return inst, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS (Business Logic)
// ══════════════════════════════════════════════════════════════════════════════

// IsDue возвращает true, если текущая неделя инстанса закончилась
// и инстанс подлежит еженедельному переходу.
func (i *Instance) IsDue(now time.Time) bool {
	return i.Status.IsOpen() && i.CurrentWeekEnd.Before(now)
}

// AdvanceWeek переводит инстанс на следующую неделю.
// Если начало новой недели выходит за дату окончания шаблона,
// инстанс завершается и возвращается terminated=true.
func (i *Instance) AdvanceWeek(templateEndDate time.Time) (terminated bool, err error) {
	if !i.Status.IsOpen() {
		return false, ErrNotOpen
	}

	i.CurrentWeekNumber++
	i.CurrentWeekStart = i.CurrentWeekStart.AddDate(0, 0, 7)
	i.CurrentWeekEnd = i.CurrentWeekEnd.AddDate(0, 0, 7)
	i.Lifetime.WeeksElapsed++
	i.UpdatedAt = time.Now().UTC()

	if !templateEndDate.IsZero() && i.CurrentWeekStart.After(templateEndDate) {
		now := time.Now().UTC()
		i.Status = StatusCompleted
		i.CompletedAt = &now
		return true, nil
	}

	return false, nil
}

// ResetWeekCache обнуляет недельные счётчики для новой недели.
// Накопительные счётчики Lifetime не затрагиваются.
func (i *Instance) ResetWeekCache(totalActivities int) {
	i.Cache.CompletedActivities = 0
	i.Cache.TotalActivities = totalActivities
	i.Cache.Recompute()
	i.UpdatedAt = time.Now().UTC()
}

// ApplyCompletion учитывает завершение одной активности:
// обновляет недельный кеш и накопительные счётчики.
func (i *Instance) ApplyCompletion(points int) {
	i.Cache.CompletedActivities++
	i.Cache.Recompute()
	i.Lifetime.TotalCompleted++
	i.Lifetime.TotalPoints += points
	i.UpdatedAt = time.Now().UTC()
}

// UpdateStreak обновляет серию недель по итогам закрытой недели.
func (i *Instance) UpdateStreak(thresholdMet bool) {
	if thresholdMet {
		i.Cache.StreakWeeks++
	} else {
		i.Cache.StreakWeeks = 0
	}
	i.UpdatedAt = time.Now().UTC()
}

// Pause приостанавливает активный инстанс.
// Приостановленный инстанс продолжает участвовать в еженедельном переходе.
func (i *Instance) Pause() error {
	switch i.Status {
	case StatusPaused:
		return ErrAlreadyPaused
	case StatusCompleted:
		return ErrAlreadyCompleted
	}
	i.Status = StatusPaused
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// Resume возобновляет приостановленный инстанс.
func (i *Instance) Resume() error {
	if i.Status != StatusPaused {
		return ErrNotPaused
	}
	i.Status = StatusActive
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCompleted принудительно завершает инстанс.
func (i *Instance) MarkCompleted() error {
	if i.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	now := time.Now().UTC()
	i.Status = StatusCompleted
	i.CompletedAt = &now
	i.UpdatedAt = now
	return nil
}

// String возвращает строковое представление инстанса для логирования.
func (i *Instance) String() string {
	return fmt.Sprintf(
		"Instance{ID: %s, Student: %s, Template: %s v%d, Week: %d, Status: %s}",
		i.ID, i.StudentID, i.TemplateID, i.TemplateVersion, i.CurrentWeekNumber, i.Status,
	)
}

// Clone создаёт глубокую копию инстанса.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	clone := *i
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}
