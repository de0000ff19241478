// Package template содержит доменную модель версионируемого шаблона расписания.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Weekday представляет день недели (0 = воскресенье, 6 = суббота).
type Weekday int

// IsValid проверяет, что день недели в диапазоне 0-6.
func (w Weekday) IsValid() bool {
	return w >= 0 && w <= 6
}

// String возвращает английское название дня недели.
func (w Weekday) String() string {
	return time.Weekday(w).String()
}

// ActiveDays представляет множество активных дней недели шаблона.
type ActiveDays []Weekday

// IsValid проверяет, что множество непустое и все дни корректны.
func (d ActiveDays) IsValid() bool {
	if len(d) == 0 {
		return false
	}
	seen := make(map[Weekday]bool, len(d))
	for _, day := range d {
		if !day.IsValid() || seen[day] {
			return false
		}
		seen[day] = true
	}
	return true
}

// Contains проверяет, входит ли день в множество.
func (d ActiveDays) Contains(day Weekday) bool {
	for _, existing := range d {
		if existing == day {
			return true
		}
	}
	return false
}

// Normalized возвращает отсортированную копию без дубликатов.
func (d ActiveDays) Normalized() ActiveDays {
	seen := make(map[Weekday]bool, len(d))
	out := make(ActiveDays, 0, len(d))
	for _, day := range d {
		if seen[day] {
			continue
		}
		seen[day] = true
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Category определяет категорию шаблона расписания.
type Category string

const (
	// CategoryTherapeutic - терапевтический план.
	CategoryTherapeutic Category = "therapeutic"
	// CategoryEducational - образовательный план.
	CategoryEducational Category = "educational"
	// CategoryMixed - смешанный план.
	CategoryMixed Category = "mixed"
)

// IsValid проверяет, что категория корректна.
func (c Category) IsValid() bool {
	switch c {
	case CategoryTherapeutic, CategoryEducational, CategoryMixed:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление категории.
func (c Category) String() string {
	return string(c)
}

// RepeatRules определяет поведение шаблона при еженедельном переходе.
type RepeatRules struct {
	// ResetOnRepeat - генерировать ли новые строки прогресса каждую неделю.
	// Если false, инстанс продвигается по неделям без пересоздания активностей.
	ResetOnRepeat bool
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: TEMPLATE
// ══════════════════════════════════════════════════════════════════════════════

// Template - версионируемый шаблон недельного расписания.
//
// Шаблон, на который ссылается хотя бы один инстанс, никогда не изменяется
// на месте: любое редактирование порождает новую версию (fork) с новым ID,
// а старая версия остаётся доступной для уже назначенных инстансов.
type Template struct {
	// ID - уникальный идентификатор конкретной версии (UUID).
	ID string

	// LineageID - идентификатор линии версий. Все форки одного шаблона
	// разделяют один LineageID.
	LineageID string

	// Version - монотонно растущий номер версии внутри линии.
	Version int

	// OwnerID - идентификатор специалиста, создавшего шаблон.
	OwnerID string

	// Name - название шаблона.
	Name string

	// Description - описание для специалиста и студента.
	Description string

	// Category - категория плана.
	Category Category

	// ActiveDays - дни недели, в которые назначены активности.
	ActiveDays ActiveDays

	// RepeatRules - правила еженедельного повторения.
	RepeatRules RepeatRules

	// StartDate - дата начала действия шаблона.
	StartDate time.Time

	// EndDate - дата окончания действия шаблона.
	EndDate time.Time

	// IsActive - false, если шаблон архивирован. Архивированный шаблон
	// нельзя назначать, но он остаётся доступным для чтения.
	IsActive bool

	// Activities - активности этой версии шаблона.
	Activities []Activity

	// CreatedAt - время создания версии.
	CreatedAt time.Time

	// UpdatedAt - время последнего обновления (архивация).
	UpdatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidName - невалидное название шаблона.
	ErrInvalidName = errors.New("invalid template name: must be 1-150 chars")

	// ErrInvalidCategory - невалидная категория.
	ErrInvalidCategory = errors.New("invalid template category")

	// ErrEmptyActiveDays - пустое или некорректное множество активных дней.
	ErrEmptyActiveDays = errors.New("active days must be a non-empty set of weekdays 0-6")

	// ErrNoActivities - шаблон без активностей.
	ErrNoActivities = errors.New("template must contain at least one activity")

	// ErrDayNotActive - активность назначена на день вне activeDays.
	ErrDayNotActive = errors.New("activity day is not in template active days")

	// ErrDuplicateOrderIndex - повторяющийся orderIndex внутри одного дня.
	ErrDuplicateOrderIndex = errors.New("duplicate activity order index within a day")

	// ErrInvalidDateRange - endDate не позже startDate.
	ErrInvalidDateRange = errors.New("end date must be after start date")

	// ErrAlreadyArchived - шаблон уже архивирован.
	ErrAlreadyArchived = errors.New("template is already archived")

	// ErrNotOwner - операция доступна только владельцу шаблона.
	ErrNotOwner = errors.New("operation requires template ownership")
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewTemplateParams содержит параметры для создания новой версии шаблона.
type NewTemplateParams struct {
	ID          string
	LineageID   string
	Version     int
	OwnerID     string
	Name        string
	Description string
	Category    Category
	ActiveDays  ActiveDays
	RepeatRules RepeatRules
	StartDate   time.Time
	EndDate     time.Time
	Activities  []Activity
}

// NewTemplate создаёт новую версию шаблона с валидацией всех полей.
func NewTemplate(params NewTemplateParams) (*Template, error) {
	if params.ID == "" {
		return nil, errors.New("template id is required")
	}
	if params.LineageID == "" {
		return nil, errors.New("template lineage id is required")
	}
	if params.Version < 1 {
		return nil, errors.New("template version must be >= 1")
	}
	if params.OwnerID == "" {
		return nil, errors.New("template owner id is required")
	}

	name := strings.TrimSpace(params.Name)
	if len(name) == 0 || len(name) > 150 {
		return nil, ErrInvalidName
	}

	if !params.Category.IsValid() {
		return nil, ErrInvalidCategory
	}

	if !params.ActiveDays.IsValid() {
		return nil, ErrEmptyActiveDays
	}
	activeDays := params.ActiveDays.Normalized()

	if params.StartDate.IsZero() || params.EndDate.IsZero() || !params.EndDate.After(params.StartDate) {
		return nil, ErrInvalidDateRange
	}

	if len(params.Activities) == 0 {
		return nil, ErrNoActivities
	}

	// Проверяем каждую активность и уникальность orderIndex внутри дня.
	seenOrder := make(map[Weekday]map[int]bool)
	activities := make([]Activity, 0, len(params.Activities))
	for i := range params.Activities {
		a := params.Activities[i]
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("activity %q: %w", a.Title, err)
		}
		if !activeDays.Contains(a.DayOfWeek) {
			return nil, fmt.Errorf("activity %q on day %d: %w", a.Title, a.DayOfWeek, ErrDayNotActive)
		}
		if seenOrder[a.DayOfWeek] == nil {
			seenOrder[a.DayOfWeek] = make(map[int]bool)
		}
		if seenOrder[a.DayOfWeek][a.OrderIndex] {
			return nil, fmt.Errorf("activity %q on day %d index %d: %w", a.Title, a.DayOfWeek, a.OrderIndex, ErrDuplicateOrderIndex)
		}
		seenOrder[a.DayOfWeek][a.OrderIndex] = true
		a.TemplateID = params.ID
		activities = append(activities, a)
	}

	now := time.Now().UTC()

	return &Template{
		ID:          params.ID,
		LineageID:   params.LineageID,
		Version:     params.Version,
		OwnerID:     params.OwnerID,
		Name:        name,
		Description: strings.TrimSpace(params.Description),
		Category:    params.Category,
		ActiveDays:  activeDays,
		RepeatRules: params.RepeatRules,
		StartDate:   params.StartDate,
		EndDate:     params.EndDate,
		IsActive:    true,
		Activities:  activities,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS (Business Logic)
// ══════════════════════════════════════════════════════════════════════════════

// ActivitiesForDay возвращает активности указанного дня,
// отсортированные по orderIndex.
func (t *Template) ActivitiesForDay(day Weekday) []Activity {
	out := make([]Activity, 0)
	for _, a := range t.Activities {
		if a.DayOfWeek == day {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

// WeeklyActivityCount возвращает количество активностей одной недели.
func (t *Template) WeeklyActivityCount() int {
	count := 0
	for _, a := range t.Activities {
		if t.ActiveDays.Contains(a.DayOfWeek) {
			count++
		}
	}
	return count
}

// IsOwnedBy проверяет владение шаблоном.
func (t *Template) IsOwnedBy(ownerID string) bool {
	return t.OwnerID == ownerID
}

// Archive архивирует шаблон. Архивированный шаблон нельзя назначать,
// но существующие инстансы продолжают на него ссылаться.
func (t *Template) Archive() error {
	if !t.IsActive {
		return ErrAlreadyArchived
	}
	t.IsActive = false
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// ForkParams содержит изменяемые поля для новой версии шаблона.
// Незаполненные поля наследуются от текущей версии.
type ForkParams struct {
	NewID       string
	Name        string
	Description string
	Category    Category
	ActiveDays  ActiveDays
	RepeatRules *RepeatRules
	StartDate   time.Time
	EndDate     time.Time
	Activities  []Activity
}

// Fork создаёт новую версию шаблона в той же линии.
// Текущая версия остаётся неизменной (audit immutability).
func (t *Template) Fork(params ForkParams) (*Template, error) {
	next := NewTemplateParams{
		ID:          params.NewID,
		LineageID:   t.LineageID,
		Version:     t.Version + 1,
		OwnerID:     t.OwnerID,
		Name:        t.Name,
		Description: t.Description,
		Category:    t.Category,
		ActiveDays:  t.ActiveDays,
		RepeatRules: t.RepeatRules,
		StartDate:   t.StartDate,
		EndDate:     t.EndDate,
		Activities:  cloneActivities(t.Activities),
	}

	if params.Name != "" {
		next.Name = params.Name
	}
	if params.Description != "" {
		next.Description = params.Description
	}
	if params.Category != "" {
		next.Category = params.Category
	}
	if len(params.ActiveDays) > 0 {
		next.ActiveDays = params.ActiveDays
	}
	if params.RepeatRules != nil {
		next.RepeatRules = *params.RepeatRules
	}
	if !params.StartDate.IsZero() {
		next.StartDate = params.StartDate
	}
	if !params.EndDate.IsZero() {
		next.EndDate = params.EndDate
	}
	if len(params.Activities) > 0 {
		next.Activities = params.Activities
	}

	return NewTemplate(next)
}

// String возвращает строковое представление шаблона для логирования.
func (t *Template) String() string {
	return fmt.Sprintf(
		"Template{ID: %s, Lineage: %s, Version: %d, Name: %s, Active: %t}",
		t.ID, t.LineageID, t.Version, t.Name, t.IsActive,
	)
}

// Clone создаёт глубокую копию шаблона.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	clone := *t
	clone.ActiveDays = append(ActiveDays(nil), t.ActiveDays...)
	clone.Activities = cloneActivities(t.Activities)
	return &clone
}

func cloneActivities(in []Activity) []Activity {
	out := make([]Activity, len(in))
	for i := range in {
		out[i] = *in[i].Clone()
	}
	return out
}
