package template

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY ENTITY
// Активность принадлежит ровно одной версии шаблона.
// ══════════════════════════════════════════════════════════════════════════════

// Difficulty определяет субъективную сложность активности.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid проверяет, что сложность корректна.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// Scoring определяет начисление баллов за активность.
type Scoring struct {
	// PointsOnCompletion - баллы, начисляемые при завершении. Начисление
	// атомарно связано с переходом в статус completed.
	PointsOnCompletion int `json:"points_on_completion"`
}

// IsValid проверяет, что баллы неотрицательны.
func (s Scoring) IsValid() bool {
	return s.PointsOnCompletion >= 0
}

// Metadata содержит описательные атрибуты активности.
type Metadata struct {
	// EstimatedDurationMinutes - ожидаемая длительность в минутах.
	EstimatedDurationMinutes int `json:"estimated_duration_minutes"`

	// Difficulty - сложность активности.
	Difficulty Difficulty `json:"difficulty"`

	// FocusTags - теги направленности (например, "attention", "motor").
	FocusTags []string `json:"focus_tags,omitempty"`
}

// Activity - типизированная активность внутри версии шаблона.
type Activity struct {
	// ID - уникальный идентификатор активности (UUID).
	ID string

	// TemplateID - версия шаблона, которой принадлежит активность.
	TemplateID string

	// Title - название активности.
	Title string

	// DayOfWeek - день недели; обязан входить в activeDays шаблона.
	DayOfWeek Weekday

	// OrderIndex - порядок внутри дня; уникален в рамках (шаблон, день).
	OrderIndex int

	// Type - тип активности (дискриминант tagged union).
	Type ActivityType

	// Config - типоспецифичная конфигурация.
	Config Config

	// Scoring - правила начисления баллов.
	Scoring Scoring

	// Metadata - описательные атрибуты.
	Metadata Metadata
}

// Validate проверяет корректность активности, включая её конфигурацию.
func (a *Activity) Validate() error {
	if a.ID == "" {
		return errors.New("activity id is required")
	}
	title := strings.TrimSpace(a.Title)
	if len(title) == 0 || len(title) > 200 {
		return errors.New("activity title must be 1-200 chars")
	}
	if !a.DayOfWeek.IsValid() {
		return errors.New("activity day of week must be 0-6")
	}
	if a.OrderIndex < 0 {
		return errors.New("activity order index cannot be negative")
	}
	if !a.Type.IsValid() {
		return ErrUnknownType
	}
	if a.Config == nil {
		return errors.New("activity config is required")
	}
	if a.Config.Type() != a.Type {
		return errors.New("activity config type does not match activity type")
	}
	if err := a.Config.Validate(); err != nil {
		return err
	}
	if !a.Scoring.IsValid() {
		return errors.New("activity points cannot be negative")
	}
	if a.Metadata.EstimatedDurationMinutes < 0 {
		return errors.New("activity estimated duration cannot be negative")
	}
	if a.Metadata.Difficulty != "" && !a.Metadata.Difficulty.IsValid() {
		return errors.New("invalid activity difficulty")
	}
	return nil
}

// Clone создаёт глубокую копию активности.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Metadata.FocusTags = append([]string(nil), a.Metadata.FocusTags...)
	// Config типы - value-типы без указателей внутри, кроме слайсов;
	// сериализация через envelope даёт независимую копию.
	if a.Config != nil {
		if raw, err := MarshalConfig(a.Config); err == nil {
			if cfg, err := UnmarshalConfig(raw); err == nil {
				clone.Config = cfg
			}
		}
	}
	return &clone
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY SNAPSHOT
// Неизменяемая копия определения активности, встраиваемая в строку прогресса
// в момент её генерации. Изолирует прошедшие недели от последующих
// редактирований шаблона.
// ══════════════════════════════════════════════════════════════════════════════

// ActivitySnapshot - сериализуемый слепок активности.
type ActivitySnapshot struct {
	ActivityID string          `json:"activity_id"`
	TemplateID string          `json:"template_id"`
	Title      string          `json:"title"`
	DayOfWeek  Weekday         `json:"day_of_week"`
	OrderIndex int             `json:"order_index"`
	Type       ActivityType    `json:"type"`
	Config     json.RawMessage `json:"config"`
	Scoring    Scoring         `json:"scoring"`
	Metadata   Metadata        `json:"metadata"`
	TakenAt    time.Time       `json:"taken_at"`
}

// Snapshot создаёт слепок активности для встраивания в строку прогресса.
func (a *Activity) Snapshot(at time.Time) (ActivitySnapshot, error) {
	raw, err := MarshalConfig(a.Config)
	if err != nil {
		return ActivitySnapshot{}, err
	}
	return ActivitySnapshot{
		ActivityID: a.ID,
		TemplateID: a.TemplateID,
		Title:      a.Title,
		DayOfWeek:  a.DayOfWeek,
		OrderIndex: a.OrderIndex,
		Type:       a.Type,
		Config:     raw,
		Scoring:    a.Scoring,
		Metadata: Metadata{
			EstimatedDurationMinutes: a.Metadata.EstimatedDurationMinutes,
			Difficulty:               a.Metadata.Difficulty,
			FocusTags:                append([]string(nil), a.Metadata.FocusTags...),
		},
		TakenAt: at.UTC(),
	}, nil
}

// DecodeConfig восстанавливает типизированную конфигурацию из слепка.
func (s ActivitySnapshot) DecodeConfig() (Config, error) {
	return UnmarshalConfig(s.Config)
}
