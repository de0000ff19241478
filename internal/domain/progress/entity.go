// Package progress содержит доменную модель прогресса по активности:
// одну строку на (инстанс, неделя, активность) и её машину состояний.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/template"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
//
//	pending → in_progress → completed
//	pending | in_progress → skipped
//
// completed и skipped - терминальные состояния.
// ══════════════════════════════════════════════════════════════════════════════

// Status определяет статус выполнения активности.
type Status string

const (
	// StatusPending - активность ещё не начата.
	StatusPending Status = "pending"
	// StatusInProgress - студент начал выполнение.
	StatusInProgress Status = "in_progress"
	// StatusCompleted - активность завершена; баллы начислены.
	StatusCompleted Status = "completed"
	// StatusSkipped - активность пропущена; баллы не начисляются.
	StatusSkipped Status = "skipped"
)

// IsValid проверяет, что статус корректен.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true для терминальных состояний.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// ExecutionData - типоспецифичный payload выполнения активности.
// Для черновиков сливается по ключам, при завершении перезаписывается.
type ExecutionData map[string]interface{}

// Merge сливает данные по ключам поверх существующих.
func (d ExecutionData) Merge(partial ExecutionData) ExecutionData {
	if d == nil {
		d = make(ExecutionData, len(partial))
	}
	for k, v := range partial {
		d[k] = v
	}
	return d
}

// Clone создаёт неглубокую копию данных выполнения.
func (d ExecutionData) Clone() ExecutionData {
	if d == nil {
		return nil
	}
	out := make(ExecutionData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// Progress - строка прогресса одной активности одной недели инстанса.
//
// Инвариант: ровно одна строка на (instanceId, weekNumber, activityId).
// Определение активности хранится как неизменяемый слепок, снятый
// в момент генерации строки.
type Progress struct {
	// ID - уникальный идентификатор строки (UUID).
	ID string

	// InstanceID - инстанс, которому принадлежит строка.
	InstanceID string

	// StudentID - студент (денормализовано для выборок).
	StudentID string

	// WeekNumber - номер недели инстанса.
	WeekNumber int

	// DayOfWeek - день недели активности.
	DayOfWeek template.Weekday

	// ActivityID - ID активности в каталоге шаблона.
	ActivityID string

	// Snapshot - неизменяемый слепок определения активности.
	Snapshot template.ActivitySnapshot

	// Status - текущее состояние машины состояний.
	Status Status

	// ExecutionData - данные выполнения (черновики и финальный ответ).
	ExecutionData ExecutionData

	// ScheduledDate - календарная дата, на которую назначена активность.
	ScheduledDate time.Time

	// StartedAt - время перехода pending → in_progress.
	StartedAt *time.Time

	// CompletedAt - время завершения.
	CompletedAt *time.Time

	// SkippedAt - время пропуска.
	SkippedAt *time.Time

	// SkipReason - причина пропуска (опционально).
	SkipReason string

	// Revision - токен оптимистичной конкурентности.
	Revision int64

	// CreatedAt - время генерации строки.
	CreatedAt time.Time

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrTerminalState - строка в терминальном состоянии не изменяется.
	ErrTerminalState = errors.New("progress is in a terminal state")

	// ErrNotInProgress - завершить можно только начатую активность.
	ErrNotInProgress = errors.New("progress must be in_progress to complete")

	// ErrInvalidTransition - недопустимый переход машины состояний.
	ErrInvalidTransition = errors.New("invalid progress state transition")
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY
// ══════════════════════════════════════════════════════════════════════════════

// NewProgressParams содержит параметры генерации строки прогресса.
type NewProgressParams struct {
	ID            string
	InstanceID    string
	StudentID     string
	WeekNumber    int
	Activity      template.Activity
	ScheduledDate time.Time
}

// NewProgress генерирует строку прогресса в состоянии pending,
// снимая слепок определения активности.
func NewProgress(params NewProgressParams) (*Progress, error) {
	if params.ID == "" {
		return nil, errors.New("progress id is required")
	}
	if params.InstanceID == "" {
		return nil, errors.New("progress instance id is required")
	}
	if params.StudentID == "" {
		return nil, errors.New("progress student id is required")
	}
	if params.WeekNumber < 1 {
		return nil, errors.New("progress week number must be >= 1")
	}

	now := time.Now().UTC()
	snap, err := params.Activity.Snapshot(now)
	if err != nil {
		return nil, fmt.Errorf("snapshot activity %s: %w", params.Activity.ID, err)
	}

	return &Progress{
		ID:            params.ID,
		InstanceID:    params.InstanceID,
		StudentID:     params.StudentID,
		WeekNumber:    params.WeekNumber,
		DayOfWeek:     params.Activity.DayOfWeek,
		ActivityID:    params.Activity.ID,
		Snapshot:      snap,
		Status:        StatusPending,
		ScheduledDate: params.ScheduledDate,
		Revision:      1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS (Business Logic)
// ══════════════════════════════════════════════════════════════════════════════

// Start переводит pending → in_progress.
// Повторный вызов на уже начатой активности - идемпотентный no-op.
func (p *Progress) Start() error {
	switch p.Status {
	case StatusInProgress:
		return nil
	case StatusPending:
		now := time.Now().UTC()
		p.Status = StatusInProgress
		p.StartedAt = &now
		p.UpdatedAt = now
		return nil
	default:
		return ErrTerminalState
	}
}

// Complete переводит in_progress → completed и фиксирует финальные данные.
// Возвращает количество баллов к начислению. Сам вызов не начисляет
// баллы - атомарность начисления обеспечивает хранилище.
func (p *Progress) Complete(data ExecutionData) (points int, err error) {
	if p.Status.IsTerminal() {
		return 0, ErrTerminalState
	}
	if p.Status != StatusInProgress {
		return 0, ErrNotInProgress
	}

	now := time.Now().UTC()
	p.Status = StatusCompleted
	p.ExecutionData = data.Clone()
	p.CompletedAt = &now
	p.UpdatedAt = now
	return p.Snapshot.Scoring.PointsOnCompletion, nil
}

// Skip переводит pending|in_progress → skipped. Баллы не начисляются.
func (p *Progress) Skip(reason string) error {
	if p.Status.IsTerminal() {
		return ErrTerminalState
	}

	now := time.Now().UTC()
	p.Status = StatusSkipped
	p.SkipReason = reason
	p.SkippedAt = &now
	p.UpdatedAt = now
	return nil
}

// SaveDraft сливает частичные данные выполнения без смены статуса.
// Допустим только в нетерминальных состояниях.
func (p *Progress) SaveDraft(partial ExecutionData) error {
	if p.Status.IsTerminal() {
		return ErrTerminalState
	}

	p.ExecutionData = p.ExecutionData.Merge(partial)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal возвращает true, если строка в терминальном состоянии.
func (p *Progress) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// String возвращает строковое представление для логирования.
func (p *Progress) String() string {
	return fmt.Sprintf(
		"Progress{ID: %s, Instance: %s, Week: %d, Activity: %s, Status: %s}",
		p.ID, p.InstanceID, p.WeekNumber, p.ActivityID, p.Status,
	)
}

// Clone создаёт глубокую копию строки прогресса.
func (p *Progress) Clone() *Progress {
	if p == nil {
		return nil
	}
	clone := *p
	clone.ExecutionData = p.ExecutionData.Clone()
	if p.StartedAt != nil {
		t := *p.StartedAt
		clone.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		clone.CompletedAt = &t
	}
	if p.SkippedAt != nil {
		t := *p.SkippedAt
		clone.SkippedAt = &t
	}
	return &clone
}
