// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planloop/schedule-hub/internal/domain/instance"
	"github.com/planloop/schedule-hub/internal/domain/progress"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/domain/snapshot"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET WEEKLY REPORT QUERY
// Возвращает отчёт по одной неделе инстанса: строки прогресса и,
// для закрытых недель, неизменяемый срез производительности.
// Текущая (открытая) неделя считается вживую по строкам - среза
// для неё ещё нет.
// ══════════════════════════════════════════════════════════════════════════════

// GetWeeklyReportQuery содержит параметры запроса недельного отчёта.
type GetWeeklyReportQuery struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Идентификация
	// ─────────────────────────────────────────────────────────────────────────

	// Actor - кто запрашивает отчёт.
	Actor shared.Actor

	// InstanceID - инстанс, по которому строится отчёт.
	InstanceID string

	// ─────────────────────────────────────────────────────────────────────────
	// Период
	// ─────────────────────────────────────────────────────────────────────────

	// WeekNumber - номер недели (0 = текущая неделя инстанса).
	WeekNumber int

	// IncludeRows - включить построчную разбивку активностей.
	IncludeRows bool

	// IncludeInsights - включить шаблонные выводы среза.
	IncludeInsights bool

	// IncludeHistory - включить сводки предыдущих недель.
	IncludeHistory bool

	// HistoryWeeks - глубина истории в неделях (по умолчанию 4, максимум 12).
	HistoryWeeks int
}

// Validate проверяет корректность параметров.
func (q *GetWeeklyReportQuery) Validate() error {
	if !q.Actor.IsValid() {
		return errors.New("valid actor is required")
	}
	if q.InstanceID == "" {
		return errors.New("instance_id is required")
	}
	if q.WeekNumber < 0 {
		return errors.New("week_number cannot be negative")
	}
	if q.HistoryWeeks <= 0 {
		q.HistoryWeeks = 4
	}
	if q.HistoryWeeks > 12 {
		q.HistoryWeeks = 12
	}
	return nil
}

// ReportRowDTO - одна строка прогресса в отчёте.
type ReportRowDTO struct {
	// ProgressID - ID строки прогресса.
	ProgressID string `json:"progress_id"`

	// ActivityID - ID активности в каталоге версии шаблона.
	ActivityID string `json:"activity_id"`

	// Title - название активности из слепка.
	Title string `json:"title"`

	// DayOfWeek - день недели (0 = воскресенье).
	DayOfWeek int `json:"day_of_week"`

	// ScheduledDate - календарная дата активности.
	ScheduledDate time.Time `json:"scheduled_date"`

	// Status - состояние строки.
	Status string `json:"status"`

	// Points - баллы за завершение.
	Points int `json:"points"`

	// CompletedAt - время завершения (если завершена).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// SkipReason - причина пропуска (если пропущена).
	SkipReason string `json:"skip_reason,omitempty"`
}

// WeekSummaryDTO - сводка одной недели.
type WeekSummaryDTO struct {
	// WeekNumber - номер недели.
	WeekNumber int `json:"week_number"`

	// IsClosed - неделя закрыта еженедельным переходом.
	IsClosed bool `json:"is_closed"`

	// CompletionRate - доля завершённых активностей (0-100).
	CompletionRate float64 `json:"completion_rate"`

	// CompletedActivities - завершено активностей.
	CompletedActivities int `json:"completed_activities"`

	// TotalActivities - всего активностей недели.
	TotalActivities int `json:"total_activities"`

	// SkippedActivities - пропущено активностей.
	SkippedActivities int `json:"skipped_activities"`

	// PointsEarned - заработано баллов.
	PointsEarned int `json:"points_earned"`

	// ImprovementFromPreviousWeek - дельта к предыдущей неделе
	// в процентных пунктах (только для закрытых недель).
	ImprovementFromPreviousWeek float64 `json:"improvement_from_previous_week,omitempty"`

	// StreakWeeks - серия недель на конец этой недели.
	StreakWeeks int `json:"streak_weeks,omitempty"`
}

// InsightsDTO - шаблонные выводы закрытой недели.
type InsightsDTO struct {
	Strengths       []string `json:"strengths,omitempty"`
	Challenges      []string `json:"challenges,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// GetWeeklyReportResult содержит результат запроса.
type GetWeeklyReportResult struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Контекст инстанса
	// ─────────────────────────────────────────────────────────────────────────

	// InstanceID - инстанс отчёта.
	InstanceID string `json:"instance_id"`

	// StudentID - студент инстанса.
	StudentID string `json:"student_id"`

	// InstanceStatus - статус инстанса.
	InstanceStatus string `json:"instance_status"`

	// CurrentWeekNumber - текущая неделя инстанса.
	CurrentWeekNumber int `json:"current_week_number"`

	// ─────────────────────────────────────────────────────────────────────────
	// Отчёт недели
	// ─────────────────────────────────────────────────────────────────────────

	// Week - сводка запрошенной недели.
	Week WeekSummaryDTO `json:"week"`

	// Rows - построчная разбивка (если запрошена).
	Rows []ReportRowDTO `json:"rows,omitempty"`

	// Insights - выводы среза (только для закрытых недель).
	Insights *InsightsDTO `json:"insights,omitempty"`

	// History - сводки предыдущих недель (если запрошены).
	History []WeekSummaryDTO `json:"history,omitempty"`

	// ─────────────────────────────────────────────────────────────────────────
	// Метаданные
	// ─────────────────────────────────────────────────────────────────────────

	// GeneratedAt - время генерации отчёта.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetWeeklyReportHandler обрабатывает запросы недельного отчёта.
type GetWeeklyReportHandler struct {
	instanceRepo instance.Repository
	progressRepo progress.Repository
	snapshotRepo snapshot.Repository
	rosterRepo   instance.RosterRepository
}

// NewGetWeeklyReportHandler создаёт новый обработчик.
func NewGetWeeklyReportHandler(
	instanceRepo instance.Repository,
	progressRepo progress.Repository,
	snapshotRepo snapshot.Repository,
	rosterRepo instance.RosterRepository,
) *GetWeeklyReportHandler {
	return &GetWeeklyReportHandler{
		instanceRepo: instanceRepo,
		progressRepo: progressRepo,
		snapshotRepo: snapshotRepo,
		rosterRepo:   rosterRepo,
	}
}

// Handle выполняет запрос.
func (h *GetWeeklyReportHandler) Handle(ctx context.Context, query GetWeeklyReportQuery) (*GetWeeklyReportResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetWeeklyReport", shared.ErrValidation, err.Error(), err)
	}

	inst, err := h.instanceRepo.GetByID(ctx, query.InstanceID)
	if err != nil {
		return nil, shared.WrapError("query", "GetWeeklyReport", shared.ErrNotFound, "instance not found", err)
	}

	if err := h.authorize(ctx, query.Actor, inst); err != nil {
		return nil, err
	}

	week := query.WeekNumber
	if week == 0 {
		week = inst.CurrentWeekNumber
	}
	if week > inst.CurrentWeekNumber {
		return nil, shared.NewDomainError("query", "GetWeeklyReport", shared.ErrValidation, "week is in the future")
	}

	result := &GetWeeklyReportResult{
		InstanceID:        inst.ID,
		StudentID:         inst.StudentID,
		InstanceStatus:    string(inst.Status),
		CurrentWeekNumber: inst.CurrentWeekNumber,
		GeneratedAt:       time.Now().UTC(),
	}

	summary, insights, err := h.buildWeekSummary(ctx, inst, week)
	if err != nil {
		return nil, err
	}
	result.Week = summary
	if query.IncludeInsights {
		result.Insights = insights
	}

	if query.IncludeRows {
		rows, err := h.progressRepo.ListByInstanceWeek(ctx, inst.ID, week)
		if err != nil {
			return nil, fmt.Errorf("get_weekly_report: failed to list rows: %w", err)
		}
		result.Rows = buildReportRows(rows)
	}

	if query.IncludeHistory {
		result.History = h.buildHistory(ctx, inst, week, query.HistoryWeeks)
	}

	return result, nil
}

// authorize разрешает доступ студенту-владельцу, повышенной роли или
// специалисту, у которого студент на ростере.
func (h *GetWeeklyReportHandler) authorize(ctx context.Context, actor shared.Actor, inst *instance.Instance) error {
	if actor.Role.IsElevated() {
		return nil
	}
	if actor.Role == shared.RoleStudent {
		if actor.ID != inst.StudentID {
			return shared.NewDomainError("query", "GetWeeklyReport", shared.ErrForbidden, "students may only view their own reports")
		}
		return nil
	}

	onRoster, err := h.rosterRepo.IsOnRoster(ctx, actor.ID, inst.StudentID)
	if err != nil {
		return fmt.Errorf("get_weekly_report: roster check failed: %w", err)
	}
	if !onRoster {
		return shared.WrapError("query", "GetWeeklyReport", shared.ErrForbidden, "student is not on the professional's roster", shared.ErrNotOnRoster)
	}
	return nil
}

// buildWeekSummary строит сводку недели: из среза для закрытых недель,
// вживую из строк для текущей.
func (h *GetWeeklyReportHandler) buildWeekSummary(ctx context.Context, inst *instance.Instance, week int) (WeekSummaryDTO, *InsightsDTO, error) {
	snap, err := h.snapshotRepo.GetByInstanceWeek(ctx, inst.ID, week)
	if err == nil {
		return snapshotSummary(snap), snapshotInsights(snap), nil
	}
	if !shared.IsNotFound(err) {
		return WeekSummaryDTO{}, nil, fmt.Errorf("get_weekly_report: failed to load snapshot: %w", err)
	}

	// Нет среза: неделя ещё открыта, считаем вживую.
	counts, err := h.progressRepo.CountByInstanceWeek(ctx, inst.ID, week)
	if err != nil {
		return WeekSummaryDTO{}, nil, fmt.Errorf("get_weekly_report: failed to count rows: %w", err)
	}

	summary := WeekSummaryDTO{
		WeekNumber:          week,
		IsClosed:            false,
		CompletedActivities: counts.Completed,
		TotalActivities:     counts.Total,
		SkippedActivities:   counts.Skipped,
		StreakWeeks:         inst.Cache.StreakWeeks,
	}
	if counts.Total > 0 {
		summary.CompletionRate = float64(counts.Completed) / float64(counts.Total) * 100
	}
	return summary, nil, nil
}

// buildHistory собирает сводки недель, предшествующих запрошенной.
// Недостающие срезы просто пропускаются.
func (h *GetWeeklyReportHandler) buildHistory(ctx context.Context, inst *instance.Instance, before, depth int) []WeekSummaryDTO {
	history := make([]WeekSummaryDTO, 0, depth)
	for w := before - 1; w >= 1 && len(history) < depth; w-- {
		snap, err := h.snapshotRepo.GetByInstanceWeek(ctx, inst.ID, w)
		if err != nil {
			continue
		}
		history = append(history, snapshotSummary(snap))
	}
	return history
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// snapshotSummary строит сводку недели из среза.
func snapshotSummary(s *snapshot.Snapshot) WeekSummaryDTO {
	return WeekSummaryDTO{
		WeekNumber:                  s.WeekNumber,
		IsClosed:                    true,
		CompletionRate:              s.Engagement.CompletionRate,
		CompletedActivities:         s.Engagement.CompletedActivities,
		TotalActivities:             s.Engagement.TotalActivities,
		SkippedActivities:           s.Engagement.SkippedActivities,
		PointsEarned:                s.Engagement.PointsEarned,
		ImprovementFromPreviousWeek: s.Performance.ImprovementFromPreviousWeek,
		StreakWeeks:                 s.Performance.StreakWeeks,
	}
}

// snapshotInsights переносит выводы среза в DTO.
func snapshotInsights(s *snapshot.Snapshot) *InsightsDTO {
	if len(s.Insights.Strengths) == 0 &&
		len(s.Insights.Challenges) == 0 &&
		len(s.Insights.Recommendations) == 0 {
		return nil
	}
	return &InsightsDTO{
		Strengths:       s.Insights.Strengths,
		Challenges:      s.Insights.Challenges,
		Recommendations: s.Insights.Recommendations,
	}
}

// buildReportRows строит построчную разбивку отчёта.
func buildReportRows(rows []*progress.Progress) []ReportRowDTO {
	out := make([]ReportRowDTO, 0, len(rows))
	for _, row := range rows {
		dto := ReportRowDTO{
			ProgressID:    row.ID,
			ActivityID:    row.ActivityID,
			Title:         row.Snapshot.Title,
			DayOfWeek:     int(row.DayOfWeek),
			ScheduledDate: row.ScheduledDate,
			Status:        string(row.Status),
			Points:        row.Snapshot.Scoring.PointsOnCompletion,
			SkipReason:    row.SkipReason,
		}
		if row.CompletedAt != nil {
			t := *row.CompletedAt
			dto.CompletedAt = &t
		}
		out = append(out, dto)
	}
	return out
}
