package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/planloop/schedule-hub/internal/application/command"
	"github.com/planloop/schedule-hub/internal/application/query"
	"github.com/planloop/schedule-hub/internal/domain/template"
	"github.com/planloop/schedule-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Schedule Hub API",
		"version":     "v1",
		"description": "Weekly schedule engine: versioned templates, assignments, progress and reports",
		"endpoints": map[string]string{
			"health":    "/health",
			"templates": "/api/v1/templates",
			"instances": "/api/v1/instances/{id}",
			"reports":   "/api/v1/instances/{id}/reports",
			"reset":     "/api/v1/reset/run",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": s.Uptime().String(),
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOs
// ══════════════════════════════════════════════════════════════════════════════

// activityRequest is one activity in a template create/fork request.
// Config carries the {"type": ..., "config": {...}} envelope.
type activityRequest struct {
	Title      string             `json:"title"`
	DayOfWeek  int                `json:"day_of_week"`
	OrderIndex int                `json:"order_index"`
	Config     json.RawMessage    `json:"config"`
	Points     int                `json:"points"`
	Metadata   *template.Metadata `json:"metadata,omitempty"`
}

// toInput decodes the typed config and converts to a command input.
func (a activityRequest) toInput() (command.ActivityInput, error) {
	cfg, err := template.UnmarshalConfig(a.Config)
	if err != nil {
		return command.ActivityInput{}, err
	}

	input := command.ActivityInput{
		Title:      a.Title,
		DayOfWeek:  template.Weekday(a.DayOfWeek),
		OrderIndex: a.OrderIndex,
		Type:       cfg.Type(),
		Config:     cfg,
		Points:     a.Points,
	}
	if a.Metadata != nil {
		input.Metadata = *a.Metadata
	}
	return input, nil
}

func toActivityInputs(reqs []activityRequest) ([]command.ActivityInput, error) {
	inputs := make([]command.ActivityInput, 0, len(reqs))
	for _, a := range reqs {
		input, err := a.toInput()
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func toActiveDays(days []int) template.ActiveDays {
	result := make(template.ActiveDays, 0, len(days))
	for _, d := range days {
		result = append(result, template.Weekday(d))
	}
	return result
}

// decodeBody decodes a JSON request body with a size limit.
func decodeBody(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		return err
	}
	defer r.Body.Close()

	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

// ══════════════════════════════════════════════════════════════════════════════
// TEMPLATE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type createTemplateRequest struct {
	OwnerID       string            `json:"owner_id,omitempty"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Category      string            `json:"category"`
	ActiveDays    []int             `json:"active_days"`
	ResetOnRepeat bool              `json:"reset_on_repeat"`
	StartDate     time.Time         `json:"start_date"`
	EndDate       time.Time         `json:"end_date"`
	Activities    []activityRequest `json:"activities"`
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var req createTemplateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	activities, err := toActivityInputs(req.Activities)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_activity_config", err.Error())
		return
	}

	cmd := command.CreateTemplateCommand{
		Actor:         actor,
		OwnerID:       req.OwnerID,
		Name:          req.Name,
		Description:   req.Description,
		Category:      template.Category(req.Category),
		ActiveDays:    toActiveDays(req.ActiveDays),
		RepeatRules:   template.RepeatRules{ResetOnRepeat: req.ResetOnRepeat},
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Activities:    activities,
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.CreateTemplateHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

type forkTemplateRequest struct {
	Name          string            `json:"name,omitempty"`
	Description   string            `json:"description,omitempty"`
	Category      string            `json:"category,omitempty"`
	ActiveDays    []int             `json:"active_days,omitempty"`
	ResetOnRepeat *bool             `json:"reset_on_repeat,omitempty"`
	StartDate     time.Time         `json:"start_date,omitempty"`
	EndDate       time.Time         `json:"end_date,omitempty"`
	Activities    []activityRequest `json:"activities,omitempty"`
}

// handleForkTemplate handles POST /api/v1/templates/{id}/fork
//
// Editing a published version is expressed as a fork: the endpoint
// returns a fresh version and leaves the edited one untouched.
func (s *Server) handleForkTemplate(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var req forkTemplateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	activities, err := toActivityInputs(req.Activities)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_activity_config", err.Error())
		return
	}

	cmd := command.ForkTemplateCommand{
		Actor:         actor,
		TemplateID:    r.PathValue("id"),
		Name:          req.Name,
		Description:   req.Description,
		Category:      template.Category(req.Category),
		ActiveDays:    toActiveDays(req.ActiveDays),
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Activities:    activities,
		CorrelationID: getRequestID(r.Context()),
	}
	if req.ResetOnRepeat != nil {
		cmd.RepeatRules = &template.RepeatRules{ResetOnRepeat: *req.ResetOnRepeat}
	}

	result, err := s.deps.ForkTemplateHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleArchiveTemplate handles POST /api/v1/templates/{id}/archive
func (s *Server) handleArchiveTemplate(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	cmd := command.ArchiveTemplateCommand{
		Actor:         actor,
		TemplateID:    r.PathValue("id"),
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.ArchiveTemplateHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	q := query.ListTemplatesQuery{
		Actor:           actor,
		OwnerID:         getQueryParam(r, "owner_id", ""),
		LineageID:       getQueryParam(r, "lineage_id", ""),
		IncludeArchived: getQueryParamBool(r, "include_archived"),
		Page:            getQueryParamInt(r, "page", 1),
		PageSize:        getQueryParamInt(r, "page_size", 0),
	}

	result, err := s.deps.ListTemplatesHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENT HANDLER
// ══════════════════════════════════════════════════════════════════════════════

type assignStudentsRequest struct {
	StudentIDs []string  `json:"student_ids"`
	WeekStart  time.Time `json:"week_start,omitempty"`
}

// handleAssignStudents handles POST /api/v1/templates/{id}/assignments
func (s *Server) handleAssignStudents(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var req assignStudentsRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	cmd := command.AssignStudentsCommand{
		Actor:         actor,
		TemplateID:    r.PathValue("id"),
		StudentIDs:    req.StudentIDs,
		WeekStart:     req.WeekStart,
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.AssignStudentsHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	// Partial failures are a 200: the per-student breakdown is the result.
	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type transitionActivityRequest struct {
	Transition    string                 `json:"transition"`
	ExecutionData map[string]interface{} `json:"execution_data,omitempty"`
	SkipReason    string                 `json:"skip_reason,omitempty"`
}

// handleTransitionActivity handles POST /api/v1/progress/{id}/transition
func (s *Server) handleTransitionActivity(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var req transitionActivityRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	cmd := command.TransitionActivityCommand{
		Actor:         actor,
		ProgressID:    r.PathValue("id"),
		Transition:    command.TransitionType(req.Transition),
		ExecutionData: req.ExecutionData,
		SkipReason:    req.SkipReason,
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.TransitionActivityHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handlePauseInstance handles POST /api/v1/instances/{id}/pause
func (s *Server) handlePauseInstance(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	cmd := command.PauseInstanceCommand{
		Actor:         actor,
		InstanceID:    r.PathValue("id"),
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.InstanceStatusHandler.HandlePause(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleResumeInstance handles POST /api/v1/instances/{id}/resume
func (s *Server) handleResumeInstance(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	cmd := command.ResumeInstanceCommand{
		Actor:         actor,
		InstanceID:    r.PathValue("id"),
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.InstanceStatusHandler.HandleResume(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// READ MODEL HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetInstanceProgress handles GET /api/v1/instances/{id}
func (s *Server) handleGetInstanceProgress(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	instanceID := r.PathValue("id")

	// A cache hit is served only to the owning student or an elevated
	// actor; professionals fall through to the query, which checks the
	// roster relation.
	if s.deps.ReportCache != nil {
		if cached, ok := s.deps.ReportCache.GetInstanceView(r.Context(), instanceID); ok {
			if actor.Role.IsElevated() || actor.ID == cached.StudentID {
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}
	}

	q := query.GetInstanceProgressQuery{
		Actor:      actor,
		InstanceID: instanceID,
	}

	result, err := s.deps.GetInstanceProgressHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if s.deps.ReportCache != nil {
		if err := s.deps.ReportCache.SetInstanceView(r.Context(), instanceID, result); err != nil {
			s.logger.Warn("failed to cache instance view", logger.Err(err))
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetWeeklyReport handles GET /api/v1/instances/{id}/reports
//
// Query parameters: week (0 = current), rows, insights, history,
// history_weeks. Closed-week reports are immutable and cached long.
func (s *Server) handleGetWeeklyReport(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorFromRequest(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	instanceID := r.PathValue("id")
	week := getQueryParamInt(r, "week", 0)

	q := query.GetWeeklyReportQuery{
		Actor:           actor,
		InstanceID:      instanceID,
		WeekNumber:      week,
		IncludeRows:     getQueryParamBool(r, "rows"),
		IncludeInsights: getQueryParamBool(r, "insights"),
		IncludeHistory:  getQueryParamBool(r, "history"),
		HistoryWeeks:    getQueryParamInt(r, "history_weeks", 4),
	}

	// Only the canonical full report shape is cached: explicit week,
	// rows and insights included, no history.
	cacheable := s.deps.ReportCache != nil && week > 0 &&
		q.IncludeRows && q.IncludeInsights && !q.IncludeHistory

	if cacheable {
		if cached, ok := s.deps.ReportCache.GetReport(r.Context(), instanceID, week); ok {
			if actor.Role.IsElevated() || actor.ID == cached.StudentID {
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}
	}

	result, err := s.deps.GetWeeklyReportHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if cacheable {
		if err := s.deps.ReportCache.SetReport(r.Context(), instanceID, week, result, result.Week.IsClosed); err != nil {
			s.logger.Warn("failed to cache weekly report", logger.Err(err))
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMINISTRATION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type runResetRequest struct {
	DryRun    bool `json:"dry_run,omitempty"`
	BatchSize int  `json:"batch_size,omitempty"`
}

// handleRunReset handles POST /api/v1/reset/run
//
// The manual trigger behind the scheduled run: same handler, same
// idempotency. Elevated actors only; dry_run computes the outcome
// without writing.
func (s *Server) handleRunReset(w http.ResponseWriter, r *http.Request) {
	actor, err := s.requireElevated(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var req runResetRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	cmd := command.RunResetCommand{
		Actor:         actor,
		DryRun:        req.DryRun,
		BatchSize:     req.BatchSize,
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.RunResetHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("manual reset run finished",
		logger.String("run_id", result.RunID),
		logger.Bool("dry_run", result.DryRun),
		logger.Int("processed", result.Processed),
		logger.Int("failed", len(result.Failed)),
	)

	writeJSON(w, http.StatusOK, result)
}
