package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/labelmint/labelmint/internal/app/engine"
	"github.com/labelmint/labelmint/internal/domain"
)

// ─── Request Bodies ─────────────────────────────────────────────────────────

type createTaskRequest struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"project_id" validate:"required"`
	Type               domain.TaskType `json:"type" validate:"required"`
	Priority           domain.Priority `json:"priority"`
	LabelsRequired     int             `json:"labels_required" validate:"gte=1"`
	ConsensusThreshold int             `json:"consensus_threshold" validate:"gte=1"`
	Reward             int64           `json:"reward" validate:"gte=0"`
	TimeLimitSeconds   int             `json:"time_limit_seconds" validate:"gt=0"`
	IsHoneypot         bool            `json:"is_honeypot"`
	ExpectedLabel      string          `json:"expected_label"`
}

type assignRequest struct {
	WorkerID string `json:"worker_id"`
}

type labelRequest struct {
	Value       string   `json:"value" validate:"required"`
	Confidence  *float64 `json:"confidence" validate:"required"`
	TimeSpentMS int64    `json:"time_spent_ms" validate:"gte=0"`
}

type batchAssignRequest struct {
	TaskIDs  []string `json:"task_ids" validate:"required,min=1,max=100,dive,required"`
	WorkerID string   `json:"worker_id"`
}

type batchLabel struct {
	TaskID      string   `json:"task_id" validate:"required"`
	Value       string   `json:"value" validate:"required"`
	Confidence  *float64 `json:"confidence" validate:"required"`
	TimeSpentMS int64    `json:"time_spent_ms" validate:"gte=0"`
}

type batchLabelsRequest struct {
	Labels []batchLabel `json:"labels" validate:"required,min=1,max=100,dive"`
}

type registerWorkerRequest struct {
	ID         string  `json:"id" validate:"required"`
	Reputation float64 `json:"reputation"`
	Accuracy   float64 `json:"accuracy"`
}

type fundRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !s.decode(w, r, &req) {
		return
	}
	task, err := s.engine.CreateTask(r.Context(), domain.Task{
		ID:                 req.ID,
		ProjectID:          req.ProjectID,
		Type:               req.Type,
		Priority:           req.Priority,
		LabelsRequired:     req.LabelsRequired,
		ConsensusThreshold: req.ConsensusThreshold,
		Reward:             req.Reward,
		TimeLimit:          time.Duration(req.TimeLimitSeconds) * time.Second,
		IsHoneypot:         req.IsHoneypot,
		ExpectedLabel:      req.ExpectedLabel,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !s.decode(w, r, &req) {
		return
	}
	workerID := req.WorkerID
	if workerID == "" {
		workerID = workerFrom(r)
	}
	if workerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "worker_id or "+WorkerHeader+" is required")
		return
	}
	task, err := s.engine.AssignTask(r.Context(), chi.URLParam(r, "id"), workerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.AutoAssignTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleReassign(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.ReassignExpiredTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.StartTask(r.Context(), chi.URLParam(r, "id"), workerFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleLabel(w http.ResponseWriter, r *http.Request) {
	req, ok := s.labelFrom(w, r)
	if !ok {
		return
	}
	out, err := s.engine.SubmitLabel(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleHoneypotLabel(w http.ResponseWriter, r *http.Request) {
	req, ok := s.labelFrom(w, r)
	if !ok {
		return
	}
	res, err := s.engine.SubmitHoneypotLabel(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) labelFrom(w http.ResponseWriter, r *http.Request) (engine.LabelRequest, bool) {
	var body labelRequest
	if !s.decode(w, r, &body) {
		return engine.LabelRequest{}, false
	}
	return engine.LabelRequest{
		TaskID:     chi.URLParam(r, "id"),
		WorkerID:   workerFrom(r),
		Value:      body.Value,
		Confidence: *body.Confidence,
		TimeSpent:  time.Duration(body.TimeSpentMS) * time.Millisecond,
	}, true
}

func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetConsensus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReviewersNeeded(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.GetAdditionalReviewersNeeded(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"additional_reviewers": n})
}

// handleExpire runs one sweep; ?reassign=true also reassigns what expired.
func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	reassign := false
	if v := r.URL.Query().Get("reassign"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "reassign must be a boolean")
			return
		}
		reassign = b
	}
	writeJSON(w, http.StatusOK, engine.Sweep(r.Context(), s.engine, reassign))
}

// ─── Batches ────────────────────────────────────────────────────────────────

type batchItem struct {
	TaskID  string      `json:"task_id"`
	OK      bool        `json:"ok"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
	ErrKind string      `json:"error_type,omitempty"`
}

func itemFor(taskID string, result interface{}, err error) batchItem {
	if err != nil {
		return batchItem{TaskID: taskID, Error: err.Error(), ErrKind: domain.ErrorKind(err)}
	}
	return batchItem{TaskID: taskID, OK: true, Result: result}
}

func (s *Server) handleBatchAssign(w http.ResponseWriter, r *http.Request) {
	var req batchAssignRequest
	if !s.decode(w, r, &req) {
		return
	}
	workerID := req.WorkerID
	if workerID == "" {
		workerID = workerFrom(r)
	}
	if workerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "worker_id or "+WorkerHeader+" is required")
		return
	}

	results := s.engine.BatchAssignTasks(r.Context(), req.TaskIDs, workerID)
	items := make([]batchItem, len(results))
	for i, res := range results {
		items[i] = itemFor(res.TaskID, res.Task, res.Err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": items})
}

func (s *Server) handleBatchLabels(w http.ResponseWriter, r *http.Request) {
	var req batchLabelsRequest
	if !s.decode(w, r, &req) {
		return
	}
	workerID := workerFrom(r)
	reqs := make([]engine.LabelRequest, len(req.Labels))
	for i, l := range req.Labels {
		reqs[i] = engine.LabelRequest{
			TaskID:     l.TaskID,
			WorkerID:   workerID,
			Value:      l.Value,
			Confidence: *l.Confidence,
			TimeSpent:  time.Duration(l.TimeSpentMS) * time.Millisecond,
		}
	}

	results := s.engine.BatchSubmitLabels(r.Context(), reqs)
	items := make([]batchItem, len(results))
	for i, res := range results {
		items[i] = itemFor(res.TaskID, res.Outcome, res.Err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": items})
}

// ─── Workers, Projects & Stats ──────────────────────────────────────────────

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if !s.decode(w, r, &req) {
		return
	}
	worker, err := s.engine.RegisterWorker(r.Context(), domain.Worker{
		ID:         req.ID,
		Reputation: req.Reputation,
		Accuracy:   req.Accuracy,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) handleWorkerMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetWorkerMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.GetTaskStatistics(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	ps, err := s.engine.GetProjectStatistics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	if s.funder == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "project funding is not configured")
		return
	}
	var req fundRequest
	if !s.decode(w, r, &req) {
		return
	}
	projectID := chi.URLParam(r, "id")
	if err := s.funder.FundProject(r.Context(), projectID, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"project_id": projectID, "funded": req.Amount})
}
