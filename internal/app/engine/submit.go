package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/app/consensus"
	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/metrics"
)

// LabelRequest is one worker's label for one task.
type LabelRequest struct {
	TaskID     string        `json:"task_id" validate:"required"`
	WorkerID   string        `json:"worker_id" validate:"required"`
	Value      string        `json:"value" validate:"required"`
	Confidence float64       `json:"confidence"`
	TimeSpent  time.Duration `json:"time_spent"`
}

// SubmissionOutcome reports the task's state after an accepted label.
type SubmissionOutcome struct {
	SubmissionID string            `json:"submission_id"`
	TaskID       string            `json:"task_id"`
	Status       domain.TaskStatus `json:"status"`
	TotalLabels  int               `json:"total_labels"`
	Reached      bool              `json:"reached"`
	Confidence   float64           `json:"confidence"`

	// Consensus is set when the consensus step ran.
	Consensus *consensus.Result `json:"consensus,omitempty"`
	// Honeypot is set for honeypot tasks.
	Honeypot *HoneypotResult `json:"honeypot,omitempty"`
}

// ─── Submission Pipeline ────────────────────────────────────────────────────

// SubmitLabel records a label and advances the task: honeypots are scored
// at once, other tasks run the consensus step once enough labels exist.
func (e *Engine) SubmitLabel(ctx context.Context, req LabelRequest) (out *SubmissionOutcome, err error) {
	ctx, end := e.begin(ctx, "submit",
		attribute.String("task.id", req.TaskID), attribute.String("worker.id", req.WorkerID))
	defer func() { end(err) }()

	out, err = e.submit(ctx, "submit", req, false)
	if err != nil {
		metrics.SubmissionRejections.WithLabelValues(domain.ErrorKind(err)).Inc()
	}
	return out, err
}

// SubmitHoneypotLabel is SubmitLabel restricted to honeypot tasks.
func (e *Engine) SubmitHoneypotLabel(ctx context.Context, req LabelRequest) (res *HoneypotResult, err error) {
	ctx, end := e.begin(ctx, "submit_honeypot",
		attribute.String("task.id", req.TaskID), attribute.String("worker.id", req.WorkerID))
	defer func() { end(err) }()

	out, err := e.submit(ctx, "submit_honeypot", req, true)
	if err != nil {
		metrics.SubmissionRejections.WithLabelValues(domain.ErrorKind(err)).Inc()
		return nil, err
	}
	return out.Honeypot, nil
}

func validateLabel(op string, req LabelRequest) error {
	if math.IsNaN(req.Confidence) || req.Confidence < 0 || req.Confidence > 1 {
		return opErrorf(op, req.TaskID, req.WorkerID, domain.ErrInvalidConfidence,
			fmt.Sprintf("confidence=%v", req.Confidence))
	}
	if strings.TrimSpace(req.Value) == "" {
		return opErrorf(op, req.TaskID, req.WorkerID, domain.ErrInvalidTaskData, "empty label value")
	}
	if req.TimeSpent < 0 {
		return opErrorf(op, req.TaskID, req.WorkerID, domain.ErrInvalidTaskData, "negative time spent")
	}
	return nil
}

func (e *Engine) submit(ctx context.Context, op string, req LabelRequest, honeypotOnly bool) (*SubmissionOutcome, error) {
	if err := validateLabel(op, req); err != nil {
		return nil, err
	}

	unlock := e.tasks.Lock(req.TaskID)
	defer unlock()

	task, err := e.loadTask(ctx, req.TaskID)
	if err != nil {
		return nil, opError(op, req.TaskID, req.WorkerID, err)
	}
	if honeypotOnly && !task.IsHoneypot {
		return nil, opErrorf(op, req.TaskID, req.WorkerID, domain.ErrInvalidTaskData, "task is not a honeypot")
	}
	worker, err := e.loadWorker(ctx, req.WorkerID)
	if err != nil {
		return nil, opError(op, req.TaskID, req.WorkerID, err)
	}
	if !task.AcceptsLabels() {
		return nil, opErrorf(op, req.TaskID, req.WorkerID, domain.ErrTaskClosed, "status="+string(task.Status))
	}

	subs, err := e.loadSubmissions(ctx, task.ID)
	if err != nil {
		return nil, opError(op, req.TaskID, req.WorkerID, err)
	}
	for _, s := range subs {
		if s.UserID == req.WorkerID {
			return nil, opError(op, req.TaskID, req.WorkerID, domain.ErrDuplicateSubmission)
		}
	}
	if len(subs) >= e.cfg.MaxParticipants {
		return nil, opErrorf(op, req.TaskID, req.WorkerID, domain.ErrTaskClosed,
			fmt.Sprintf("participant cap %d reached", e.cfg.MaxParticipants))
	}
	// The assignee passed the gate when assigned; reviewers are gated here.
	if req.WorkerID != task.AssignedTo {
		if err := e.gate.Check(*worker, *task); err != nil {
			return nil, err
		}
	}

	sub := &domain.Submission{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		UserID:     req.WorkerID,
		Value:      req.Value,
		Confidence: req.Confidence,
		TimeSpent:  req.TimeSpent.Truncate(time.Millisecond),
		CreatedAt:  e.now().UTC(),
	}
	out := &SubmissionOutcome{SubmissionID: sub.ID, TaskID: task.ID}
	after, err := e.commitLabel(ctx, task, sub, append(subs, *sub), out)
	if err != nil {
		return nil, opError(op, req.TaskID, req.WorkerID, err)
	}

	metrics.LabelsSubmitted.WithLabelValues(string(task.Type)).Inc()
	out.Status = task.Status
	out.TotalLabels = task.LabelsReceived
	e.logger.Debug("label accepted",
		zap.String("task_id", task.ID),
		zap.String("worker_id", req.WorkerID),
		zap.String("status", string(task.Status)),
		zap.Int("total_labels", task.LabelsReceived))

	e.publish(task.ID, req.WorkerID, domain.SubmittedPayload{
		SubmissionID: sub.ID,
		Value:        sub.Value,
		Confidence:   sub.Confidence,
		TotalLabels:  task.LabelsReceived,
	})
	if after != nil {
		after()
	}
	return out, nil
}

// commitLabel derives the task and worker state the label produces and
// writes all of it with the label in one store transaction. task is updated
// in place only after the write succeeds, so a failed write leaves nothing
// behind and the caller may resubmit. The returned func publishes follow-up
// events and pays rewards; it must run after the worker lock is released.
func (e *Engine) commitLabel(ctx context.Context, task *domain.Task, sub *domain.Submission, subs []domain.Submission, out *SubmissionOutcome) (func(), error) {
	unlock := e.workers.Lock(sub.UserID)
	defer unlock()

	worker, err := e.loadWorker(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}
	before := *worker
	worker.TotalTasks++
	worker.LastActiveAt = sub.CreatedAt

	next := *task
	next.LabelsReceived = len(subs)
	if next.Status == domain.TaskAssigned {
		next.Status = domain.TaskInProgress
	}
	if next.StartedAt.IsZero() {
		next.StartedAt = sub.CreatedAt
	}

	var after func()
	if next.IsHoneypot {
		after = e.scoreHoneypot(ctx, &next, sub, before, worker, out)
	} else {
		after = e.decideConsensus(ctx, &next, subs, out)
	}

	if err := e.store.RecordSubmission(ctx, sub, &next, worker); err != nil {
		return nil, err
	}
	*task = next
	return after, nil
}

// ─── Consensus Step ─────────────────────────────────────────────────────────

// decideConsensus evaluates the task's labels and applies the outcome to
// task. The returned func reports the outcome and pays rewards; the caller
// runs it after the submitted event so per-task event order is preserved.
func (e *Engine) decideConsensus(ctx context.Context, task *domain.Task, subs []domain.Submission, out *SubmissionOutcome) func() {
	if task.LabelsReceived < task.ConsensusThreshold {
		return nil
	}

	res := consensus.Calculate(subs, consensus.ParamsFor(*task, e.cfg.MaxParticipants))
	out.Consensus = &res
	out.Reached = res.Reached
	out.Confidence = res.Confidence

	switch {
	case res.Reached:
		recipients := consensus.Agreeing(subs, res.AgreedLabel)
		e.complete(task, res.AgreedLabel, res.Confidence)
		return func() {
			metrics.ConsensusReached.Inc()
			metrics.ConsensusConfidence.Observe(res.Confidence)
			e.logger.Info("consensus reached",
				zap.String("task_id", task.ID),
				zap.String("final_label", res.AgreedLabel),
				zap.Float64("confidence", res.Confidence),
				zap.Int("total_labels", res.TotalLabels))
			e.publish(task.ID, "", domain.ConsensusReachedPayload{
				FinalLabel: res.AgreedLabel,
				Confidence: res.Confidence,
				Recipients: recipients,
				Reward:     task.Reward,
			})
			e.payout(ctx, task, recipients)
		}

	case res.Conflict:
		task.Conflict = true
		task.AdditionalReviewers = res.AdditionalReviewersNeeded
		task.Confidence = res.Confidence
		if res.AdditionalReviewersNeeded > 0 {
			task.Status = domain.TaskReview
		} else {
			// The participant cap leaves no room for a deciding label.
			e.closeUnresolved(task)
		}
		return func() {
			metrics.ConsensusConflicts.Inc()
			e.logger.Info("consensus conflict",
				zap.String("task_id", task.ID),
				zap.String("status", string(task.Status)),
				zap.Any("distribution", res.Distribution),
				zap.Int("additional_reviewers", res.AdditionalReviewersNeeded))
			e.publish(task.ID, "", domain.ConflictPayload{
				Distribution:        res.Distribution,
				AdditionalReviewers: res.AdditionalReviewersNeeded,
			})
		}
	}
	return nil
}

// closeUnresolved ends a split task that can take no more labels. It keeps
// Conflict set and carries no final label.
func (e *Engine) closeUnresolved(task *domain.Task) {
	task.Status = domain.TaskCancelled
	task.AssignedTo = ""
	task.FinalLabel = ""
	task.CompletedAt = e.now().UTC()
}

// complete moves task to its terminal completed state.
func (e *Engine) complete(task *domain.Task, finalLabel string, confidence float64) {
	task.Status = domain.TaskCompleted
	task.FinalLabel = finalLabel
	task.Confidence = confidence
	task.CompletedAt = e.now().UTC()
	task.AssignedTo = ""
	task.Conflict = false
	task.AdditionalReviewers = 0
}

// payout credits the completed task's reward. The task is already saved as
// completed, so failures are logged and counted rather than returned.
func (e *Engine) payout(ctx context.Context, task *domain.Task, recipients []string) {
	for _, id := range recipients {
		if _, _, err := e.updateWorker(ctx, id, func(w *domain.Worker) { w.CompletedTasks++ }); err != nil {
			e.logger.Error("update completed count failed",
				zap.String("task_id", task.ID), zap.String("worker_id", id), zap.Error(err))
		}
	}

	if e.disburser == nil || task.Reward <= 0 || len(recipients) == 0 {
		return
	}
	if err := e.disburser.Disburse(ctx, task.ID, recipients, task.Reward); err != nil {
		metrics.DisbursementFailures.Inc()
		level := e.logger.Error
		if errors.Is(err, context.Canceled) {
			level = e.logger.Warn
		}
		level("reward disbursement failed",
			zap.String("task_id", task.ID),
			zap.Strings("recipients", recipients),
			zap.Int64("reward", task.Reward),
			zap.Error(err))
	}
}

// ─── Consensus Reads ────────────────────────────────────────────────────────

// GetConsensus recomputes the consensus result from stored labels.
func (e *Engine) GetConsensus(ctx context.Context, taskID string) (res consensus.Result, err error) {
	ctx, end := e.begin(ctx, "get_consensus", attribute.String("task.id", taskID))
	defer func() { end(err) }()

	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return res, opError("get_consensus", taskID, "", err)
	}
	subs, err := e.loadSubmissions(ctx, taskID)
	if err != nil {
		return res, opError("get_consensus", taskID, "", err)
	}
	return consensus.Calculate(subs, consensus.ParamsFor(*task, e.cfg.MaxParticipants)), nil
}

// GetAdditionalReviewersNeeded reports how many more labels a split task
// still solicits. It is 0 unless the task is in conflict.
func (e *Engine) GetAdditionalReviewersNeeded(ctx context.Context, taskID string) (int, error) {
	res, err := e.GetConsensus(ctx, taskID)
	if err != nil {
		return 0, err
	}
	return res.AdditionalReviewersNeeded, nil
}
