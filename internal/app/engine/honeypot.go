package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/app/reputation"
	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/metrics"
)

// HoneypotResult is the score of one honeypot label.
type HoneypotResult struct {
	IsCorrect      bool    `json:"is_correct"`
	AccuracyBefore float64 `json:"accuracy_before"`
	AccuracyAfter  float64 `json:"accuracy_after"`
	AccuracyImpact float64 `json:"accuracy_impact"`
}

// ─── Honeypot Evaluator ─────────────────────────────────────────────────────

// scoreHoneypot compares the label with the ground truth, moves the worker's
// accuracy one EMA step and completes the task. Both changes are applied to
// the given snapshots and persisted by the caller together with the label.
// Honeypots never enter majority consensus.
func (e *Engine) scoreHoneypot(ctx context.Context, task *domain.Task, sub *domain.Submission, before domain.Worker, worker *domain.Worker, out *SubmissionOutcome) func() {
	correct := sub.Value == task.ExpectedLabel

	confidence := 0.0
	if correct {
		confidence = 1
	}
	e.complete(task, task.ExpectedLabel, confidence)

	worker.Accuracy = reputation.UpdateAccuracy(worker.Accuracy, correct, e.cfg.HoneypotAlpha)
	if correct {
		worker.Reputation = reputation.Nudge(worker.Reputation, e.cfg.ReputationReward)
	} else {
		worker.Reputation = reputation.Nudge(worker.Reputation, -e.cfg.ReputationPenalty)
	}
	after := *worker

	out.Honeypot = &HoneypotResult{
		IsCorrect:      correct,
		AccuracyBefore: before.Accuracy,
		AccuracyAfter:  after.Accuracy,
		AccuracyImpact: after.Accuracy - before.Accuracy,
	}
	out.Reached = true
	out.Confidence = confidence

	return func() {
		result := "incorrect"
		if correct {
			result = "correct"
		}
		metrics.HoneypotEvaluations.WithLabelValues(result).Inc()
		e.logger.Info("honeypot evaluated",
			zap.String("task_id", task.ID),
			zap.String("worker_id", sub.UserID),
			zap.Bool("correct", correct),
			zap.Float64("accuracy", after.Accuracy))

		e.publish(task.ID, sub.UserID, domain.HoneypotEvaluatedPayload{
			IsCorrect:      correct,
			AccuracyBefore: before.Accuracy,
			AccuracyAfter:  after.Accuracy,
		})
		if correct {
			e.payout(ctx, task, []string{sub.UserID})
		}
	}
}
