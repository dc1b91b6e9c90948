package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/labelmint/labelmint/internal/domain"
)

// AssignResult is one item of a batch assignment.
type AssignResult struct {
	TaskID string       `json:"task_id"`
	Task   *domain.Task `json:"task,omitempty"`
	Err    error        `json:"-"`
}

// SubmitResult is one item of a batch submission.
type SubmitResult struct {
	TaskID  string             `json:"task_id"`
	Outcome *SubmissionOutcome `json:"outcome,omitempty"`
	Err     error              `json:"-"`
}

// ─── Batch Operations ───────────────────────────────────────────────────────
// Items run concurrently up to Config.BatchConcurrency. A failed item never
// affects the others; results keep the input order.

// BatchAssignTasks assigns each task to workerID independently.
func (e *Engine) BatchAssignTasks(ctx context.Context, taskIDs []string, workerID string) []AssignResult {
	ctx, end := e.begin(ctx, "batch_assign",
		attribute.Int("batch.size", len(taskIDs)), attribute.String("worker.id", workerID))
	defer end(nil)

	results := make([]AssignResult, len(taskIDs))
	var g errgroup.Group
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, id := range taskIDs {
		g.Go(func() error {
			task, err := e.AssignTask(ctx, id, workerID)
			results[i] = AssignResult{TaskID: id, Task: task, Err: err}
			return nil
		})
	}
	g.Wait() //nolint:errcheck
	return results
}

// BatchSubmitLabels submits each label independently.
func (e *Engine) BatchSubmitLabels(ctx context.Context, reqs []LabelRequest) []SubmitResult {
	ctx, end := e.begin(ctx, "batch_submit", attribute.Int("batch.size", len(reqs)))
	defer end(nil)

	results := make([]SubmitResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			out, err := e.SubmitLabel(ctx, req)
			results[i] = SubmitResult{TaskID: req.TaskID, Outcome: out, Err: err}
			return nil
		})
	}
	g.Wait() //nolint:errcheck
	return results
}
