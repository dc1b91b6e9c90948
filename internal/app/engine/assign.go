package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/metrics"
)

const (
	modeManual   = "manual"
	modeAuto     = "auto"
	modeReassign = "reassign"
)

// ─── Assignment ─────────────────────────────────────────────────────────────

// AssignTask gives a pending task to workerID. Of several concurrent calls
// on one task exactly one succeeds; the rest fail with ErrTaskAlreadyAssigned.
func (e *Engine) AssignTask(ctx context.Context, taskID, workerID string) (task *domain.Task, err error) {
	ctx, end := e.begin(ctx, "assign",
		attribute.String("task.id", taskID), attribute.String("worker.id", workerID))
	defer func() { end(err) }()

	unlock := e.tasks.Lock(taskID)
	defer unlock()

	task, err = e.loadTask(ctx, taskID)
	if err != nil {
		return nil, e.rejectAssign("assign", taskID, workerID, err)
	}
	if task.Status != domain.TaskPending {
		return nil, e.rejectAssign("assign", taskID, workerID,
			opErrorf("assign", taskID, workerID, domain.ErrTaskAlreadyAssigned, "status="+string(task.Status)))
	}
	worker, err := e.loadWorker(ctx, workerID)
	if err != nil {
		return nil, e.rejectAssign("assign", taskID, workerID, err)
	}
	if err := e.gate.Check(*worker, *task); err != nil {
		return nil, e.rejectAssign("assign", taskID, workerID, err)
	}

	if err := e.commitAssignment(ctx, task, workerID, modeManual); err != nil {
		return nil, opError("assign", taskID, workerID, err)
	}
	return task, nil
}

// AutoAssignTask gives a pending task to the best eligible worker: highest
// reputation, then least recently active, then lowest id.
func (e *Engine) AutoAssignTask(ctx context.Context, taskID string) (task *domain.Task, err error) {
	ctx, end := e.begin(ctx, "auto_assign", attribute.String("task.id", taskID))
	defer func() { end(err) }()

	unlock := e.tasks.Lock(taskID)
	defer unlock()

	task, err = e.loadTask(ctx, taskID)
	if err != nil {
		return nil, e.rejectAssign("auto_assign", taskID, "", err)
	}
	if task.Status != domain.TaskPending {
		return nil, e.rejectAssign("auto_assign", taskID, "",
			opErrorf("auto_assign", taskID, "", domain.ErrTaskAlreadyAssigned, "status="+string(task.Status)))
	}
	if err := e.autoAssignLocked(ctx, task, modeAuto); err != nil {
		return nil, e.rejectAssign("auto_assign", taskID, "", err)
	}
	return task, nil
}

// autoAssignLocked picks a candidate for task and commits the assignment.
// The caller holds the task lock and has put task in pending.
func (e *Engine) autoAssignLocked(ctx context.Context, task *domain.Task, mode string) error {
	worker, err := e.pickWorker(ctx, task)
	if err != nil {
		return err
	}
	return e.commitAssignment(ctx, task, worker.ID, mode)
}

// pickWorker ranks eligible workers for task. Workers who already labeled
// the task are skipped, and so is the previous assignee when configured.
func (e *Engine) pickWorker(ctx context.Context, task *domain.Task) (*domain.Worker, error) {
	workers, err := retryRead(ctx, e, "list_workers", func() ([]domain.Worker, error) {
		return e.store.ListWorkers(ctx)
	})
	if err != nil {
		return nil, err
	}
	subs, err := e.loadSubmissions(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(subs)+1)
	for _, s := range subs {
		excluded[s.UserID] = true
	}
	if e.cfg.ExcludePreviousAssignee && task.PreviousAssignee != "" {
		excluded[task.PreviousAssignee] = true
	}

	candidates := workers[:0]
	for _, w := range workers {
		if !excluded[w.ID] && e.gate.IsEligible(w, *task) {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil, opErrorf("auto_assign", task.ID, "", domain.ErrNoEligibleWorker,
			fmt.Sprintf("%d workers, %d excluded", len(workers), len(excluded)))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Reputation != b.Reputation {
			return a.Reputation > b.Reputation
		}
		if !a.LastActiveAt.Equal(b.LastActiveAt) {
			return a.LastActiveAt.Before(b.LastActiveAt)
		}
		return a.ID < b.ID
	})
	return &candidates[0], nil
}

// commitAssignment moves task to assigned, saves it and announces it.
func (e *Engine) commitAssignment(ctx context.Context, task *domain.Task, workerID, mode string) error {
	now := e.now().UTC()
	task.Status = domain.TaskAssigned
	task.AssignedTo = workerID
	task.AssignedAt = now
	task.ExpiresAt = now.Add(task.TimeLimit)

	if err := e.store.SaveTask(ctx, task); err != nil {
		return err
	}

	metrics.TasksAssigned.WithLabelValues(mode).Inc()
	e.logger.Info("task assigned",
		zap.String("task_id", task.ID),
		zap.String("worker_id", workerID),
		zap.String("mode", mode),
		zap.Time("expires_at", task.ExpiresAt))
	e.publish(task.ID, workerID, domain.AssignedPayload{
		AssignedAt: task.AssignedAt,
		ExpiresAt:  task.ExpiresAt,
		Auto:       mode != modeManual,
	})
	return nil
}

func (e *Engine) rejectAssign(op, taskID, workerID string, err error) error {
	err = opError(op, taskID, workerID, err)
	metrics.AssignmentRejections.WithLabelValues(domain.ErrorKind(err)).Inc()
	if !errors.Is(err, domain.ErrTaskAlreadyAssigned) {
		e.logger.Debug("assignment refused",
			zap.String("op", op),
			zap.String("task_id", taskID),
			zap.String("worker_id", workerID),
			zap.Error(err))
	}
	return err
}

// ─── Start ──────────────────────────────────────────────────────────────────

// StartTask lets the assignee begin work: assigned → in_progress.
func (e *Engine) StartTask(ctx context.Context, taskID, workerID string) (task *domain.Task, err error) {
	ctx, end := e.begin(ctx, "start",
		attribute.String("task.id", taskID), attribute.String("worker.id", workerID))
	defer func() { end(err) }()

	unlock := e.tasks.Lock(taskID)
	defer unlock()

	task, err = e.loadTask(ctx, taskID)
	if err != nil {
		return nil, opError("start", taskID, workerID, err)
	}
	if task.Status != domain.TaskAssigned {
		return nil, opErrorf("start", taskID, workerID, domain.ErrInvalidTransition, "status="+string(task.Status))
	}
	if task.AssignedTo != workerID {
		return nil, opErrorf("start", taskID, workerID, domain.ErrInvalidTransition, "task is assigned to another worker")
	}

	task.Status = domain.TaskInProgress
	task.StartedAt = e.now().UTC()
	if err := e.store.SaveTask(ctx, task); err != nil {
		return nil, opError("start", taskID, workerID, err)
	}
	return task, nil
}
