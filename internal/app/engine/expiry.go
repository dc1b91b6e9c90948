package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/metrics"
)

var activeStatuses = []domain.TaskStatus{domain.TaskAssigned, domain.TaskInProgress}

// ─── Expiration ─────────────────────────────────────────────────────────────

// CheckExpiredTasks moves every assigned or in-progress task whose deadline
// has passed to expired and returns them. Each candidate is re-checked under
// its task lock, so a label that lands first wins. Per-task failures are
// joined into the returned error; the sweep still covers the other tasks.
func (e *Engine) CheckExpiredTasks(ctx context.Context) (expired []domain.Task, err error) {
	ctx, end := e.begin(ctx, "check_expired")
	defer func() { end(err) }()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := e.now().UTC()
	candidates, err := retryRead(ctx, e, "find_expired", func() ([]domain.Task, error) {
		return e.store.FindTasksByStatusAndExpiry(ctx, activeStatuses, now)
	})
	if err != nil {
		return nil, opError("check_expired", "", "", err)
	}

	var errs []error
	for _, c := range candidates {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		task, ok, err := e.expireOne(ctx, c.ID, now)
		if err != nil {
			e.logger.Warn("expire task failed", zap.String("task_id", c.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			expired = append(expired, *task)
		}
	}

	if len(expired) > 0 {
		e.logger.Info("expiration sweep", zap.Int("expired", len(expired)), zap.Int("candidates", len(candidates)))
	}
	return expired, errors.Join(errs...)
}

func (e *Engine) expireOne(ctx context.Context, taskID string, now time.Time) (*domain.Task, bool, error) {
	unlock := e.tasks.Lock(taskID)
	defer unlock()

	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, false, opError("expire", taskID, "", err)
	}
	if !task.IsOverdue(now) {
		return nil, false, nil
	}

	prev := task.AssignedTo
	task.Status = domain.TaskExpired
	task.PreviousAssignee = prev
	task.AssignedTo = ""
	if err := e.store.SaveTask(ctx, task); err != nil {
		return nil, false, opError("expire", taskID, prev, err)
	}

	metrics.TasksExpired.Inc()
	e.publish(task.ID, prev, domain.ExpiredPayload{PreviousAssignee: prev, ExpiredAt: now})
	return task, true, nil
}

// ReassignExpiredTask returns an expired task to pending and immediately
// auto-assigns it in the same critical section. When no worker qualifies the
// task is left pending and ErrNoEligibleWorker is returned.
func (e *Engine) ReassignExpiredTask(ctx context.Context, taskID string) (task *domain.Task, err error) {
	ctx, end := e.begin(ctx, "reassign", attribute.String("task.id", taskID))
	defer func() { end(err) }()

	unlock := e.tasks.Lock(taskID)
	defer unlock()

	task, err = e.loadTask(ctx, taskID)
	if err != nil {
		return nil, e.rejectAssign("reassign", taskID, "", err)
	}
	if task.Status != domain.TaskExpired {
		return nil, e.rejectAssign("reassign", taskID, "",
			opErrorf("reassign", taskID, "", domain.ErrInvalidTransition, "status="+string(task.Status)))
	}

	task.Status = domain.TaskPending
	task.AssignedAt = time.Time{}
	task.ExpiresAt = time.Time{}

	worker, err := e.pickWorker(ctx, task)
	if err != nil {
		if !errors.Is(err, domain.ErrNoEligibleWorker) {
			return nil, e.rejectAssign("reassign", taskID, "", err)
		}
		if saveErr := e.store.SaveTask(ctx, task); saveErr != nil {
			return nil, opError("reassign", taskID, "", saveErr)
		}
		return task, e.rejectAssign("reassign", taskID, "", err)
	}

	if err := e.commitAssignment(ctx, task, worker.ID, modeReassign); err != nil {
		return nil, opError("reassign", taskID, worker.ID, err)
	}
	e.logger.Info("expired task reassigned",
		zap.String("task_id", taskID),
		zap.String("previous_assignee", task.PreviousAssignee),
		zap.String("worker_id", worker.ID))
	return task, nil
}
