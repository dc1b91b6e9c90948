package domain

import (
	"context"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the engine depends on them.

// TaskStore abstracts durable storage for tasks, workers and submissions.
// Lookups of missing records return ErrTaskNotFound / ErrWorkerNotFound;
// I/O failures wrap ErrStoreUnavailable.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	CreateTask(ctx context.Context, task *Task) error

	// SaveTask persists task if its Version still matches the stored row,
	// then bumps task.Version. A stale Version yields ErrVersionConflict.
	SaveTask(ctx context.Context, task *Task) error

	GetWorker(ctx context.Context, id string) (*Worker, error)
	SaveWorker(ctx context.Context, worker *Worker) error
	ListWorkers(ctx context.Context) ([]Worker, error)

	ListSubmissions(ctx context.Context, taskID string) ([]Submission, error)
	// RecordSubmission atomically inserts sub, saves task under the SaveTask
	// version rule and upserts worker when non-nil. Nothing is written when
	// any step fails. An existing (TaskID, UserID) yields ErrDuplicateSubmission.
	RecordSubmission(ctx context.Context, sub *Submission, task *Task, worker *Worker) error

	FindTasksByStatusAndExpiry(ctx context.Context, statuses []TaskStatus, before time.Time) ([]Task, error)

	// CountTasksByStatus counts tasks per status; projectID "" means all projects.
	CountTasksByStatus(ctx context.Context, projectID string) (map[TaskStatus]int, error)
	WorkerSubmissionStats(ctx context.Context, workerID string) (SubmissionStats, error)

	Ping(ctx context.Context) error
}

// EventPublisher carries lifecycle events to subscribers.
type EventPublisher interface {
	Publish(ev Event) error
}

// RewardDisburser pays workers once a task completes.
type RewardDisburser interface {
	Disburse(ctx context.Context, taskID string, recipients []string, amount int64) error
}

// ProjectBudget holds billing figures for a project.
type ProjectBudget struct {
	Funded    int64 `json:"funded"`
	Spent     int64 `json:"spent"`
	Remaining int64 `json:"remaining"`
}

// BillingProvider supplies project budget figures.
type BillingProvider interface {
	ProjectBudget(ctx context.Context, projectID string) (ProjectBudget, error)
}

// EarningsProvider supplies a worker's credited earnings.
type EarningsProvider interface {
	WorkerEarnings(ctx context.Context, workerID string) (int64, error)
}
