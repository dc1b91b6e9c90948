package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/labelmint/labelmint/internal/domain"
)

// TaskStatistics counts tasks per status.
type TaskStatistics struct {
	Total    int                       `json:"total"`
	ByStatus map[domain.TaskStatus]int `json:"by_status"`
}

// WorkerMetrics summarizes one worker's history.
type WorkerMetrics struct {
	WorkerID           string        `json:"worker_id"`
	CompletedTasks     int           `json:"completed_tasks"`
	TotalTasks         int           `json:"total_tasks"`
	Accuracy           float64       `json:"accuracy"`
	Reputation         float64       `json:"reputation"`
	Submissions        int           `json:"submissions"`
	AverageTimePerTask time.Duration `json:"average_time_per_task"`
	Earnings           int64         `json:"earnings"`
}

// ProjectStatistics summarizes one project's tasks and budget.
type ProjectStatistics struct {
	ProjectID      string                    `json:"project_id"`
	TotalTasks     int                       `json:"total_tasks"`
	CompletedTasks int                       `json:"completed_tasks"`
	ByStatus       map[domain.TaskStatus]int `json:"by_status"`
	Budget         domain.ProjectBudget      `json:"budget"`
}

// ─── Statistics Aggregator ──────────────────────────────────────────────────
// Read-only rollups straight from the store. Nothing is cached.

// GetTaskStatistics counts tasks across all projects.
func (e *Engine) GetTaskStatistics(ctx context.Context) (stats TaskStatistics, err error) {
	ctx, end := e.begin(ctx, "task_stats")
	defer func() { end(err) }()

	return e.countTasks(ctx, "")
}

// GetWorkerMetrics reports a worker's counters, accuracy and earnings.
func (e *Engine) GetWorkerMetrics(ctx context.Context, workerID string) (m WorkerMetrics, err error) {
	ctx, end := e.begin(ctx, "worker_metrics", attribute.String("worker.id", workerID))
	defer func() { end(err) }()

	w, err := e.loadWorker(ctx, workerID)
	if err != nil {
		return m, opError("worker_metrics", "", workerID, err)
	}
	subStats, err := retryRead(ctx, e, "submission_stats", func() (domain.SubmissionStats, error) {
		return e.store.WorkerSubmissionStats(ctx, workerID)
	})
	if err != nil {
		return m, opError("worker_metrics", "", workerID, err)
	}

	m = WorkerMetrics{
		WorkerID:           w.ID,
		CompletedTasks:     w.CompletedTasks,
		TotalTasks:         w.TotalTasks,
		Accuracy:           w.Accuracy,
		Reputation:         w.Reputation,
		Submissions:        subStats.Count,
		AverageTimePerTask: subStats.AverageTimeSpent,
	}
	if e.earnings != nil {
		m.Earnings, err = e.earnings.WorkerEarnings(ctx, workerID)
		if err != nil {
			return m, opError("worker_metrics", "", workerID, err)
		}
	}
	return m, nil
}

// GetProjectStatistics reports a project's task counts and budget figures.
func (e *Engine) GetProjectStatistics(ctx context.Context, projectID string) (ps ProjectStatistics, err error) {
	ctx, end := e.begin(ctx, "project_stats", attribute.String("project.id", projectID))
	defer func() { end(err) }()

	counts, err := e.countTasks(ctx, projectID)
	if err != nil {
		return ps, err
	}
	ps = ProjectStatistics{
		ProjectID:      projectID,
		TotalTasks:     counts.Total,
		CompletedTasks: counts.ByStatus[domain.TaskCompleted],
		ByStatus:       counts.ByStatus,
	}
	if e.billing != nil {
		ps.Budget, err = e.billing.ProjectBudget(ctx, projectID)
		if err != nil {
			return ps, opError("project_stats", "", "", err)
		}
	}
	return ps, nil
}

func (e *Engine) countTasks(ctx context.Context, projectID string) (TaskStatistics, error) {
	counts, err := retryRead(ctx, e, "count_tasks", func() (map[domain.TaskStatus]int, error) {
		return e.store.CountTasksByStatus(ctx, projectID)
	})
	if err != nil {
		return TaskStatistics{}, opError("task_stats", "", "", err)
	}

	stats := TaskStatistics{ByStatus: make(map[domain.TaskStatus]int, len(domain.AllTaskStatuses))}
	for _, s := range domain.AllTaskStatuses {
		stats.ByStatus[s] = counts[s]
		stats.Total += counts[s]
	}
	return stats, nil
}
