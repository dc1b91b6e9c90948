package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/labelmint/labelmint/internal/domain"
)

// ─── Worker Repository ──────────────────────────────────────────────────────

// SaveWorker inserts or updates a worker record.
func (d *DB) SaveWorker(ctx context.Context, w *domain.Worker) error {
	return upsertWorker(ctx, d.db, w)
}

func upsertWorker(ctx context.Context, q execer, w *domain.Worker) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO workers (id, reputation, accuracy, total_tasks, completed_tasks, last_active_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			reputation=excluded.reputation,
			accuracy=excluded.accuracy,
			total_tasks=excluded.total_tasks,
			completed_tasks=excluded.completed_tasks,
			last_active_at=excluded.last_active_at`,
		w.ID, w.Reputation, w.Accuracy, w.TotalTasks, w.CompletedTasks,
		nullableMillis(w.LastActiveAt), w.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return unavailable("save worker", err)
	}
	return nil
}

// GetWorker retrieves a worker by ID.
func (d *DB) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, reputation, accuracy, total_tasks, completed_tasks, last_active_at, created_at
		 FROM workers WHERE id = ?`, id,
	)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWorkerNotFound
	}
	if err != nil {
		return nil, unavailable("get worker", err)
	}
	return w, nil
}

// ListWorkers returns every worker ordered by id.
func (d *DB) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, reputation, accuracy, total_tasks, completed_tasks, last_active_at, created_at
		 FROM workers ORDER BY id`,
	)
	if err != nil {
		return nil, unavailable("list workers", err)
	}
	defer rows.Close()

	var workers []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, unavailable("scan worker", err)
		}
		workers = append(workers, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list workers", err)
	}
	return workers, nil
}

func scanWorker(s scanner) (*domain.Worker, error) {
	var w domain.Worker
	var lastActive sql.NullInt64
	var createdAt int64
	err := s.Scan(&w.ID, &w.Reputation, &w.Accuracy, &w.TotalTasks, &w.CompletedTasks,
		&lastActive, &createdAt)
	if err != nil {
		return nil, err
	}
	w.LastActiveAt = fromMillis(lastActive)
	w.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &w, nil
}

// ─── Submission Repository ──────────────────────────────────────────────────

// SaveSubmission records a label. A second label from the same worker for
// the same task yields domain.ErrDuplicateSubmission.
func (d *DB) SaveSubmission(ctx context.Context, sub *domain.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	return insertSubmission(ctx, d.db, sub)
}

func insertSubmission(ctx context.Context, q execer, sub *domain.Submission) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO submissions (id, task_id, user_id, value, confidence, time_spent_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TaskID, sub.UserID, sub.Value, sub.Confidence,
		sub.TimeSpent.Milliseconds(), sub.CreatedAt.UnixMilli(),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.ErrDuplicateSubmission
		case isForeignKeyViolation(err):
			return domain.ErrTaskNotFound
		}
		return unavailable("insert submission", err)
	}
	return nil
}

// ListSubmissions returns a task's labels in arrival order.
func (d *DB) ListSubmissions(ctx context.Context, taskID string) ([]domain.Submission, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, task_id, user_id, value, confidence, time_spent_ms, created_at
		 FROM submissions WHERE task_id = ? ORDER BY created_at ASC, rowid ASC`, taskID,
	)
	if err != nil {
		return nil, unavailable("list submissions", err)
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var spentMs, createdAt int64
		if err := rows.Scan(&s.ID, &s.TaskID, &s.UserID, &s.Value, &s.Confidence, &spentMs, &createdAt); err != nil {
			return nil, unavailable("scan submission", err)
		}
		s.TimeSpent = time.Duration(spentMs) * time.Millisecond
		s.CreatedAt = time.UnixMilli(createdAt).UTC()
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list submissions", err)
	}
	return subs, nil
}

// WorkerSubmissionStats returns how many labels a worker has submitted and
// their average time spent.
func (d *DB) WorkerSubmissionStats(ctx context.Context, workerID string) (domain.SubmissionStats, error) {
	var stats domain.SubmissionStats
	var avgMs float64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(time_spent_ms), 0) FROM submissions WHERE user_id = ?`,
		workerID,
	).Scan(&stats.Count, &avgMs)
	if err != nil {
		return stats, unavailable("submission stats", err)
	}
	stats.AverageTimeSpent = time.Duration(avgMs * float64(time.Millisecond))
	return stats, nil
}
