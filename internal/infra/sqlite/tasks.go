package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labelmint/labelmint/internal/domain"
)

// ─── Task Repository ────────────────────────────────────────────────────────

const taskColumns = `id, project_id, type, priority, status, assigned_to, previous_assignee,
	assigned_at, expires_at, labels_required, consensus_threshold, labels_received,
	conflict, additional_reviewers, final_label, confidence, is_honeypot, expected_label,
	reward, time_limit_ms, created_at, started_at, completed_at, version`

// CreateTask inserts a new task record with Version 1.
func (d *DB) CreateTask(ctx context.Context, task *domain.Task) error {
	task.Version = 1
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.ProjectID, string(task.Type), string(task.Priority), string(task.Status),
		task.AssignedTo, task.PreviousAssignee,
		nullableMillis(task.AssignedAt), nullableMillis(task.ExpiresAt),
		task.LabelsRequired, task.ConsensusThreshold, task.LabelsReceived,
		task.Conflict, task.AdditionalReviewers, task.FinalLabel, task.Confidence,
		task.IsHoneypot, task.ExpectedLabel,
		task.Reward, task.TimeLimit.Milliseconds(),
		task.CreatedAt.UnixMilli(), nullableMillis(task.StartedAt), nullableMillis(task.CompletedAt),
		task.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s already exists: %w", task.ID, domain.ErrInvalidTaskData)
		}
		return unavailable("insert task", err)
	}
	return nil
}

// SaveTask writes every mutable column if the stored version matches
// task.Version, then bumps task.Version.
func (d *DB) SaveTask(ctx context.Context, task *domain.Task) error {
	if err := updateTask(ctx, d.db, task); err != nil {
		return err
	}
	task.Version++
	return nil
}

// RecordSubmission stores a label together with the task and worker state it
// produces. The submission insert, the versioned task update and the worker
// upsert commit or roll back as one unit; worker may be nil.
func (d *DB) RecordSubmission(ctx context.Context, sub *domain.Submission, task *domain.Task, worker *domain.Worker) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin submission tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertSubmission(ctx, tx, sub); err != nil {
		return err
	}
	if err := updateTask(ctx, tx, task); err != nil {
		return err
	}
	if worker != nil {
		if err := upsertWorker(ctx, tx, worker); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit submission tx", err)
	}
	task.Version++
	return nil
}

// updateTask applies the optimistic-version update without touching
// task.Version; callers bump it once the write is durable.
func updateTask(ctx context.Context, q execer, task *domain.Task) error {
	result, err := q.ExecContext(ctx,
		`UPDATE tasks SET
			status = ?, assigned_to = ?, previous_assignee = ?,
			assigned_at = ?, expires_at = ?,
			labels_received = ?, conflict = ?, additional_reviewers = ?,
			final_label = ?, confidence = ?,
			started_at = ?, completed_at = ?,
			version = version + 1
		 WHERE id = ? AND version = ?`,
		string(task.Status), task.AssignedTo, task.PreviousAssignee,
		nullableMillis(task.AssignedAt), nullableMillis(task.ExpiresAt),
		task.LabelsReceived, task.Conflict, task.AdditionalReviewers,
		task.FinalLabel, task.Confidence,
		nullableMillis(task.StartedAt), nullableMillis(task.CompletedAt),
		task.ID, task.Version,
	)
	if err != nil {
		return unavailable("update task", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return unavailable("update task", err)
	}
	if n == 0 {
		var exists int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, task.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrTaskNotFound
		}
		if err != nil {
			return unavailable("update task", err)
		}
		return domain.ErrVersionConflict
	}
	return nil
}

// GetTask retrieves a task by ID.
func (d *DB) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, unavailable("get task", err)
	}
	return task, nil
}

// FindTasksByStatusAndExpiry returns tasks in one of statuses whose deadline
// is at or before the given instant, oldest deadline first.
func (d *DB) FindTasksByStatusAndExpiry(ctx context.Context, statuses []domain.TaskStatus, before time.Time) ([]domain.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses)+1)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, before.UnixMilli())

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status IN (`+placeholders(len(statuses))+`)
		   AND expires_at IS NOT NULL AND expires_at <= ?
		 ORDER BY expires_at ASC, id ASC`,
		args...,
	)
	if err != nil {
		return nil, unavailable("find expired tasks", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, unavailable("scan task", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("find expired tasks", err)
	}
	return tasks, nil
}

// CountTasksByStatus counts tasks per status. projectID "" counts all projects.
func (d *DB) CountTasksByStatus(ctx context.Context, projectID string) (map[domain.TaskStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM tasks GROUP BY status`
	var args []any
	if projectID != "" {
		query = `SELECT status, COUNT(*) FROM tasks WHERE project_id = ? GROUP BY status`
		args = append(args, projectID)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("count tasks", err)
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, unavailable("count tasks", err)
		}
		counts[domain.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("count tasks", err)
	}
	return counts, nil
}

// TaskProject returns the project a task belongs to.
func (d *DB) TaskProject(ctx context.Context, taskID string) (string, error) {
	var projectID string
	err := d.db.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = ?`, taskID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrTaskNotFound
	}
	if err != nil {
		return "", unavailable("task project", err)
	}
	return projectID, nil
}

func scanTask(s scanner) (*domain.Task, error) {
	var t domain.Task
	var taskType, priority, status string
	var assignedAt, expiresAt, startedAt, completedAt sql.NullInt64
	var timeLimitMs, createdAt int64

	err := s.Scan(&t.ID, &t.ProjectID, &taskType, &priority, &status,
		&t.AssignedTo, &t.PreviousAssignee,
		&assignedAt, &expiresAt,
		&t.LabelsRequired, &t.ConsensusThreshold, &t.LabelsReceived,
		&t.Conflict, &t.AdditionalReviewers, &t.FinalLabel, &t.Confidence,
		&t.IsHoneypot, &t.ExpectedLabel,
		&t.Reward, &timeLimitMs,
		&createdAt, &startedAt, &completedAt, &t.Version)
	if err != nil {
		return nil, err
	}

	t.Type = domain.TaskType(taskType)
	t.Priority = domain.Priority(priority)
	t.Status = domain.TaskStatus(status)
	t.AssignedAt = fromMillis(assignedAt)
	t.ExpiresAt = fromMillis(expiresAt)
	t.TimeLimit = time.Duration(timeLimitMs) * time.Millisecond
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.StartedAt = fromMillis(startedAt)
	t.CompletedAt = fromMillis(completedAt)
	return &t, nil
}
