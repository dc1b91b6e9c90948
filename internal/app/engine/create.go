package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/app/reputation"
	"github.com/labelmint/labelmint/internal/domain"
)

// ─── Registration ───────────────────────────────────────────────────────────

// CreateTask validates a new task and stores it as pending. Honeypots are
// forced to a single rater. Nothing is written when validation fails.
func (e *Engine) CreateTask(ctx context.Context, in domain.Task) (task *domain.Task, err error) {
	ctx, end := e.begin(ctx, "create_task", attribute.String("project.id", in.ProjectID))
	defer func() { end(err) }()

	t := in
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	t.TimeLimit = t.TimeLimit.Truncate(time.Millisecond)
	if t.IsHoneypot {
		t.LabelsRequired = 1
		t.ConsensusThreshold = 1
	}
	if err := e.validateTask(&t); err != nil {
		return nil, opErrorf("create_task", t.ID, "", domain.ErrInvalidTaskData, err.Error())
	}

	t.Status = domain.TaskPending
	t.AssignedTo = ""
	t.PreviousAssignee = ""
	t.AssignedAt, t.ExpiresAt = time.Time{}, time.Time{}
	t.StartedAt, t.CompletedAt = time.Time{}, time.Time{}
	t.LabelsReceived = 0
	t.Conflict = false
	t.AdditionalReviewers = 0
	t.FinalLabel = ""
	t.Confidence = 0
	t.CreatedAt = e.now().UTC()

	if err := e.store.CreateTask(ctx, &t); err != nil {
		return nil, opError("create_task", t.ID, "", err)
	}
	e.logger.Info("task created",
		zap.String("task_id", t.ID),
		zap.String("project_id", t.ProjectID),
		zap.String("type", string(t.Type)),
		zap.Bool("honeypot", t.IsHoneypot))
	return &t, nil
}

func (e *Engine) validateTask(t *domain.Task) error {
	if err := e.validate.Struct(t); err != nil {
		return describeValidation(err)
	}
	if t.ConsensusThreshold > t.LabelsRequired {
		return fmt.Errorf("consensus_threshold %d exceeds labels_required %d", t.ConsensusThreshold, t.LabelsRequired)
	}
	if t.LabelsRequired > e.cfg.MaxParticipants {
		return fmt.Errorf("labels_required %d exceeds participant cap %d", t.LabelsRequired, e.cfg.MaxParticipants)
	}
	if t.IsHoneypot && strings.TrimSpace(t.ExpectedLabel) == "" {
		return errors.New("honeypot requires expected_label")
	}
	return nil
}

// RegisterWorker adds a new worker to the pool.
func (e *Engine) RegisterWorker(ctx context.Context, in domain.Worker) (worker *domain.Worker, err error) {
	ctx, end := e.begin(ctx, "register_worker", attribute.String("worker.id", in.ID))
	defer func() { end(err) }()

	w := domain.Worker{
		ID:         strings.TrimSpace(in.ID),
		Reputation: in.Reputation,
		Accuracy:   in.Accuracy,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.validate.Struct(&w); err != nil {
		return nil, opErrorf("register_worker", "", w.ID, domain.ErrInvalidTaskData, describeValidation(err).Error())
	}
	// Stored accuracy stays below 1 so a correct honeypot can only raise it.
	w.Accuracy = reputation.ClampAccuracy(w.Accuracy)

	unlock := e.workers.Lock(w.ID)
	defer unlock()

	if _, err := e.store.GetWorker(ctx, w.ID); err == nil {
		return nil, opErrorf("register_worker", "", w.ID, domain.ErrInvalidTaskData, "worker already registered")
	} else if !errors.Is(err, domain.ErrWorkerNotFound) {
		return nil, opError("register_worker", "", w.ID, err)
	}
	if err := e.store.SaveWorker(ctx, &w); err != nil {
		return nil, opError("register_worker", "", w.ID, err)
	}
	e.logger.Info("worker registered", zap.String("worker_id", w.ID), zap.Float64("reputation", w.Reputation))
	return &w, nil
}

// GetTask returns a task by id.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	t, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, opError("get_task", taskID, "", err)
	}
	return t, nil
}

// GetWorker returns a worker by id.
func (e *Engine) GetWorker(ctx context.Context, workerID string) (*domain.Worker, error) {
	w, err := e.loadWorker(ctx, workerID)
	if err != nil {
		return nil, opError("get_worker", "", workerID, err)
	}
	return w, nil
}

// describeValidation flattens validator errors into one readable line.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}
