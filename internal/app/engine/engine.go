// Package engine implements the task assignment and consensus engine.
//
// Every state-changing operation on a task runs inside one critical section
// keyed by task id, so two calls on the same task are linearizable while
// calls on different tasks proceed in parallel. Worker records are updated
// under a second, per-worker lock, always acquired after the task lock.
//
// Reads (statistics, consensus previews) take no locks and see whatever the
// store holds at call time.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/app/consensus"
	"github.com/labelmint/labelmint/internal/app/reputation"
	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/keylock"
	"github.com/labelmint/labelmint/internal/infra/metrics"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config holds the engine's policy constants.
type Config struct {
	MinReputation float64 // gate threshold on the 0–100 scale
	MinAccuracy   float64 // 0 disables the accuracy gate

	MaxParticipants int // total labels allowed per task (default 5)

	HoneypotAlpha     float64 // EMA coefficient for honeypot accuracy updates
	ReputationReward  float64 // reputation added on a correct honeypot
	ReputationPenalty float64 // reputation removed on a wrong honeypot

	// ExcludePreviousAssignee keeps automatic (re)assignment from handing a
	// task back to the worker who let it expire.
	ExcludePreviousAssignee bool

	BatchConcurrency int // parallel items in batch operations

	ReadRetries   int           // attempts for reads failing with StoreUnavailable
	ReadRetryBase time.Duration // first backoff interval
}

// DefaultConfig returns production engine defaults.
func DefaultConfig() Config {
	return Config{
		MinReputation:           50,
		MaxParticipants:         consensus.DefaultMaxParticipants,
		HoneypotAlpha:           0.05,
		ReputationReward:        0.5,
		ReputationPenalty:       1.0,
		ExcludePreviousAssignee: true,
		BatchConcurrency:        8,
		ReadRetries:             3,
		ReadRetryBase:           50 * time.Millisecond,
	}
}

// Options carries the engine's optional collaborators.
type Options struct {
	Logger    *zap.Logger
	Events    domain.EventPublisher
	Disburser domain.RewardDisburser
	Billing   domain.BillingProvider
	Earnings  domain.EarningsProvider
	Now       func() time.Time // defaults to time.Now
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// Engine orchestrates assignment, submission, consensus, honeypot scoring,
// expiry and statistics over a domain.TaskStore.
type Engine struct {
	cfg   Config
	store domain.TaskStore
	gate  reputation.Gate

	tasks   *keylock.Locker
	workers *keylock.Locker

	events    domain.EventPublisher
	disburser domain.RewardDisburser
	billing   domain.BillingProvider
	earnings  domain.EarningsProvider

	logger   *zap.Logger
	tracer   trace.Tracer
	validate *validator.Validate
	now      func() time.Time
}

// New creates an engine. Missing collaborators are replaced by no-ops.
func New(store domain.TaskStore, cfg Config, opts Options) *Engine {
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = consensus.DefaultMaxParticipants
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}
	if cfg.ReadRetries <= 0 {
		cfg.ReadRetries = 1
	}
	if cfg.ReadRetryBase <= 0 {
		cfg.ReadRetryBase = 50 * time.Millisecond
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		gate:      reputation.Gate{MinReputation: cfg.MinReputation, MinAccuracy: cfg.MinAccuracy},
		tasks:     keylock.New(),
		workers:   keylock.New(),
		events:    opts.Events,
		disburser: opts.Disburser,
		billing:   opts.Billing,
		earnings:  opts.Earnings,
		logger:    opts.Logger,
		tracer:    otel.Tracer("labelmint/engine"),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	if e.events == nil {
		e.events = nopPublisher{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	clock := opts.Now
	if clock == nil {
		clock = time.Now
	}
	// The store keeps millisecond timestamps; values handed back to callers
	// must survive a round trip unchanged.
	e.now = func() time.Time { return clock().Truncate(time.Millisecond) }
	return e
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Event) error { return nil }

// ─── Instrumentation ────────────────────────────────────────────────────────

// begin opens a span for op and returns a finisher that records err on the
// span and the op's latency.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (e *Engine) publish(taskID, workerID string, payload domain.EventPayload) {
	ev := domain.Event{
		Kind:      payload.Kind(),
		TaskID:    taskID,
		WorkerID:  workerID,
		Payload:   payload,
		Timestamp: e.now().UTC(),
	}
	if err := e.events.Publish(ev); err != nil {
		e.logger.Warn("publish event failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}

// ─── Store Access ───────────────────────────────────────────────────────────

// retryRead runs an idempotent store read, retrying only StoreUnavailable
// failures with exponential backoff.
func retryRead[T any](ctx context.Context, e *Engine, op string, read func() (T, error)) (T, error) {
	attempt := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.ReadRetryBase

	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		if attempt > 1 {
			metrics.StoreReadRetries.WithLabelValues(op).Inc()
		}
		v, err := read()
		if err != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(e.cfg.ReadRetries)))
}

func (e *Engine) loadTask(ctx context.Context, id string) (*domain.Task, error) {
	return retryRead(ctx, e, "get_task", func() (*domain.Task, error) {
		return e.store.GetTask(ctx, id)
	})
}

func (e *Engine) loadWorker(ctx context.Context, id string) (*domain.Worker, error) {
	return retryRead(ctx, e, "get_worker", func() (*domain.Worker, error) {
		return e.store.GetWorker(ctx, id)
	})
}

func (e *Engine) loadSubmissions(ctx context.Context, taskID string) ([]domain.Submission, error) {
	return retryRead(ctx, e, "list_submissions", func() ([]domain.Submission, error) {
		return e.store.ListSubmissions(ctx, taskID)
	})
}

// updateWorker applies fn to a fresh copy of the worker under its lock and
// saves the result.
func (e *Engine) updateWorker(ctx context.Context, id string, fn func(w *domain.Worker)) (before, after domain.Worker, err error) {
	unlock := e.workers.Lock(id)
	defer unlock()

	w, err := e.loadWorker(ctx, id)
	if err != nil {
		return before, after, err
	}
	before = *w
	fn(w)
	if err := e.store.SaveWorker(ctx, w); err != nil {
		return before, after, err
	}
	return before, *w, nil
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// opError attaches the operation and ids to err unless it already carries them.
func opError(op, taskID, workerID string, err error) error {
	var oe *domain.OpError
	if errors.As(err, &oe) {
		return err
	}
	return &domain.OpError{Op: op, TaskID: taskID, WorkerID: workerID, Err: err}
}

func opErrorf(op, taskID, workerID string, kind error, detail string) error {
	return &domain.OpError{Op: op, TaskID: taskID, WorkerID: workerID, Detail: detail, Err: kind}
}
