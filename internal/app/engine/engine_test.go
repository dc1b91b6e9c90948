package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/sqlite"
)

// ─── Test Doubles ───────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(ev domain.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) kinds(taskID string) []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EventKind
	for _, ev := range r.events {
		if ev.TaskID == taskID {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func (r *recorder) last(kind domain.EventKind) (domain.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return domain.Event{}, false
}

type disbursement struct {
	TaskID     string
	Recipients []string
	Amount     int64
}

type fakeDisburser struct {
	mu    sync.Mutex
	calls []disbursement
	err   error
}

func (f *fakeDisburser) Disburse(_ context.Context, taskID string, recipients []string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, disbursement{TaskID: taskID, Recipients: recipients, Amount: amount})
	return f.err
}

func (f *fakeDisburser) all() []disbursement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]disbursement(nil), f.calls...)
}

// flakyStore fails chosen calls with StoreUnavailable before delegating.
type flakyStore struct {
	*sqlite.DB
	mu           sync.Mutex
	getTaskFails int
	saveFails    int
	getTaskCalls int
}

func (s *flakyStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	s.getTaskCalls++
	fail := s.getTaskFails > 0
	if fail {
		s.getTaskFails--
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.Join(domain.ErrStoreUnavailable, errors.New("connection reset"))
	}
	return s.DB.GetTask(ctx, id)
}

func (s *flakyStore) SaveTask(ctx context.Context, t *domain.Task) error {
	s.mu.Lock()
	fail := s.saveFails > 0
	if fail {
		s.saveFails--
	}
	s.mu.Unlock()
	if fail {
		return errors.Join(domain.ErrStoreUnavailable, errors.New("disk I/O error"))
	}
	return s.DB.SaveTask(ctx, t)
}

// RecordSubmission shares the saveFails budget with SaveTask: both are the
// write that commits a task transition.
func (s *flakyStore) RecordSubmission(ctx context.Context, sub *domain.Submission, t *domain.Task, w *domain.Worker) error {
	s.mu.Lock()
	fail := s.saveFails > 0
	if fail {
		s.saveFails--
	}
	s.mu.Unlock()
	if fail {
		return errors.Join(domain.ErrStoreUnavailable, errors.New("disk I/O error"))
	}
	return s.DB.RecordSubmission(ctx, sub, t, w)
}

// ─── Harness ────────────────────────────────────────────────────────────────

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type harness struct {
	eng    *Engine
	db     *sqlite.DB
	clock  *fakeClock
	events *recorder
	pay    *fakeDisburser
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinReputation = 60
	cfg.ReadRetryBase = time.Millisecond
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newHarnessWithStore(t, db, db, mutate...)
}

func newHarnessWithStore(t *testing.T, db *sqlite.DB, store domain.TaskStore, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		db:     db,
		clock:  &fakeClock{now: t0},
		events: &recorder{},
		pay:    &fakeDisburser{},
	}
	h.eng = New(store, cfg, Options{
		Events:    h.events,
		Disburser: h.pay,
		Now:       h.clock.Now,
	})
	return h
}

func (h *harness) worker(t *testing.T, id string, reputation float64) {
	t.Helper()
	_, err := h.eng.RegisterWorker(context.Background(), domain.Worker{ID: id, Reputation: reputation, Accuracy: 0.8})
	require.NoError(t, err)
}

func (h *harness) task(t *testing.T, mutate ...func(*domain.Task)) *domain.Task {
	t.Helper()
	in := domain.Task{
		ProjectID:          "proj-1",
		Type:               domain.TypeImageClassification,
		LabelsRequired:     3,
		ConsensusThreshold: 2,
		Reward:             30,
		TimeLimit:          10 * time.Minute,
	}
	for _, m := range mutate {
		m(&in)
	}
	task, err := h.eng.CreateTask(context.Background(), in)
	require.NoError(t, err)
	return task
}

func (h *harness) reload(t *testing.T, id string) *domain.Task {
	t.Helper()
	task, err := h.db.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (h *harness) label(taskID, workerID, value string) (*SubmissionOutcome, error) {
	return h.eng.SubmitLabel(context.Background(), LabelRequest{
		TaskID:     taskID,
		WorkerID:   workerID,
		Value:      value,
		Confidence: 0.9,
		TimeSpent:  20 * time.Second,
	})
}
