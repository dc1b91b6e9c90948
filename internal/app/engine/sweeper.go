package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/domain"
)

// SweeperConfig configures the periodic expiration sweep.
type SweeperConfig struct {
	Interval     time.Duration // default 30s
	AutoReassign bool          // reassign each expired task right after the sweep
	Timeout      time.Duration // upper bound for one sweep (default: Interval)
}

// DefaultSweeperConfig returns production sweeper defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Interval: 30 * time.Second}
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Expired    int `json:"expired"`
	Reassigned int `json:"reassigned"`
	Unassigned int `json:"unassigned"` // expired tasks left pending for lack of a worker
	Errors     int `json:"errors"`
}

// ─── Sweeper ────────────────────────────────────────────────────────────────

// Sweeper runs CheckExpiredTasks on a gocron schedule. Runs never overlap:
// a sweep that outlasts its interval delays the next one.
type Sweeper struct {
	engine *Engine
	cfg    SweeperConfig
	sched  gocron.Scheduler
	logger *zap.Logger

	mu   sync.Mutex
	last SweepReport
}

// NewSweeper creates a sweeper. Call Start to begin sweeping.
func NewSweeper(e *Engine, cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweeperConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Sweeper{engine: e, cfg: cfg, sched: sched, logger: e.logger.Named("sweeper")}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.Interval),
		gocron.NewTask(s.tick),
		gocron.WithName("expiration-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		sched.Shutdown() //nolint:errcheck
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.logger.Info("sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("auto_reassign", s.cfg.AutoReassign))
	s.sched.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	return s.sched.Shutdown()
}

// Last returns the report of the most recent scheduled sweep.
func (s *Sweeper) Last() SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	report := Sweep(ctx, s.engine, s.cfg.AutoReassign)
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
}

// Sweep runs one expiration pass and, when reassign is set, tries to hand
// every newly expired task to another worker.
func Sweep(ctx context.Context, e *Engine, reassign bool) SweepReport {
	var report SweepReport

	expired, err := e.CheckExpiredTasks(ctx)
	report.Expired = len(expired)
	if err != nil {
		report.Errors++
		e.logger.Warn("expiration sweep incomplete", zap.Error(err))
	}
	if !reassign {
		return report
	}

	for _, t := range expired {
		_, err := e.ReassignExpiredTask(ctx, t.ID)
		switch {
		case err == nil:
			report.Reassigned++
		case errors.Is(err, domain.ErrNoEligibleWorker):
			report.Unassigned++
		default:
			report.Errors++
			e.logger.Warn("reassign failed", zap.String("task_id", t.ID), zap.Error(err))
		}
	}
	return report
}
