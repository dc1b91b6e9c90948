// Package health runs periodic dependency checks for the daemon.
// The latest results back the /health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Check defines a single named health check with an optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs its checks on an interval and keeps the last results.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewChecker creates a checker. interval <= 0 means 30s.
func NewChecker(interval time.Duration, logger *zap.Logger, checks ...Check) *Checker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		checks:   checks,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logger,
		now:      time.Now,
	}
}

// Add registers another check. Not safe once Run has started.
func (c *Checker) Add(check Check) { c.checks = append(c.checks, check) }

// Run checks immediately, then on every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check once and records the results.
func (c *Checker) RunOnce(ctx context.Context) []Status {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{Name: check.Name, CheckedAt: c.now().UTC(), Healthy: true}

		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check.CheckFn(cctx)
		cancel()

		if err != nil {
			s.Healthy = false
			s.Error = err.Error()
			c.logger.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
			if check.RecoverFn != nil {
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.logger.Error("health recovery failed", zap.String("check", check.Name), zap.Error(rerr))
				}
			}
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
	return statuses
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy reports whether every check passed on the last run.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
