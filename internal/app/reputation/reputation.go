// Package reputation implements the worker eligibility gate and the
// honeypot-driven accuracy and reputation updates.
//
// Everything here is pure: callers pass worker snapshots in and persist the
// returned values themselves, under their own per-worker lock.
package reputation

import (
	"fmt"
	"math"

	"github.com/labelmint/labelmint/internal/domain"
)

// MaxAccuracy is the largest accuracy an EMA update can produce.
// Accuracy approaches 1 but never reaches it.
var MaxAccuracy = math.Nextafter(1, 0)

// Gate decides whether a worker may take a task.
type Gate struct {
	// MinReputation is the lowest reputation allowed to take work.
	MinReputation float64
	// MinAccuracy is the lowest honeypot accuracy allowed. 0 disables it.
	MinAccuracy float64
}

// IsEligible reports whether worker passes the gate for task.
func (g Gate) IsEligible(worker domain.Worker, task domain.Task) bool {
	return g.reject(worker) == ""
}

// Check is IsEligible with a reason: it returns an *domain.OpError wrapping
// domain.ErrReputationTooLow when the worker is refused.
func (g Gate) Check(worker domain.Worker, task domain.Task) error {
	reason := g.reject(worker)
	if reason == "" {
		return nil
	}
	return &domain.OpError{
		Op:       "reputation gate",
		TaskID:   task.ID,
		WorkerID: worker.ID,
		Detail:   reason,
		Err:      domain.ErrReputationTooLow,
	}
}

func (g Gate) reject(w domain.Worker) string {
	if w.Reputation < g.MinReputation {
		return fmt.Sprintf("reputation %.1f below minimum %.1f", w.Reputation, g.MinReputation)
	}
	if g.MinAccuracy > 0 && w.Accuracy < g.MinAccuracy {
		return fmt.Sprintf("accuracy %.3f below minimum %.3f", w.Accuracy, g.MinAccuracy)
	}
	return ""
}

// ─── Honeypot Updates ───────────────────────────────────────────────────────

// UpdateAccuracy applies one exponential-moving-average step toward 1 when
// correct and toward 0 otherwise. The result stays in [0, MaxAccuracy] and
// a correct answer never lowers it.
func UpdateAccuracy(current float64, correct bool, alpha float64) float64 {
	current = ClampAccuracy(current)
	outcome := 0.0
	if correct {
		outcome = 1
	}
	next := ClampAccuracy(current + alpha*(outcome-current))
	if correct && next < current {
		return current
	}
	return next
}

// ClampAccuracy maps v into [0, MaxAccuracy]. NaN becomes 0.
func ClampAccuracy(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > MaxAccuracy:
		return MaxAccuracy
	}
	return v
}

// Nudge adjusts a reputation score by delta, clamped to the 0–100 scale.
func Nudge(current, delta float64) float64 {
	v := current + delta
	if v < domain.MinReputationScore {
		return domain.MinReputationScore
	}
	if v > domain.MaxReputationScore {
		return domain.MaxReputationScore
	}
	return v
}
