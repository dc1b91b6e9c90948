package domain

import (
	"errors"
	"strings"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Lookup errors
	ErrTaskNotFound   = errors.New("task not found")
	ErrWorkerNotFound = errors.New("worker not found")

	// Assignment errors
	ErrTaskAlreadyAssigned = errors.New("task is not pending")
	ErrReputationTooLow    = errors.New("reputation score below required threshold")
	ErrNoEligibleWorker    = errors.New("no eligible worker available")
	ErrInvalidTransition   = errors.New("task state does not permit this operation")

	// Submission errors
	ErrDuplicateSubmission = errors.New("worker already submitted a label for this task")
	ErrInvalidConfidence   = errors.New("confidence must be within [0, 1]")
	ErrTaskClosed          = errors.New("task is not accepting labels")

	// Creation errors
	ErrInvalidTaskData = errors.New("invalid task data")

	// Store errors
	ErrStoreUnavailable = errors.New("task store unavailable")
	ErrVersionConflict  = errors.New("task was modified concurrently")
)

// OpError carries the failing operation and the offending ids alongside the
// sentinel kind, so callers can decide between retrying and abandoning.
type OpError struct {
	Op       string // e.g. "assign", "submit"
	TaskID   string
	WorkerID string
	Detail   string
	Err      error // one of the sentinels above, possibly wrapped
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.TaskID != "" {
		b.WriteString(" task=")
		b.WriteString(e.TaskID)
	}
	if e.WorkerID != "" {
		b.WriteString(" worker=")
		b.WriteString(e.WorkerID)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

func (e *OpError) Unwrap() error { return e.Err }

// ErrorKind returns a stable, machine-readable name for err's sentinel kind,
// or "internal" when err matches none of them.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTaskNotFound):
		return "task_not_found"
	case errors.Is(err, ErrWorkerNotFound):
		return "worker_not_found"
	case errors.Is(err, ErrTaskAlreadyAssigned):
		return "task_already_assigned"
	case errors.Is(err, ErrReputationTooLow):
		return "reputation_too_low"
	case errors.Is(err, ErrNoEligibleWorker):
		return "no_eligible_worker"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrDuplicateSubmission):
		return "duplicate_submission"
	case errors.Is(err, ErrInvalidConfidence):
		return "invalid_confidence"
	case errors.Is(err, ErrTaskClosed):
		return "task_closed"
	case errors.Is(err, ErrInvalidTaskData):
		return "invalid_task_data"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	default:
		return "internal"
	}
}
