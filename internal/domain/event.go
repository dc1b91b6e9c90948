package domain

import "time"

// EventKind tags a lifecycle event.
type EventKind string

const (
	EventAssigned          EventKind = "assigned"
	EventSubmitted         EventKind = "submitted"
	EventConsensusReached  EventKind = "consensus_reached"
	EventConflict          EventKind = "conflict"
	EventExpired           EventKind = "expired"
	EventHoneypotEvaluated EventKind = "honeypot_evaluated"
)

// Event is a lifecycle notification. Payload's concrete type is fixed by Kind:
//
//	assigned           → AssignedPayload
//	submitted          → SubmittedPayload
//	consensus_reached  → ConsensusReachedPayload
//	conflict           → ConflictPayload
//	expired            → ExpiredPayload
//	honeypot_evaluated → HoneypotEvaluatedPayload
type Event struct {
	ID        string       `json:"id"`
	Kind      EventKind    `json:"type"`
	TaskID    string       `json:"task_id"`
	WorkerID  string       `json:"worker_id,omitempty"`
	Payload   EventPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventPayload is the closed set of kind-specific payloads. The unexported
// marker keeps implementations inside this package.
type EventPayload interface {
	Kind() EventKind
	isEventPayload()
}

// AssignedPayload accompanies EventAssigned.
type AssignedPayload struct {
	AssignedAt time.Time `json:"assigned_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Auto       bool      `json:"auto"`
}

// SubmittedPayload accompanies EventSubmitted.
type SubmittedPayload struct {
	SubmissionID string  `json:"submission_id"`
	Value        string  `json:"value"`
	Confidence   float64 `json:"confidence"`
	TotalLabels  int     `json:"total_labels"`
}

// ConsensusReachedPayload accompanies EventConsensusReached.
type ConsensusReachedPayload struct {
	FinalLabel string   `json:"final_label"`
	Confidence float64  `json:"confidence"`
	Recipients []string `json:"recipients"`
	Reward     int64    `json:"reward"`
}

// ConflictPayload accompanies EventConflict.
type ConflictPayload struct {
	Distribution        map[string]int `json:"distribution"`
	AdditionalReviewers int            `json:"additional_reviewers"`
}

// ExpiredPayload accompanies EventExpired.
type ExpiredPayload struct {
	PreviousAssignee string    `json:"previous_assignee"`
	ExpiredAt        time.Time `json:"expired_at"`
}

// HoneypotEvaluatedPayload accompanies EventHoneypotEvaluated.
type HoneypotEvaluatedPayload struct {
	IsCorrect      bool    `json:"is_correct"`
	AccuracyBefore float64 `json:"accuracy_before"`
	AccuracyAfter  float64 `json:"accuracy_after"`
}

func (AssignedPayload) Kind() EventKind          { return EventAssigned }
func (SubmittedPayload) Kind() EventKind         { return EventSubmitted }
func (ConsensusReachedPayload) Kind() EventKind  { return EventConsensusReached }
func (ConflictPayload) Kind() EventKind          { return EventConflict }
func (ExpiredPayload) Kind() EventKind           { return EventExpired }
func (HoneypotEvaluatedPayload) Kind() EventKind { return EventHoneypotEvaluated }

func (AssignedPayload) isEventPayload()          {}
func (SubmittedPayload) isEventPayload()         {}
func (ConsensusReachedPayload) isEventPayload()  {}
func (ConflictPayload) isEventPayload()          {}
func (ExpiredPayload) isEventPayload()           {}
func (HoneypotEvaluatedPayload) isEventPayload() {}
