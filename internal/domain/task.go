// Package domain defines the core types shared by every layer.
// A Task is a unit of labeling work that flows through the engine:
// create → assign → label → consensus (or honeypot) → reward.
package domain

import "time"

// TaskStatus tracks task lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskCompleted  TaskStatus = "completed"
	TaskExpired    TaskStatus = "expired"
	TaskCancelled  TaskStatus = "cancelled"
)

// AllTaskStatuses lists every lifecycle state in display order.
var AllTaskStatuses = []TaskStatus{
	TaskPending, TaskAssigned, TaskInProgress, TaskReview,
	TaskCompleted, TaskExpired, TaskCancelled,
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	for _, v := range AllTaskStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// TaskType categorizes the kind of labeling work.
type TaskType string

const (
	TypeImageClassification  TaskType = "image_classification"
	TypeTextLabeling         TaskType = "text_labeling"
	TypeBoundingBox          TaskType = "bounding_box"
	TypeSemanticSegmentation TaskType = "semantic_segmentation"
	TypeSentimentAnalysis    TaskType = "sentiment_analysis"
	TypeTranscription        TaskType = "transcription"
	TypeTranslation          TaskType = "translation"
)

// Priority orders tasks for workers. It does not affect consensus.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Task is an atomic unit of labeling work.
//
// AssignedTo is non-empty iff Status is assigned, in_progress or review.
// ExpectedLabel is ground truth for honeypots and must never reach a worker.
type Task struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"project_id" validate:"required"`
	Type      TaskType `json:"type" validate:"required,oneof=image_classification text_labeling bounding_box semantic_segmentation sentiment_analysis transcription translation"`
	Priority  Priority `json:"priority" validate:"omitempty,oneof=low medium high urgent"`

	Status           TaskStatus `json:"status"`
	AssignedTo       string     `json:"assigned_to,omitempty"`
	PreviousAssignee string     `json:"previous_assignee,omitempty"`
	AssignedAt       time.Time  `json:"assigned_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at,omitempty"`

	LabelsRequired      int  `json:"labels_required" validate:"gte=1"`
	ConsensusThreshold  int  `json:"consensus_threshold" validate:"gte=1"`
	LabelsReceived      int  `json:"labels_received"`
	Conflict            bool `json:"conflict,omitempty"`
	AdditionalReviewers int  `json:"additional_reviewers,omitempty"`

	FinalLabel string  `json:"final_label,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	IsHoneypot    bool   `json:"is_honeypot"`
	ExpectedLabel string `json:"-"`

	Reward    int64         `json:"reward" validate:"gte=0"`
	TimeLimit time.Duration `json:"time_limit" validate:"gt=0"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Version is bumped by the store on every save.
	Version int64 `json:"version"`
}

// IsTerminal returns true if the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskExpired || t.Status == TaskCancelled
}

// HoldsAssignee reports whether the status requires a non-empty AssignedTo.
func (t *Task) HoldsAssignee() bool {
	return t.Status == TaskAssigned || t.Status == TaskInProgress || t.Status == TaskReview
}

// AcceptsLabels reports whether the task is in a state that takes submissions.
func (t *Task) AcceptsLabels() bool {
	return t.HoldsAssignee()
}

// IsOverdue reports whether an active assignment has passed its deadline.
func (t *Task) IsOverdue(now time.Time) bool {
	if t.Status != TaskAssigned && t.Status != TaskInProgress {
		return false
	}
	return !t.ExpiresAt.IsZero() && !t.ExpiresAt.After(now)
}

// Duration returns how long the task took to complete (0 if not started/completed).
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
