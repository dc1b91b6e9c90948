package domain

import "time"

// Reputation bounds. Reputation is a slow-moving 0–100 trust score.
const (
	MinReputationScore = 0.0
	MaxReputationScore = 100.0
)

// Worker is a labeler in the crowd.
type Worker struct {
	ID             string    `json:"id" validate:"required"`
	Reputation     float64   `json:"reputation" validate:"gte=0,lte=100"`
	Accuracy       float64   `json:"accuracy" validate:"gte=0,lte=1"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	LastActiveAt   time.Time `json:"last_active_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Submission is one worker's label for one task.
// (TaskID, UserID) is unique.
type Submission struct {
	ID         string        `json:"id"`
	TaskID     string        `json:"task_id"`
	UserID     string        `json:"user_id"`
	Value      string        `json:"value"`
	Confidence float64       `json:"confidence"`
	TimeSpent  time.Duration `json:"time_spent"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SubmissionStats aggregates a worker's submission history.
type SubmissionStats struct {
	Count            int           `json:"count"`
	AverageTimeSpent time.Duration `json:"average_time_spent"`
}
