package models

import "time"

// Notification is a user-facing record produced by the Background Task
// Runner or by goal/task status transitions.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Payload   map[string]any `json:"payload,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// TaskRunStatus is the lifecycle state of a TaskRun.
type TaskRunStatus string

const (
	TaskRunPending   TaskRunStatus = "pending"
	TaskRunRunning   TaskRunStatus = "running"
	TaskRunCompleted TaskRunStatus = "completed"
	TaskRunFailed    TaskRunStatus = "failed"
	TaskRunCancelled TaskRunStatus = "cancelled"
)

// TaskRun is one execution (scheduled or on-demand) of a background task type.
type TaskRun struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Type          string         `json:"type"`
	Config        map[string]any `json:"config,omitempty"`
	Status        TaskRunStatus  `json:"status"`
	ResultSummary string         `json:"result_summary,omitempty"`
	Error         string         `json:"error,omitempty"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}
