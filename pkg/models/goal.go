package models

import "time"

// GoalStatus is the lifecycle state of a Goal.
type GoalStatus string

const (
	GoalSuggested GoalStatus = "suggested"
	GoalActive    GoalStatus = "active"
	GoalPaused    GoalStatus = "paused"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// StepStatus is the lifecycle state of a Step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// Goal is a long-horizon user objective decomposed into an ordered Step plan.
type Goal struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      GoalStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Step is one ordinal unit of a Goal's plan.
type Step struct {
	ID             string     `json:"id"`
	GoalID         string     `json:"goal_id"`
	Ordinal        int        `json:"ordinal"`
	Title          string     `json:"title"`
	Rationale      string     `json:"rationale,omitempty"`
	AssignedAgent  string     `json:"assigned_agent"`
	Status         StepStatus `json:"status"`
	CapturedOutput string     `json:"captured_output,omitempty"`
	TraceID        string     `json:"trace_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the step has reached a status the executor will
// not revisit on its own.
func (s *Step) IsTerminal() bool {
	switch s.Status {
	case StepCompleted, StepSkipped, StepFailed:
		return true
	default:
		return false
	}
}
