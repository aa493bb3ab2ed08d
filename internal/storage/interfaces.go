// Package storage holds the Store interface the Conversation Orchestrator,
// Goal Executor, and Background Task Runner persist through, plus an
// in-memory reference implementation and a SQL-backed production option.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/careerforge/orchestrator/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ConversationStore persists Conversations and their ordered Messages (I1:
// ordinals strictly increasing within a Conversation).
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// AppendMessage assigns the next ordinal for conv.ID and persists msg.
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// TraceStore persists append-only Traces (I5).
type TraceStore interface {
	CreateTrace(ctx context.Context, t *models.Trace) error
	GetTrace(ctx context.Context, id string) (*models.Trace, error)
	// AppendEntries adds entries to an existing trace; never rewrites prior
	// entries.
	AppendEntries(ctx context.Context, traceID string, entries []models.TraceEntry) error
	Complete(ctx context.Context, traceID string, status string, latencyMS int64) error
	// SetFeedback records feedback exactly once; a second call is a no-op
	// that still returns success (submitting identical feedback twice is
	// accepted but only the first recording is kept).
	SetFeedback(ctx context.Context, traceID string, feedback models.Feedback) error
}

// GoalStore persists Goals and their ordered Steps.
type GoalStore interface {
	CreateGoal(ctx context.Context, g *models.Goal) error
	GetGoal(ctx context.Context, id string) (*models.Goal, error)
	UpdateGoalStatus(ctx context.Context, id string, status models.GoalStatus) error
	CreateSteps(ctx context.Context, steps []*models.Step) error
	// ReplaceTailSteps deletes all steps with ordinal > fromOrdinal and
	// inserts newSteps in their place, for re-planning (S5).
	ReplaceTailSteps(ctx context.Context, goalID string, fromOrdinal int, newSteps []*models.Step) error
	ListSteps(ctx context.Context, goalID string) ([]*models.Step, error)
	UpdateStep(ctx context.Context, step *models.Step) error
	// AcquireStepHold enforces I2: only one executor may hold a Goal's
	// in_progress step at a time. Returns false if another hold is active.
	AcquireStepHold(ctx context.Context, goalID string) (release func(), ok bool)
	// ListActiveGoalUserIDs returns the distinct user ids with at least one
	// active Goal, the population the Background Task Runner's periodic job-
	// match scanner sweeps.
	ListActiveGoalUserIDs(ctx context.Context) ([]string, error)
}

// NotificationStore persists per-user Notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
}

// TaskStore persists TaskRuns, keyed by user and task type, the Background
// Task Runner's unit of both schedule and execution history.
type TaskStore interface {
	CreateTaskRun(ctx context.Context, tr *models.TaskRun) error
	GetTaskRun(ctx context.Context, id string) (*models.TaskRun, error)
	UpdateTaskRun(ctx context.Context, tr *models.TaskRun) error
	ListTaskRuns(ctx context.Context, userID string, limit int) ([]*models.TaskRun, error)
	// ClaimDueTaskRuns atomically transitions up to limit pending runs with
	// ScheduledAt <= now to running and returns the claimed batch, so that a
	// run is handed to exactly one in-process worker.
	ClaimDueTaskRuns(ctx context.Context, now time.Time, limit int) ([]*models.TaskRun, error)
	// CountRunning reports how many TaskRuns of taskType are currently
	// running, for types that forbid overlapping executions.
	CountRunning(ctx context.Context, taskType string) (int, error)
}

// Store groups every persistence dependency the core needs.
type Store interface {
	ConversationStore
	TraceStore
	GoalStore
	NotificationStore
	TaskStore
	Close() error
}
