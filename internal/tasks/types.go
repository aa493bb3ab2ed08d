// Package tasks implements the Background Task Runner: a pluggable set of
// TaskHandlers executed either on an interval schedule or on demand, each
// execution tracked as a models.TaskRun.
package tasks

import (
	"context"
	"time"

	"github.com/careerforge/orchestrator/pkg/models"
)

// Notification is a user-facing record a TaskHandler wants written and
// pushed on completion of its TaskRun.
type Notification struct {
	Type    string
	Title   string
	Body    string
	Payload map[string]any
}

// Result is what a TaskHandler returns on successful completion.
type Result struct {
	Summary       string
	Notifications []Notification
}

// TaskHandler implements one task type's work. Implementations must respect
// ctx cancellation/deadline; the Scheduler enforces the Definition's Timeout
// around every call.
type TaskHandler interface {
	Run(ctx context.Context, run *models.TaskRun) (Result, error)
}

// Publisher delivers a domain event to every live Subscription for a user.
// Defined here rather than imported to avoid a dependency on the Push
// Fabric package; the orchestratord entrypoint wires the real one in.
type Publisher interface {
	Publish(userID string, event models.Event)
}

// Definition registers one task type with the Scheduler.
type Definition struct {
	// Type is the TaskRun.Type value this Definition handles.
	Type string
	// Schedule is a github.com/robfig/cron/v3 expression. Empty means the
	// type only ever runs on demand via Scheduler.Enqueue.
	Schedule string
	Handler  TaskHandler
	// AllowOverlap permits more than one TaskRun of this Type to be running
	// at once. Defaults to false: the generator skips a user already holding
	// a pending or running run of this type.
	AllowOverlap bool
	// Timeout bounds a single execution. Defaults to 5 minutes.
	Timeout time.Duration
}
