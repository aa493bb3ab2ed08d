package models

import "time"

// EventType enumerates the event kinds the core emits, per the Push Fabric
// wire contract. Consumers key off Type alone; unknown types are ignored
// forward-compatibly.
type EventType string

const (
	EventConversationID    EventType = "conversation_id"
	EventRouting           EventType = "routing"
	EventAgentStatus       EventType = "agent_status"
	EventAgentReasoning    EventType = "agent_reasoning"
	EventEvaluator         EventType = "evaluator"
	EventNegotiationRound  EventType = "negotiation_round"
	EventNegotiationResult EventType = "negotiation_result"
	EventToolStatus        EventType = "tool_status"
	EventContent           EventType = "content"
	EventTraceIDs          EventType = "trace_ids"
	EventDone              EventType = "done"
	EventGoalStepStart     EventType = "goal_step_start"
	EventGoalStepComplete  EventType = "goal_step_complete"
	EventGoalReplan        EventType = "goal_replan"
	EventNotification      EventType = "notification"
	EventTaskUpdate        EventType = "task_update"
	EventPong              EventType = "pong"
	EventError             EventType = "error"
)

// Event is the domain event value the Orchestrator, Goal Executor, and
// Background Task Runner produce. It carries no sequence number of its own;
// the Push Fabric Subscription assigns a monotonic per-subscription Seq when
// it marshals this into the wire envelope.
type Event struct {
	Type      EventType      `json:"type"`
	UserID    string         `json:"-"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"-"`
}

// NewEvent builds an Event with the given type and fields, stamping
// CreatedAt for diagnostics.
func NewEvent(userID string, typ EventType, fields map[string]any) Event {
	return Event{Type: typ, UserID: userID, Fields: fields, CreatedAt: time.Now()}
}
