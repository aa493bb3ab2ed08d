package models

import "time"

// RoutingDecision is the Intent Router's output for one Turn.
type RoutingDecision struct {
	Intent         string   `json:"intent"`
	Agents         []string `json:"agents"`
	Confidence     float64  `json:"confidence"`
	DirectResponse bool     `json:"direct_response"`
}

// EvaluatorDecisionKind enumerates the Evaluator's possible directives.
type EvaluatorDecisionKind string

const (
	DecisionContinue EvaluatorDecisionKind = "continue"
	DecisionSkipNext EvaluatorDecisionKind = "skip_next"
	DecisionLoopBack EvaluatorDecisionKind = "loop_back"
	DecisionStop     EvaluatorDecisionKind = "stop"
	DecisionAddAgent EvaluatorDecisionKind = "add_agent"
)

// EvaluatorDecision is the record emitted after each agent step.
type EvaluatorDecision struct {
	Kind         EvaluatorDecisionKind `json:"decision"`
	Reason       string                `json:"reason,omitempty"`
	TargetAgent  string                `json:"target_agent,omitempty"`
	StepAgent    string                `json:"step_agent"`
	OccurredAt   time.Time             `json:"occurred_at"`
}

// NegotiationPosition is one agent's stance during a negotiation round.
type NegotiationPosition struct {
	AgentName  string         `json:"agent_name"`
	Action     string         `json:"action"` // maintain | refine | concede | challenge
	Report     AgentReport    `json:"report"`
	Round      int            `json:"round"`
}

// NegotiationRecord is the final outcome of a Negotiator run.
type NegotiationRecord struct {
	Participants []string              `json:"participants"`
	Rounds       [][]NegotiationPosition `json:"rounds"`
	Converged    bool                  `json:"converged"`
	Consensus    *AgentReport          `json:"consensus,omitempty"`
	Dissent      []NegotiationPosition `json:"dissent,omitempty"`
}

// AgentReport is the structured output one agent produces for a step.
type AgentReport struct {
	AgentName   string         `json:"agent_name"`
	Content     string         `json:"content"`
	Confidence  float64        `json:"confidence"`
	Rationale   string         `json:"rationale"`
	Fields      map[string]any `json:"fields,omitempty"`
	Failed      bool           `json:"failed"`
	FailureKind string         `json:"failure_kind,omitempty"`
}

// TraceEntry is one (thought, tool, result) step within a Trace.
type TraceEntry struct {
	Thought      string    `json:"thought,omitempty"`
	ToolName     string    `json:"tool_name,omitempty"`
	ResultDigest string    `json:"result_digest,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Trace is the durable, append-only record of one agent execution within a
// Turn or Step. Entries are never mutated once appended (I5); Feedback may
// be set exactly once, after the trace terminates.
type Trace struct {
	ID           string       `json:"id"`
	ParentTurnID string       `json:"parent_turn_id,omitempty"`
	ParentStepID string       `json:"parent_step_id,omitempty"`
	AgentName    string       `json:"agent_name"`
	InputsDigest string       `json:"inputs_digest"`
	Entries      []TraceEntry `json:"entries"`
	Status       string       `json:"status"` // running | completed | failed | cancelled
	LatencyMS    int64        `json:"latency_ms"`
	Feedback     *Feedback    `json:"feedback,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Feedback is a single user rating attached to a Trace after termination.
type Feedback struct {
	Rating    string    `json:"rating"` // positive | negative
	CreatedAt time.Time `json:"created_at"`
}

// Turn is the transient unit of orchestration for one user message. It is
// created on submission and discarded once its event stream terminates.
type Turn struct {
	ID             string
	UserID         string
	ConversationID string
	InputText      string
	Attachment     *Attachment
	Routing        *RoutingDecision
	AgentReports   map[string]AgentReport
	Decisions      []EvaluatorDecision
	Negotiation    *NegotiationRecord
	FinalText      string
	TraceIDs       []string
	CreatedAt      time.Time
}
