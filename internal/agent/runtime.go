// Package agent implements the Agent Runtime: a bounded reason/act/observe
// loop that drives one agent to produce a structured AgentReport, dispatching
// tool calls through a ToolRegistry and streaming progress via an EventSink.
//
//	registry := agent.NewToolRegistry(logger.Warn)
//	registry.Register(searchJobsTool)
//
//	runtime := agent.NewRuntime(provider, registry, agent.Options{})
//	report, trace, err := runtime.Run(ctx, agent.RunRequest{
//	    AgentName: "scout",
//	    Brief:     "Search for remote Rust jobs",
//	})
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careerforge/orchestrator/internal/corerr"
	"github.com/careerforge/orchestrator/pkg/models"
)

// CompletionMessage is one turn of conversational context sent to the LLM.
// Role is "user", "assistant", "system", or "tool". An assistant message may
// carry ToolCalls instead of (or alongside) Content; a following tool
// message carries the matching ToolResults, letting a provider render the
// tool_use/tool_result block pair its wire format expects.
type CompletionMessage struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []ToolResultMessage
}

// ToolResultMessage is one tool invocation's outcome as it's fed back into
// the conversation, keyed to the ToolCall.ID it answers.
type ToolResultMessage struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// CompletionRequest is the input to either LLMProvider operation.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []Tool
	MaxTokens int
}

// CompletionChunk is one piece of a streamed completion.
type CompletionChunk struct {
	Text  string
	Done  bool
	Error error
}

// StructuredResult is the outcome of a one-shot structured completion: either
// a tool call to make, or final text to parse into the caller's schema.
type StructuredResult struct {
	ToolCall *models.ToolCall
	Text     string
}

// LLMProvider is the capability interface the Agent Runtime, Goal Planner,
// and Conversation Orchestrator all depend on. Implementations must be safe
// for concurrent use; a real implementation wraps
// github.com/anthropics/anthropic-sdk-go, a deterministic fake backs tests.
type LLMProvider interface {
	Name() string
	// CompleteStructured returns either a tool call or final text in one
	// round trip. Used for the reasoning loop, intent classification, goal
	// planning, and parse-repair.
	CompleteStructured(ctx context.Context, req *CompletionRequest) (*StructuredResult, error)
	// CompleteStream returns token-by-token chunks. Used for synthesis and
	// direct-answer replies.
	CompleteStream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// Options configures the bounded loop's bounds and policies.
type Options struct {
	MaxToolRounds int           // default 3
	ToolTimeout   time.Duration // default 30s
	Logger        func(msg string, args ...any)
}

func (o Options) withDefaults() Options {
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = 3
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = func(string, ...any) {}
	}
	return o
}

// Runtime executes one agent's reason/act/observe loop over a ToolRegistry.
type Runtime struct {
	provider LLMProvider
	tools    *ToolRegistry
	opts     Options
}

// NewRuntime builds a Runtime bound to provider and tools.
func NewRuntime(provider LLMProvider, tools *ToolRegistry, opts Options) *Runtime {
	return &Runtime{provider: provider, tools: tools, opts: opts.withDefaults()}
}

// RunRequest carries everything one agent execution needs: conversation
// history, a task brief, optional attachment, and the immutable snapshot of
// the shared pipeline context (prior agents' reports).
type RunRequest struct {
	AgentName      string
	SystemPrompt   string
	Model          string
	History        []CompletionMessage
	Brief          string
	Attachment     *models.Attachment
	SharedContext  map[string]models.AgentReport
	ParentTurnID   string
	ParentStepID   string
	// EventSink receives agent_reasoning events as tool rounds complete. May
	// be nil.
	EventSink func(models.Event)
}

// Run executes the bounded loop and returns the agent's report alongside its
// append-only Trace. Trace entries, once returned, are never mutated by
// later calls (I5).
func (r *Runtime) Run(ctx context.Context, req RunRequest) (*models.AgentReport, *models.Trace, error) {
	trace := &models.Trace{
		ID:           uuid.NewString(),
		ParentTurnID: req.ParentTurnID,
		ParentStepID: req.ParentStepID,
		AgentName:    req.AgentName,
		InputsDigest: digest(req.Brief),
		Status:       "running",
		CreatedAt:    time.Now(),
	}
	started := time.Now()

	forceFinal := false
	var lastParseErr error
	messages := r.initialMessages(req)

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			trace.Status = "cancelled"
			trace.LatencyMS = time.Since(started).Milliseconds()
			return nil, trace, corerr.New(corerr.KindCancelled, "agent run cancelled")
		}

		if iteration > r.opts.MaxToolRounds {
			forceFinal = true
		}

		creq := r.buildRequest(req, messages, forceFinal)
		result, err := r.provider.CompleteStructured(ctx, creq)
		if err != nil {
			trace.Status = "failed"
			trace.LatencyMS = time.Since(started).Milliseconds()
			return nil, trace, corerr.Wrap(corerr.KindLLMUnavailable, "completion failed", err)
		}

		if result.ToolCall != nil && !forceFinal {
			entry, toolResult, toolErr := r.executeToolCall(ctx, *result.ToolCall)
			trace.Entries = append(trace.Entries, entry)
			if req.EventSink != nil {
				req.EventSink(models.NewEvent("", models.EventAgentReasoning, map[string]any{
					"agent": req.AgentName,
					"tool":  result.ToolCall.Name,
				}))
			}
			if toolErr != nil && corerr.Is(toolErr, corerr.KindCancelled) {
				trace.Status = "cancelled"
				trace.LatencyMS = time.Since(started).Milliseconds()
				return nil, trace, toolErr
			}
			messages = appendToolRound(messages, *result.ToolCall, toolResult, toolErr)
			continue
		}

		report, perr := parseAgentReport(req.AgentName, result.Text)
		if perr == nil {
			trace.Status = "completed"
			trace.LatencyMS = time.Since(started).Milliseconds()
			return report, trace, nil
		}

		if lastParseErr != nil {
			// second failure: surfaces as a step failure, not a Turn error.
			trace.Status = "completed"
			trace.LatencyMS = time.Since(started).Milliseconds()
			return &models.AgentReport{
				AgentName:   req.AgentName,
				Failed:      true,
				FailureKind: string(corerr.KindAgentParseFailed),
			}, trace, nil
		}
		lastParseErr = perr
		forceFinal = true // one corrective repair attempt with a schema-corrective nudge
	}
}

// initialMessages seeds the running conversation from the caller-provided
// history, prior agents' reports, and this run's brief. Later rounds append
// to the slice this returns rather than rebuilding it, so each tool round's
// (thought, tool, result) stays visible to every subsequent request.
func (r *Runtime) initialMessages(req RunRequest) []CompletionMessage {
	messages := append([]CompletionMessage{}, req.History...)
	for name, rep := range req.SharedContext {
		messages = append(messages, CompletionMessage{
			Role:    "system",
			Content: fmt.Sprintf("prior report from %s: %s", name, rep.Content),
		})
	}
	messages = append(messages, CompletionMessage{Role: "user", Content: req.Brief})
	return messages
}

func (r *Runtime) buildRequest(req RunRequest, messages []CompletionMessage, forceFinal bool) *CompletionRequest {
	creq := &CompletionRequest{
		Model:    req.Model,
		System:   req.SystemPrompt,
		Messages: append([]CompletionMessage{}, messages...),
	}
	if forceFinal {
		creq.Messages = append(creq.Messages, CompletionMessage{
			Role:    "user",
			Content: "Respond now with your final structured answer; do not call another tool.",
		})
	}
	if !forceFinal && r.tools != nil {
		creq.Tools = r.tools.AsLLMTools()
	}
	return creq
}

// appendToolRound records a completed tool round as an assistant tool_use
// message followed by its tool_result, so the next buildRequest call carries
// the observation forward instead of re-asking the same question.
func appendToolRound(messages []CompletionMessage, tc models.ToolCall, result *models.ToolResult, toolErr error) []CompletionMessage {
	messages = append(messages, CompletionMessage{
		Role:      "assistant",
		ToolCalls: []models.ToolCall{tc},
	})
	content, isError := toolRoundOutcome(result, toolErr)
	return append(messages, CompletionMessage{
		Role: "tool",
		ToolResults: []ToolResultMessage{
			{ToolCallID: tc.ID, Content: content, IsError: isError},
		},
	})
}

func toolRoundOutcome(result *models.ToolResult, toolErr error) (content string, isError bool) {
	if toolErr != nil {
		return toolErr.Error(), true
	}
	if result == nil {
		return "", true
	}
	return string(result.Data), !result.OK
}

// executeToolCall validates+dispatches through the registry with per-tool
// timeout and a single retry, returning the tool's result so the caller can
// feed it back into the conversation.
func (r *Runtime) executeToolCall(ctx context.Context, tc models.ToolCall) (models.TraceEntry, *models.ToolResult, error) {
	entry := models.TraceEntry{ToolName: tc.Name, OccurredAt: time.Now()}

	run := func() (*models.ToolResult, error) {
		tctx, cancel := context.WithTimeout(ctx, r.opts.ToolTimeout)
		defer cancel()
		return r.tools.Execute(tctx, tc.Name, tc.Args)
	}

	result, err := run()
	timedOut := err == nil && result != nil && result.ErrorKind == "tool_timeout"
	if (err != nil && ctx.Err() == nil && isDeadlineErr(err)) || timedOut {
		result, err = run() // one retry on timeout
	}

	if ctx.Err() != nil {
		return entry, result, corerr.New(corerr.KindCancelled, "cancelled during tool call")
	}
	if err != nil {
		entry.ResultDigest = "error:" + err.Error()
		return entry, nil, corerr.Wrap(corerr.KindToolFailed, "tool execution failed", err)
	}
	entry.ResultDigest = digest(string(result.Data))
	return entry, result, nil
}

func isDeadlineErr(err error) bool {
	return err == context.DeadlineExceeded
}

func parseAgentReport(agentName, text string) (*models.AgentReport, error) {
	var payload struct {
		Content    string         `json:"content"`
		Confidence float64        `json:"confidence"`
		Rationale  string         `json:"rationale"`
		Fields     map[string]any `json:"fields"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, err
	}
	return &models.AgentReport{
		AgentName:  agentName,
		Content:    payload.Content,
		Confidence: payload.Confidence,
		Rationale:  payload.Rationale,
		Fields:     payload.Fields,
	}, nil
}

func digest(s string) string {
	if len(s) <= 32 {
		return s
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:32], len(s))
}
