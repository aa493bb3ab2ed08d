// Package evaluator implements the Evaluator: invoked after each agent step
// to decide whether the Conversation Orchestrator continues, skips, loops
// back, stops, or splices in a new agent.
package evaluator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/observability"
	"github.com/careerforge/orchestrator/pkg/models"
)

// State tracks the per-Turn bookkeeping the Evaluator needs to enforce its
// safety bounds across repeated calls within one Turn.
type State struct {
	loopBacks map[string]int
	pending   map[string]bool
}

// NewState builds Evaluator bookkeeping seeded with the Turn's initial
// planned agent queue, so add_agent can check for duplicates immediately.
func NewState(plannedAgents []string) *State {
	s := &State{
		loopBacks: make(map[string]int),
		pending:   make(map[string]bool, len(plannedAgents)),
	}
	for _, a := range plannedAgents {
		s.pending[a] = true
	}
	return s
}

// Evaluator applies the decision table. MaxLoopBacksPerTarget bounds loop_back
// per target agent per Turn (default 2).
type Evaluator struct {
	provider              agent.LLMProvider
	model                 string
	maxLoopBacksPerTarget int
	logger                *observability.Logger
}

// New builds an Evaluator. provider may be nil to always fall back to the
// heuristic decision path (used by tests and by Turns with no LLM budget
// left).
func New(provider agent.LLMProvider, model string, maxLoopBacksPerTarget int, logger *observability.Logger) *Evaluator {
	if maxLoopBacksPerTarget <= 0 {
		maxLoopBacksPerTarget = 2
	}
	return &Evaluator{provider: provider, model: model, maxLoopBacksPerTarget: maxLoopBacksPerTarget, logger: logger}
}

// Input is the context the Evaluator judges after one agent step.
type Input struct {
	StepAgent       string
	Report          models.AgentReport
	RemainingAgents []string
}

// Evaluate returns the decision to apply. Any decision this call would
// produce that violates a safety bound is degraded to `continue` and logged,
// never surfaced as an error — a misbehaving Evaluator must not crash a Turn.
func (e *Evaluator) Evaluate(ctx context.Context, state *State, in Input) models.EvaluatorDecision {
	decision := e.decide(ctx, in)
	decision.StepAgent = in.StepAgent
	decision.OccurredAt = time.Now()

	switch decision.Kind {
	case models.DecisionLoopBack:
		if decision.TargetAgent == "" || state.loopBacks[decision.TargetAgent] >= e.maxLoopBacksPerTarget {
			e.degrade(ctx, decision.Kind, "loop_back target missing or exceeded per-target bound")
			return e.continueDecision(in.StepAgent)
		}
		state.loopBacks[decision.TargetAgent]++
		state.pending[decision.TargetAgent] = true
	case models.DecisionAddAgent:
		if decision.TargetAgent == "" || state.pending[decision.TargetAgent] {
			e.degrade(ctx, decision.Kind, "add_agent target missing or already pending")
			return e.continueDecision(in.StepAgent)
		}
		state.pending[decision.TargetAgent] = true
	case models.DecisionContinue, models.DecisionSkipNext, models.DecisionStop:
		// no additional bound to enforce
	default:
		e.degrade(ctx, decision.Kind, "unrecognized decision kind")
		return e.continueDecision(in.StepAgent)
	}

	return decision
}

func (e *Evaluator) continueDecision(stepAgent string) models.EvaluatorDecision {
	return models.EvaluatorDecision{Kind: models.DecisionContinue, StepAgent: stepAgent, OccurredAt: time.Now()}
}

func (e *Evaluator) degrade(ctx context.Context, kind models.EvaluatorDecisionKind, reason string) {
	if e.logger != nil {
		e.logger.Warn(ctx, "evaluator decision degraded to continue", "kind", kind, "reason", reason)
	}
}

// decide produces the raw (unbounded) decision, via the LLM when a provider
// is configured, else via heuristics grounded on report content.
func (e *Evaluator) decide(ctx context.Context, in Input) models.EvaluatorDecision {
	if in.Report.Failed {
		return models.EvaluatorDecision{Kind: models.DecisionContinue, Reason: "step failed; continuing with partial context"}
	}

	if e.provider != nil {
		if d, ok := e.decideViaLLM(ctx, in); ok {
			return d
		}
	}

	return e.decideHeuristic(in)
}

func (e *Evaluator) decideHeuristic(in Input) models.EvaluatorDecision {
	content := strings.ToLower(in.Report.Content)
	if in.Report.Confidence < 0.3 {
		return models.EvaluatorDecision{Kind: models.DecisionStop, Reason: "low confidence; stopping rather than compounding it through remaining agents"}
	}
	if strings.Contains(content, "not my expertise") || strings.Contains(content, "out of scope") {
		return models.EvaluatorDecision{Kind: models.DecisionSkipNext, Reason: "report indicates the next agent's domain is unlikely to help"}
	}
	return models.EvaluatorDecision{Kind: models.DecisionContinue}
}

type llmDecision struct {
	Decision    string `json:"decision"`
	Reason      string `json:"reason"`
	TargetAgent string `json:"target_agent"`
}

func (e *Evaluator) decideViaLLM(ctx context.Context, in Input) (models.EvaluatorDecision, bool) {
	result, err := e.provider.CompleteStructured(ctx, &agent.CompletionRequest{
		Model: e.model,
		System: "You evaluate one agent's step output in a multi-agent pipeline. Respond with JSON " +
			`{"decision": "continue|skip_next|loop_back|stop|add_agent", "reason": "...", "target_agent": "..."}` +
			". target_agent is required for loop_back and add_agent, omit otherwise.",
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: in.Report.Content},
		},
	})
	if err != nil || result == nil || result.ToolCall != nil {
		return models.EvaluatorDecision{}, false
	}

	var parsed llmDecision
	if err := json.Unmarshal([]byte(result.Text), &parsed); err != nil {
		return models.EvaluatorDecision{}, false
	}

	kind := models.EvaluatorDecisionKind(parsed.Decision)
	switch kind {
	case models.DecisionContinue, models.DecisionSkipNext, models.DecisionLoopBack, models.DecisionStop, models.DecisionAddAgent:
	default:
		return models.EvaluatorDecision{}, false
	}

	return models.EvaluatorDecision{Kind: kind, Reason: parsed.Reason, TargetAgent: parsed.TargetAgent}, true
}
