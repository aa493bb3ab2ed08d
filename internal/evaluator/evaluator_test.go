package evaluator

import (
	"context"
	"testing"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/pkg/models"
)

func TestEvaluate_FailedStepContinues(t *testing.T) {
	e := New(nil, "", 0, nil)
	state := NewState([]string{"matcher"})

	decision := e.Evaluate(context.Background(), state, Input{
		StepAgent: "scout",
		Report:    models.AgentReport{Failed: true, FailureKind: "agent_parse_failed"},
	})
	if decision.Kind != models.DecisionContinue {
		t.Errorf("Kind = %q, want continue", decision.Kind)
	}
}

func TestEvaluate_LowConfidenceNoRemainingStops(t *testing.T) {
	e := New(nil, "", 0, nil)
	state := NewState(nil)

	decision := e.Evaluate(context.Background(), state, Input{
		StepAgent:       "scout",
		Report:          models.AgentReport{Confidence: 0.1, Content: "I couldn't find anything."},
		RemainingAgents: nil,
	})
	if decision.Kind != models.DecisionStop {
		t.Errorf("Kind = %q, want stop", decision.Kind)
	}
}

// TestEvaluate_LowConfidenceStopsEvenWithAgentsRemaining mirrors a two-agent
// plan [match, forge] where match reports low confidence while forge is
// still queued: the Evaluator must stop rather than let forge run on top of
// a report the Turn shouldn't have trusted in the first place.
func TestEvaluate_LowConfidenceStopsEvenWithAgentsRemaining(t *testing.T) {
	e := New(nil, "", 0, nil)
	state := NewState([]string{"match", "forge"})

	decision := e.Evaluate(context.Background(), state, Input{
		StepAgent:       "match",
		Report:          models.AgentReport{Confidence: 0.2, Content: "no strong matches found"},
		RemainingAgents: []string{"forge"},
	})
	if decision.Kind != models.DecisionStop {
		t.Errorf("Kind = %q, want stop (forge should not run after match's low-confidence report)", decision.Kind)
	}
}

func TestEvaluate_OutOfExpertiseSkipsNext(t *testing.T) {
	e := New(nil, "", 0, nil)
	state := NewState([]string{"coach"})

	decision := e.Evaluate(context.Background(), state, Input{
		StepAgent:       "scout",
		Report:          models.AgentReport{Confidence: 0.9, Content: "Salary negotiation is not my expertise."},
		RemainingAgents: []string{"coach"},
	})
	if decision.Kind != models.DecisionSkipNext {
		t.Errorf("Kind = %q, want skip_next", decision.Kind)
	}
}

// fixedProvider always returns the same structured text, letting tests drive
// the Evaluator's LLM-backed decision path deterministically.
type fixedProvider struct {
	text string
}

func (p *fixedProvider) Name() string { return "fixed" }

func (p *fixedProvider) CompleteStructured(ctx context.Context, req *agent.CompletionRequest) (*agent.StructuredResult, error) {
	return &agent.StructuredResult{Text: p.text}, nil
}

func (p *fixedProvider) CompleteStream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Text: p.text, Done: true}
	close(ch)
	return ch, nil
}

func TestEvaluate_LoopBackRespectsPerTargetBound(t *testing.T) {
	provider := &fixedProvider{text: `{"decision":"loop_back","reason":"retry","target_agent":"matcher"}`}
	e := New(provider, "test-model", 2, nil)
	state := NewState([]string{"matcher"})

	in := Input{StepAgent: "scout", Report: models.AgentReport{Confidence: 0.9, Content: "try again"}}

	first := e.Evaluate(context.Background(), state, in)
	if first.Kind != models.DecisionLoopBack || first.TargetAgent != "matcher" {
		t.Fatalf("first decision = %+v, want loop_back to matcher", first)
	}
	second := e.Evaluate(context.Background(), state, in)
	if second.Kind != models.DecisionLoopBack {
		t.Fatalf("second decision = %+v, want loop_back (still within bound)", second)
	}
	third := e.Evaluate(context.Background(), state, in)
	if third.Kind != models.DecisionContinue {
		t.Errorf("third decision = %+v, want continue (bound exceeded, degraded)", third)
	}
}

func TestEvaluate_AddAgentRejectsDuplicatePending(t *testing.T) {
	provider := &fixedProvider{text: `{"decision":"add_agent","reason":"need more","target_agent":"matcher"}`}
	e := New(provider, "test-model", 2, nil)
	state := NewState([]string{"matcher"})

	decision := e.Evaluate(context.Background(), state, Input{
		StepAgent: "scout",
		Report:    models.AgentReport{Confidence: 0.9, Content: "need matcher again"},
	})
	if decision.Kind != models.DecisionContinue {
		t.Errorf("Kind = %q, want continue (add_agent of an already-pending agent degrades)", decision.Kind)
	}
}

func TestEvaluate_AddAgentAcceptsNewTarget(t *testing.T) {
	provider := &fixedProvider{text: `{"decision":"add_agent","reason":"need more","target_agent":"coach"}`}
	e := New(provider, "test-model", 2, nil)
	state := NewState([]string{"matcher"})

	decision := e.Evaluate(context.Background(), state, Input{
		StepAgent: "scout",
		Report:    models.AgentReport{Confidence: 0.9, Content: "need negotiation help"},
	})
	if decision.Kind != models.DecisionAddAgent || decision.TargetAgent != "coach" {
		t.Errorf("decision = %+v, want add_agent to coach", decision)
	}
}

func TestEvaluate_UnknownLLMDecisionFallsBackToHeuristic(t *testing.T) {
	provider := &fixedProvider{text: `{"decision":"teleport","reason":"nonsense"}`}
	e := New(provider, "test-model", 2, nil)
	state := NewState(nil)

	decision := e.Evaluate(context.Background(), state, Input{
		StepAgent: "scout",
		Report:    models.AgentReport{Confidence: 0.9, Content: "all good"},
	})
	if decision.Kind != models.DecisionContinue {
		t.Errorf("Kind = %q, want continue", decision.Kind)
	}
}

func TestNewState_SeedsPendingFromPlannedAgents(t *testing.T) {
	state := NewState([]string{"scout", "matcher"})
	if !state.pending["scout"] || !state.pending["matcher"] {
		t.Error("expected planned agents to be marked pending")
	}
}
