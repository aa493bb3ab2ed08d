package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/config"
	"github.com/careerforge/orchestrator/internal/evaluator"
	"github.com/careerforge/orchestrator/internal/negotiator"
	"github.com/careerforge/orchestrator/internal/registry"
	"github.com/careerforge/orchestrator/internal/router"
	"github.com/careerforge/orchestrator/internal/storage"
	"github.com/careerforge/orchestrator/pkg/models"
)

// streamProvider answers CompleteStream with one fixed chunk and is reused
// across tests that don't care about synthesis content.
type streamProvider struct {
	streamText string
	structured func(req *agent.CompletionRequest) (*agent.StructuredResult, error)
}

func (p *streamProvider) Name() string { return "test-provider" }

func (p *streamProvider) CompleteStructured(ctx context.Context, req *agent.CompletionRequest) (*agent.StructuredResult, error) {
	if p.structured != nil {
		return p.structured(req)
	}
	return &agent.StructuredResult{Text: `{"content":"ok","confidence":0.9}`}, nil
}

func (p *streamProvider) CompleteStream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 1)
	text := p.streamText
	if text == "" {
		text = "synthesized reply"
	}
	ch <- &agent.CompletionChunk{Text: text, Done: true}
	close(ch)
	return ch, nil
}

func newRuntime(provider agent.LLMProvider) *agent.Runtime {
	return agent.NewRuntime(provider, agent.NewToolRegistry(nil), agent.Options{})
}

func collectEvents(publish *[]models.Event) func(models.Event) {
	return func(e models.Event) { *publish = append(*publish, e) }
}

func eventTypes(events []models.Event) []models.EventType {
	out := make([]models.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func containsType(events []models.Event, t models.EventType) bool {
	for _, e := range events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func TestRunTurn_UnmatchedMessageTakesDirectResponsePath(t *testing.T) {
	store := storage.NewMemoryStore()
	agents := registry.DefaultRegistry()
	provider := &streamProvider{streamText: "Here's a general answer."}
	rt := newRuntime(provider)
	rtr := router.New(router.DefaultTable(), agents.Names(), nil, "")
	eval := evaluator.New(nil, "", 0, nil)

	orch := New(store, agents, provider, rt, rtr, eval, nil,
		config.OrchestratorConfig{}, config.NegotiatorConfig{}, "test-model", nil, nil)

	var events []models.Event
	turn, err := orch.RunTurn(context.Background(), Request{
		UserID: "u1", UserText: "How's the weather today?",
	}, collectEvents(&events))
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if !turn.Routing.DirectResponse {
		t.Errorf("expected DirectResponse routing, got %+v", turn.Routing)
	}
	if len(turn.AgentReports) != 0 {
		t.Errorf("expected no agent reports on the direct-response path, got %+v", turn.AgentReports)
	}
	if turn.FinalText != "Here's a general answer." {
		t.Errorf("FinalText = %q", turn.FinalText)
	}
	if !containsType(events, models.EventConversationID) || !containsType(events, models.EventDone) {
		t.Errorf("expected conversation_id and done events, got %v", eventTypes(events))
	}
	if containsType(events, models.EventRouting) {
		t.Error("direct-response path should not emit a routing event")
	}
}

func TestRunTurn_RoutedMessageRunsAgentPipeline(t *testing.T) {
	store := storage.NewMemoryStore()
	agents := registry.DefaultRegistry()
	provider := &streamProvider{
		streamText: "Combined scout and matcher findings.",
		structured: func(req *agent.CompletionRequest) (*agent.StructuredResult, error) {
			switch {
			case strings.Contains(req.System, "Scout"):
				return &agent.StructuredResult{Text: `{"content":"found 3 openings","confidence":0.8,"rationale":"matched criteria","fields":{"count":3}}`}, nil
			case strings.Contains(req.System, "Matcher"):
				return &agent.StructuredResult{Text: `{"content":"strong fit","confidence":0.75,"rationale":"skills align","fields":{"count":3}}`}, nil
			default:
				return &agent.StructuredResult{Text: `{"content":"ok","confidence":0.9}`}, nil
			}
		},
	}
	rt := newRuntime(provider)
	rtr := router.New(router.DefaultTable(), agents.Names(), nil, "")
	eval := evaluator.New(nil, "", 0, nil)

	orch := New(store, agents, provider, rt, rtr, eval, nil,
		config.OrchestratorConfig{}, config.NegotiatorConfig{}, "test-model", nil, nil)

	var events []models.Event
	turn, err := orch.RunTurn(context.Background(), Request{
		UserID: "u1", UserText: "Find me remote jobs",
	}, collectEvents(&events))
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if turn.Routing.Intent != "career_search" {
		t.Fatalf("Routing.Intent = %q, want career_search", turn.Routing.Intent)
	}
	if turn.Routing.DirectResponse {
		t.Fatal("expected the routed agent pipeline, not direct response")
	}

	scout, ok := turn.AgentReports["scout"]
	if !ok || scout.Content != "found 3 openings" {
		t.Errorf("scout report = %+v", turn.AgentReports["scout"])
	}
	matcher, ok := turn.AgentReports["matcher"]
	if !ok || matcher.Content != "strong fit" {
		t.Errorf("matcher report = %+v", turn.AgentReports["matcher"])
	}
	if turn.FinalText == "" {
		t.Error("expected non-empty FinalText")
	}
	if len(turn.Decisions) != 2 {
		t.Errorf("len(Decisions) = %d, want 2 (one per agent step)", len(turn.Decisions))
	}

	want := []models.EventType{
		models.EventConversationID, models.EventRouting,
		models.EventAgentStatus, models.EventAgentStatus, models.EventEvaluator,
		models.EventAgentStatus, models.EventAgentStatus, models.EventEvaluator,
	}
	got := eventTypes(events)
	if len(got) < len(want) {
		t.Fatalf("too few events: %v", got)
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("event[%d] = %s, want %s (full sequence: %v)", i, got[i], w, got)
			break
		}
	}
	if !containsType(events, models.EventTraceIDs) || !containsType(events, models.EventDone) {
		t.Errorf("expected trace_ids and done events, got %v", got)
	}
	if len(turn.TraceIDs) != 2 {
		t.Errorf("len(TraceIDs) = %d, want 2", len(turn.TraceIDs))
	}
}

func TestRunTurn_PartialFailureProducesApologeticSynthesis(t *testing.T) {
	store := storage.NewMemoryStore()
	agents := registry.New([]registry.AgentDef{
		{Name: "good", SystemPrompt: "You are the Good agent."},
		{Name: "bad", SystemPrompt: "You are the Bad agent."},
	})
	table := router.Table{
		ConfidenceThreshold: 0.5,
		Rules: []router.Rule{{
			Intent: "dual", Agents: []string{"good", "bad"}, Priority: 10, Confidence: 0.9,
			Triggers: []router.Trigger{{Type: router.TriggerKeyword, Values: []string{"partial"}}},
		}},
	}
	provider := &streamProvider{
		streamText: "Sorry, something went wrong with part of this.",
		structured: func(req *agent.CompletionRequest) (*agent.StructuredResult, error) {
			if strings.Contains(req.System, "Good agent") {
				return &agent.StructuredResult{Text: `{"content":"done","confidence":0.9}`}, nil
			}
			return &agent.StructuredResult{Text: `not valid json`}, nil
		},
	}
	rt := newRuntime(provider)
	rtr := router.New(table, agents.Names(), nil, "")
	eval := evaluator.New(nil, "", 0, nil)

	orch := New(store, agents, provider, rt, rtr, eval, nil,
		config.OrchestratorConfig{PartialFailureThreshold: 0.5}, config.NegotiatorConfig{}, "test-model", nil, nil)

	turn, err := orch.RunTurn(context.Background(), Request{UserID: "u1", UserText: "partial results please"}, nil)
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	bad, ok := turn.AgentReports["bad"]
	if !ok || !bad.Failed {
		t.Errorf("expected bad agent's report to be marked Failed, got %+v", turn.AgentReports["bad"])
	}
	if turn.FinalText != "Sorry, something went wrong with part of this." {
		t.Errorf("FinalText = %q", turn.FinalText)
	}
}

func TestRunTurn_DivergentReportsTriggerNegotiation(t *testing.T) {
	store := storage.NewMemoryStore()
	agents := registry.New([]registry.AgentDef{
		{Name: "alpha", SystemPrompt: "You are the Alpha final-answer agent."},
		{Name: "beta", SystemPrompt: "You are the Beta final-answer agent."},
	})
	table := router.Table{
		ConfidenceThreshold: 0.5,
		Rules: []router.Rule{{
			Intent: "dual", Agents: []string{"alpha", "beta"}, Priority: 10, Confidence: 0.9,
			Triggers: []router.Trigger{{Type: router.TriggerKeyword, Values: []string{"duo"}}},
		}},
	}
	provider := &streamProvider{
		streamText: "Here's the consensus view.",
		structured: func(req *agent.CompletionRequest) (*agent.StructuredResult, error) {
			switch {
			case strings.Contains(req.System, "multi-agent negotiation") && strings.Contains(req.System, "alpha"):
				return &agent.StructuredResult{Text: `{"action":"refine","content":"agreed","confidence":0.85,"fields":{"band":"senior"}}`}, nil
			case strings.Contains(req.System, "multi-agent negotiation") && strings.Contains(req.System, "beta"):
				return &agent.StructuredResult{Text: `{"action":"concede","content":"agreed","confidence":0.9,"fields":{"band":"senior"}}`}, nil
			case strings.Contains(req.System, "Alpha final-answer agent"):
				return &agent.StructuredResult{Text: `{"content":"alpha view","confidence":0.6,"rationale":"r","fields":{"band":"senior"}}`}, nil
			case strings.Contains(req.System, "Beta final-answer agent"):
				return &agent.StructuredResult{Text: `{"content":"beta view","confidence":0.6,"rationale":"r","fields":{"band":"junior"}}`}, nil
			default:
				return &agent.StructuredResult{Text: `{"content":"ok","confidence":0.9}`}, nil
			}
		},
	}
	rt := newRuntime(provider)
	rtr := router.New(table, agents.Names(), nil, "")
	eval := evaluator.New(nil, "", 0, nil)
	neg := negotiator.New(provider, "test-model", negotiator.Config{MaxRounds: 2, ConvergenceConfidenceMin: 0.7}, nil, nil)

	orch := New(store, agents, provider, rt, rtr, eval, neg,
		config.OrchestratorConfig{}, config.NegotiatorConfig{ConfidenceSpreadTrigger: 0.3}, "test-model", nil, nil)

	var events []models.Event
	turn, err := orch.RunTurn(context.Background(), Request{UserID: "u1", UserText: "give me the duo view"}, collectEvents(&events))
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if turn.Negotiation == nil {
		t.Fatal("expected negotiation to have run given divergent fields")
	}
	if !turn.Negotiation.Converged {
		t.Errorf("expected negotiation to converge, got %+v", turn.Negotiation)
	}
	if alpha := turn.AgentReports["alpha"]; alpha.Content != "agreed" {
		t.Errorf("expected consensus folded back into AgentReports[\"alpha\"], got %+v", alpha)
	}
	if !containsType(events, models.EventNegotiationRound) || !containsType(events, models.EventNegotiationResult) {
		t.Errorf("expected negotiation_round and negotiation_result events, got %v", eventTypes(events))
	}
}

func TestRunTurn_ExistingConversationAppendsHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	agents := registry.DefaultRegistry()
	provider := &streamProvider{}
	rt := newRuntime(provider)
	rtr := router.New(router.DefaultTable(), agents.Names(), nil, "")
	eval := evaluator.New(nil, "", 0, nil)
	orch := New(store, agents, provider, rt, rtr, eval, nil,
		config.OrchestratorConfig{}, config.NegotiatorConfig{}, "test-model", nil, nil)

	first, err := orch.RunTurn(context.Background(), Request{UserID: "u1", UserText: "hello there"}, nil)
	if err != nil {
		t.Fatalf("first RunTurn error: %v", err)
	}
	if first.ConversationID == "" {
		t.Fatal("expected a conversation id to be allocated")
	}

	second, err := orch.RunTurn(context.Background(), Request{
		UserID: "u1", ConversationID: first.ConversationID, UserText: "anything else?",
	}, nil)
	if err != nil {
		t.Fatalf("second RunTurn error: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Errorf("ConversationID changed across turns: %s vs %s", first.ConversationID, second.ConversationID)
	}

	msgs, err := store.ListMessages(context.Background(), first.ConversationID)
	if err != nil {
		t.Fatalf("ListMessages error: %v", err)
	}
	if len(msgs) != 4 {
		t.Errorf("len(msgs) = %d, want 4 (2 user + 2 assistant)", len(msgs))
	}
}

// cancellingTool cancels the run's own context from inside Execute, so the
// Agent Runtime observes cancellation the moment its tool call returns.
type cancellingTool struct{ cancel context.CancelFunc }

func (t *cancellingTool) Name() string             { return "cancel_me" }
func (t *cancellingTool) Description() string      { return "cancels the in-flight turn" }
func (t *cancellingTool) Kind() agent.ToolKind     { return agent.ToolReadOnly }
func (t *cancellingTool) Idempotent() bool         { return true }
func (t *cancellingTool) Schema() json.RawMessage  { return json.RawMessage(`{"type":"object"}`) }
func (t *cancellingTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	t.cancel()
	return &models.ToolResult{OK: true}, nil
}

func TestRunTurn_CancellationMidAgentEmitsFailedStatusAndCancelledContent(t *testing.T) {
	store := storage.NewMemoryStore()
	agents := registry.New([]registry.AgentDef{
		{Name: "worker", SystemPrompt: "You are the Worker agent."},
	})
	table := router.Table{
		ConfidenceThreshold: 0.5,
		Rules: []router.Rule{{
			Intent: "solo", Agents: []string{"worker"}, Priority: 10, Confidence: 0.9,
			Triggers: []router.Trigger{{Type: router.TriggerKeyword, Values: []string{"cancel"}}},
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	provider := &streamProvider{
		structured: func(req *agent.CompletionRequest) (*agent.StructuredResult, error) {
			return &agent.StructuredResult{ToolCall: &models.ToolCall{ID: "1", Name: "cancel_me", Args: json.RawMessage(`{}`)}}, nil
		},
	}
	toolRegistry := agent.NewToolRegistry(nil)
	if err := toolRegistry.Register(&cancellingTool{cancel: cancel}); err != nil {
		t.Fatalf("register tool: %v", err)
	}
	rt := agent.NewRuntime(provider, toolRegistry, agent.Options{})
	rtr := router.New(table, agents.Names(), nil, "")
	eval := evaluator.New(nil, "", 0, nil)

	orch := New(store, agents, provider, rt, rtr, eval, nil,
		config.OrchestratorConfig{}, config.NegotiatorConfig{}, "test-model", nil, nil)

	var events []models.Event
	turn, err := orch.RunTurn(ctx, Request{UserID: "u1", UserText: "please cancel this"}, collectEvents(&events))
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}

	var sawFailedCancelled bool
	for _, e := range events {
		if e.Type != models.EventAgentStatus {
			continue
		}
		if e.Fields["status"] == "failed" && e.Fields["message"] == "cancelled" {
			sawFailedCancelled = true
		}
	}
	if !sawFailedCancelled {
		t.Errorf("expected an agent_status{status:failed, message:cancelled} event, got %v", events)
	}
	if !strings.Contains(turn.FinalText, "cancelled") {
		t.Errorf("FinalText = %q, want it to contain %q", turn.FinalText, "cancelled")
	}
	if !containsType(events, models.EventTraceIDs) || !containsType(events, models.EventDone) {
		t.Errorf("expected trace_ids and done events even on cancellation, got %v", eventTypes(events))
	}
}

func TestApplyDecision(t *testing.T) {
	cases := []struct {
		name      string
		remaining []string
		decision  models.EvaluatorDecision
		want      []string
	}{
		{"continue leaves queue untouched", []string{"b", "c"}, models.EvaluatorDecision{Kind: models.DecisionContinue}, []string{"b", "c"}},
		{"skip_next drops the head", []string{"b", "c"}, models.EvaluatorDecision{Kind: models.DecisionSkipNext}, []string{"c"}},
		{"skip_next on empty queue is a no-op", nil, models.EvaluatorDecision{Kind: models.DecisionSkipNext}, nil},
		{"loop_back prepends the target", []string{"b"}, models.EvaluatorDecision{Kind: models.DecisionLoopBack, TargetAgent: "a"}, []string{"a", "b"}},
		{"add_agent prepends the target", []string{"b"}, models.EvaluatorDecision{Kind: models.DecisionAddAgent, TargetAgent: "d"}, []string{"d", "b"}},
		{"loop_back with no target is a no-op", []string{"b"}, models.EvaluatorDecision{Kind: models.DecisionLoopBack}, []string{"b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := applyDecision(tc.remaining, tc.decision)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("got %v, want %v", got, tc.want)
					break
				}
			}
		})
	}
}
