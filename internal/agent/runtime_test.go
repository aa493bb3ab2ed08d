package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/careerforge/orchestrator/pkg/models"
)

type stubProvider struct {
	results  []StructuredResult
	calls    int
	requests []*CompletionRequest
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) CompleteStructured(ctx context.Context, req *CompletionRequest) (*StructuredResult, error) {
	s.requests = append(s.requests, req)
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	r := s.results[idx]
	return &r, nil
}

func (s *stubProvider) CompleteStream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "echoes input" }
func (echoTool) Kind() ToolKind             { return ToolReadOnly }
func (echoTool) Idempotent() bool           { return true }
func (echoTool) Schema() json.RawMessage    { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{OK: true, Data: args}, nil
}

func TestRuntimeRun_ToolCallThenFinalAnswer(t *testing.T) {
	registry := NewToolRegistry(nil)
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}

	provider := &stubProvider{results: []StructuredResult{
		{ToolCall: &models.ToolCall{ID: "1", Name: "echo", Args: json.RawMessage(`{}`)}},
		{Text: `{"content":"done","confidence":0.8,"rationale":"because"}`},
	}}

	runtime := NewRuntime(provider, registry, Options{MaxToolRounds: 3, ToolTimeout: time.Second})

	report, trace, err := runtime.Run(context.Background(), RunRequest{AgentName: "scout", Brief: "search"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Content != "done" {
		t.Errorf("content = %q, want %q", report.Content, "done")
	}
	if len(trace.Entries) != 1 || trace.Entries[0].ToolName != "echo" {
		t.Errorf("expected one trace entry for echo tool, got %+v", trace.Entries)
	}
	if trace.Status != "completed" {
		t.Errorf("trace status = %q, want completed", trace.Status)
	}
}

func TestRuntimeRun_FeedsToolResultIntoNextRequest(t *testing.T) {
	registry := NewToolRegistry(nil)
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}

	provider := &stubProvider{results: []StructuredResult{
		{ToolCall: &models.ToolCall{ID: "call-1", Name: "echo", Args: json.RawMessage(`{"q":"rust jobs"}`)}},
		{Text: `{"content":"done","confidence":0.8,"rationale":"because"}`},
	}}

	runtime := NewRuntime(provider, registry, Options{MaxToolRounds: 3, ToolTimeout: time.Second})

	if _, _, err := runtime.Run(context.Background(), RunRequest{AgentName: "scout", Brief: "search"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(provider.requests) != 2 {
		t.Fatalf("expected 2 requests to the provider, got %d", len(provider.requests))
	}
	second := provider.requests[1]

	var sawToolCall, sawToolResult bool
	for _, m := range second.Messages {
		if m.Role == "assistant" {
			for _, tc := range m.ToolCalls {
				if tc.ID == "call-1" && tc.Name == "echo" {
					sawToolCall = true
				}
			}
		}
		if m.Role == "tool" {
			for _, tr := range m.ToolResults {
				if tr.ToolCallID == "call-1" && tr.Content == `{"q":"rust jobs"}` && !tr.IsError {
					sawToolResult = true
				}
			}
		}
	}
	if !sawToolCall {
		t.Errorf("second request missing the assistant's tool_use message, got %+v", second.Messages)
	}
	if !sawToolResult {
		t.Errorf("second request missing the echo tool's result, got %+v", second.Messages)
	}
}

func TestRuntimeRun_CancellationYieldsNoOutput(t *testing.T) {
	registry := NewToolRegistry(nil)
	provider := &stubProvider{results: []StructuredResult{{Text: `{"content":"x"}`}}}
	runtime := NewRuntime(provider, registry, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, trace, err := runtime.Run(ctx, RunRequest{AgentName: "scout", Brief: "search"})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if report != nil {
		t.Errorf("expected nil report on cancellation, got %+v", report)
	}
	if trace.Status != "cancelled" {
		t.Errorf("trace status = %q, want cancelled", trace.Status)
	}
}

func TestRuntimeRun_ParseFailureTwiceSurfacesAsFailedReport(t *testing.T) {
	registry := NewToolRegistry(nil)
	provider := &stubProvider{results: []StructuredResult{
		{Text: "not json"},
		{Text: "still not json"},
	}}
	runtime := NewRuntime(provider, registry, Options{MaxToolRounds: 0})

	report, _, err := runtime.Run(context.Background(), RunRequest{AgentName: "scout", Brief: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Failed || report.FailureKind != "agent_parse_failed" {
		t.Errorf("expected agent_parse_failed report, got %+v", report)
	}
}
