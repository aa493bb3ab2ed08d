package tasks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/pkg/models"
)

type stubProvider struct {
	text string
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) CompleteStructured(ctx context.Context, req *agent.CompletionRequest) (*agent.StructuredResult, error) {
	return &agent.StructuredResult{Text: s.text}, nil
}

func (s *stubProvider) CompleteStream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func reportJSON(t *testing.T, content string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{"content": content, "confidence": 0.8})
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	return string(b)
}

func TestAgentHandlerRun(t *testing.T) {
	provider := &stubProvider{text: reportJSON(t, "found three matching roles")}
	runtime := agent.NewRuntime(provider, agent.NewToolRegistry(nil), agent.Options{})

	h := &AgentHandler{
		Runtime:          runtime,
		AgentName:        "scout",
		NotificationType: "job_match",
		Brief: func(run *models.TaskRun) string {
			return "scan for new matches for " + run.UserID
		},
	}

	run := &models.TaskRun{ID: "tr-1", UserID: "user-1", Type: "job_match_scan"}
	result, err := h.Run(context.Background(), run)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Summary != "found three matching roles" {
		t.Errorf("Summary = %q, want %q", result.Summary, "found three matching roles")
	}
	if len(result.Notifications) != 1 {
		t.Fatalf("len(Notifications) = %d, want 1", len(result.Notifications))
	}
	if result.Notifications[0].Type != "job_match" {
		t.Errorf("Notification.Type = %q, want job_match", result.Notifications[0].Type)
	}
}

func TestAgentHandlerRunFailedReport(t *testing.T) {
	provider := &stubProvider{text: "not json"}
	runtime := agent.NewRuntime(provider, agent.NewToolRegistry(nil), agent.Options{})

	h := &AgentHandler{
		Runtime:   runtime,
		AgentName: "scout",
		Brief:     func(run *models.TaskRun) string { return "scan" },
	}

	_, err := h.Run(context.Background(), &models.TaskRun{ID: "tr-2", UserID: "user-1"})
	if err == nil {
		t.Fatal("expected error for a failed agent report, got nil")
	}
}

func TestNotifyHandlerRun(t *testing.T) {
	h := &NotifyHandler{
		NotificationType: "application_status_reminder",
		TitleTemplate:    "Follow up on {{.company}}",
		BodyTemplate:     "It's been a while since you applied to {{.company}}. Consider a follow-up.",
	}

	run := &models.TaskRun{
		ID:     "tr-3",
		UserID: "user-1",
		Config: map[string]any{"company": "Acme Corp"},
	}

	result, err := h.Run(context.Background(), run)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(result.Notifications) != 1 {
		t.Fatalf("len(Notifications) = %d, want 1", len(result.Notifications))
	}
	want := "Follow up on Acme Corp"
	if got := result.Notifications[0].Title; got != want {
		t.Errorf("Title = %q, want %q", got, want)
	}
}

func TestNotifyHandlerRunBadTemplate(t *testing.T) {
	h := &NotifyHandler{TitleTemplate: "{{.Unclosed", BodyTemplate: "body"}
	if _, err := h.Run(context.Background(), &models.TaskRun{}); err == nil {
		t.Fatal("expected a template parse error, got nil")
	}
}
