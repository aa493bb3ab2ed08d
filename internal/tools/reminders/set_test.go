package reminders

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/careerforge/orchestrator/internal/observability"
	"github.com/careerforge/orchestrator/internal/storage"
	"github.com/careerforge/orchestrator/internal/tasks"
	"github.com/careerforge/orchestrator/pkg/models"
)

func TestParseWhen_RelativeTime(t *testing.T) {
	tests := []struct {
		input    string
		minDelta time.Duration
		maxDelta time.Duration
	}{
		{"in 5 minutes", 4 * time.Minute, 6 * time.Minute},
		{"in 1 hour", 59 * time.Minute, 61 * time.Minute},
		{"in 30 seconds", 25 * time.Second, 35 * time.Second},
		{"in 2 hours", 119 * time.Minute, 121 * time.Minute},
		{"in 1 day", 23 * time.Hour, 25 * time.Hour},
		{"in 10 mins", 9 * time.Minute, 11 * time.Minute},
		{"in 2 hrs", 119 * time.Minute, 121 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := parseWhen(tt.input)
			if err != nil {
				t.Fatalf("parseWhen(%q) failed: %v", tt.input, err)
			}

			delta := time.Until(result)
			if delta < tt.minDelta || delta > tt.maxDelta {
				t.Errorf("parseWhen(%q) = %v from now, want between %v and %v", tt.input, delta, tt.minDelta, tt.maxDelta)
			}
		})
	}
}

func TestParseWhen_InvalidInput(t *testing.T) {
	tests := []string{
		"",
		"now",
		"yesterday",
		"in",
		"in 5",
		"in minutes",
		"5 minutes",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := parseWhen(input)
			if err == nil {
				t.Errorf("parseWhen(%q) should have failed", input)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30 seconds"},
		{1 * time.Minute, "1 minute"},
		{5 * time.Minute, "5 minutes"},
		{1 * time.Hour, "1 hour"},
		{2 * time.Hour, "2.0 hours"},
		{24 * time.Hour, "1 day"},
		{48 * time.Hour, "2.0 days"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatDuration(tt.input)
			if result != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatReminderName(t *testing.T) {
	tests := []struct {
		title    string
		message  string
		expected string
	}{
		{"", "Short message", "Reminder: Short message"},
		{"Custom Title", "Any message", "Reminder: Custom Title"},
		{"", "This is a very long message that exceeds fifty characters and should be truncated", "Reminder: This is a very long message that exceeds fifty ..."},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatReminderName(tt.title, tt.message)
			if result != tt.expected {
				t.Errorf("formatReminderName(%q, %q) = %q, want %q", tt.title, tt.message, result, tt.expected)
			}
		})
	}
}

func newTestScheduler(t *testing.T) (*storage.MemoryStore, *tasks.Scheduler) {
	t.Helper()
	store := storage.NewMemoryStore()
	sched := tasks.NewScheduler(store, store, store, nil, []tasks.Definition{
		{Type: TaskType, Handler: &noopHandler{}},
	}, tasks.SchedulerConfig{})
	return store, sched
}

type noopHandler struct{}

func (noopHandler) Run(ctx context.Context, run *models.TaskRun) (tasks.Result, error) {
	return tasks.Result{}, nil
}

func TestListTool_Name(t *testing.T) {
	tool := NewListTool(nil)
	if name := tool.Name(); name != "list_reminders" {
		t.Errorf("Name() = %q, want %q", name, "list_reminders")
	}
}

func TestListTool_Schema(t *testing.T) {
	tool := NewListTool(nil)
	var parsed map[string]any
	if err := json.Unmarshal(tool.Schema(), &parsed); err != nil {
		t.Errorf("Schema is not valid JSON: %v", err)
	}
}

func TestListTool_Execute_NilStore(t *testing.T) {
	tool := NewListTool(nil)
	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.OK {
		t.Error("expected a failed result for a nil store")
	}
}

func TestListTool_Execute_ListsOwnReminders(t *testing.T) {
	store, sched := newTestScheduler(t)
	tool := NewListTool(store)

	ctx := observability.AddUserID(context.Background(), "user-1")
	if _, err := sched.Enqueue(ctx, "user-1", TaskType, map[string]any{"title": "Follow up", "message": "ping Acme"}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	result, err := tool.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.OK {
		t.Fatalf("expected OK result, got error_kind=%q", result.ErrorKind)
	}
	if !strings.Contains(string(result.Data), "Follow up") {
		t.Errorf("Data = %s, want it to contain the reminder title", result.Data)
	}
}

func TestCancelTool_Name(t *testing.T) {
	tool := NewCancelTool(nil)
	if name := tool.Name(); name != "cancel_reminder" {
		t.Errorf("Name() = %q, want %q", name, "cancel_reminder")
	}
}

func TestCancelTool_Execute_NilScheduler(t *testing.T) {
	tool := NewCancelTool(nil)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"task_run_id": "test-123"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.OK {
		t.Error("expected a failed result for a nil scheduler")
	}
}

func TestCancelTool_Execute_EmptyTaskRunID(t *testing.T) {
	_, sched := newTestScheduler(t)
	tool := NewCancelTool(sched)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"task_run_id": ""}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.OK {
		t.Error("expected a failed result for an empty task_run_id")
	}
}

func TestSetTool_Name(t *testing.T) {
	tool := NewSetTool(nil)
	if name := tool.Name(); name != "schedule_reminder" {
		t.Errorf("Name() = %q, want %q", name, "schedule_reminder")
	}
}

func TestSetTool_Execute_NilScheduler(t *testing.T) {
	tool := NewSetTool(nil)
	params := json.RawMessage(`{"message": "test", "when": "in 5 minutes"}`)
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.OK {
		t.Error("expected a failed result for a nil scheduler")
	}
}

func TestSetTool_Execute_InvalidJSON(t *testing.T) {
	_, sched := newTestScheduler(t)
	tool := NewSetTool(sched)
	_, err := tool.Execute(context.Background(), json.RawMessage(`{invalid json}`))
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestSetTool_Execute_MissingMessage(t *testing.T) {
	_, sched := newTestScheduler(t)
	tool := NewSetTool(sched)
	params := json.RawMessage(`{"when": "in 5 minutes"}`)
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.OK {
		t.Error("expected error for missing message")
	}
}

func TestSetTool_Execute_MissingWhen(t *testing.T) {
	_, sched := newTestScheduler(t)
	tool := NewSetTool(sched)
	params := json.RawMessage(`{"message": "test"}`)
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.OK {
		t.Error("expected error for missing when")
	}
}

func TestSetTool_Execute_Schedules(t *testing.T) {
	store, sched := newTestScheduler(t)
	tool := NewSetTool(sched)

	ctx := observability.AddUserID(context.Background(), "user-1")
	params := json.RawMessage(`{"message": "ping Acme", "when": "in 5 minutes", "title": "Acme follow-up"}`)
	result, err := tool.Execute(ctx, params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.OK {
		t.Fatalf("expected OK result, got error_kind=%q", result.ErrorKind)
	}

	runs, err := store.ListTaskRuns(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("ListTaskRuns returned error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Type != TaskType {
		t.Errorf("Type = %q, want %q", runs[0].Type, TaskType)
	}
}
