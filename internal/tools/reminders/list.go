package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/storage"
	"github.com/careerforge/orchestrator/pkg/models"
)

// ListTool lists the calling user's application_status_reminder TaskRuns.
type ListTool struct {
	store storage.TaskStore
}

func NewListTool(store storage.TaskStore) *ListTool {
	return &ListTool{store: store}
}

func (t *ListTool) Name() string        { return "list_reminders" }
func (t *ListTool) Kind() agent.ToolKind { return agent.ToolReadOnly }
func (t *ListTool) Idempotent() bool    { return true }

func (t *ListTool) Description() string {
	return "List the user's scheduled reminders, optionally including ones that already fired."
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"include_finished": {
				"type": "boolean",
				"description": "Include completed, failed, or cancelled reminders (default false)"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of reminders to return (default 20)"
			}
		}
	}`)
}

type listInput struct {
	IncludeFinished bool `json:"include_finished"`
	Limit           int  `json:"limit"`
}

type reminderSummary struct {
	TaskRunID   string `json:"task_run_id"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Status      string `json:"status"`
	ScheduledAt string `json:"scheduled_at"`
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	start := time.Now()
	if t.store == nil {
		return toolError("reminder store unavailable", start), nil
	}

	var input listInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if input.Limit <= 0 {
		input.Limit = 20
	}

	userID := userIDFromContext(ctx)
	runs, err := t.store.ListTaskRuns(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}

	var summaries []reminderSummary
	for _, run := range runs {
		if run.Type != TaskType {
			continue
		}
		if !input.IncludeFinished && run.Status != models.TaskRunPending && run.Status != models.TaskRunRunning {
			continue
		}
		title, _ := run.Config["title"].(string)
		message, _ := run.Config["message"].(string)
		summaries = append(summaries, reminderSummary{
			TaskRunID:   run.ID,
			Title:       title,
			Message:     message,
			Status:      string(run.Status),
			ScheduledAt: run.ScheduledAt.Format(time.RFC3339),
		})
		if len(summaries) >= input.Limit {
			break
		}
	}

	data, err := json.Marshal(map[string]any{"reminders": summaries})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &models.ToolResult{OK: true, Data: data, Latency: time.Since(start)}, nil
}
