package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/tasks"
	"github.com/careerforge/orchestrator/pkg/models"
)

// CancelTool cancels a previously scheduled reminder by its TaskRun ID.
type CancelTool struct {
	scheduler *tasks.Scheduler
}

func NewCancelTool(scheduler *tasks.Scheduler) *CancelTool {
	return &CancelTool{scheduler: scheduler}
}

func (t *CancelTool) Name() string        { return "cancel_reminder" }
func (t *CancelTool) Kind() agent.ToolKind { return agent.ToolExternalEffect }
func (t *CancelTool) Idempotent() bool    { return true }

func (t *CancelTool) Description() string {
	return "Cancel a previously scheduled reminder by its task run ID."
}

func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_run_id": {
				"type": "string",
				"description": "The ID returned when the reminder was scheduled"
			}
		},
		"required": ["task_run_id"]
	}`)
}

type cancelInput struct {
	TaskRunID string `json:"task_run_id"`
}

func (t *CancelTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	start := time.Now()
	if t.scheduler == nil {
		return toolError("scheduler unavailable", start), nil
	}

	var input cancelInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.TaskRunID == "" {
		return toolError("task_run_id is required", start), nil
	}

	if err := t.scheduler.Cancel(ctx, input.TaskRunID); err != nil {
		return nil, fmt.Errorf("cancel reminder: %w", err)
	}

	data, err := json.Marshal(map[string]any{"message": "reminder cancelled"})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &models.ToolResult{OK: true, Data: data, Latency: time.Since(start)}, nil
}
