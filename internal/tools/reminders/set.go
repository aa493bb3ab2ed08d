// Package reminders exposes the application-status reminder task type as
// agent tools, so an agent (or the user through one) can schedule, cancel,
// and list reminders from inside a conversation.
package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/observability"
	"github.com/careerforge/orchestrator/internal/tasks"
	"github.com/careerforge/orchestrator/pkg/models"
)

// TaskType is the registered Background Task Runner type these tools manage.
const TaskType = "application_status_reminder"

// SetTool schedules a one-shot application_status_reminder TaskRun.
type SetTool struct {
	scheduler *tasks.Scheduler
}

func NewSetTool(scheduler *tasks.Scheduler) *SetTool {
	return &SetTool{scheduler: scheduler}
}

func (t *SetTool) Name() string        { return "schedule_reminder" }
func (t *SetTool) Kind() agent.ToolKind { return agent.ToolExternalEffect }
func (t *SetTool) Idempotent() bool    { return false }

func (t *SetTool) Description() string {
	return "Schedule a reminder that notifies the user at a specified time, e.g. to follow up on a job application."
}

func (t *SetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message": {
				"type": "string",
				"description": "The reminder message to send when triggered"
			},
			"when": {
				"type": "string",
				"description": "When to send the reminder: 'in X minutes', 'in X hours', 'in X days', or an ISO8601 timestamp"
			},
			"title": {
				"type": "string",
				"description": "Optional short title for the reminder"
			}
		},
		"required": ["message", "when"]
	}`)
}

type setInput struct {
	Message string `json:"message"`
	When    string `json:"when"`
	Title   string `json:"title"`
}

func (t *SetTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	start := time.Now()
	if t.scheduler == nil {
		return toolError("scheduler unavailable", start), nil
	}

	var input setInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.Message == "" {
		return toolError("message is required", start), nil
	}
	if input.When == "" {
		return toolError("when is required", start), nil
	}

	triggerAt, err := parseWhen(input.When)
	if err != nil {
		return toolError(fmt.Sprintf("invalid time: %v", err), start), nil
	}
	if triggerAt.Before(time.Now()) {
		return toolError("cannot set reminder in the past", start), nil
	}

	userID := userIDFromContext(ctx)
	run, err := t.scheduler.Enqueue(ctx, userID, TaskType, map[string]any{
		"title":      formatReminderName(input.Title, input.Message),
		"company":    input.Title,
		"message":    input.Message,
		"trigger_at": triggerAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reminder: %w", err)
	}

	duration := time.Until(triggerAt).Round(time.Second)
	response := fmt.Sprintf("Reminder set for %s (in %s). ID: %s",
		triggerAt.Format("Mon Jan 2 3:04 PM"), formatDuration(duration), run.ID)

	data, err := json.Marshal(map[string]any{"message": response, "task_run_id": run.ID})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &models.ToolResult{OK: true, Data: data, Latency: time.Since(start)}, nil
}

func toolError(msg string, start time.Time) *models.ToolResult {
	data, _ := json.Marshal(map[string]any{"message": msg})
	return &models.ToolResult{OK: false, Data: data, ErrorKind: "invalid_args", Latency: time.Since(start)}
}

func userIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(observability.UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// parseWhen parses a time specification into an absolute time. Supports
// relative forms ("in 5 minutes") and a handful of absolute formats.
func parseWhen(when string) (time.Time, error) {
	when = strings.TrimSpace(strings.ToLower(when))

	if strings.HasPrefix(when, "in ") {
		return parseRelativeTime(strings.TrimPrefix(when, "in "))
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"Jan 2 15:04",
		"Jan 2 3:04 PM",
		"3:04 PM",
		"15:04",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, when); err == nil {
			if t.Year() == 0 {
				now := time.Now()
				t = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local)
				if t.Before(now) {
					t = t.Add(24 * time.Hour)
				}
			}
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("could not parse time: %s", when)
}

var relativeTimePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(seconds?|minutes?|mins?|hours?|hrs?|days?|weeks?)$`)

func parseRelativeTime(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	matches := relativeTimePattern.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("invalid relative time: %s", s)
	}

	amount, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid number: %s", matches[1])
	}

	unit := matches[2]
	var duration time.Duration

	switch {
	case strings.HasPrefix(unit, "second"):
		duration = time.Duration(amount * float64(time.Second))
	case strings.HasPrefix(unit, "min"):
		duration = time.Duration(amount * float64(time.Minute))
	case strings.HasPrefix(unit, "hour"), strings.HasPrefix(unit, "hr"):
		duration = time.Duration(amount * float64(time.Hour))
	case strings.HasPrefix(unit, "day"):
		duration = time.Duration(amount * float64(24*time.Hour))
	case strings.HasPrefix(unit, "week"):
		duration = time.Duration(amount * float64(7*24*time.Hour))
	default:
		return time.Time{}, fmt.Errorf("unknown unit: %s", unit)
	}

	return time.Now().Add(duration), nil
}

func formatReminderName(title, message string) string {
	if title != "" {
		return fmt.Sprintf("Reminder: %s", title)
	}
	if len(message) > 50 {
		return fmt.Sprintf("Reminder: %s...", message[:47])
	}
	return fmt.Sprintf("Reminder: %s", message)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
	if d < 24*time.Hour {
		hrs := d.Hours()
		if hrs < 2 {
			return "1 hour"
		}
		return fmt.Sprintf("%.1f hours", hrs)
	}
	days := d.Hours() / 24
	if days < 2 {
		return "1 day"
	}
	return fmt.Sprintf("%.1f days", days)
}
