package tasks

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/pkg/models"
)

// AgentHandler runs one named agent through the Agent Runtime and turns its
// AgentReport into a completion Notification. It backs any task type whose
// work is "ask an agent to do something and tell the user what it found" —
// the periodic job-match scanner and the on-demand company research task.
type AgentHandler struct {
	Runtime      *agent.Runtime
	AgentName    string
	SystemPrompt string
	Model        string
	// Brief renders the per-run task brief from the TaskRun's Config. Config
	// keys are task-type specific (e.g. company_research's "company" key).
	Brief func(run *models.TaskRun) string
	// NotificationType stamps the Type field on produced Notifications.
	NotificationType string
}

func (h *AgentHandler) Run(ctx context.Context, run *models.TaskRun) (Result, error) {
	report, _, err := h.Runtime.Run(ctx, agent.RunRequest{
		AgentName:    h.AgentName,
		SystemPrompt: h.SystemPrompt,
		Model:        h.Model,
		Brief:        h.Brief(run),
	})
	if err != nil {
		return Result{}, fmt.Errorf("run %s: %w", h.AgentName, err)
	}
	if report.Failed {
		return Result{}, fmt.Errorf("%s failed: %s", h.AgentName, report.FailureKind)
	}

	return Result{
		Summary: report.Content,
		Notifications: []Notification{{
			Type:  h.NotificationType,
			Title: fmt.Sprintf("%s update", h.AgentName),
			Body:  report.Content,
			Payload: map[string]any{
				"confidence": report.Confidence,
			},
		}},
	}, nil
}

// NotifyHandler produces a single Notification from a text/template rendered
// against the TaskRun's Config, with no agent involved. It backs the
// application-status reminder task type.
type NotifyHandler struct {
	NotificationType string
	TitleTemplate    string
	BodyTemplate     string
}

func (h *NotifyHandler) Run(ctx context.Context, run *models.TaskRun) (Result, error) {
	title, err := renderTemplate(h.TitleTemplate, run.Config)
	if err != nil {
		return Result{}, fmt.Errorf("render title: %w", err)
	}
	body, err := renderTemplate(h.BodyTemplate, run.Config)
	if err != nil {
		return Result{}, fmt.Errorf("render body: %w", err)
	}

	return Result{
		Summary: body,
		Notifications: []Notification{{
			Type:    h.NotificationType,
			Title:   title,
			Body:    body,
			Payload: run.Config,
		}},
	}, nil
}

func renderTemplate(tmpl string, data map[string]any) (string, error) {
	t, err := template.New("task").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
