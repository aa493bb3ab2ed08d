// Package goals implements the Goal Planner and Goal Executor: turning a
// user objective into an ordered Step plan and running that plan's steps
// through the Conversation Orchestrator one at a time or end to end.
package goals

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/corerr"
	"github.com/careerforge/orchestrator/internal/registry"
)

// PlanStep is one proposed Step before it's persisted with a Goal id and
// ordinal.
type PlanStep struct {
	Title         string `json:"title"`
	Rationale     string `json:"rationale"`
	AssignedAgent string `json:"assigned_agent"`
}

// Planner turns a free-text objective into an ordered PlanStep list, every
// AssignedAgent drawn from the Agent Registry.
type Planner struct {
	provider agent.LLMProvider
	model    string
	agents   *registry.Registry
}

// NewPlanner builds a Planner. provider must be non-nil: planning is always
// an LLM call, there is no heuristic fallback (an objective's decomposition
// isn't something keyword rules can produce).
func NewPlanner(provider agent.LLMProvider, model string, agents *registry.Registry) *Planner {
	return &Planner{provider: provider, model: model, agents: agents}
}

type planResponse struct {
	Steps []PlanStep `json:"steps"`
}

// Plan produces an ordered Step list for objective. On a parse failure or a
// plan naming an agent outside the Registry, one corrective retry is made
// (mirroring the Agent Runtime's repair-on-parse-failure policy); a second
// failure surfaces as KindGoalPreconditionFail rather than crashing the
// caller.
func (p *Planner) Plan(ctx context.Context, objective string, profileHints map[string]string) ([]PlanStep, error) {
	steps, err := p.planOnce(ctx, objective, profileHints, false)
	if err == nil {
		return steps, nil
	}
	steps, err = p.planOnce(ctx, objective, profileHints, true)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindGoalPreconditionFail, "goal plan could not be produced", err)
	}
	return steps, nil
}

func (p *Planner) planOnce(ctx context.Context, objective string, profileHints map[string]string, corrective bool) ([]PlanStep, error) {
	system := "You are a planning assistant for a career-assistance system. Given a user's objective, " +
		"produce an ordered list of steps, each assigned to exactly one of these agents: " +
		agentNames(p.agents) + ". If the objective is underspecified, produce a single step asking a " +
		"clarifying question, assigned to any listed agent. Respond with JSON " +
		`{"steps": [{"title": "...", "rationale": "...", "assigned_agent": "..."}]}.`
	prompt := "Objective: " + objective
	if corrective {
		prompt += "\n\nYour previous plan was invalid (malformed JSON or named an agent outside the " +
			"listed set). Respond again, strictly following the schema and only using listed agents."
	}
	for k, v := range profileHints {
		prompt += fmt.Sprintf("\n%s: %s", k, v)
	}

	result, err := p.provider.CompleteStructured(ctx, &agent.CompletionRequest{
		Model:  p.model,
		System: system,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}
	if result == nil || result.ToolCall != nil {
		return nil, fmt.Errorf("goals: planner returned a tool call instead of a plan")
	}

	var parsed planResponse
	if err := json.Unmarshal([]byte(result.Text), &parsed); err != nil {
		return nil, fmt.Errorf("goals: malformed plan: %w", err)
	}
	if len(parsed.Steps) == 0 {
		return nil, fmt.Errorf("goals: plan contained no steps")
	}
	for _, s := range parsed.Steps {
		if _, ok := p.agents.Get(s.AssignedAgent); !ok {
			return nil, fmt.Errorf("goals: plan named unknown agent %q", s.AssignedAgent)
		}
	}
	return parsed.Steps, nil
}

func agentNames(r *registry.Registry) string {
	names := r.Names()
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
