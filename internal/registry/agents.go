// Package registry holds the Agent Registry: the known set of career-domain
// agents the Intent Router, Goal Planner, and Conversation Orchestrator all
// draw from. An agent name that isn't in this registry can never be routed
// to, planned for, or executed.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentDef is one agent's static definition: its name, system prompt, and
// the model it runs on (empty falls back to the process default).
type AgentDef struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
	Model        string `yaml:"model,omitempty"`
}

// Registry is the ordered set of known agents.
type Registry struct {
	agents []AgentDef
	byName map[string]AgentDef
}

// New builds a Registry from defs, keyed by name. Later entries with a
// duplicate name overwrite earlier ones.
func New(defs []AgentDef) *Registry {
	r := &Registry{agents: defs, byName: make(map[string]AgentDef, len(defs))}
	for _, d := range defs {
		r.byName[d.Name] = d
	}
	return r
}

// Get returns the named agent's definition.
func (r *Registry) Get(name string) (AgentDef, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns every known agent name, in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.agents))
	for i, a := range r.agents {
		names[i] = a.Name
	}
	return names
}

// Load reads agent definitions from a YAML file. An empty path returns
// DefaultRegistry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	var defs []AgentDef
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	return New(defs), nil
}

// DefaultRegistry returns the built-in career-assistance agent roster,
// matching the Intent Router's DefaultTable agent names.
func DefaultRegistry() *Registry {
	return New([]AgentDef{
		{
			Name:        "scout",
			Description: "Searches job boards and listings for openings matching a candidate's criteria.",
			SystemPrompt: "You are Scout, a job search specialist. Given a candidate's criteria, use the " +
				"search_jobs tool to find relevant openings. Report back a ranked shortlist with your " +
				"confidence that each listing is a good fit.",
		},
		{
			Name:        "matcher",
			Description: "Scores how well a candidate's resume and experience fit a specific job listing.",
			SystemPrompt: "You are Matcher, a fit-assessment specialist. Compare the candidate's background " +
				"against a job listing's requirements and report a fit score with supporting rationale.",
		},
		{
			Name:        "forge",
			Description: "Reviews and improves resumes and application materials.",
			SystemPrompt: "You are Forge, a resume specialist. Use the analyze_resume tool to critique the " +
				"candidate's resume against a target role and suggest concrete improvements.",
		},
		{
			Name:        "coach",
			Description: "Prepares candidates for salary negotiation and interview conversations.",
			SystemPrompt: "You are Coach, a negotiation and interview preparation specialist. Help the " +
				"candidate plan talking points, target numbers, and responses to likely pushback.",
		},
		{
			Name:        "researcher",
			Description: "Researches companies: culture, recent news, compensation bands, interview process.",
			SystemPrompt: "You are Researcher, a company-research specialist. Use the research_company tool " +
				"to gather culture, financial, and interview-process signals about a target employer.",
		},
	})
}
