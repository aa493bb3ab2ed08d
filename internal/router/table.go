// Package router implements the Intent Router: it classifies a user message
// plus its recent history into an intent, an ordered agent sequence, and a
// confidence, falling back to a direct-answer path below threshold.
package router

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// TriggerType enumerates how a Rule matches a message, generalized from the
// teacher's keyword/pattern/intent/tool_use/explicit/always/fallback
// taxonomy into the Router's single first-match-wins classifier.
type TriggerType string

const (
	TriggerKeyword  TriggerType = "keyword"
	TriggerPattern  TriggerType = "pattern"
	TriggerIntent   TriggerType = "intent"
	TriggerAlways   TriggerType = "always"
	TriggerFallback TriggerType = "fallback"
)

// Trigger is one condition a Rule checks against the incoming message.
type Trigger struct {
	Type      TriggerType `yaml:"type"`
	Values    []string    `yaml:"values,omitempty"`
	Pattern   string      `yaml:"pattern,omitempty"`
	Threshold float64     `yaml:"threshold,omitempty"`
}

// Rule maps a matched Trigger to an intent and its ordered agent sequence.
type Rule struct {
	Intent     string    `yaml:"intent"`
	Agents     []string  `yaml:"agents"`
	Priority   int       `yaml:"priority"`
	Confidence float64   `yaml:"confidence"`
	Triggers   []Trigger `yaml:"triggers"`
}

// Table is the Router's intent→agent-sequence data, loaded from YAML rather
// than hard-coded branches, mirroring the teacher's MultiAgentConfig/
// agents.yaml composition.
type Table struct {
	K                   int     `yaml:"k"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	Rules               []Rule  `yaml:"rules"`
}

// DefaultTable is the small built-in table SPEC_FULL.md's supplemented
// features section names: career_search, resume_review, negotiation_prep,
// company_research, and a keyword-less general fallback that routes nowhere
// (direct_response).
func DefaultTable() Table {
	return Table{
		K:                   6,
		ConfidenceThreshold: 0.5,
		Rules: []Rule{
			{
				Intent:     "career_search",
				Agents:     []string{"scout", "matcher"},
				Priority:   10,
				Confidence: 0.8,
				Triggers: []Trigger{
					{Type: TriggerKeyword, Values: []string{"job", "jobs", "opening", "role", "position", "hiring"}},
				},
			},
			{
				Intent:     "resume_review",
				Agents:     []string{"forge"},
				Priority:   10,
				Confidence: 0.8,
				Triggers: []Trigger{
					{Type: TriggerKeyword, Values: []string{"resume", "cv", "cover letter"}},
				},
			},
			{
				Intent:     "negotiation_prep",
				Agents:     []string{"coach"},
				Priority:   10,
				Confidence: 0.8,
				Triggers: []Trigger{
					{Type: TriggerKeyword, Values: []string{"negotiate", "negotiation", "salary", "offer", "counteroffer"}},
				},
			},
			{
				Intent:     "company_research",
				Agents:     []string{"researcher"},
				Priority:   10,
				Confidence: 0.8,
				Triggers: []Trigger{
					{Type: TriggerKeyword, Values: []string{"company", "culture", "glassdoor", "research"}},
				},
			},
			{
				Intent:     "general",
				Agents:     nil,
				Priority:   0,
				Confidence: 0.6,
				Triggers: []Trigger{
					{Type: TriggerFallback},
				},
			},
		},
	}
}

// LoadTable reads a Table from a YAML file. An empty path returns the
// built-in DefaultTable.
func LoadTable(path string) (Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read router table: %w", err)
	}
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return Table{}, fmt.Errorf("parse router table: %w", err)
	}
	if table.K <= 0 {
		table.K = 6
	}
	if table.ConfidenceThreshold <= 0 {
		table.ConfidenceThreshold = 0.5
	}
	return table, nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}
