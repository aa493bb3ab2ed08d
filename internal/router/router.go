package router

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/pkg/models"
)

// Request is the Router's input: the latest user message, the last K
// messages of conversation history, and any user-profile hints that bias
// classification.
type Request struct {
	Message      string
	History      []string
	ProfileHints map[string]string
}

// Router classifies a Request into a RoutingDecision by evaluating the
// configured Table's rules in priority order, first match wins.
type Router struct {
	table       Table
	knownAgents map[string]bool
	provider    agent.LLMProvider // optional, used only for intent triggers
	model       string

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// New builds a Router over table, validating at construction time that
// every agent named by the table exists in knownAgents — the Router
// guarantees every agent name it returns is real.
func New(table Table, knownAgents []string, provider agent.LLMProvider, model string) *Router {
	known := make(map[string]bool, len(knownAgents))
	for _, name := range knownAgents {
		known[name] = true
	}
	return &Router{
		table:       table,
		knownAgents: known,
		provider:    provider,
		model:       model,
		patterns:    make(map[string]*regexp.Regexp),
	}
}

// Classify runs the Router's rules against req and returns a RoutingDecision.
// Below the configured confidence threshold, the decision carries
// DirectResponse=true and an empty agent list.
func (r *Router) Classify(ctx context.Context, req Request) (*models.RoutingDecision, error) {
	content := strings.ToLower(req.Message)

	type candidate struct {
		rule       Rule
		confidence float64
	}
	var best *candidate

	for i := range r.table.Rules {
		rule := r.table.Rules[i]
		conf := r.evaluateRule(ctx, content, req, rule)
		if conf <= 0 {
			continue
		}
		if best == nil || rule.Priority > best.rule.Priority ||
			(rule.Priority == best.rule.Priority && conf > best.confidence) {
			best = &candidate{rule: rule, confidence: conf}
		}
	}

	if best == nil {
		return &models.RoutingDecision{Intent: "general", DirectResponse: true, Confidence: 1}, nil
	}

	threshold := r.table.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	agents := r.dedupeKnownAgents(best.rule.Agents)
	decision := &models.RoutingDecision{
		Intent:     best.rule.Intent,
		Agents:     agents,
		Confidence: best.confidence,
	}
	if best.confidence < threshold || len(agents) == 0 {
		decision.DirectResponse = true
		decision.Agents = nil
	}
	return decision, nil
}

// evaluateRule returns the confidence of the first trigger on rule that
// matches, or 0 if none match.
func (r *Router) evaluateRule(ctx context.Context, content string, req Request, rule Rule) float64 {
	for _, trigger := range rule.Triggers {
		conf := r.evaluateTrigger(ctx, content, req, trigger)
		if conf <= 0 {
			continue
		}
		if trigger.Threshold > 0 && conf < trigger.Threshold {
			continue
		}
		if conf < rule.Confidence {
			conf = rule.Confidence
		}
		return conf
	}
	return 0
}

func (r *Router) evaluateTrigger(ctx context.Context, content string, req Request, trigger Trigger) float64 {
	switch trigger.Type {
	case TriggerKeyword:
		return r.evaluateKeyword(content, trigger)
	case TriggerPattern:
		return r.evaluatePattern(content, trigger)
	case TriggerIntent:
		return r.evaluateIntent(ctx, req, trigger)
	case TriggerAlways:
		return 1
	case TriggerFallback:
		return 0 // handled by the caller only when nothing else matched
	default:
		return 0
	}
}

func (r *Router) evaluateKeyword(content string, trigger Trigger) float64 {
	if len(trigger.Values) == 0 {
		return 0
	}
	matches := 0
	for _, kw := range trigger.Values {
		if strings.Contains(content, strings.ToLower(kw)) {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}
	return float64(matches) / float64(len(trigger.Values))
}

func (r *Router) evaluatePattern(content string, trigger Trigger) float64 {
	if trigger.Pattern == "" {
		return 0
	}
	r.mu.Lock()
	re, ok := r.patterns[trigger.Pattern]
	if !ok {
		var err error
		re, err = compilePattern(trigger.Pattern)
		if err != nil {
			r.mu.Unlock()
			return 0
		}
		r.patterns[trigger.Pattern] = re
	}
	r.mu.Unlock()
	if re.MatchString(content) {
		return 1
	}
	return 0
}

// evaluateIntent classifies via the LLMProvider when one is configured;
// otherwise the trigger never matches, degrading gracefully to the next
// trigger/rule rather than failing the whole classification.
func (r *Router) evaluateIntent(ctx context.Context, req Request, trigger Trigger) float64 {
	if r.provider == nil || len(trigger.Values) == 0 {
		return 0
	}

	prompt := "Classify the user's message into exactly one of these intents: " +
		strings.Join(trigger.Values, ", ") +
		". Respond with JSON {\"intent\": \"<one of the listed intents>\", \"confidence\": <0-1>}."

	result, err := r.provider.CompleteStructured(ctx, &agent.CompletionRequest{
		Model:  r.model,
		System: prompt,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: req.Message},
		},
	})
	if err != nil || result == nil || result.ToolCall != nil {
		return 0
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(result.Text), &parsed); err != nil {
		return 0
	}
	for _, v := range trigger.Values {
		if strings.EqualFold(v, parsed.Intent) {
			return parsed.Confidence
		}
	}
	return 0
}

// dedupeKnownAgents deduplicates preserving first occurrence and drops any
// name not present in the Agent Registry, so the Router never returns an
// unknown agent.
func (r *Router) dedupeKnownAgents(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		if len(r.knownAgents) > 0 && !r.knownAgents[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// RecentHistory trims msgs to the last k entries' content, oldest first,
// matching the Router's configured K.
func RecentHistory(msgs []*models.Message, k int) []string {
	if k <= 0 {
		k = 6
	}
	start := 0
	if len(msgs) > k {
		start = len(msgs) - k
	}
	out := make([]string, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		out = append(out, m.Content)
	}
	return out
}
