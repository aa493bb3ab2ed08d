// Package negotiator implements the Negotiator: an optional multi-round
// debate across two or more agents whose reports diverge, run until the
// positions converge on a consensus or the round budget is exhausted.
package negotiator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/observability"
	"github.com/careerforge/orchestrator/pkg/models"
)

// Config tunes divergence detection and convergence.
type Config struct {
	MaxRounds                int
	ConfidenceSpreadTrigger  float64
	ConvergenceConfidenceMin float64
}

// RoundEvent is emitted after every round completes, and FinalEvent once
// after the run terminates. Callers (the Conversation Orchestrator) turn
// these into wire events; the Negotiator itself knows nothing of Push Fabric
// framing.
type RoundEvent func(round int, positions []models.NegotiationPosition)

// Negotiator runs the divergence-then-debate protocol.
type Negotiator struct {
	provider agent.LLMProvider
	model    string
	cfg      Config
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// New builds a Negotiator. provider must be non-nil; negotiation has no
// heuristic fallback because it requires reasoning about another agent's
// rationale, not just its own report content. metrics may be nil.
func New(provider agent.LLMProvider, model string, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Negotiator {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	if cfg.ConfidenceSpreadTrigger <= 0 {
		cfg.ConfidenceSpreadTrigger = 0.3
	}
	if cfg.ConvergenceConfidenceMin <= 0 {
		cfg.ConvergenceConfidenceMin = 0.7
	}
	return &Negotiator{provider: provider, model: model, cfg: cfg, logger: logger, metrics: metrics}
}

// Diverges reports whether the given reports disagree enough to warrant
// negotiation: a mismatch on any tracked structured field, or a confidence
// spread over the configured trigger.
func Diverges(reports []models.AgentReport, trigger float64) bool {
	if len(reports) < 2 {
		return false
	}
	if trigger <= 0 {
		trigger = 0.3
	}
	lo, hi := reports[0].Confidence, reports[0].Confidence
	for _, r := range reports[1:] {
		if r.Confidence < lo {
			lo = r.Confidence
		}
		if r.Confidence > hi {
			hi = r.Confidence
		}
	}
	if hi-lo > trigger {
		return true
	}
	first := reports[0].Fields
	for _, r := range reports[1:] {
		if !reflect.DeepEqual(first, r.Fields) {
			return true
		}
	}
	return false
}

// Run executes the negotiation protocol across the given starting reports,
// one per participating agent, and returns the final record. onRound, if
// non-nil, is called once per completed round (including round 1).
func (n *Negotiator) Run(ctx context.Context, reports []models.AgentReport, onRound RoundEvent) (*models.NegotiationRecord, error) {
	if len(reports) < 2 {
		return nil, fmt.Errorf("negotiator: need at least 2 participants, got %d", len(reports))
	}

	participants := make([]string, len(reports))
	for i, r := range reports {
		participants[i] = r.AgentName
	}

	positions := make([]models.NegotiationPosition, len(reports))
	for i, r := range reports {
		positions[i] = models.NegotiationPosition{AgentName: r.AgentName, Action: "maintain", Report: r, Round: 1}
	}

	record := &models.NegotiationRecord{Participants: participants}

	for round := 1; round <= n.cfg.MaxRounds; round++ {
		if round > 1 {
			positions = n.runRound(ctx, round, positions)
		}
		record.Rounds = append(record.Rounds, positions)
		if onRound != nil {
			onRound(round, positions)
		}

		converged := n.converged(positions)
		if n.metrics != nil {
			n.metrics.RecordNegotiationRound(converged)
		}
		if converged {
			record.Converged = true
			consensus := positions[0].Report
			record.Consensus = &consensus
			return record, nil
		}
	}

	record.Converged = false
	best := positions[0]
	for _, p := range positions[1:] {
		if p.Report.Confidence > best.Report.Confidence {
			best = p
		}
	}
	consensus := best.Report
	record.Consensus = &consensus
	for _, p := range positions {
		if p.AgentName != best.AgentName {
			record.Dissent = append(record.Dissent, p)
		}
	}
	return record, nil
}

// runRound has every participant observe the others' prior-round positions
// and emit an updated one, concurrently.
func (n *Negotiator) runRound(ctx context.Context, round int, prior []models.NegotiationPosition) []models.NegotiationPosition {
	updated := make([]models.NegotiationPosition, len(prior))
	var wg sync.WaitGroup
	wg.Add(len(prior))

	for i, p := range prior {
		go func(idx int, pos models.NegotiationPosition) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					if n.logger != nil {
						n.logger.Error(ctx, "panic in negotiation round", "agent", pos.AgentName, "panic", r)
					}
					updated[idx] = pos
				}
			}()
			updated[idx] = n.observeAndRespond(ctx, round, pos, prior)
		}(i, p)
	}

	wg.Wait()
	return updated
}

type llmResponse struct {
	Action     string         `json:"action"`
	Content    string         `json:"content"`
	Confidence float64        `json:"confidence"`
	Rationale  string         `json:"rationale"`
	Fields     map[string]any `json:"fields,omitempty"`
}

func (n *Negotiator) observeAndRespond(ctx context.Context, round int, self models.NegotiationPosition, others []models.NegotiationPosition) models.NegotiationPosition {
	othersJSON, _ := json.Marshal(others)

	result, err := n.provider.CompleteStructured(ctx, &agent.CompletionRequest{
		Model: n.model,
		System: "You are " + self.AgentName + " in a multi-agent negotiation. You hold a position; " +
			"other agents hold their own. Observe their positions and respond with exactly one of " +
			`"maintain" (keep your position), "refine" (adjust details but keep your stance), ` +
			`"concede" (adopt another agent's position), or "challenge" (push back with new reasoning). ` +
			`Respond with JSON {"action": "...", "content": "...", "confidence": <0-1>, "rationale": "...", "fields": {...}}.`,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: fmt.Sprintf(
				"Your current position:\n%s\n\nOther agents' positions this round:\n%s",
				self.Report.Content, string(othersJSON),
			)},
		},
	})
	if err != nil || result == nil || result.ToolCall != nil {
		if n.logger != nil {
			n.logger.Warn(ctx, "negotiation round call failed, maintaining prior position", "agent", self.AgentName, "error", err)
		}
		self.Round = round
		return self
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(result.Text), &parsed); err != nil {
		self.Round = round
		return self
	}

	action := parsed.Action
	switch action {
	case "maintain", "refine", "concede", "challenge":
	default:
		action = "maintain"
	}

	report := self.Report
	if action != "maintain" {
		report = models.AgentReport{
			AgentName:  self.AgentName,
			Content:    parsed.Content,
			Confidence: parsed.Confidence,
			Rationale:  parsed.Rationale,
			Fields:     parsed.Fields,
		}
	}

	return models.NegotiationPosition{AgentName: self.AgentName, Action: action, Report: report, Round: round}
}

// converged reports consensus iff every position's tracked fields are
// pairwise equal and the mean confidence across positions meets the
// configured minimum.
func (n *Negotiator) converged(positions []models.NegotiationPosition) bool {
	if len(positions) == 0 {
		return false
	}
	first := positions[0].Report.Fields
	sum := 0.0
	for _, p := range positions {
		if !reflect.DeepEqual(first, p.Report.Fields) {
			return false
		}
		sum += p.Report.Confidence
	}
	mean := sum / float64(len(positions))
	return mean >= n.cfg.ConvergenceConfidenceMin && !math.IsNaN(mean)
}
