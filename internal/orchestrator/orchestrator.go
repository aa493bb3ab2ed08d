// Package orchestrator implements the Conversation Orchestrator: the single
// entry point that composes the Agent Runtime, Intent Router, Evaluator, and
// Negotiator into the full pipeline for one user Turn.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/config"
	"github.com/careerforge/orchestrator/internal/corerr"
	"github.com/careerforge/orchestrator/internal/evaluator"
	"github.com/careerforge/orchestrator/internal/negotiator"
	"github.com/careerforge/orchestrator/internal/observability"
	"github.com/careerforge/orchestrator/internal/registry"
	"github.com/careerforge/orchestrator/internal/router"
	"github.com/careerforge/orchestrator/internal/storage"
	"github.com/careerforge/orchestrator/pkg/models"
)

// Request is the input to run_turn: a user message, optionally continuing
// an existing conversation.
type Request struct {
	UserID         string
	ConversationID string // empty creates a new Conversation
	UserText       string
	Attachment     *models.Attachment
	ProfileHints   map[string]string
}

// Orchestrator wires the Agent Runtime, Intent Router, Evaluator, and
// Negotiator into one Turn pipeline.
type Orchestrator struct {
	store      storage.Store
	agents     *registry.Registry
	provider   agent.LLMProvider
	runtime    *agent.Runtime
	router     *router.Router
	evaluator  *evaluator.Evaluator
	negotiator *negotiator.Negotiator
	cfg        config.OrchestratorConfig
	negCfg     config.NegotiatorConfig
	model      string
	logger     *observability.Logger
	metrics    *observability.Metrics
	cancels    *cancelRegistry
}

// New builds an Orchestrator. negotiatorImpl may be nil to disable the
// Negotiator phase entirely (it is consulted only when reports diverge).
func New(
	store storage.Store,
	agents *registry.Registry,
	provider agent.LLMProvider,
	runtime *agent.Runtime,
	r *router.Router,
	e *evaluator.Evaluator,
	n *negotiator.Negotiator,
	cfg config.OrchestratorConfig,
	negCfg config.NegotiatorConfig,
	model string,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if cfg.TurnBudget <= 0 {
		cfg.TurnBudget = 120 * time.Second
	}
	if cfg.PartialFailureThreshold <= 0 {
		cfg.PartialFailureThreshold = 0.5
	}
	return &Orchestrator{
		store: store, agents: agents, provider: provider, runtime: runtime,
		router: r, evaluator: e, negotiator: n, cfg: cfg, negCfg: negCfg,
		model: model, logger: logger, metrics: metrics, cancels: newCancelRegistry(),
	}
}

// Cancel requests cancellation of the Turn in flight, if any, for
// (userID, conversationID). Idempotent and monotonic (I7): a later call
// after the Turn has already terminated is a harmless no-op.
func (o *Orchestrator) Cancel(userID, conversationID string) bool {
	return o.cancels.Cancel(userID, conversationID)
}

// RunTurn executes the full pipeline for one user message, calling publish
// for every event as it's produced. publish must not block — it's expected
// to hand off into a bounded, backpressure-aware sink (the Push Fabric); the
// Orchestrator never waits on a slow subscriber. Returns the completed Turn
// once the event stream terminates.
func (o *Orchestrator) RunTurn(ctx context.Context, req Request, publish func(models.Event)) (*models.Turn, error) {
	if publish == nil {
		publish = func(models.Event) {}
	}
	started := time.Now()

	turn := &models.Turn{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		InputText:    req.UserText,
		Attachment:   req.Attachment,
		AgentReports: make(map[string]models.AgentReport),
		CreatedAt:    time.Now(),
	}

	ctx, release := o.cancels.begin(ctx, req.UserID, req.ConversationID)
	defer release()
	ctx, cancelBudget := context.WithTimeout(ctx, o.cfg.TurnBudget)
	defer cancelBudget()

	conv, history, err := o.ensureConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	turn.ConversationID = conv.ID
	publish(models.NewEvent(req.UserID, models.EventConversationID, map[string]any{"conversation_id": conv.ID}))

	userMsg := &models.Message{ID: uuid.NewString(), ConversationID: conv.ID, Role: models.RoleUser, Content: req.UserText, CreatedAt: time.Now()}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "persist user message", err)
	}

	decision, err := o.router.Classify(ctx, router.Request{Message: req.UserText, History: historyStrings(history), ProfileHints: req.ProfileHints})
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "classify intent", err)
	}
	turn.Routing = decision

	if decision.DirectResponse {
		text, terminated := o.streamDirectResponse(ctx, req.UserID, req.UserText, history, publish)
		turn.FinalText = text
		return o.finish(ctx, turn, started, terminated, publish)
	}

	publish(models.NewEvent(req.UserID, models.EventRouting, map[string]any{"intent": decision.Intent, "agents": decision.Agents}))

	remaining := append([]string{}, decision.Agents...)
	state := evaluator.NewState(decision.Agents)
	var orderedReports []models.AgentReport
	failedCount := 0

	for len(remaining) > 0 {
		if ctx.Err() != nil {
			break
		}
		current := remaining[0]
		remaining = remaining[1:]

		publish(models.NewEvent(req.UserID, models.EventAgentStatus, map[string]any{"agent": current, "status": "running"}))

		report, trace, runErr := o.runAgent(ctx, current, req, turn, history, publish)
		if trace != nil {
			turn.TraceIDs = append(turn.TraceIDs, trace.ID)
		}
		if runErr != nil {
			if corerr.Is(runErr, corerr.KindCancelled) {
				publish(models.NewEvent(req.UserID, models.EventAgentStatus, map[string]any{
					"agent": current, "status": "failed", "message": "cancelled",
				}))
				break
			}
			report = &models.AgentReport{AgentName: current, Failed: true, FailureKind: string(corerr.KindInternal)}
		}
		if report.Failed {
			failedCount++
		}

		status := "complete"
		if report.Failed {
			status = "failed"
		}
		publish(models.NewEvent(req.UserID, models.EventAgentStatus, map[string]any{"agent": current, "status": status}))

		turn.AgentReports[current] = *report
		orderedReports = append(orderedReports, *report)

		decision := o.evaluator.Evaluate(ctx, state, evaluator.Input{StepAgent: current, Report: *report, RemainingAgents: remaining})
		turn.Decisions = append(turn.Decisions, decision)
		publish(models.NewEvent(req.UserID, models.EventEvaluator, map[string]any{
			"decision": decision.Kind, "reason": decision.Reason, "target_agent": decision.TargetAgent,
		}))

		remaining = applyDecision(remaining, decision)
		if decision.Kind == models.DecisionStop {
			break
		}
	}

	if o.negotiator != nil && ctx.Err() == nil {
		o.maybeNegotiate(ctx, turn, orderedReports, req.UserID, publish)
	}

	totalRun := len(orderedReports)
	apologetic := totalRun > 0 && float64(failedCount)/float64(totalRun) >= o.cfg.PartialFailureThreshold

	text, terminated := o.synthesize(ctx, turn, orderedReports, apologetic, publish)
	turn.FinalText = text
	return o.finish(ctx, turn, started, terminated, publish)
}

func (o *Orchestrator) finish(ctx context.Context, turn *models.Turn, started time.Time, terminated bool, publish func(models.Event)) (*models.Turn, error) {
	if turn.FinalText != "" {
		assistantMsg := &models.Message{ID: uuid.NewString(), ConversationID: turn.ConversationID, Role: models.RoleAssistant, Content: turn.FinalText, CreatedAt: time.Now()}
		if err := o.store.AppendMessage(context.Background(), assistantMsg); err != nil && o.logger != nil {
			o.logger.Error(ctx, "failed to persist assistant message", "error", err)
		}
	}
	publish(models.NewEvent(turn.UserID, models.EventTraceIDs, map[string]any{"trace_ids": turn.TraceIDs}))
	publish(models.NewEvent(turn.UserID, models.EventDone, nil))

	if o.metrics != nil {
		outcome := "completed"
		if terminated {
			outcome = "cancelled"
		}
		o.metrics.RecordTurn(outcome, time.Since(started).Seconds())
	}
	return turn, nil
}

func (o *Orchestrator) ensureConversation(ctx context.Context, req Request) (*models.Conversation, []*models.Message, error) {
	if req.ConversationID != "" {
		conv, err := o.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, nil, corerr.Wrap(corerr.KindInvalidInput, "conversation not found", err)
		}
		history, err := o.store.ListMessages(ctx, conv.ID)
		if err != nil {
			return nil, nil, corerr.Wrap(corerr.KindInternal, "list messages", err)
		}
		return conv, history, nil
	}
	conv := &models.Conversation{ID: uuid.NewString(), UserID: req.UserID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, nil, corerr.Wrap(corerr.KindInternal, "create conversation", err)
	}
	return conv, nil, nil
}

func (o *Orchestrator) runAgent(ctx context.Context, agentName string, req Request, turn *models.Turn, history []*models.Message, publish func(models.Event)) (*models.AgentReport, *models.Trace, error) {
	def, ok := o.agents.Get(agentName)
	if !ok {
		return &models.AgentReport{AgentName: agentName, Failed: true, FailureKind: string(corerr.KindInvalidInput)}, nil, nil
	}
	model := def.Model
	if model == "" {
		model = o.model
	}
	return o.runtime.Run(ctx, agent.RunRequest{
		AgentName:     agentName,
		SystemPrompt:  def.SystemPrompt,
		Model:         model,
		History:       historyMessages(history),
		Brief:         req.UserText,
		Attachment:    req.Attachment,
		SharedContext: turn.AgentReports,
		ParentTurnID:  turn.ID,
		EventSink: func(e models.Event) {
			e.UserID = req.UserID
			publish(e)
		},
	})
}

// maybeNegotiate checks whether the Turn's collected reports diverge enough
// to warrant negotiation and, if so, runs it, folding the consensus report
// back into the shared context reports used for synthesis.
func (o *Orchestrator) maybeNegotiate(ctx context.Context, turn *models.Turn, reports []models.AgentReport, userID string, publish func(models.Event)) {
	if len(reports) < 2 || !negotiator.Diverges(reports, o.negCfg.ConfidenceSpreadTrigger) {
		return
	}
	record, err := o.negotiator.Run(ctx, reports, func(round int, positions []models.NegotiationPosition) {
		publish(models.NewEvent(userID, models.EventNegotiationRound, map[string]any{"round": round, "positions": positions}))
	})
	if err != nil {
		if o.logger != nil {
			o.logger.Warn(ctx, "negotiation failed, proceeding with original reports", "error", err)
		}
		return
	}
	turn.Negotiation = record
	publish(models.NewEvent(userID, models.EventNegotiationResult, map[string]any{
		"converged": record.Converged, "consensus": record.Consensus, "dissent": record.Dissent,
	}))
	if record.Consensus != nil {
		turn.AgentReports[record.Consensus.AgentName] = *record.Consensus
	}
}

func (o *Orchestrator) streamDirectResponse(ctx context.Context, userID, userText string, history []*models.Message, publish func(models.Event)) (string, bool) {
	chunks, err := o.provider.CompleteStream(ctx, &agent.CompletionRequest{
		Model:    o.model,
		System:   "You are a helpful career-assistance conversational agent. Respond directly and concisely.",
		Messages: append(historyMessages(history), agent.CompletionMessage{Role: "user", Content: userText}),
	})
	if err != nil {
		publish(models.NewEvent(userID, models.EventError, map[string]any{"kind": string(corerr.KindLLMUnavailable)}))
		return "", false
	}
	return drainStream(ctx, userID, chunks, publish)
}

func (o *Orchestrator) synthesize(ctx context.Context, turn *models.Turn, reports []models.AgentReport, apologetic bool, publish func(models.Event)) (string, bool) {
	if ctx.Err() != nil {
		text := "This conversation was cancelled before a response could be prepared."
		publish(models.NewEvent(turn.UserID, models.EventContent, map[string]any{"text": text}))
		return text, true
	}

	system := "You are synthesizing the findings of several specialist agents into one clear, " +
		"helpful reply for the user. Integrate their reports; do not mention the agents by name."
	if apologetic {
		system = "Several specialist agents failed to complete their work. Write a brief, honest, " +
			"apologetic reply acknowledging the limitation and offering what partial help you can " +
			"from the reports available."
	}

	prompt := fmt.Sprintf("User asked: %s\n\nAgent reports:\n", turn.InputText)
	for _, r := range reports {
		prompt += fmt.Sprintf("- %s (confidence %.2f): %s\n", r.AgentName, r.Confidence, r.Content)
	}

	chunks, err := o.provider.CompleteStream(ctx, &agent.CompletionRequest{
		Model:    o.model,
		System:   system,
		Messages: []agent.CompletionMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		publish(models.NewEvent(turn.UserID, models.EventError, map[string]any{"kind": string(corerr.KindLLMUnavailable)}))
		return "", false
	}
	return drainStream(ctx, turn.UserID, chunks, publish)
}

func drainStream(ctx context.Context, userID string, chunks <-chan *agent.CompletionChunk, publish func(models.Event)) (string, bool) {
	var full string
	for chunk := range chunks {
		if chunk.Error != nil {
			continue
		}
		full += chunk.Text
		publish(models.NewEvent(userID, models.EventContent, map[string]any{"text": chunk.Text}))
		if chunk.Done {
			break
		}
	}
	return full, ctx.Err() != nil
}

// applyDecision mutates the remaining-agents queue per the Evaluator's
// decision: skip_next drops the next agent, loop_back/add_agent prepend the
// target agent, continue/stop leave the queue untouched (stop is handled by
// the caller breaking the loop entirely).
func applyDecision(remaining []string, d models.EvaluatorDecision) []string {
	switch d.Kind {
	case models.DecisionSkipNext:
		if len(remaining) > 0 {
			return remaining[1:]
		}
		return remaining
	case models.DecisionLoopBack, models.DecisionAddAgent:
		if d.TargetAgent == "" {
			return remaining
		}
		return append([]string{d.TargetAgent}, remaining...)
	default:
		return remaining
	}
}

func historyMessages(history []*models.Message) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, len(history))
	for i, m := range history {
		out[i] = agent.CompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func historyStrings(history []*models.Message) []string {
	out := make([]string, len(history))
	for i, m := range history {
		out[i] = m.Content
	}
	return out
}
