package goals

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careerforge/orchestrator/internal/corerr"
	"github.com/careerforge/orchestrator/internal/observability"
	"github.com/careerforge/orchestrator/internal/orchestrator"
	"github.com/careerforge/orchestrator/internal/storage"
	"github.com/careerforge/orchestrator/pkg/models"
)

// Executor runs a Goal's Steps through the Conversation Orchestrator, one
// step owning a synthetic Turn carrying the step's title as user intent,
// prior steps' outputs reaching it as that conversation's history.
type Executor struct {
	store       storage.Store
	orch        *orchestrator.Orchestrator
	planner     *Planner
	retryBudget int
	logger      *observability.Logger

	mu            sync.Mutex
	conversations map[string]string // goalID -> its dedicated conversation id
	retries       map[string]int    // stepID -> failures so far
}

// NewExecutor builds an Executor. retryBudget is how many times a failed
// Step is retried before the Goal pauses; <= 0 defaults to 1.
func NewExecutor(store storage.Store, orch *orchestrator.Orchestrator, planner *Planner, retryBudget int, logger *observability.Logger) *Executor {
	if retryBudget <= 0 {
		retryBudget = 1
	}
	return &Executor{
		store: store, orch: orch, planner: planner, retryBudget: retryBudget, logger: logger,
		conversations: make(map[string]string), retries: make(map[string]int),
	}
}

// CreateGoal plans objective and persists the Goal plus its initial Steps,
// active and ready for execution.
func (e *Executor) CreateGoal(ctx context.Context, userID, title, objective string, profileHints map[string]string) (*models.Goal, error) {
	steps, err := e.planner.Plan(ctx, objective, profileHints)
	if err != nil {
		return nil, err
	}

	goal := &models.Goal{
		ID: uuid.NewString(), UserID: userID, Title: title, Description: objective,
		Status: models.GoalActive, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := e.store.CreateGoal(ctx, goal); err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "create goal", err)
	}
	if err := e.store.CreateSteps(ctx, toModelSteps(goal.ID, steps, 1)); err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "create goal steps", err)
	}
	return goal, nil
}

func toModelSteps(goalID string, steps []PlanStep, fromOrdinal int) []*models.Step {
	out := make([]*models.Step, len(steps))
	for i, s := range steps {
		out[i] = &models.Step{
			ID: uuid.NewString(), GoalID: goalID, Ordinal: fromOrdinal + i,
			Title: s.Title, Rationale: s.Rationale, AssignedAgent: s.AssignedAgent,
			Status: models.StepPending, CreatedAt: time.Now(),
		}
	}
	return out
}

// RunStep executes the Goal's lowest-ordinal pending Step once, acquiring
// the per-Goal exclusivity hold required by Invariant I2. Returns (nil, nil)
// if the Goal has no pending Step (already complete or paused).
func (e *Executor) RunStep(ctx context.Context, goalID string, publish func(models.Event)) (*models.Step, error) {
	if publish == nil {
		publish = func(models.Event) {}
	}
	release, ok := e.store.AcquireStepHold(ctx, goalID)
	if !ok {
		return nil, corerr.New(corerr.KindGoalPreconditionFail, "goal already has a step in progress")
	}
	defer release()

	goal, err := e.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInvalidInput, "goal not found", err)
	}

	steps, err := e.store.ListSteps(ctx, goalID)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "list steps", err)
	}
	var next *models.Step
	for _, s := range steps {
		if s.Status == models.StepPending {
			next = s
			break
		}
	}
	if next == nil {
		if allTerminal(steps) {
			_ = e.store.UpdateGoalStatus(ctx, goalID, models.GoalCompleted)
		}
		return nil, nil
	}

	next.Status = models.StepInProgress
	if err := e.store.UpdateStep(ctx, next); err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "mark step in_progress", err)
	}
	publish(models.NewEvent(goal.UserID, models.EventGoalStepStart, map[string]any{
		"goal_id": goalID, "step_id": next.ID, "title": next.Title,
	}))

	convID := e.conversationFor(goalID)
	turn, runErr := e.orch.RunTurn(ctx, orchestrator.Request{
		UserID: goal.UserID, ConversationID: convID, UserText: next.Title,
	}, nil)

	if runErr != nil || turn == nil {
		return e.failStep(ctx, goal, next, publish)
	}
	e.setConversation(goalID, turn.ConversationID)

	next.Status = models.StepCompleted
	next.CapturedOutput = turn.FinalText
	if len(turn.TraceIDs) > 0 {
		next.TraceID = turn.TraceIDs[0]
	}
	now := time.Now()
	next.CompletedAt = &now
	if err := e.store.UpdateStep(ctx, next); err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "mark step completed", err)
	}
	e.clearRetries(next.ID)
	publish(models.NewEvent(goal.UserID, models.EventGoalStepComplete, map[string]any{
		"goal_id": goalID, "step_id": next.ID, "output": next.CapturedOutput,
	}))
	return next, nil
}

func (e *Executor) failStep(ctx context.Context, goal *models.Goal, step *models.Step, publish func(models.Event)) (*models.Step, error) {
	attempts := e.bumpRetries(step.ID)
	if attempts <= e.retryBudget {
		step.Status = models.StepPending // retry on the next RunStep call
		_ = e.store.UpdateStep(ctx, step)
		return step, nil
	}
	step.Status = models.StepFailed
	_ = e.store.UpdateStep(ctx, step)
	_ = e.store.UpdateGoalStatus(ctx, goal.ID, models.GoalPaused)
	publish(models.NewEvent(goal.UserID, models.EventGoalStepComplete, map[string]any{
		"goal_id": goal.ID, "step_id": step.ID, "failed": true,
	}))
	return step, nil
}

// conversationFor returns the Goal's dedicated conversation id, or "" before
// its first Step has run — an empty id tells the Orchestrator to create one,
// which setConversation then remembers for every subsequent Step.
func (e *Executor) conversationFor(goalID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversations[goalID]
}

func (e *Executor) setConversation(goalID, conversationID string) {
	if conversationID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conversations[goalID] = conversationID
}

func (e *Executor) bumpRetries(stepID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries[stepID]++
	return e.retries[stepID]
}

func (e *Executor) clearRetries(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.retries, stepID)
}

func allTerminal(steps []*models.Step) bool {
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if !s.IsTerminal() {
			return false
		}
	}
	return true
}

// replanTriggerPhrases mark a completed step's output as contradicting the
// remaining plan, prompting the autonomous loop to re-invoke the Planner.
var replanTriggerPhrases = []string{"this changes the plan", "requires re-planning", "plan should change"}

func needsReplan(output string) bool {
	lower := strings.ToLower(output)
	for _, phrase := range replanTriggerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
