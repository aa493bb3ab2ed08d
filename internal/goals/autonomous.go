package goals

import (
	"context"
	"fmt"

	"github.com/careerforge/orchestrator/internal/tasks"
	"github.com/careerforge/orchestrator/pkg/models"
)

// AutonomousTaskType is the tasks.Definition.Type an orchestratord
// entrypoint registers AutonomousHandler under — on-demand only (no
// Schedule), triggered per Goal via tasks.Scheduler.Enqueue.
const AutonomousTaskType = "goal_autonomous_run"

// AutonomousHandler drives a Goal's Steps end to end, reusing the
// Background Task Runner's run-to-completion, cancel-token, and retry
// machinery instead of the Executor duplicating a second scheduler.
type AutonomousHandler struct {
	executor *Executor
	planner  *Planner
	publish  func(userID string, event models.Event)
}

// NewAutonomousHandler builds a handler bound to one Executor/Planner pair.
// publish delivers goal_step_start/goal_step_complete/goal_replan events;
// it may be nil.
func NewAutonomousHandler(executor *Executor, planner *Planner, publish func(userID string, event models.Event)) *AutonomousHandler {
	if publish == nil {
		publish = func(string, models.Event) {}
	}
	return &AutonomousHandler{executor: executor, planner: planner, publish: publish}
}

// Run implements tasks.TaskHandler. run.Config["goal_id"] names the Goal to
// drive; run.UserID must own it.
func (h *AutonomousHandler) Run(ctx context.Context, run *models.TaskRun) (tasks.Result, error) {
	goalID, _ := run.Config["goal_id"].(string)
	if goalID == "" {
		return tasks.Result{}, fmt.Errorf("goals: autonomous run missing goal_id")
	}

	completed := 0
	for {
		if ctx.Err() != nil {
			_ = h.executor.store.UpdateGoalStatus(ctx, goalID, models.GoalPaused)
			return tasks.Result{Summary: fmt.Sprintf("paused after %d steps: cancelled", completed)}, nil
		}

		step, err := h.executor.RunStep(ctx, goalID, func(e models.Event) { h.publish(run.UserID, e) })
		if err != nil {
			return tasks.Result{}, err
		}
		if step == nil {
			return tasks.Result{Summary: fmt.Sprintf("goal complete after %d steps", completed)}, nil
		}
		if step.Status == models.StepFailed {
			return tasks.Result{Summary: fmt.Sprintf("paused after %d steps: step %s exhausted its retry budget", completed, step.ID)}, nil
		}
		completed++

		if step.Status == models.StepCompleted && needsReplan(step.CapturedOutput) {
			if err := h.replan(ctx, goalID, step, run.UserID); err != nil && h.executor.logger != nil {
				h.executor.logger.Warn(ctx, "goal re-plan failed, continuing with existing tail", "goal_id", goalID, "error", err)
			}
		}
	}
}

func (h *AutonomousHandler) replan(ctx context.Context, goalID string, afterStep *models.Step, userID string) error {
	goal, err := h.executor.store.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	steps, err := h.planner.Plan(ctx, goal.Description+"\n\nPrior finding: "+afterStep.CapturedOutput, nil)
	if err != nil {
		return err
	}
	newSteps := toModelSteps(goalID, steps, afterStep.Ordinal+1)
	if err := h.executor.store.ReplaceTailSteps(ctx, goalID, afterStep.Ordinal, newSteps); err != nil {
		return err
	}
	h.publish(userID, models.NewEvent(userID, models.EventGoalReplan, map[string]any{
		"goal_id": goalID, "adjustment": "tail replaced", "reason": "step output contradicted remaining plan",
	}))
	return nil
}
