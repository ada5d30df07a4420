package workflow

import (
	"context"

	"github.com/dantwoashim/flowdeck/types"
)

// StepExecutor is the external collaborator that actually performs a
// step (connector call, transform, artifact write, checkpoint probe).
//
// The engine passes a context carrying the run deadline; executors should
// honor cancellation but the supervisor does not rely on it. Executors
// must be idempotent-safe to re-invoke for steps already completed in
// previousResults — the engine skips those via ShouldSkipStep on resume
// paths, but does not de-duplicate beyond that.
type StepExecutor interface {
	Execute(ctx context.Context, userID string, wf *types.Workflow, step types.Step, previousResults []types.StepResult) (types.StepResult, error)
}

// Planner turns a natural-language prompt into a Workflow. Planning
// heuristics are a black box to the engine.
type Planner interface {
	Plan(ctx context.Context, userID, prompt string) (*types.Workflow, error)
}

// ShouldSkipStep reports whether a step already has a completed result in
// previousResults and may be skipped for idempotency when resuming.
func ShouldSkipStep(step types.Step, previousResults []types.StepResult) bool {
	for _, r := range previousResults {
		if r.StepID == step.ID && r.Status == types.StepCompleted {
			return true
		}
	}
	return false
}
