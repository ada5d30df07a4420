package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/dantwoashim/flowdeck/notify"
	"github.com/dantwoashim/flowdeck/types"
)

// ResolveCheckpoint applies the reviewer's decision to a pending request.
// Reject is terminal and returns a nil execution. Approve and edit resume
// the paused plan: the remaining steps run as a fresh execution (with the
// edit applied to the first remaining step only), budgets already spent
// before the pause are replayed into the usage counters, and the request
// transitions to resumed with the new execution linked.
func (e *Engine) ResolveCheckpoint(ctx context.Context, userID, checkpointID string, decision types.CheckpointDecision, reviewer, note string, edited *types.ProposedAction) (*types.CheckpointRequest, *types.WorkflowExecution, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	request := state.CheckpointByID(checkpointID)
	if request == nil {
		return nil, nil, types.NewErrorf(types.ErrNotFound, "checkpoint %s not found", checkpointID)
	}
	if err := e.checkpoints.Resolve(request, decision, reviewer, note, edited); err != nil {
		return nil, nil, err
	}
	if e.collector != nil {
		e.collector.RecordCheckpointResolved(string(decision))
	}

	if decision == types.DecisionReject {
		if err := e.store.Save(ctx, userID, state); err != nil {
			return nil, nil, err
		}
		e.logger.Info("checkpoint rejected, run stays terminated",
			zap.String("checkpoint_id", checkpointID),
			zap.String("workflow_id", request.WorkflowID),
		)
		copyReq := *request
		return &copyReq, nil, nil
	}

	wf := state.WorkflowByID(request.WorkflowID)
	if wf == nil {
		return nil, nil, types.NewErrorf(types.ErrNotFound, "workflow %s not found", request.WorkflowID)
	}

	remaining := make([]types.Step, 0, len(request.RemainingStepIDs))
	for _, id := range request.RemainingStepIDs {
		if step := wf.StepByID(id); step != nil {
			remaining = append(remaining, *step)
		}
	}
	if request.EditedAction != nil {
		remaining = ApplyEdit(remaining, *request.EditedAction)
	}

	// Budgets consumed before the pause still count.
	usage := ReplayUsage(EffectivePolicy(wf), wf, request.CompletedResults)

	startStepID := ""
	if len(remaining) > 0 {
		startStepID = remaining[0].ID
	}
	exec, err := e.runSteps(ctx, wf, types.TriggerManual, runOptions{
		startStepID:     startStepID,
		stepsOverride:   remaining,
		previousResults: request.CompletedResults,
		usage:           usage,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := e.checkpoints.MarkResumed(request, exec.ID); err != nil {
		return nil, nil, err
	}
	if err := e.commit(ctx, state, wf, exec); err != nil {
		return nil, nil, err
	}
	e.emit(ctx, notify.EventCheckpointResumed, wf, exec.ID, "")

	copyReq := *request
	return &copyReq, exec, nil
}
