package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/dantwoashim/flowdeck/notify"
	"github.com/dantwoashim/flowdeck/types"
)

// PauseWorkflow stops a ready workflow from running until resumed.
func (e *Engine) PauseWorkflow(ctx context.Context, userID, workflowID string) (*types.Workflow, error) {
	return e.transition(ctx, userID, workflowID, types.WorkflowStatusReady, types.WorkflowStatusPaused, notify.EventWorkflowPaused)
}

// ResumeWorkflow re-arms a paused workflow.
func (e *Engine) ResumeWorkflow(ctx context.Context, userID, workflowID string) (*types.Workflow, error) {
	return e.transition(ctx, userID, workflowID, types.WorkflowStatusPaused, types.WorkflowStatusReady, notify.EventWorkflowResumed)
}

// CancelWorkflow disarms a workflow entirely: triggers stop firing and
// the workflow drops back to draft.
func (e *Engine) CancelWorkflow(ctx context.Context, userID, workflowID string) (*types.Workflow, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	wf := state.WorkflowByID(workflowID)
	if wf == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow %s not found", workflowID)
	}
	wf.Status = types.WorkflowStatusDraft
	wf.UpdatedAt = e.now()
	if err := e.store.Save(ctx, userID, state); err != nil {
		return nil, err
	}
	e.emit(ctx, notify.EventWorkflowCancelled, wf, "", "")
	out := *wf
	return &out, nil
}

func (e *Engine) transition(ctx context.Context, userID, workflowID string, from, to types.WorkflowStatus, event notify.EventKind) (*types.Workflow, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	wf := state.WorkflowByID(workflowID)
	if wf == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow %s not found", workflowID)
	}
	if wf.Status != from {
		return nil, types.NewErrorf(types.ErrInvalidTransition,
			"workflow %s is %s, expected %s", workflowID, wf.Status, from)
	}
	wf.Status = to
	wf.UpdatedAt = e.now()
	if err := e.store.Save(ctx, userID, state); err != nil {
		return nil, err
	}
	e.emit(ctx, event, wf, "", "")
	out := *wf
	return &out, nil
}

// GetWorkflow returns one workflow by id.
func (e *Engine) GetWorkflow(ctx context.Context, userID, workflowID string) (*types.Workflow, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	wf := state.WorkflowByID(workflowID)
	if wf == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow %s not found", workflowID)
	}
	out := *wf
	return &out, nil
}

// ListWorkflows returns the user's workflows, newest-updated first.
func (e *Engine) ListWorkflows(ctx context.Context, userID string) ([]types.Workflow, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := append([]types.Workflow{}, state.Workflows...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ListExecutions returns executions newest-first, optionally filtered to
// one workflow.
func (e *Engine) ListExecutions(ctx context.Context, userID, workflowID string) ([]types.WorkflowExecution, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []types.WorkflowExecution
	for _, exec := range state.Executions {
		if workflowID == "" || exec.WorkflowID == workflowID {
			out = append(out, exec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// ListArtifacts returns artifacts newest-first.
func (e *Engine) ListArtifacts(ctx context.Context, userID string) ([]types.WorkflowArtifact, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := append([]types.WorkflowArtifact{}, state.Artifacts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListNotifications returns notifications newest-first.
func (e *Engine) ListNotifications(ctx context.Context, userID string) ([]types.WorkflowNotification, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := append([]types.WorkflowNotification{}, state.Notifications...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListCheckpoints returns checkpoint requests newest-first; onlyPending
// filters to requests still awaiting review.
func (e *Engine) ListCheckpoints(ctx context.Context, userID string, onlyPending bool) ([]types.CheckpointRequest, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []types.CheckpointRequest
	for _, cp := range state.Checkpoints {
		if !onlyPending || cp.Status == types.CheckpointPending {
			out = append(out, cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListChangeHistory returns change records newest-first.
func (e *Engine) ListChangeHistory(ctx context.Context, userID string) ([]types.ChangeRecord, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := append([]types.ChangeRecord{}, state.Changes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListDeadLetters returns the user's dead-letter entries newest-first.
func (e *Engine) ListDeadLetters(ctx context.Context, userID string) ([]types.DeadLetterEntry, error) {
	return e.deadLetters.List(ctx, userID)
}

// ListDeadLetterEscalations returns pending dead letters old enough to
// surface to operators.
func (e *Engine) ListDeadLetterEscalations(ctx context.Context, userID string) ([]types.DeadLetterEntry, error) {
	return e.deadLetters.Escalations(ctx, userID)
}

// DueScheduledWorkflows lists ready schedule-triggered workflows whose
// next run time has passed.
func (e *Engine) DueScheduledWorkflows(ctx context.Context, userID string, now time.Time) ([]types.Workflow, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	var due []types.Workflow
	for _, wf := range state.Workflows {
		if wf.Status != types.WorkflowStatusReady || wf.Trigger.Kind != types.TriggerSchedule {
			continue
		}
		if !wf.Trigger.NextRunAt.IsZero() && !wf.Trigger.NextRunAt.After(now) {
			due = append(due, wf)
		}
	}
	return due, nil
}
