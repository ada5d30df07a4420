package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dantwoashim/flowdeck/types"
)

// CheckpointManager creates and resolves human-review requests. It is a
// pure state-machine component: the engine owns persistence and passes
// the relevant records in.
//
// Request lifecycle: pending -> approved | rejected | edited; approved
// and edited requests additionally reach resumed once the follow-up
// execution is recorded.
type CheckpointManager struct {
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewCheckpointManager creates a checkpoint manager.
func NewCheckpointManager(logger *zap.Logger) *CheckpointManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointManager{
		logger: logger.With(zap.String("component", "checkpoint_manager")),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// RemainingStepIDs computes the resumable remaining-step list for a
// paused run: every step in plan order after (and excluding) the
// checkpoint step that does not already have a completed result. Falls
// back to list order when the graph cannot be sorted.
func (m *CheckpointManager) RemainingStepIDs(wf *types.Workflow, checkpointStepID string, completed []types.StepResult) []string {
	order, err := TopologicalSort(wf)
	if err != nil {
		order = wf.Steps
	}
	done := make(map[string]bool, len(completed))
	for _, r := range completed {
		if r.Status == types.StepCompleted {
			done[r.StepID] = true
		}
	}
	var remaining []string
	past := false
	for _, step := range order {
		if step.ID == checkpointStepID {
			past = true
			continue
		}
		if past && !done[step.ID] {
			remaining = append(remaining, step.ID)
		}
	}
	return remaining
}

// Create builds the durable review request for a run whose terminal step
// result is checkpoint_required. Creation is idempotent per (execution
// id, checkpoint step id): an existing request for the same pause point
// is returned with created=false.
func (m *CheckpointManager) Create(wf *types.Workflow, exec *types.WorkflowExecution, existing []types.CheckpointRequest) (*types.CheckpointRequest, bool, error) {
	terminal := exec.TerminalResult()
	if terminal == nil || terminal.Status != types.StepCheckpointRequired {
		return nil, false, types.NewError(types.ErrInvalidTransition,
			"checkpoint requests are created only for checkpoint_required runs")
	}
	for i := range existing {
		if existing[i].ExecutionID == exec.ID && existing[i].StepID == terminal.StepID {
			return &existing[i], false, nil
		}
	}

	remaining := m.RemainingStepIDs(wf, terminal.StepID, exec.Results)
	request := &types.CheckpointRequest{
		ID:               m.newID(),
		WorkflowID:       wf.ID,
		ExecutionID:      exec.ID,
		StepID:           terminal.StepID,
		UserID:           exec.UserID,
		Status:           types.CheckpointPending,
		CompletedResults: append([]types.StepResult{}, exec.Results...),
		RemainingStepIDs: remaining,
		CreatedAt:        m.now(),
	}

	output := terminal.Output.Checkpoint
	if output != nil && output.RiskLevel != "" {
		request.RiskLevel = output.RiskLevel
		request.RiskSummary = output.RiskSummary
	} else {
		request.RiskLevel, request.RiskSummary = m.inferRisk(wf, exec.Results, remaining)
	}
	if output != nil && output.Proposed != nil {
		request.Proposed = *output.Proposed
	} else {
		request.Proposed = m.defaultProposedAction(wf, remaining)
	}

	m.logger.Info("checkpoint request created",
		zap.String("request_id", request.ID),
		zap.String("workflow_id", wf.ID),
		zap.String("execution_id", exec.ID),
		zap.String("risk_level", string(request.RiskLevel)),
		zap.Int("remaining_steps", len(remaining)),
	)
	return request, true, nil
}

// inferRisk grades the pause point from prior failures and the size of
// the remaining plan.
func (m *CheckpointManager) inferRisk(wf *types.Workflow, results []types.StepResult, remaining []string) (types.RiskLevel, string) {
	failures := 0
	for _, r := range results {
		if r.Status == types.StepFailed {
			failures++
		}
	}
	mutations := 0
	for _, id := range remaining {
		if step := wf.StepByID(id); step != nil && InferActionType(*step) == types.ActionTypeMutation {
			mutations++
		}
	}
	switch {
	case failures > 0 || len(remaining) > 5:
		return types.RiskHigh, fmt.Sprintf("%d prior failure(s), %d step(s) remaining", failures, len(remaining))
	case mutations > 0 || len(remaining) > 2:
		return types.RiskMedium, fmt.Sprintf("%d mutation(s) among %d remaining step(s)", mutations, len(remaining))
	default:
		return types.RiskLow, fmt.Sprintf("%d step(s) remaining", len(remaining))
	}
}

// defaultProposedAction describes the next step in plan order, or the
// complete-workflow sentinel when nothing remains.
func (m *CheckpointManager) defaultProposedAction(wf *types.Workflow, remaining []string) types.ProposedAction {
	if len(remaining) == 0 {
		return types.ProposedAction{
			Title:    "Complete workflow",
			ActionID: types.CompleteWorkflowAction,
		}
	}
	step := wf.StepByID(remaining[0])
	if step == nil {
		return types.ProposedAction{Title: "Complete workflow", ActionID: types.CompleteWorkflowAction}
	}
	return types.ProposedAction{
		Title:         step.Title,
		Description:   step.Description,
		ActionID:      step.Action,
		InputTemplate: step.InputTemplate,
	}
}

// Resolve records the reviewer's decision on a pending request. Reject is
// terminal. Approve leaves the remaining steps unmodified. Edit stores
// the edited proposed action to be applied to the first remaining step on
// resume. A request is resolved exactly once.
func (m *CheckpointManager) Resolve(request *types.CheckpointRequest, decision types.CheckpointDecision, reviewer, note string, edited *types.ProposedAction) error {
	if request.Status != types.CheckpointPending {
		return types.NewErrorf(types.ErrInvalidTransition,
			"checkpoint %s is %s, only pending requests can be resolved", request.ID, request.Status)
	}
	switch decision {
	case types.DecisionApprove:
		request.Status = types.CheckpointApproved
	case types.DecisionReject:
		request.Status = types.CheckpointRejected
	case types.DecisionEdit:
		if edited == nil {
			return types.NewError(types.ErrInvalidTransition, "edit decision requires an edited action")
		}
		request.Status = types.CheckpointEdited
		request.EditedAction = edited
	default:
		return types.NewErrorf(types.ErrInvalidTransition, "unknown checkpoint decision %q", decision)
	}
	request.Decision = decision
	request.DecidedBy = reviewer
	request.DecisionNote = note
	request.DecidedAt = m.now()

	m.logger.Info("checkpoint resolved",
		zap.String("request_id", request.ID),
		zap.String("decision", string(decision)),
		zap.String("reviewer", reviewer),
	)
	return nil
}

// MarkResumed transitions an approved or edited request to resumed,
// linking the follow-up execution.
func (m *CheckpointManager) MarkResumed(request *types.CheckpointRequest, resumedExecutionID string) error {
	if request.Status != types.CheckpointApproved && request.Status != types.CheckpointEdited {
		return types.NewErrorf(types.ErrInvalidTransition,
			"checkpoint %s is %s, only approved or edited requests can resume", request.ID, request.Status)
	}
	request.Status = types.CheckpointResumed
	request.ResumedExecutionID = resumedExecutionID
	return nil
}

// ApplyEdit rewrites only the first remaining step with the reviewer's
// edited action; blank fields keep the original values. Steps after the
// first are returned unmodified.
func ApplyEdit(steps []types.Step, edited types.ProposedAction) []types.Step {
	if len(steps) == 0 {
		return steps
	}
	out := append([]types.Step{}, steps...)
	first := &out[0]
	if edited.Title != "" {
		first.Title = edited.Title
	}
	if edited.Description != "" {
		first.Description = edited.Description
	}
	if edited.ActionID != "" {
		first.Action = edited.ActionID
	}
	if edited.InputTemplate != "" {
		first.InputTemplate = edited.InputTemplate
	}
	return out
}
