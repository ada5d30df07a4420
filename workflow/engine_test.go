package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dantwoashim/flowdeck/store"
	"github.com/dantwoashim/flowdeck/types"
)

// scriptedExecutor returns canned results per step id; unscripted steps
// complete with a kind-matching empty output.
type scriptedExecutor struct {
	results map[string]types.StepResult
	errs    map[string]error
	delay   time.Duration
	calls   []string
}

func (s *scriptedExecutor) Execute(ctx context.Context, userID string, wf *types.Workflow, step types.Step, previous []types.StepResult) (types.StepResult, error) {
	s.calls = append(s.calls, step.ID)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return types.StepResult{}, ctx.Err()
		}
	}
	if err, ok := s.errs[step.ID]; ok {
		return types.StepResult{}, err
	}
	if result, ok := s.results[step.ID]; ok {
		return result, nil
	}
	result := types.StepResult{Status: types.StepCompleted, Output: types.StepOutput{Kind: step.Kind}}
	if step.Kind == types.StepKindCheckpoint {
		result.Status = types.StepCheckpointRequired
		result.Output.Checkpoint = &types.CheckpointOutput{}
	}
	return result, nil
}

type stubPlanner struct{ wf *types.Workflow }

func (p stubPlanner) Plan(ctx context.Context, userID, prompt string) (*types.Workflow, error) {
	if p.wf == nil {
		return nil, errors.New("planner unavailable")
	}
	wf := *p.wf
	return &wf, nil
}

type approveAll struct{}

func (approveAll) IsApproved(ctx context.Context, userID string, wf *types.Workflow, step types.Step) bool {
	return true
}

func newTestEngine(t *testing.T, executor StepExecutor, opts ...EngineOption) (*Engine, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewEngine(st, executor, nil, opts...), st
}

func saveFixture(t *testing.T, e *Engine, wf *types.Workflow) {
	t.Helper()
	_, err := e.SaveWorkflow(context.Background(), wf)
	require.NoError(t, err)
}

func linearFixture() *types.Workflow {
	steps := []types.Step{
		{ID: "s1", Title: "Fetch", Kind: types.StepKindConnector, Action: "connector.email.fetch_inbox"},
		{ID: "s2", Title: "Filter", Kind: types.StepKindTransform, Action: "transform.apply"},
		{ID: "s3", Title: "Summary", Kind: types.StepKindArtifact, Action: "artifact.write"},
	}
	return &types.Workflow{
		ID:     "wf-1",
		UserID: "u-1",
		Name:   "inbox digest",
		Status: types.WorkflowStatusReady,
		Steps:  steps,
		Graph:  BuildLinearPlanGraph(steps),
	}
}

func TestRunWorkflowByID(t *testing.T) {
	ctx := context.Background()

	t.Run("linear run completes and commits", func(t *testing.T) {
		exec0 := &scriptedExecutor{results: map[string]types.StepResult{
			"s3": {Status: types.StepCompleted, Output: types.StepOutput{
				Kind:     types.StepKindArtifact,
				Artifact: &types.ArtifactOutput{Title: "Digest", Text: "3 unread"},
			}},
		}}
		e, st := newTestEngine(t, exec0)
		saveFixture(t, e, linearFixture())

		exec, err := e.RunWorkflowByID(ctx, "u-1", "wf-1", types.TriggerManual)
		require.NoError(t, err)
		assert.Equal(t, types.ExecutionCompleted, exec.Status)
		require.Len(t, exec.Results, 3)
		assert.Equal(t, []string{"s1", "s2", "s3"}, exec0.calls)
		assert.NotEmpty(t, exec.MemoryNamespace)

		state, err := st.Load(ctx, "u-1")
		require.NoError(t, err)
		require.Len(t, state.Executions, 1)
		wf := state.WorkflowByID("wf-1")
		assert.Equal(t, exec.ID, wf.LastExecutionID)
		assert.Equal(t, types.StepStatusCompleted, wf.Steps[0].Status)
		// The step artifact plus the run summary artifact.
		require.Len(t, state.Artifacts, 2)
		assert.Equal(t, "Digest", state.Artifacts[0].Title)
		assert.Equal(t, exec.InboxArtifactID, state.Artifacts[1].ID)
		require.Len(t, state.Notifications, 1)
	})

	t.Run("failed step halts the run and still commits", func(t *testing.T) {
		exec0 := &scriptedExecutor{errs: map[string]error{"s2": errors.New("boom")}}
		e, st := newTestEngine(t, exec0)
		saveFixture(t, e, linearFixture())

		exec, err := e.RunWorkflowByID(ctx, "u-1", "wf-1", types.TriggerManual)
		require.NoError(t, err)
		assert.Equal(t, types.ExecutionFailed, exec.Status)
		require.Len(t, exec.Results, 2)
		assert.Equal(t, types.StepFailed, exec.Results[1].Status)
		assert.Contains(t, exec.Results[1].Error, "boom")
		assert.NotContains(t, exec0.calls, "s3")

		state, _ := st.Load(ctx, "u-1")
		assert.Len(t, state.Executions, 1)
		assert.Equal(t, types.StepStatusFailed, state.WorkflowByID("wf-1").Steps[1].Status)
	})

	t.Run("paused workflow refuses to run", func(t *testing.T) {
		e, _ := newTestEngine(t, &scriptedExecutor{})
		wf := linearFixture()
		wf.Status = types.WorkflowStatusPaused
		saveFixture(t, e, wf)

		_, err := e.RunWorkflowByID(ctx, "u-1", "wf-1", types.TriggerManual)
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidTransition, types.CodeOf(err))
	})

	t.Run("cyclic graph fails before side effects", func(t *testing.T) {
		exec0 := &scriptedExecutor{}
		e, st := newTestEngine(t, exec0)
		wf := linearFixture()
		wf.Graph.Branches = append(wf.Graph.Branches, types.ConditionalBranch{
			ID: "back", FromStepID: "s3", ToStepID: "s1", Condition: types.BranchCondition{Path: types.AlwaysPath},
		})
		saveFixture(t, e, wf)

		_, err := e.RunWorkflowByID(ctx, "u-1", "wf-1", types.TriggerManual)
		require.Error(t, err)
		assert.Equal(t, types.ErrGraphCycle, types.CodeOf(err))
		assert.Empty(t, exec0.calls)
		state, _ := st.Load(ctx, "u-1")
		assert.Empty(t, state.Executions)
	})

	t.Run("policy rejection records a failed result", func(t *testing.T) {
		e, _ := newTestEngine(t, &scriptedExecutor{})
		wf := linearFixture()
		wf.Policy = &types.Policy{AllowedConnectorIDs: []string{"notion"}}
		saveFixture(t, e, wf)

		exec, err := e.RunWorkflowByID(ctx, "u-1", "wf-1", types.TriggerManual)
		require.NoError(t, err)
		assert.Equal(t, types.ExecutionFailed, exec.Status)
		require.Len(t, exec.Results, 1)
		assert.Contains(t, exec.Results[0].Error, string(ReasonConnectorNotAllowed))
	})

	t.Run("edited zero ceiling blocks the first matching step", func(t *testing.T) {
		exec0 := &scriptedExecutor{}
		e, _ := newTestEngine(t, exec0)
		wf := linearFixture()
		wf.Policy = &types.Policy{Budget: types.PolicyBudget{MaxConnectorCalls: types.IntRef(0)}}
		saveFixture(t, e, wf)

		exec, err := e.RunWorkflowByID(ctx, "u-1", "wf-1", types.TriggerManual)
		require.NoError(t, err)
		assert.Equal(t, types.ExecutionFailed, exec.Status)
		require.Len(t, exec.Results, 1)
		assert.Contains(t, exec.Results[0].Error, string(ReasonBudgetExceeded))
		assert.Empty(t, exec0.calls)
	})

	t.Run("mutation without approver pauses for approval", func(t *testing.T) {
		e, _ := newTestEngine(t, &scriptedExecutor{})
		wf := linearFixture()
		wf.Steps[0].Action = "connector.email.send_message"
		saveFixture(t, e, wf)

		exec, err := e.RunWorkflowByID(ctx, "u-1", "wf-1", types.TriggerManual)
		require.NoError(t, err)
		assert.Equal(t, types.ExecutionApprovalRequired, exec.Status)
		require.Len(t, exec.Results, 1)
		assert.Equal(t, types.StepApprovalRequired, exec.Results[0].Status)
	})

	t.Run("approver unblocks mutations", func(t *testing.T) {
		exec0 := &scriptedExecutor{}
		e, _ := newTestEngine(t, exec0, WithApprover(approveAll{}))
		wf := linearFixture()
		wf.Steps[0].Action = "connector.email.send_message"
		saveFixture(t, e, wf)

		exec, err := e.RunWorkflowByID(ctx, "u-1", "wf-1", types.TriggerManual)
		require.NoError(t, err)
		assert.Equal(t, types.ExecutionCompleted, exec.Status)
		assert.Len(t, exec.Results, 3)
	})

	t.Run("branch routing follows the first matching edge", func(t *testing.T) {
		steps := []types.Step{
			{ID: "fetch", Title: "Fetch", Kind: types.StepKindConnector, Action: "connector.email.fetch_inbox"},
			{ID: "escalate", Title: "Escalate", Kind: types.StepKindTransform, Action: "transform.apply"},
			{ID: "archive", Title: "Archive", Kind: types.StepKindTransform, Action: "transform.apply"},
		}
		wf := &types.Workflow{
			ID: "wf-branch", UserID: "u-1", Name: "triage", Status: types.WorkflowStatusReady,
			Steps: steps,
			Graph: &types.PlanGraph{
				EntryStepID: "fetch",
				Branches: []types.ConditionalBranch{
					{ID: "b1", FromStepID: "fetch", ToStepID: "escalate", Priority: 0, Condition: types.BranchCondition{
						Path: "current.data.urgent", Operator: types.OpNumberCompare, Comparator: "gt", Operand: 0,
					}},
					{ID: "b2", FromStepID: "fetch", ToStepID: "archive", Priority: 1, Condition: types.BranchCondition{Path: types.AlwaysPath}},
				},
			},
		}
		exec0 := &scriptedExecutor{results: map[string]types.StepResult{
			"fetch": {Status: types.StepCompleted, Output: types.StepOutput{
				Kind:      types.StepKindConnector,
				Connector: &types.ConnectorOutput{ConnectorID: "email", Data: map[string]any{"urgent": 2.0}},
			}},
		}}
		e, _ := newTestEngine(t, exec0)
		saveFixture(t, e, wf)

		exec, err := e.RunWorkflowByID(ctx, "u-1", "wf-branch", types.TriggerManual)
		require.NoError(t, err)
		assert.Equal(t, []string{"fetch", "escalate"}, exec0.calls)
		assert.Equal(t, types.ExecutionCompleted, exec.Status)
	})

	t.Run("schedule trigger advances after the run", func(t *testing.T) {
		e, st := newTestEngine(t, &scriptedExecutor{})
		wf := linearFixture()
		wf.Trigger = types.Trigger{Kind: types.TriggerSchedule, IntervalMS: 60_000}
		saveFixture(t, e, wf)

		before := time.Now()
		_, err := e.RunWorkflowByID(ctx, "u-1", "wf-1", types.TriggerSchedule)
		require.NoError(t, err)
		state, _ := st.Load(ctx, "u-1")
		next := state.WorkflowByID("wf-1").Trigger.NextRunAt
		assert.True(t, next.After(before.Add(59*time.Second)))
	})

	t.Run("checkpoint step creates a durable request", func(t *testing.T) {
		steps := []types.Step{
			{ID: "s1", Title: "Fetch", Kind: types.StepKindConnector, Action: "connector.email.fetch_inbox"},
			{ID: "cp", Title: "Review", Kind: types.StepKindCheckpoint, Action: "checkpoint.review"},
			{ID: "s2", Title: "Send", Kind: types.StepKindConnector, Action: "connector.email.send_message"},
		}
		wf := &types.Workflow{
			ID: "wf-cp", UserID: "u-1", Name: "review flow", Status: types.WorkflowStatusReady,
			Steps: steps, Graph: BuildLinearPlanGraph(steps),
		}
		e, st := newTestEngine(t, &scriptedExecutor{})
		saveFixture(t, e, wf)

		exec, err := e.RunWorkflowByID(ctx, "u-1", "wf-cp", types.TriggerManual)
		require.NoError(t, err)
		assert.Equal(t, types.ExecutionCheckpointRequired, exec.Status)

		state, _ := st.Load(ctx, "u-1")
		require.Len(t, state.Checkpoints, 1)
		cp := state.Checkpoints[0]
		assert.Equal(t, exec.ID, cp.ExecutionID)
		assert.Equal(t, "cp", cp.StepID)
		assert.Equal(t, []string{"s2"}, cp.RemainingStepIDs)
	})
}

func TestRunStepByID(t *testing.T) {
	ctx := context.Background()
	exec0 := &scriptedExecutor{}
	e, st := newTestEngine(t, exec0)
	saveFixture(t, e, linearFixture())

	result, err := e.RunStepByID(ctx, "u-1", "wf-1", "s2")
	require.NoError(t, err)
	assert.Equal(t, types.StepCompleted, result.Status)
	assert.Equal(t, []string{"s2"}, exec0.calls)

	state, _ := st.Load(ctx, "u-1")
	require.Len(t, state.Executions, 1)
	assert.Len(t, state.Executions[0].Results, 1)

	_, err = e.RunStepByID(ctx, "u-1", "wf-1", "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestCreateFromPrompt(t *testing.T) {
	ctx := context.Background()

	t.Run("fills ids, graph, and status", func(t *testing.T) {
		planned := &types.Workflow{
			Name: "digest",
			Steps: []types.Step{
				{Title: "Fetch", Kind: types.StepKindConnector, Action: "connector.email.fetch_inbox"},
				{Title: "Summarize", Kind: types.StepKindArtifact, Action: "artifact.write"},
			},
		}
		e, _ := newTestEngine(t, &scriptedExecutor{}, WithPlanner(stubPlanner{wf: planned}))

		wf, err := e.CreateFromPrompt(ctx, "u-1", "summarize my inbox")
		require.NoError(t, err)
		assert.NotEmpty(t, wf.ID)
		assert.Equal(t, "u-1", wf.UserID)
		assert.Equal(t, types.WorkflowStatusReady, wf.Status)
		assert.Equal(t, types.TriggerManual, wf.Trigger.Kind)
		require.NotNil(t, wf.Graph)
		assert.Equal(t, wf.Steps[0].ID, wf.Graph.EntryStepID)
		for _, s := range wf.Steps {
			assert.NotEmpty(t, s.ID)
			assert.Equal(t, types.StepStatusPending, s.Status)
		}
	})

	t.Run("no planner configured", func(t *testing.T) {
		e, _ := newTestEngine(t, &scriptedExecutor{})
		_, err := e.CreateFromPrompt(ctx, "u-1", "anything")
		require.Error(t, err)
	})
}

func TestSaveWorkflowChangeHistory(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, &scriptedExecutor{})
	saveFixture(t, e, linearFixture())

	t.Run("no-op save records nothing", func(t *testing.T) {
		saveFixture(t, e, linearFixture())
		state, _ := st.Load(ctx, "u-1")
		assert.Empty(t, state.Changes)
	})

	t.Run("material edit records a diff", func(t *testing.T) {
		edited := linearFixture()
		edited.Steps[0].Title = "Fetch unread"
		saveFixture(t, e, edited)
		state, _ := st.Load(ctx, "u-1")
		require.Len(t, state.Changes, 1)
		assert.Equal(t, []string{"s1"}, state.Changes[0].Diff.Steps.Changed)
	})
}

func TestWorkflowTransitions(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, &scriptedExecutor{})
	saveFixture(t, e, linearFixture())

	wf, err := e.PauseWorkflow(ctx, "u-1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusPaused, wf.Status)

	// Pausing twice is an invalid transition.
	_, err = e.PauseWorkflow(ctx, "u-1", "wf-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.CodeOf(err))

	wf, err = e.ResumeWorkflow(ctx, "u-1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusReady, wf.Status)

	wf, err = e.CancelWorkflow(ctx, "u-1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusDraft, wf.Status)
}

func TestDueScheduledWorkflows(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, &scriptedExecutor{})

	now := time.Now()
	due := linearFixture()
	due.ID = "wf-due"
	due.Trigger = types.Trigger{Kind: types.TriggerSchedule, IntervalMS: 1000, NextRunAt: now.Add(-time.Minute)}
	saveFixture(t, e, due)

	future := linearFixture()
	future.ID = "wf-future"
	future.Trigger = types.Trigger{Kind: types.TriggerSchedule, IntervalMS: 1000, NextRunAt: now.Add(time.Hour)}
	saveFixture(t, e, future)

	manual := linearFixture()
	manual.ID = "wf-manual"
	saveFixture(t, e, manual)

	got, err := e.DueScheduledWorkflows(ctx, "u-1", now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "wf-due", got[0].ID)
}
