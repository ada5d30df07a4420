package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dantwoashim/flowdeck/internal/metrics"
	"github.com/dantwoashim/flowdeck/notify"
	"github.com/dantwoashim/flowdeck/store"
	"github.com/dantwoashim/flowdeck/types"
)

// Approver is the external approval-queue collaborator consulted for
// connector-mutation approvals. It is separate from workflow checkpoints:
// checkpoints are plan pause points, approvals gate individual mutations.
type Approver interface {
	IsApproved(ctx context.Context, userID string, wf *types.Workflow, step types.Step) bool
}

// Engine orchestrates plan traversal, policy enforcement, step execution,
// checkpointing, and commit. All collaborators are constructor-injected;
// there are no package-level default instances.
//
// State is partitioned per user and the engine assumes a single writer
// per user. Concurrent runs for the same user against the same workflow
// are not mutually excluded here and must be serialized by the caller.
type Engine struct {
	store       store.Store
	executor    StepExecutor
	planner     Planner
	approver    Approver
	checkpoints *CheckpointManager
	deadLetters *DeadLetterQueue

	activity      notify.ActivitySink
	notifications notify.NotificationSink
	knowledge     notify.KnowledgeSink
	collector     *metrics.Collector

	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithPlanner wires the prompt-to-workflow planner.
func WithPlanner(p Planner) EngineOption { return func(e *Engine) { e.planner = p } }

// WithApprover wires the mutation approval-queue collaborator.
func WithApprover(a Approver) EngineOption { return func(e *Engine) { e.approver = a } }

// WithDeadLetterQueue wires the dead-letter ledger used by listing
// accessors and the background runner.
func WithDeadLetterQueue(q *DeadLetterQueue) EngineOption {
	return func(e *Engine) { e.deadLetters = q }
}

// WithActivitySink wires the lifecycle event sink.
func WithActivitySink(s notify.ActivitySink) EngineOption {
	return func(e *Engine) { e.activity = s }
}

// WithNotificationSink wires the user notification sink.
func WithNotificationSink(s notify.NotificationSink) EngineOption {
	return func(e *Engine) { e.notifications = s }
}

// WithKnowledgeSink wires the best-effort knowledge ingestion sink.
func WithKnowledgeSink(s notify.KnowledgeSink) EngineOption {
	return func(e *Engine) { e.knowledge = s }
}

// WithCollector wires the Prometheus collector.
func WithCollector(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.collector = c }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

// NewEngine creates the engine. store and executor are required; every
// other collaborator defaults to a null implementation.
func NewEngine(st store.Store, executor StepExecutor, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:         st,
		executor:      executor,
		checkpoints:   NewCheckpointManager(logger),
		activity:      notify.NullActivitySink{},
		notifications: notify.NullNotificationSink{},
		knowledge:     notify.NullKnowledgeSink{},
		tracer:        otel.Tracer("flowdeck/workflow"),
		logger:        logger.With(zap.String("component", "engine")),
		now:           time.Now,
		newID:         func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.deadLetters == nil {
		e.deadLetters = NewDeadLetterQueue(st, 0, 0, logger)
	}
	return e
}

// DeadLetters exposes the queue for the background runner.
func (e *Engine) DeadLetters() *DeadLetterQueue { return e.deadLetters }

// CreateFromPrompt asks the planner for a workflow, fills in ids and a
// linear plan graph where missing, and saves it.
func (e *Engine) CreateFromPrompt(ctx context.Context, userID, prompt string) (*types.Workflow, error) {
	if e.planner == nil {
		return nil, types.NewError(types.ErrInternalError, "no planner configured")
	}
	wf, err := e.planner.Plan(ctx, userID, prompt)
	if err != nil {
		return nil, fmt.Errorf("plan workflow: %w", err)
	}
	if wf.ID == "" {
		wf.ID = e.newID()
	}
	wf.UserID = userID
	for i := range wf.Steps {
		if wf.Steps[i].ID == "" {
			wf.Steps[i].ID = fmt.Sprintf("step-%d", i+1)
		}
		if wf.Steps[i].Status == "" {
			wf.Steps[i].Status = types.StepStatusPending
		}
	}
	if wf.Graph == nil {
		wf.Graph = BuildLinearPlanGraph(wf.Steps)
	}
	if wf.Status == "" {
		wf.Status = types.WorkflowStatusReady
	}
	if wf.Trigger.Kind == "" {
		wf.Trigger.Kind = types.TriggerManual
	}
	return e.SaveWorkflow(ctx, wf)
}

// SaveWorkflow upserts a workflow and, when the save changes anything a
// snapshot tracks, records a change-history entry.
func (e *Engine) SaveWorkflow(ctx context.Context, wf *types.Workflow) (*types.Workflow, error) {
	state, err := e.store.Load(ctx, wf.UserID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	wf.UpdatedAt = now

	existing := state.WorkflowByID(wf.ID)
	if existing == nil {
		wf.CreatedAt = now
		state.Workflows = append(state.Workflows, *wf)
	} else {
		diff := DiffSnapshots(SnapshotWorkflow(existing, now), SnapshotWorkflow(wf, now))
		if !diff.Empty() {
			state.Changes = append(state.Changes, types.ChangeRecord{
				ID:         e.newID(),
				WorkflowID: wf.ID,
				UserID:     wf.UserID,
				Diff:       diff,
				CreatedAt:  now,
			})
		}
		wf.CreatedAt = existing.CreatedAt
		*existing = *wf
	}
	if err := e.store.Save(ctx, wf.UserID, state); err != nil {
		return nil, err
	}
	return wf, nil
}

// runOptions carries the resume-path knobs for the core run loop.
type runOptions struct {
	startStepID     string
	previousResults []types.StepResult
	usage           types.PolicyUsage
	rootContext     map[string]any
	onHeartbeat     func(results []types.StepResult)
	stepsOverride   []types.Step
}

// RunWorkflowByID runs a workflow synchronously on the caller's
// goroutine and commits the result. Paused workflows refuse to run.
func (e *Engine) RunWorkflowByID(ctx context.Context, userID, workflowID string, trigger types.TriggerKind) (*types.WorkflowExecution, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	wf := state.WorkflowByID(workflowID)
	if wf == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow %s not found", workflowID)
	}
	if wf.Status == types.WorkflowStatusPaused {
		return nil, types.NewErrorf(types.ErrInvalidTransition, "workflow %s is paused", workflowID)
	}
	exec, err := e.runSteps(ctx, wf, trigger, runOptions{})
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, state, wf, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// ExecuteForRunner runs a workflow without committing; the background
// runner commits separately so partial results survive supervision
// failures. onHeartbeat fires at every step boundary with a copy of the
// results produced so far, giving the supervisor something to commit
// when the worker never comes back.
func (e *Engine) ExecuteForRunner(ctx context.Context, userID, workflowID string, trigger types.TriggerKind, onHeartbeat func(results []types.StepResult)) (*types.WorkflowExecution, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	wf := state.WorkflowByID(workflowID)
	if wf == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow %s not found", workflowID)
	}
	if wf.Status == types.WorkflowStatusPaused {
		return nil, types.NewErrorf(types.ErrInvalidTransition, "workflow %s is paused", workflowID)
	}
	return e.runSteps(ctx, wf, trigger, runOptions{onHeartbeat: onHeartbeat})
}

// RunStepByID policy-checks and executes a single step, committing a
// one-result execution.
func (e *Engine) RunStepByID(ctx context.Context, userID, workflowID, stepID string) (*types.StepResult, error) {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	wf := state.WorkflowByID(workflowID)
	if wf == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow %s not found", workflowID)
	}
	step := wf.StepByID(stepID)
	if step == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "step %s not found in workflow %s", stepID, workflowID)
	}
	exec, err := e.runSteps(ctx, wf, types.TriggerManual, runOptions{
		startStepID:   stepID,
		stepsOverride: []types.Step{*step},
	})
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, state, wf, exec); err != nil {
		return nil, err
	}
	if len(exec.Results) == 0 {
		return nil, types.NewErrorf(types.ErrInternalError, "step %s produced no result", stepID)
	}
	return &exec.Results[0], nil
}

// runSteps is the core loop: validate the graph, derive the policy,
// traverse the plan, policy-check and execute each step, and assemble the
// immutable execution record. It does not persist anything.
func (e *Engine) runSteps(ctx context.Context, wf *types.Workflow, trigger types.TriggerKind, opts runOptions) (*types.WorkflowExecution, error) {
	// Graph integrity is a planning invariant; fail before any side
	// effects rather than partway through.
	if _, err := TopologicalSort(wf); err != nil {
		return nil, err
	}

	policy := EffectivePolicy(wf)
	usage := opts.usage

	execID := e.newID()
	now := e.now()
	exec := &types.WorkflowExecution{
		ID:              execID,
		WorkflowID:      wf.ID,
		UserID:          wf.UserID,
		Status:          types.ExecutionRunning,
		TriggerKind:     trigger,
		StartedAt:       now,
		HeartbeatAt:     now,
		MemoryNamespace: fmt.Sprintf("workflow/%s/run/%s", wf.ID, execID),
	}

	ctx, runSpan := e.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID),
			attribute.String("execution.id", execID),
			attribute.String("trigger", string(trigger)),
		))
	defer runSpan.End()

	e.logger.Info("run started",
		zap.String("workflow_id", wf.ID),
		zap.String("execution_id", execID),
		zap.String("trigger", string(trigger)),
	)
	if e.collector != nil {
		e.collector.RecordRunStarted(string(trigger))
	}
	e.emit(ctx, notify.EventWorkflowStarted, wf, execID, "")

	// The effective step list may be overridden on resume (edited first
	// remaining step) and single-step paths.
	planWF := wf
	if opts.stepsOverride != nil {
		clone := *wf
		clone.Steps = opts.stepsOverride
		clone.Graph = nil
		planWF = &clone
	}

	previous := append([]types.StepResult{}, opts.previousResults...)
	outputs := make(map[string]map[string]any, len(previous))
	for _, r := range previous {
		outputs[r.StepID] = r.Output.ContextValue()
	}
	root := opts.rootContext
	if root == nil {
		root = map[string]any{"trigger": string(trigger)}
	}

	heartbeat := func() {
		exec.HeartbeatAt = e.now()
		if opts.onHeartbeat != nil {
			opts.onHeartbeat(append([]types.StepResult(nil), exec.Results...))
		}
	}

	current := opts.startStepID
	if current == "" {
		current = EnsurePlanGraph(planWF).EntryStepID
	}

	for current != "" {
		step := planWF.StepByID(current)
		if step == nil {
			break
		}
		if ShouldSkipStep(*step, previous) {
			current = ResolveNextStepID(planWF, current, outputs, root)
			continue
		}

		decision := EvaluateStepPolicy(policy, usage, *step)
		if !decision.Allowed {
			if e.collector != nil {
				e.collector.RecordPolicyRejection(string(decision.Reason))
			}
			result := e.policyViolationResult(wf, *step, decision)
			exec.Results = append(exec.Results, result)
			e.logger.Warn("step rejected by policy",
				zap.String("workflow_id", wf.ID),
				zap.String("step_id", step.ID),
				zap.String("reason", string(decision.Reason)),
			)
			break
		}

		if decision.ActionType == types.ActionTypeMutation && policy.ApproveMutations && !e.mutationApproved(ctx, wf, *step) {
			result := e.newStepResult(wf, *step)
			result.Status = types.StepApprovalRequired
			result.Summary = fmt.Sprintf("mutation %q requires approval", step.Action)
			result.EndedAt = e.now()
			exec.Results = append(exec.Results, result)
			heartbeat()
			break
		}

		result := e.executeStep(ctx, wf, *step, previous)
		usage = decision.Projected
		exec.Results = append(exec.Results, result)
		previous = append(previous, result)
		outputs[step.ID] = result.Output.ContextValue()
		heartbeat()
		if e.collector != nil {
			e.collector.RecordStep(string(step.Kind), string(result.Status))
		}

		if result.Status != types.StepCompleted {
			break
		}
		current = ResolveNextStepID(planWF, current, outputs, root)
	}

	e.finalize(exec)
	runSpan.SetAttributes(attribute.String("execution.status", string(exec.Status)))
	return exec, nil
}

// executeStep invokes the external executor inside its own span, turning
// an executor error into a failed step result rather than a run error.
func (e *Engine) executeStep(ctx context.Context, wf *types.Workflow, step types.Step, previous []types.StepResult) types.StepResult {
	ctx, span := e.tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.kind", string(step.Kind)),
		))
	defer span.End()

	started := e.now()
	result, err := e.executor.Execute(ctx, wf.UserID, wf, step, previous)
	if err != nil {
		result = e.newStepResult(wf, step)
		result.Status = types.StepFailed
		result.Error = err.Error()
		result.Summary = fmt.Sprintf("step %q failed", step.Title)
	}
	if result.ID == "" {
		result.ID = e.newID()
	}
	result.WorkflowID = wf.ID
	result.StepID = step.ID
	if result.StartedAt.IsZero() {
		result.StartedAt = started
	}
	if result.EndedAt.IsZero() {
		result.EndedAt = e.now()
	}
	result.DurationMS = result.EndedAt.Sub(result.StartedAt).Milliseconds()
	return result
}

func (e *Engine) newStepResult(wf *types.Workflow, step types.Step) types.StepResult {
	now := e.now()
	return types.StepResult{
		ID:         e.newID(),
		WorkflowID: wf.ID,
		StepID:     step.ID,
		StartedAt:  now,
		EndedAt:    now,
		Output:     types.StepOutput{Kind: step.Kind},
	}
}

func (e *Engine) policyViolationResult(wf *types.Workflow, step types.Step, decision PolicyDecision) types.StepResult {
	result := e.newStepResult(wf, step)
	result.Status = types.StepFailed
	result.Error = fmt.Sprintf("%s: %s", decision.Reason, decision.Message)
	result.Summary = "blocked by policy"
	return result
}

func (e *Engine) mutationApproved(ctx context.Context, wf *types.Workflow, step types.Step) bool {
	if e.approver == nil {
		return false
	}
	return e.approver.IsApproved(ctx, wf.UserID, wf, step)
}

// finalize derives the overall status from the terminal step result and
// stamps the end time.
func (e *Engine) finalize(exec *types.WorkflowExecution) {
	exec.EndedAt = e.now()
	exec.DurationMS = exec.EndedAt.Sub(exec.StartedAt).Milliseconds()
	terminal := exec.TerminalResult()
	switch {
	case terminal == nil:
		exec.Status = types.ExecutionCompleted
	case terminal.Status == types.StepCompleted:
		exec.Status = types.ExecutionCompleted
	case terminal.Status == types.StepApprovalRequired:
		exec.Status = types.ExecutionApprovalRequired
	case terminal.Status == types.StepCheckpointRequired:
		exec.Status = types.ExecutionCheckpointRequired
	default:
		exec.Status = types.ExecutionFailed
	}
}

// CommitBackgroundExecution persists an execution produced by the
// background runner, running the full commit pipeline (artifact,
// notifications, trigger advance, checkpoint creation).
func (e *Engine) CommitBackgroundExecution(ctx context.Context, userID string, exec *types.WorkflowExecution) error {
	state, err := e.store.Load(ctx, userID)
	if err != nil {
		return err
	}
	wf := state.WorkflowByID(exec.WorkflowID)
	if wf == nil {
		// The workflow vanished mid-run; still record the execution.
		state.Executions = append(state.Executions, *exec)
		return e.store.Save(ctx, userID, state)
	}
	return e.commit(ctx, state, wf, exec)
}

// commit writes the immutable execution record plus its side products:
// step status stamping, schedule advance, produced artifacts, the inbox
// summary artifact, best-effort knowledge ingest, notifications, events,
// checkpoint creation, and metrics. A failed run still commits everything
// that completed.
func (e *Engine) commit(ctx context.Context, state *store.WorkflowState, wf *types.Workflow, exec *types.WorkflowExecution) error {
	now := e.now()

	for _, result := range exec.Results {
		if step := wf.StepByID(result.StepID); step != nil {
			switch result.Status {
			case types.StepCompleted:
				step.Status = types.StepStatusCompleted
			case types.StepFailed:
				step.Status = types.StepStatusFailed
			}
		}
	}
	wf.LastExecutionID = exec.ID
	wf.UpdatedAt = now
	if wf.Trigger.Kind == types.TriggerSchedule && wf.Trigger.IntervalMS > 0 {
		wf.Trigger.NextRunAt = now.Add(time.Duration(wf.Trigger.IntervalMS) * time.Millisecond)
	}

	// Materialize artifacts produced by artifact steps.
	var finalArtifact *types.WorkflowArtifact
	for _, result := range exec.Results {
		out := result.Output.Artifact
		if out == nil || result.Status != types.StepCompleted {
			continue
		}
		artifact := types.WorkflowArtifact{
			ID:          out.ArtifactID,
			WorkflowID:  wf.ID,
			ExecutionID: exec.ID,
			UserID:      wf.UserID,
			Title:       out.Title,
			Text:        out.Text,
			CreatedAt:   now,
		}
		if artifact.ID == "" {
			artifact.ID = e.newID()
		}
		state.Artifacts = append(state.Artifacts, artifact)
		last := artifact
		finalArtifact = &last
	}

	inbox := e.inboxArtifact(wf, exec, now)
	state.Artifacts = append(state.Artifacts, inbox)
	exec.InboxArtifactID = inbox.ID

	state.Executions = append(state.Executions, *exec)

	// Checkpoint pause points become durable review requests, exactly
	// once per (execution, step).
	if exec.Status == types.ExecutionCheckpointRequired {
		request, created, err := e.checkpoints.Create(wf, exec, state.Checkpoints)
		if err != nil {
			e.logger.Warn("checkpoint creation failed", zap.Error(err))
		} else if created {
			state.Checkpoints = append(state.Checkpoints, *request)
			if e.collector != nil {
				e.collector.RecordCheckpointCreated()
			}
			e.emit(ctx, notify.EventCheckpointRequired, wf, exec.ID, request.RiskSummary)
		}
	}

	notification := types.WorkflowNotification{
		ID:          e.newID(),
		UserID:      wf.UserID,
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		Kind:        string(exec.Status),
		Message:     fmt.Sprintf("workflow %q finished with status %s", wf.Name, exec.Status),
		CreatedAt:   now,
	}
	state.Notifications = append(state.Notifications, notification)

	if err := e.store.Save(ctx, wf.UserID, state); err != nil {
		return err
	}

	// Collaborator failures are isolated: log and move on.
	if err := e.notifications.Notify(ctx, notification); err != nil {
		e.logger.Warn("notification sink failed", zap.Error(err))
	}
	switch exec.Status {
	case types.ExecutionCompleted:
		e.emit(ctx, notify.EventWorkflowCompleted, wf, exec.ID, "")
	case types.ExecutionFailed:
		e.emit(ctx, notify.EventWorkflowFailed, wf, exec.ID, "")
	}
	if finalArtifact != nil {
		if err := e.knowledge.Ingest(ctx, wf.UserID, exec.MemoryNamespace, finalArtifact.Title, finalArtifact.Text); err != nil {
			e.logger.Warn("knowledge ingest failed", zap.Error(err))
		}
	}
	if e.collector != nil {
		e.collector.RecordRunFinished(string(exec.Status), time.Duration(exec.DurationMS)*time.Millisecond)
	}

	e.logger.Info("run committed",
		zap.String("workflow_id", wf.ID),
		zap.String("execution_id", exec.ID),
		zap.String("status", string(exec.Status)),
		zap.Int("steps", len(exec.Results)),
	)
	return nil
}

// inboxArtifact summarizes whatever completed, for failed runs included.
func (e *Engine) inboxArtifact(wf *types.Workflow, exec *types.WorkflowExecution, now time.Time) types.WorkflowArtifact {
	completed := 0
	text := fmt.Sprintf("Workflow %q run %s (%s)\n", wf.Name, exec.ID, exec.Status)
	for _, result := range exec.Results {
		if result.Status == types.StepCompleted {
			completed++
		}
		line := fmt.Sprintf("- [%s] %s", result.Status, result.StepID)
		if result.Summary != "" {
			line += ": " + result.Summary
		}
		if result.Error != "" {
			line += " (" + result.Error + ")"
		}
		text += line + "\n"
	}
	text += fmt.Sprintf("%d/%d steps completed in %dms\n", completed, len(exec.Results), exec.DurationMS)
	return types.WorkflowArtifact{
		ID:          e.newID(),
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		UserID:      wf.UserID,
		Title:       fmt.Sprintf("Run summary: %s", wf.Name),
		Text:        text,
		CreatedAt:   now,
	}
}

func (e *Engine) emit(ctx context.Context, kind notify.EventKind, wf *types.Workflow, executionID, message string) {
	event := notify.ActivityEvent{
		UserID:      wf.UserID,
		WorkflowID:  wf.ID,
		ExecutionID: executionID,
		Kind:        kind,
		Message:     message,
		At:          e.now(),
	}
	if err := e.activity.Emit(ctx, event); err != nil {
		e.logger.Warn("activity sink failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}
