package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dantwoashim/flowdeck/internal/pool"
	"github.com/dantwoashim/flowdeck/types"
)

// DefaultHeartbeatWindow is the longest a background run may go without
// a step-boundary heartbeat before it is declared stalled. Runs with a
// shorter overall timeout use the timeout itself as the window.
const DefaultHeartbeatWindow = 4 * time.Second

// RunnerConfig tunes background run supervision.
type RunnerConfig struct {
	// MaxConcurrentRuns bounds supervised runs across all users.
	MaxConcurrentRuns int
	// DefaultTimeout applies when the workflow's budget carries no
	// runtime ceiling.
	DefaultTimeout time.Duration
	// HeartbeatWindow is the stall detection window.
	HeartbeatWindow time.Duration
	// CommitTimeout bounds the post-run persistence of a failed or
	// finished execution.
	CommitTimeout time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 8
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = time.Duration(DefaultMaxRuntimeMS) * time.Millisecond
	}
	if c.HeartbeatWindow <= 0 {
		c.HeartbeatWindow = DefaultHeartbeatWindow
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 10 * time.Second
	}
	return c
}

// Runner supervises background workflow runs: each run executes on its
// own goroutine under a wall-clock timeout and a heartbeat stall
// detector. A run that times out, stalls, errors, or panics is committed
// as a failed execution and appended to the dead-letter queue, so a
// background failure is never silent. The worker goroutine is always
// released: its context is cancelled and its result channel is buffered.
type Runner struct {
	engine *Engine
	pool   *pool.RunPool
	cfg    RunnerConfig
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
	wg     sync.WaitGroup
}

// NewRunner creates a runner over the engine.
func NewRunner(engine *Engine, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Runner{
		engine: engine,
		pool:   pool.New(cfg.MaxConcurrentRuns),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "runner")),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Submit schedules a background run. It blocks only while waiting for a
// free concurrency slot; the run itself is supervised on its own
// goroutine. The returned error covers admission only, never the run
// outcome — failures surface through the dead-letter queue.
func (r *Runner) Submit(ctx context.Context, userID, workflowID string, trigger types.TriggerKind) error {
	if err := r.pool.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire run slot: %w", err)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.pool.Release()
		r.supervise(userID, workflowID, trigger)
	}()
	return nil
}

// RunInline executes the run on the caller's goroutine with the same
// timeout and failure handling as a background run. It is the fallback
// for environments that cannot spare a supervisor goroutine.
func (r *Runner) RunInline(ctx context.Context, userID, workflowID string, trigger types.TriggerKind) (*types.WorkflowExecution, error) {
	timeout := r.runTimeout(ctx, userID, workflowID)
	started := r.now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	progress := &runProgress{}
	exec, err := r.engine.ExecuteForRunner(runCtx, userID, workflowID, trigger, progress.publish)

	switch {
	case err != nil && runCtx.Err() == context.DeadlineExceeded:
		return r.failRun(userID, workflowID, trigger, started, nil, progress.snapshot(),
			types.ErrRunTimeout, fmt.Sprintf("run timeout after %s", timeout))
	case err != nil:
		return r.failRun(userID, workflowID, trigger, started, nil, progress.snapshot(),
			types.CodeOf(err), err.Error())
	case r.now().Sub(started) > timeout:
		return r.failRun(userID, workflowID, trigger, started, exec, nil,
			types.ErrRunTimeout, fmt.Sprintf("run timeout after %s", timeout))
	}
	return exec, r.commitWithTimeout(userID, exec)
}

// Wait blocks until every supervised run has finished. Call during
// shutdown after the trigger sources stop submitting.
func (r *Runner) Wait() { r.wg.Wait() }

// Close stops admission and waits for in-flight runs.
func (r *Runner) Close() {
	r.pool.Close()
	r.wg.Wait()
}

// Active returns the number of runs currently supervised.
func (r *Runner) Active() int { return r.pool.Active() }

type runOutcome struct {
	exec *types.WorkflowExecution
	err  error
}

// runProgress is the supervisor's view of a worker that may never come
// back: the step results published at each heartbeat.
type runProgress struct {
	mu      sync.Mutex
	results []types.StepResult
}

func (p *runProgress) publish(results []types.StepResult) {
	p.mu.Lock()
	p.results = results
	p.mu.Unlock()
}

func (p *runProgress) snapshot() []types.StepResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

// supervise runs one workflow to completion or failure. The worker
// executes without committing; supervision owns the commit so partial
// progress is persisted even when the worker never returns in time.
func (r *Runner) supervise(userID, workflowID string, trigger types.TriggerKind) {
	lookupCtx, lookupCancel := context.WithTimeout(context.Background(), r.cfg.CommitTimeout)
	timeout := r.runTimeout(lookupCtx, userID, workflowID)
	lookupCancel()
	window := r.cfg.HeartbeatWindow
	if window > timeout {
		window = timeout
	}
	started := r.now()

	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var lastBeat atomic.Int64
	lastBeat.Store(started.UnixNano())
	progress := &runProgress{}

	// Buffered so the worker never blocks on a supervisor that already
	// gave up on it.
	outcome := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				outcome <- runOutcome{err: types.NewErrorf(types.ErrWorkerFailure, "worker panic: %v", rec)}
			}
		}()
		exec, err := r.engine.ExecuteForRunner(runCtx, userID, workflowID, trigger, func(results []types.StepResult) {
			lastBeat.Store(r.now().UnixNano())
			progress.publish(results)
		})
		outcome <- runOutcome{exec: exec, err: err}
	}()

	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case out := <-outcome:
			if out.err != nil {
				r.failRun(userID, workflowID, trigger, started, nil, progress.snapshot(), types.CodeOf(out.err), out.err.Error())
				return
			}
			if err := r.commitWithTimeout(userID, out.exec); err != nil {
				r.logger.Error("background commit failed",
					zap.String("workflow_id", workflowID),
					zap.String("execution_id", out.exec.ID),
					zap.Error(err),
				)
			}
			return

		case <-runCtx.Done():
			r.failRun(userID, workflowID, trigger, started, nil, progress.snapshot(),
				types.ErrRunTimeout, fmt.Sprintf("run timeout after %s", timeout))
			return

		case <-ticker.C:
			stalled := r.now().UnixNano()-lastBeat.Load() > int64(window)
			if stalled {
				cancel()
				r.failRun(userID, workflowID, trigger, started, nil, progress.snapshot(),
					types.ErrRunStalled, fmt.Sprintf("no heartbeat within %s", window))
				return
			}
		}
	}
}

// failRun commits a failed execution for the run and appends a
// dead-letter entry. Step results the worker completed before the
// failure are carried into the record; only when there are none does a
// single synthesized worker-failure result carry the reason, so the
// execution record is never empty.
func (r *Runner) failRun(userID, workflowID string, trigger types.TriggerKind, started time.Time, exec *types.WorkflowExecution, partial []types.StepResult, code types.ErrorCode, reason string) (*types.WorkflowExecution, error) {
	ended := r.now()
	if exec == nil {
		execID := r.newID()
		exec = &types.WorkflowExecution{
			ID:              execID,
			WorkflowID:      workflowID,
			UserID:          userID,
			TriggerKind:     trigger,
			StartedAt:       started,
			HeartbeatAt:     ended,
			Results:         partial,
			MemoryNamespace: fmt.Sprintf("workflow/%s/run/%s", workflowID, execID),
		}
	}
	exec.Status = types.ExecutionFailed
	exec.EndedAt = ended
	exec.DurationMS = ended.Sub(exec.StartedAt).Milliseconds()
	if len(exec.Results) == 0 {
		exec.Results = append(exec.Results, types.StepResult{
			ID:         r.newID(),
			WorkflowID: workflowID,
			StepID:     "worker-failure",
			Status:     types.StepFailed,
			Error:      fmt.Sprintf("%s: %s", code, reason),
			Summary:    "background worker failure",
			StartedAt:  started,
			EndedAt:    ended,
			DurationMS: ended.Sub(started).Milliseconds(),
		})
	}

	if err := r.commitWithTimeout(userID, exec); err != nil {
		r.logger.Error("failed-run commit failed",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), r.cfg.CommitTimeout)
	defer cancelCtx()
	if _, err := r.engine.DeadLetters().Append(ctx, types.DeadLetterEntry{
		WorkflowID:  workflowID,
		ExecutionID: exec.ID,
		UserID:      userID,
		TriggerKind: trigger,
		Reason:      reason,
		StartedAt:   started,
		EndedAt:     ended,
		Results:     exec.Results,
	}); err != nil {
		r.logger.Error("dead-letter append failed",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
	}
	if c := r.engine.collector; c != nil {
		c.RecordDeadLetter()
	}

	r.logger.Warn("background run failed",
		zap.String("workflow_id", workflowID),
		zap.String("execution_id", exec.ID),
		zap.String("code", string(code)),
		zap.String("reason", reason),
	)
	return exec, types.NewError(code, reason)
}

func (r *Runner) commitWithTimeout(userID string, exec *types.WorkflowExecution) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CommitTimeout)
	defer cancel()
	return r.engine.CommitBackgroundExecution(ctx, userID, exec)
}

// runTimeout derives the wall-clock ceiling from the workflow's
// effective budget; a missing workflow or budget falls back to the
// configured default.
func (r *Runner) runTimeout(ctx context.Context, userID, workflowID string) time.Duration {
	wf, err := r.engine.GetWorkflow(ctx, userID, workflowID)
	if err != nil {
		return r.cfg.DefaultTimeout
	}
	ms := EffectivePolicy(wf).Budget.MaxRuntimeMS
	if ms == nil || *ms <= 0 {
		return r.cfg.DefaultTimeout
	}
	return time.Duration(*ms) * time.Millisecond
}
