// Package flowdeck provides a top-level convenience entry point for
// embedding the workflow engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/dantwoashim/flowdeck"
//
//	eng, runner, err := flowdeck.New(myExecutor)
//	eng, runner, err := flowdeck.New(myExecutor,
//	    flowdeck.WithStore(sqliteStore),
//	    flowdeck.WithLogger(logger),
//	)
//
// This wires a memory store, an engine, and a background runner with
// defaults. Use the workflow, store, and notify packages directly when
// you need finer control.
package flowdeck

import (
	"go.uber.org/zap"

	"github.com/dantwoashim/flowdeck/store"
	"github.com/dantwoashim/flowdeck/workflow"
)

// Engine is the orchestration engine. See [workflow.Engine].
type Engine = workflow.Engine

// Runner supervises background runs. See [workflow.Runner].
type Runner = workflow.Runner

// StepExecutor executes individual steps. See [workflow.StepExecutor].
type StepExecutor = workflow.StepExecutor

// Option configures the engine and runner created by [New].
type Option func(*options)

type options struct {
	store      store.Store
	logger     *zap.Logger
	runnerCfg  workflow.RunnerConfig
	engineOpts []workflow.EngineOption
}

// WithStore replaces the default in-memory store.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRunnerConfig tunes background run supervision.
func WithRunnerConfig(cfg workflow.RunnerConfig) Option {
	return func(o *options) { o.runnerCfg = cfg }
}

// WithEngineOptions forwards options to [workflow.NewEngine], for wiring
// planners, approvers, sinks, and metrics.
func WithEngineOptions(opts ...workflow.EngineOption) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// New creates an engine and a background runner over it. executor is
// required; everything else defaults to in-process implementations.
func New(executor StepExecutor, opts ...Option) (*Engine, *Runner, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = store.NewMemoryStore()
	}
	engine := workflow.NewEngine(o.store, executor, o.logger, o.engineOpts...)
	runner := workflow.NewRunner(engine, o.runnerCfg, o.logger)
	return engine, runner, nil
}
