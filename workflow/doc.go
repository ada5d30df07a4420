// Package workflow implements the flowdeck orchestration core: the plan
// graph (DAG with prioritized conditional branches), the per-step policy
// and budget engine, the checkpoint (human-in-the-loop) manager, the
// dead-letter queue for failed background runs, the background runner
// with timeout and heartbeat supervision, and the engine that composes
// them around an external step executor.
//
// The engine decides whether, in what order, under what constraints, and
// with what recovery semantics steps run. What a workflow should do is
// the planner's job; how a connector call is performed is the executor's.
package workflow
