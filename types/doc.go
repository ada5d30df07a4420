// Package types defines the shared data model for the flowdeck
// orchestration engine: workflows, plan graphs, policies, executions,
// checkpoints, dead letters, and the structured error type used across
// the framework.
package types
