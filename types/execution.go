package types

import "time"

// StepResultStatus is the terminal status of one executed step.
type StepResultStatus string

const (
	StepCompleted          StepResultStatus = "completed"
	StepFailed             StepResultStatus = "failed"
	StepApprovalRequired   StepResultStatus = "approval_required"
	StepCheckpointRequired StepResultStatus = "checkpoint_required"
)

// ConnectorOutput is the payload produced by a connector step.
type ConnectorOutput struct {
	ConnectorID string         `json:"connector_id"`
	Action      string         `json:"action"`
	Data        map[string]any `json:"data,omitempty"`
}

// TransformOutput is the payload produced by a transform step.
type TransformOutput struct {
	Data map[string]any `json:"data,omitempty"`
}

// ArtifactOutput is the payload produced by an artifact-write step.
type ArtifactOutput struct {
	ArtifactID string `json:"artifact_id"`
	Title      string `json:"title"`
	Text       string `json:"text,omitempty"`
}

// CheckpointOutput is the payload produced by a checkpoint step. The
// optional risk fields override the manager's inference when set.
type CheckpointOutput struct {
	Reason      string          `json:"reason,omitempty"`
	RiskLevel   RiskLevel       `json:"risk_level,omitempty"`
	RiskSummary string          `json:"risk_summary,omitempty"`
	Proposed    *ProposedAction `json:"proposed,omitempty"`
}

// StepOutput is a tagged variant over the per-kind payloads. Exactly one
// member matching Kind is populated; the orchestrator treats the contents
// as opaque apart from ContextValue.
type StepOutput struct {
	Kind       StepKind          `json:"kind"`
	Connector  *ConnectorOutput  `json:"connector,omitempty"`
	Transform  *TransformOutput  `json:"transform,omitempty"`
	Artifact   *ArtifactOutput   `json:"artifact,omitempty"`
	Checkpoint *CheckpointOutput `json:"checkpoint,omitempty"`
}

// ContextValue flattens the populated member into the map shape that
// branch conditions evaluate against.
func (o StepOutput) ContextValue() map[string]any {
	switch {
	case o.Connector != nil:
		return map[string]any{
			"connector_id": o.Connector.ConnectorID,
			"action":       o.Connector.Action,
			"data":         o.Connector.Data,
		}
	case o.Transform != nil:
		return map[string]any{"data": o.Transform.Data}
	case o.Artifact != nil:
		return map[string]any{
			"artifact_id": o.Artifact.ArtifactID,
			"title":       o.Artifact.Title,
			"text":        o.Artifact.Text,
		}
	case o.Checkpoint != nil:
		return map[string]any{
			"reason":       o.Checkpoint.Reason,
			"risk_level":   string(o.Checkpoint.RiskLevel),
			"risk_summary": o.Checkpoint.RiskSummary,
		}
	default:
		return map[string]any{}
	}
}

// StepResult records one step execution. Immutable once produced.
type StepResult struct {
	ID         string           `json:"id"`
	WorkflowID string           `json:"workflow_id"`
	StepID     string           `json:"step_id"`
	Status     StepResultStatus `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at"`
	DurationMS int64            `json:"duration_ms"`
	Summary    string           `json:"summary,omitempty"`
	Output     StepOutput       `json:"output"`
	Error      string           `json:"error,omitempty"`
}

// ExecutionStatus is the overall status of a run, derived from its
// terminal step result.
type ExecutionStatus string

const (
	ExecutionRunning            ExecutionStatus = "running"
	ExecutionCompleted          ExecutionStatus = "completed"
	ExecutionFailed             ExecutionStatus = "failed"
	ExecutionApprovalRequired   ExecutionStatus = "approval_required"
	ExecutionCheckpointRequired ExecutionStatus = "checkpoint_required"
)

// WorkflowExecution is the immutable record of one run. Created once per
// run, never mutated after commit.
type WorkflowExecution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	UserID          string          `json:"user_id"`
	Status          ExecutionStatus `json:"status"`
	TriggerKind     TriggerKind     `json:"trigger_kind"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at"`
	DurationMS      int64           `json:"duration_ms"`
	HeartbeatAt     time.Time       `json:"heartbeat_at,omitempty"`
	Results         []StepResult    `json:"results"`
	MemoryNamespace string          `json:"memory_namespace,omitempty"`
	InboxArtifactID string          `json:"inbox_artifact_id,omitempty"`
}

// TerminalResult returns the last step result, or nil for an empty run.
func (e *WorkflowExecution) TerminalResult() *StepResult {
	if len(e.Results) == 0 {
		return nil
	}
	return &e.Results[len(e.Results)-1]
}
