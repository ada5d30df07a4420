package types

import "time"

// CheckpointStatus is the lifecycle state of a human-review request.
// Legal transitions: pending -> approved | rejected | edited, then
// approved | edited -> resumed once a new execution is recorded.
type CheckpointStatus string

const (
	CheckpointPending  CheckpointStatus = "pending"
	CheckpointApproved CheckpointStatus = "approved"
	CheckpointRejected CheckpointStatus = "rejected"
	CheckpointEdited   CheckpointStatus = "edited"
	CheckpointResumed  CheckpointStatus = "resumed"
)

// CheckpointDecision is the reviewer's verdict.
type CheckpointDecision string

const (
	DecisionApprove CheckpointDecision = "approve"
	DecisionReject  CheckpointDecision = "reject"
	DecisionEdit    CheckpointDecision = "edit"
)

// RiskLevel grades how risky resuming the paused plan is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ProposedAction describes what would run next if the reviewer approves.
// The sentinel ActionID "workflow.complete" means no steps remain.
type ProposedAction struct {
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	ActionID      string `json:"action_id"`
	InputTemplate string `json:"input_template,omitempty"`
}

// CompleteWorkflowAction is the ProposedAction ActionID sentinel used when
// a checkpoint has no remaining steps.
const CompleteWorkflowAction = "workflow.complete"

// CheckpointRequest is a durable pending human-review request created when
// a run's terminal step result is checkpoint_required.
type CheckpointRequest struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id"`
	ExecutionID      string           `json:"execution_id"`
	StepID           string           `json:"step_id"`
	UserID           string           `json:"user_id"`
	Status           CheckpointStatus `json:"status"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	RiskSummary      string           `json:"risk_summary,omitempty"`
	Proposed         ProposedAction   `json:"proposed"`
	EditedAction     *ProposedAction  `json:"edited_action,omitempty"`
	CompletedResults []StepResult     `json:"completed_results,omitempty"`
	RemainingStepIDs []string         `json:"remaining_step_ids,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`

	// Decision metadata, set exactly once.
	DecidedAt          time.Time          `json:"decided_at,omitempty"`
	DecidedBy          string             `json:"decided_by,omitempty"`
	Decision           CheckpointDecision `json:"decision,omitempty"`
	DecisionNote       string             `json:"decision_note,omitempty"`
	ResumedExecutionID string             `json:"resumed_execution_id,omitempty"`
}
