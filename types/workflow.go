package types

import "time"

// TriggerKind is how a workflow run is initiated.
type TriggerKind string

const (
	TriggerManual   TriggerKind = "manual"
	TriggerSchedule TriggerKind = "schedule"
	TriggerEvent    TriggerKind = "event"
)

// Trigger describes when a workflow fires. NextRunAt is execution-owned:
// the engine advances it after each scheduled run.
type Trigger struct {
	Kind         TriggerKind `json:"kind"`
	IntervalMS   int64       `json:"interval_ms,omitempty"`
	EventType    string      `json:"event_type,omitempty"`
	EventKeyword string      `json:"event_keyword,omitempty"`
	NextRunAt    time.Time   `json:"next_run_at,omitempty"`
}

// StepKind classifies what a step does.
type StepKind string

const (
	StepKindConnector  StepKind = "connector"
	StepKindTransform  StepKind = "transform"
	StepKindArtifact   StepKind = "artifact"
	StepKindCheckpoint StepKind = "checkpoint"
)

// StepStatus is the planning-level status stamped onto a workflow's step
// after runs; per-run outcomes live in StepResult.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Step is one node of the plan. Connector actions use the
// "connector.<id>.<action>" identifier form.
type Step struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Kind          StepKind   `json:"kind"`
	Action        string     `json:"action,omitempty"`
	InputTemplate string     `json:"input_template,omitempty"`
	Status        StepStatus `json:"status,omitempty"`
}

// BranchOperator is the comparison a branch condition applies.
type BranchOperator string

const (
	OpStringEquals   BranchOperator = "string_equals"
	OpStringContains BranchOperator = "string_contains"
	OpNumberCompare  BranchOperator = "number_compare"
	OpRegexMatch     BranchOperator = "regex_match"
	OpExists         BranchOperator = "exists"
	OpNotExists      BranchOperator = "not_exists"
)

// AlwaysPath is the sentinel condition path that always evaluates true,
// used for unconditional edges.
const AlwaysPath = "__always"

// BranchCondition gates one edge of the plan graph. Path addresses the
// composed runtime context; Comparator applies to number_compare only
// (gt, gte, lt, lte, eq, neq).
type BranchCondition struct {
	Path       string         `json:"path"`
	Operator   BranchOperator `json:"operator,omitempty"`
	Comparator string         `json:"comparator,omitempty"`
	Operand    any            `json:"operand,omitempty"`
}

// ConditionalBranch is one directed edge of the plan graph. Lower
// priority evaluates first.
type ConditionalBranch struct {
	ID         string          `json:"id"`
	FromStepID string          `json:"from_step_id"`
	ToStepID   string          `json:"to_step_id"`
	Label      string          `json:"label,omitempty"`
	Priority   int             `json:"priority"`
	Condition  BranchCondition `json:"condition"`
}

// PlanGraph is the conditional routing layer over a workflow's steps.
// A nil graph means linear list-order execution.
type PlanGraph struct {
	EntryStepID string              `json:"entry_step_id"`
	Branches    []ConditionalBranch `json:"branches,omitempty"`
}

// WorkflowStatus is the arming state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"
	WorkflowStatusReady  WorkflowStatus = "ready"
	WorkflowStatusPaused WorkflowStatus = "paused"
)

// Workflow is the stored plan: steps, routing, trigger, and the optional
// user-edited policy overlay.
type Workflow struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Prompt          string         `json:"prompt,omitempty"`
	Status          WorkflowStatus `json:"status"`
	Trigger         Trigger        `json:"trigger"`
	Steps           []Step         `json:"steps"`
	Graph           *PlanGraph     `json:"graph,omitempty"`
	Policy          *Policy        `json:"policy,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// StepByID returns a pointer into the workflow's step list, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// StepIndex returns the position of a step in the list, or -1.
func (w *Workflow) StepIndex(id string) int {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// WorkflowArtifact is a produced output document: either written by an
// artifact step or the per-run inbox summary.
type WorkflowArtifact struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Text        string    `json:"text,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WorkflowNotification is a user-facing run outcome notice.
type WorkflowNotification struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}
