package types

import (
	"fmt"
	"strconv"
)

// ActionType classifies what a step does from the policy engine's
// perspective. Connector steps are split into reads and mutations by a
// verb heuristic on the action suffix.
type ActionType string

const (
	ActionTypeRead       ActionType = "read"
	ActionTypeMutation   ActionType = "mutation"
	ActionTypeTransform  ActionType = "transform"
	ActionTypeArtifact   ActionType = "artifact"
	ActionTypeCheckpoint ActionType = "checkpoint"
)

// PolicyBudget holds the per-run ceilings. Fields are pointers so an
// edited policy can distinguish "not configured" (nil, which keeps the
// derived default) from an explicit zero, which is enforced and blocks
// the first matching step. A negative counter ceiling disables that
// ceiling. A nil or non-positive MaxRuntimeMS falls back to the default
// runtime.
type PolicyBudget struct {
	MaxTotalSteps      *int   `json:"max_total_steps,omitempty"`
	MaxConnectorCalls  *int   `json:"max_connector_calls,omitempty"`
	MaxMutationCalls   *int   `json:"max_mutation_calls,omitempty"`
	MaxTransformCalls  *int   `json:"max_transform_calls,omitempty"`
	MaxArtifactWrites  *int   `json:"max_artifact_writes,omitempty"`
	MaxEstimatedTokens *int   `json:"max_estimated_tokens,omitempty"`
	MaxRuntimeMS       *int64 `json:"max_runtime_ms,omitempty"`
}

// Clone deep-copies the budget so later pointer writes on one never leak
// into the other.
func (b PolicyBudget) Clone() PolicyBudget {
	return PolicyBudget{
		MaxTotalSteps:      copyInt(b.MaxTotalSteps),
		MaxConnectorCalls:  copyInt(b.MaxConnectorCalls),
		MaxMutationCalls:   copyInt(b.MaxMutationCalls),
		MaxTransformCalls:  copyInt(b.MaxTransformCalls),
		MaxArtifactWrites:  copyInt(b.MaxArtifactWrites),
		MaxEstimatedTokens: copyInt(b.MaxEstimatedTokens),
		MaxRuntimeMS:       copyInt64(b.MaxRuntimeMS),
	}
}

// Equal compares ceilings by value; nil matches only nil.
func (b PolicyBudget) Equal(o PolicyBudget) bool {
	return eqInt(b.MaxTotalSteps, o.MaxTotalSteps) &&
		eqInt(b.MaxConnectorCalls, o.MaxConnectorCalls) &&
		eqInt(b.MaxMutationCalls, o.MaxMutationCalls) &&
		eqInt(b.MaxTransformCalls, o.MaxTransformCalls) &&
		eqInt(b.MaxArtifactWrites, o.MaxArtifactWrites) &&
		eqInt(b.MaxEstimatedTokens, o.MaxEstimatedTokens) &&
		eqInt64(b.MaxRuntimeMS, o.MaxRuntimeMS)
}

// String renders the ceilings by value for logs and change records;
// unset ceilings render as "-".
func (b PolicyBudget) String() string {
	f := func(v *int) string {
		if v == nil {
			return "-"
		}
		return strconv.Itoa(*v)
	}
	runtime := "-"
	if b.MaxRuntimeMS != nil {
		runtime = strconv.FormatInt(*b.MaxRuntimeMS, 10)
	}
	return fmt.Sprintf("steps=%s connectors=%s mutations=%s transforms=%s artifacts=%s tokens=%s runtime_ms=%s",
		f(b.MaxTotalSteps), f(b.MaxConnectorCalls), f(b.MaxMutationCalls),
		f(b.MaxTransformCalls), f(b.MaxArtifactWrites), f(b.MaxEstimatedTokens), runtime)
}

// IntRef returns a pointer to v, for configuring budget ceilings inline.
func IntRef(v int) *int { return &v }

// Int64Ref returns a pointer to v.
func Int64Ref(v int64) *int64 { return &v }

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Policy is the permission and budget envelope for one workflow.
// An empty AllowedConnectorIDs list means "no allow-list configured";
// same for AllowedActionTypes.
type Policy struct {
	WorkflowID          string       `json:"workflow_id"`
	AllowedConnectorIDs []string     `json:"allowed_connector_ids,omitempty"`
	BlockedConnectorIDs []string     `json:"blocked_connector_ids,omitempty"`
	AllowedActionTypes  []ActionType `json:"allowed_action_types,omitempty"`
	Budget              PolicyBudget `json:"budget"`
	ApproveMutations    bool         `json:"approve_mutations"`
}

// PolicyUsage accumulates running counters across a single run. Reset per
// run, never persisted standalone.
type PolicyUsage struct {
	TotalStepsExecuted int `json:"total_steps_executed"`
	ConnectorCalls     int `json:"connector_calls"`
	MutationCalls      int `json:"mutation_calls"`
	TransformCalls     int `json:"transform_calls"`
	ArtifactWrites     int `json:"artifact_writes"`
	EstimatedTokens    int `json:"estimated_tokens"`
}
