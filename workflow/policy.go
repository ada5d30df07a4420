package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dantwoashim/flowdeck/types"
)

// DefaultMaxRuntimeMS is the wall-clock ceiling applied when a policy
// does not configure one.
const DefaultMaxRuntimeMS int64 = 120_000

// DecisionReason is the machine-readable outcome of a policy check.
type DecisionReason string

const (
	ReasonAllowed             DecisionReason = "allowed"
	ReasonActionTypeBlocked   DecisionReason = "action_type_blocked"
	ReasonConnectorBlocked    DecisionReason = "connector_blocked"
	ReasonConnectorNotAllowed DecisionReason = "connector_not_allowed"
	ReasonBudgetExceeded      DecisionReason = "budget_exceeded"
)

// PolicyDecision is the result of evaluating one step against a policy.
// Projected is the usage the caller should adopt when Allowed; on a
// rejection the caller's counters must not advance.
type PolicyDecision struct {
	Allowed    bool
	Reason     DecisionReason
	Message    string
	ActionType types.ActionType
	Projected  types.PolicyUsage
}

// mutationVerbs are the action verb prefixes that classify a connector
// call as a mutation.
var mutationVerbs = []string{"create_", "update_", "delete_", "append_", "send_", "write_", "set_"}

// InferActionType classifies a step for policy purposes. Connector steps
// are split into reads and mutations by the verb prefix of the action's
// final segment.
func InferActionType(step types.Step) types.ActionType {
	switch step.Kind {
	case types.StepKindTransform:
		return types.ActionTypeTransform
	case types.StepKindArtifact:
		return types.ActionTypeArtifact
	case types.StepKindCheckpoint:
		return types.ActionTypeCheckpoint
	}
	verb := step.Action
	if i := strings.LastIndexByte(verb, '.'); i >= 0 {
		verb = verb[i+1:]
	}
	for _, prefix := range mutationVerbs {
		if strings.HasPrefix(verb, prefix) {
			return types.ActionTypeMutation
		}
	}
	return types.ActionTypeRead
}

// ConnectorIDOf extracts the connector id from a "connector.<id>.<action>"
// action identifier. Returns "" for non-connector actions.
func ConnectorIDOf(action string) string {
	parts := strings.SplitN(action, ".", 3)
	if len(parts) < 3 || parts[0] != "connector" {
		return ""
	}
	return parts[1]
}

// tokenBase approximates the fixed prompt overhead per action type.
func tokenBase(actionType types.ActionType) int {
	switch actionType {
	case types.ActionTypeMutation:
		return 160
	case types.ActionTypeRead:
		return 120
	case types.ActionTypeArtifact:
		return 100
	case types.ActionTypeTransform:
		return 80
	default:
		return 40
	}
}

// EstimateStepTokens derives the estimated token cost of a step: a small
// fixed base per action type plus input-template length divided by 12.
func EstimateStepTokens(step types.Step) int {
	return tokenBase(InferActionType(step)) + len(step.InputTemplate)/12
}

// ProjectUsage returns usage plus this step's contribution. Connector
// reads and mutations both increment the connector-call count; mutations
// additionally increment the mutation count.
func ProjectUsage(usage types.PolicyUsage, step types.Step) types.PolicyUsage {
	actionType := InferActionType(step)
	projected := usage
	projected.TotalStepsExecuted++
	projected.EstimatedTokens += EstimateStepTokens(step)
	switch actionType {
	case types.ActionTypeRead:
		projected.ConnectorCalls++
	case types.ActionTypeMutation:
		projected.ConnectorCalls++
		projected.MutationCalls++
	case types.ActionTypeTransform:
		projected.TransformCalls++
	case types.ActionTypeArtifact:
		projected.ArtifactWrites++
	}
	return projected
}

// EvaluateStepPolicy is the pure, stateless policy check applied before
// every step. Ceilings are evaluated against the projected usage, so the
// offending step itself is blocked rather than the one after it.
func EvaluateStepPolicy(policy types.Policy, usage types.PolicyUsage, step types.Step) PolicyDecision {
	actionType := InferActionType(step)
	projected := ProjectUsage(usage, step)
	decision := PolicyDecision{ActionType: actionType, Projected: projected}

	if len(policy.AllowedActionTypes) > 0 && !containsActionType(policy.AllowedActionTypes, actionType) {
		decision.Reason = ReasonActionTypeBlocked
		decision.Message = fmt.Sprintf("action type %q is not allowed by policy", actionType)
		return decision
	}

	if step.Kind == types.StepKindConnector {
		connectorID := ConnectorIDOf(step.Action)
		if containsString(policy.BlockedConnectorIDs, connectorID) {
			decision.Reason = ReasonConnectorBlocked
			decision.Message = fmt.Sprintf("connector %q is blocked by policy", connectorID)
			return decision
		}
		if len(policy.AllowedConnectorIDs) > 0 && !containsString(policy.AllowedConnectorIDs, connectorID) {
			decision.Reason = ReasonConnectorNotAllowed
			decision.Message = fmt.Sprintf("connector %q is not on the policy allow-list", connectorID)
			return decision
		}
	}

	// Ceiling priority is fixed: total steps, connector calls, mutation
	// calls, transform calls, artifact writes, estimated tokens.
	type ceiling struct {
		name      string
		limit     int
		projected int
	}
	ceilings := []ceiling{
		{"total steps", ceilingOf(policy.Budget.MaxTotalSteps), projected.TotalStepsExecuted},
		{"connector calls", ceilingOf(policy.Budget.MaxConnectorCalls), projected.ConnectorCalls},
		{"mutation calls", ceilingOf(policy.Budget.MaxMutationCalls), projected.MutationCalls},
		{"transform calls", ceilingOf(policy.Budget.MaxTransformCalls), projected.TransformCalls},
		{"artifact writes", ceilingOf(policy.Budget.MaxArtifactWrites), projected.ArtifactWrites},
		{"estimated tokens", ceilingOf(policy.Budget.MaxEstimatedTokens), projected.EstimatedTokens},
	}
	for _, c := range ceilings {
		if c.limit >= 0 && c.projected > c.limit {
			decision.Reason = ReasonBudgetExceeded
			decision.Message = fmt.Sprintf("budget exceeded: %s %d would exceed ceiling %d", c.name, c.projected, c.limit)
			return decision
		}
	}

	decision.Allowed = true
	decision.Reason = ReasonAllowed
	return decision
}

// PlanConnectors returns the sorted set of connector ids referenced
// anywhere in the step list.
func PlanConnectors(steps []types.Step) []string {
	set := make(map[string]bool)
	for _, step := range steps {
		if step.Kind != types.StepKindConnector {
			continue
		}
		if id := ConnectorIDOf(step.Action); id != "" {
			set[id] = true
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BuildDefaultPolicy derives a workflow-size-scaled policy: the connector
// allow-list is the set of connectors the plan references, ceilings scale
// with the count of steps of each kind, and mutations require approval.
func BuildDefaultPolicy(wf *types.Workflow) types.Policy {
	var connectorSteps, mutationSteps, transformSteps, artifactSteps int
	for _, step := range wf.Steps {
		switch InferActionType(step) {
		case types.ActionTypeRead:
			connectorSteps++
		case types.ActionTypeMutation:
			connectorSteps++
			mutationSteps++
		case types.ActionTypeTransform:
			transformSteps++
		case types.ActionTypeArtifact:
			artifactSteps++
		}
	}
	stepCount := len(wf.Steps)
	return types.Policy{
		WorkflowID:          wf.ID,
		AllowedConnectorIDs: PlanConnectors(wf.Steps),
		Budget: types.PolicyBudget{
			MaxTotalSteps:      types.IntRef(maxInt(6, 3*stepCount)),
			MaxConnectorCalls:  types.IntRef(maxInt(4, 2*connectorSteps)),
			MaxMutationCalls:   types.IntRef(maxInt(2, mutationSteps+1)),
			MaxTransformCalls:  types.IntRef(maxInt(4, 2*transformSteps)),
			MaxArtifactWrites:  types.IntRef(maxInt(2, artifactSteps+1)),
			MaxEstimatedTokens: types.IntRef(maxInt(2000, 600*stepCount)),
			MaxRuntimeMS:       types.Int64Ref(DefaultMaxRuntimeMS),
		},
		ApproveMutations: true,
	}
}

// EffectivePolicy re-derives the policy applied to a run: size-scaled
// defaults overlaid with whatever the stored policy configures, so edits
// made since creation are honored without regenerating them away. A nil
// stored ceiling keeps the derived default; a configured one replaces it
// verbatim, zero included.
func EffectivePolicy(wf *types.Workflow) types.Policy {
	defaults := BuildDefaultPolicy(wf)
	stored := wf.Policy
	if stored == nil {
		return defaults
	}
	merged := defaults
	merged.ApproveMutations = stored.ApproveMutations
	if len(stored.AllowedConnectorIDs) > 0 {
		merged.AllowedConnectorIDs = stored.AllowedConnectorIDs
	}
	if len(stored.BlockedConnectorIDs) > 0 {
		merged.BlockedConnectorIDs = stored.BlockedConnectorIDs
	}
	if len(stored.AllowedActionTypes) > 0 {
		merged.AllowedActionTypes = stored.AllowedActionTypes
	}
	b := stored.Budget
	if b.MaxTotalSteps != nil {
		merged.Budget.MaxTotalSteps = b.MaxTotalSteps
	}
	if b.MaxConnectorCalls != nil {
		merged.Budget.MaxConnectorCalls = b.MaxConnectorCalls
	}
	if b.MaxMutationCalls != nil {
		merged.Budget.MaxMutationCalls = b.MaxMutationCalls
	}
	if b.MaxTransformCalls != nil {
		merged.Budget.MaxTransformCalls = b.MaxTransformCalls
	}
	if b.MaxArtifactWrites != nil {
		merged.Budget.MaxArtifactWrites = b.MaxArtifactWrites
	}
	if b.MaxEstimatedTokens != nil {
		merged.Budget.MaxEstimatedTokens = b.MaxEstimatedTokens
	}
	if b.MaxRuntimeMS != nil {
		merged.Budget.MaxRuntimeMS = b.MaxRuntimeMS
	}
	return merged
}

// ReplayUsage rebuilds the running counters by replaying completed step
// results through the policy engine, so budgets consumed before a pause
// still count on resume.
func ReplayUsage(policy types.Policy, wf *types.Workflow, completed []types.StepResult) types.PolicyUsage {
	var usage types.PolicyUsage
	for _, result := range completed {
		if result.Status != types.StepCompleted {
			continue
		}
		step := wf.StepByID(result.StepID)
		if step == nil {
			continue
		}
		if decision := EvaluateStepPolicy(policy, usage, *step); decision.Allowed {
			usage = decision.Projected
		}
	}
	return usage
}

// ceilingOf resolves a configured ceiling; nil means no ceiling.
func ceilingOf(v *int) int {
	if v == nil {
		return -1
	}
	return *v
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsActionType(list []types.ActionType, v types.ActionType) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
