package workflow

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/dantwoashim/flowdeck/types"
)

// randomStep draws a step of arbitrary kind and action shape.
func randomStep(t *rapid.T, i int) types.Step {
	kind := rapid.SampledFrom([]types.StepKind{
		types.StepKindConnector,
		types.StepKindTransform,
		types.StepKindArtifact,
		types.StepKindCheckpoint,
	}).Draw(t, "kind")
	step := types.Step{
		ID:            fmt.Sprintf("s%d", i),
		Title:         fmt.Sprintf("step %d", i),
		Kind:          kind,
		InputTemplate: rapid.StringN(0, 200, -1).Draw(t, "input"),
	}
	if kind == types.StepKindConnector {
		connector := rapid.SampledFrom([]string{"email", "notion", "crm", "sheets"}).Draw(t, "connector")
		verb := rapid.SampledFrom([]string{"fetch_inbox", "list_rows", "send_message", "create_page", "update_contact"}).Draw(t, "verb")
		step.Action = fmt.Sprintf("connector.%s.%s", connector, verb)
	} else {
		step.Action = string(kind) + ".apply"
	}
	return step
}

func TestPolicyUsageAccountingProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 30).Draw(t, "steps")
		steps := make([]types.Step, n)
		for i := range steps {
			steps[i] = randomStep(t, i)
		}
		policy := types.Policy{
			Budget: types.PolicyBudget{
				MaxTotalSteps:      types.IntRef(rapid.IntRange(-1, 20).Draw(t, "maxSteps")),
				MaxConnectorCalls:  types.IntRef(rapid.IntRange(-1, 10).Draw(t, "maxConnector")),
				MaxMutationCalls:   types.IntRef(rapid.IntRange(-1, 5).Draw(t, "maxMutation")),
				MaxTransformCalls:  types.IntRef(rapid.IntRange(-1, 10).Draw(t, "maxTransform")),
				MaxArtifactWrites:  types.IntRef(rapid.IntRange(-1, 5).Draw(t, "maxArtifact")),
				MaxEstimatedTokens: types.IntRef(rapid.IntRange(-1, 5000).Draw(t, "maxTokens")),
			},
		}

		var usage types.PolicyUsage
		allowed := 0
		for _, step := range steps {
			decision := EvaluateStepPolicy(policy, usage, step)
			if !decision.Allowed {
				// A rejection never advances the counters.
				continue
			}
			allowed++
			usage = decision.Projected
		}

		// Executed-step accounting matches the allow count exactly.
		if usage.TotalStepsExecuted != allowed {
			t.Fatalf("TotalStepsExecuted = %d, allowed = %d", usage.TotalStepsExecuted, allowed)
		}
		// No ceiling is ever exceeded by the adopted usage.
		checks := []struct {
			name  string
			limit int
			used  int
		}{
			{"total steps", ceilingOf(policy.Budget.MaxTotalSteps), usage.TotalStepsExecuted},
			{"connector calls", ceilingOf(policy.Budget.MaxConnectorCalls), usage.ConnectorCalls},
			{"mutation calls", ceilingOf(policy.Budget.MaxMutationCalls), usage.MutationCalls},
			{"transform calls", ceilingOf(policy.Budget.MaxTransformCalls), usage.TransformCalls},
			{"artifact writes", ceilingOf(policy.Budget.MaxArtifactWrites), usage.ArtifactWrites},
			{"estimated tokens", ceilingOf(policy.Budget.MaxEstimatedTokens), usage.EstimatedTokens},
		}
		for _, c := range checks {
			if c.limit >= 0 && c.used > c.limit {
				t.Fatalf("%s: used %d exceeds ceiling %d", c.name, c.used, c.limit)
			}
		}
		// Mutations are always a subset of connector calls.
		if usage.MutationCalls > usage.ConnectorCalls {
			t.Fatalf("mutations %d exceed connector calls %d", usage.MutationCalls, usage.ConnectorCalls)
		}
	})
}
