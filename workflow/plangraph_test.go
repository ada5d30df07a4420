package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dantwoashim/flowdeck/types"
)

func makeSteps(ids ...string) []types.Step {
	steps := make([]types.Step, 0, len(ids))
	for _, id := range ids {
		steps = append(steps, types.Step{ID: id, Title: id, Kind: types.StepKindTransform, Action: "transform.apply"})
	}
	return steps
}

func edge(id, from, to string, priority int, cond types.BranchCondition) types.ConditionalBranch {
	return types.ConditionalBranch{ID: id, FromStepID: from, ToStepID: to, Priority: priority, Condition: cond}
}

func always() types.BranchCondition { return types.BranchCondition{Path: types.AlwaysPath} }

func TestBuildLinearPlanGraph(t *testing.T) {
	graph := BuildLinearPlanGraph(makeSteps("s1", "s2", "s3"))
	assert.Equal(t, "s1", graph.EntryStepID)
	require.Len(t, graph.Branches, 2)
	assert.Equal(t, "s1", graph.Branches[0].FromStepID)
	assert.Equal(t, "s2", graph.Branches[0].ToStepID)
	assert.Equal(t, "s3", graph.Branches[1].ToStepID)

	empty := BuildLinearPlanGraph(nil)
	assert.Empty(t, empty.EntryStepID)
	assert.Empty(t, empty.Branches)
}

func TestEnsurePlanGraphSanitizes(t *testing.T) {
	wf := &types.Workflow{
		Steps: makeSteps("s1", "s2"),
		Graph: &types.PlanGraph{
			EntryStepID: "ghost",
			Branches: []types.ConditionalBranch{
				edge("e1", "s1", "s2", 0, always()),
				edge("e2", "s1", "ghost", 0, always()),
			},
		},
	}
	sanitized := EnsurePlanGraph(wf)
	assert.Equal(t, "s1", sanitized.EntryStepID)
	require.Len(t, sanitized.Branches, 1)
	assert.Equal(t, "e1", sanitized.Branches[0].ID)

	// The stored workflow is untouched.
	assert.Equal(t, "ghost", wf.Graph.EntryStepID)
	assert.Len(t, wf.Graph.Branches, 2)
}

func TestDetectCycleReturnsClosedPath(t *testing.T) {
	wf := &types.Workflow{
		Steps: makeSteps("s1", "s2", "s3"),
		Graph: &types.PlanGraph{
			EntryStepID: "s1",
			Branches: []types.ConditionalBranch{
				edge("e1", "s1", "s2", 0, always()),
				edge("e2", "s2", "s3", 0, always()),
				edge("e3", "s3", "s2", 0, always()),
			},
		},
	}
	hasCycle, path := DetectCycle(wf)
	require.True(t, hasCycle)
	require.GreaterOrEqual(t, len(path), 3)
	assert.Equal(t, path[0], path[len(path)-1], "cycle path must be closed")
}

func TestTopologicalSort(t *testing.T) {
	t.Run("diamond is stable by step order", func(t *testing.T) {
		wf := &types.Workflow{
			Steps: makeSteps("a", "b", "c", "d"),
			Graph: &types.PlanGraph{
				EntryStepID: "a",
				Branches: []types.ConditionalBranch{
					edge("e1", "a", "b", 0, always()),
					edge("e2", "a", "c", 1, always()),
					edge("e3", "b", "d", 0, always()),
					edge("e4", "c", "d", 0, always()),
				},
			},
		}
		order, err := TopologicalSort(wf)
		require.NoError(t, err)
		ids := make([]string, len(order))
		for i, s := range order {
			ids[i] = s.ID
		}
		assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	})

	t.Run("cycle is fatal", func(t *testing.T) {
		wf := &types.Workflow{
			Steps: makeSteps("a", "b"),
			Graph: &types.PlanGraph{
				EntryStepID: "a",
				Branches: []types.ConditionalBranch{
					edge("e1", "a", "b", 0, always()),
					edge("e2", "b", "a", 0, always()),
				},
			},
		}
		_, err := TopologicalSort(wf)
		require.Error(t, err)
		assert.Equal(t, types.ErrGraphCycle, types.CodeOf(err))
	})

	t.Run("no graph falls back to list order", func(t *testing.T) {
		wf := &types.Workflow{Steps: makeSteps("x", "y", "z")}
		order, err := TopologicalSort(wf)
		require.NoError(t, err)
		require.Len(t, order, 3)
		assert.Equal(t, "x", order[0].ID)
	})

	t.Run("duplicate parallel edges do not skew indegree", func(t *testing.T) {
		wf := &types.Workflow{
			Steps: makeSteps("a", "b"),
			Graph: &types.PlanGraph{
				EntryStepID: "a",
				Branches: []types.ConditionalBranch{
					edge("e1", "a", "b", 0, types.BranchCondition{Path: "a.data.x", Operator: types.OpExists}),
					edge("e2", "a", "b", 1, always()),
				},
			},
		}
		order, err := TopologicalSort(wf)
		require.NoError(t, err)
		assert.Len(t, order, 2)
	})
}

func TestOutgoingBranchesOrdering(t *testing.T) {
	wf := &types.Workflow{
		Steps: makeSteps("a", "b", "c", "d"),
		Graph: &types.PlanGraph{
			EntryStepID: "a",
			Branches: []types.ConditionalBranch{
				edge("e3", "a", "d", 1, always()),
				edge("e2", "a", "c", 0, always()),
				edge("e1", "a", "b", 0, always()),
			},
		},
	}
	out := OutgoingBranches(wf, "a")
	require.Len(t, out, 3)
	// Priority first, then destination position in the step list.
	assert.Equal(t, "e1", out[0].ID)
	assert.Equal(t, "e2", out[1].ID)
	assert.Equal(t, "e3", out[2].ID)
}

func TestResolveNextStepID(t *testing.T) {
	wf := &types.Workflow{
		Steps: makeSteps("s1", "s2", "s3"),
		Graph: &types.PlanGraph{
			EntryStepID: "s1",
			Branches: []types.ConditionalBranch{
				edge("e1", "s1", "s2", 0, types.BranchCondition{
					Path: "current.data.status", Operator: types.OpStringEquals, Operand: "failed",
				}),
				edge("e2", "s1", "s3", 1, always()),
			},
		},
	}

	t.Run("first matching branch wins", func(t *testing.T) {
		outputs := map[string]map[string]any{
			"s1": {"data": map[string]any{"status": "failed"}},
		}
		assert.Equal(t, "s2", ResolveNextStepID(wf, "s1", outputs, nil))
	})

	t.Run("falls through to lower-priority always edge", func(t *testing.T) {
		outputs := map[string]map[string]any{
			"s1": {"data": map[string]any{"status": "ok"}},
		}
		assert.Equal(t, "s3", ResolveNextStepID(wf, "s1", outputs, nil))
	})

	t.Run("no matching branch terminates", func(t *testing.T) {
		noAlways := &types.Workflow{
			Steps: makeSteps("s1", "s2"),
			Graph: &types.PlanGraph{
				EntryStepID: "s1",
				Branches: []types.ConditionalBranch{
					edge("e1", "s1", "s2", 0, types.BranchCondition{
						Path: "current.data.status", Operator: types.OpStringEquals, Operand: "failed",
					}),
				},
			},
		}
		assert.Equal(t, "", ResolveNextStepID(noAlways, "s1", map[string]map[string]any{}, nil))
	})

	t.Run("nil graph uses list order", func(t *testing.T) {
		linear := &types.Workflow{Steps: makeSteps("s1", "s2", "s3")}
		assert.Equal(t, "s2", ResolveNextStepID(linear, "s1", nil, nil))
		assert.Equal(t, "", ResolveNextStepID(linear, "s3", nil, nil))
	})
}

func TestTraversePlanGraph(t *testing.T) {
	t.Run("previews full linear path", func(t *testing.T) {
		steps := makeSteps("s1", "s2", "s3")
		wf := &types.Workflow{Steps: steps, Graph: BuildLinearPlanGraph(steps)}
		path := TraversePlanGraph(wf, nil, nil, 10)
		assert.Equal(t, []string{"s1", "s2", "s3"}, path)
	})

	t.Run("halts on cyclic routing without raising", func(t *testing.T) {
		wf := &types.Workflow{
			Steps: makeSteps("s1", "s2"),
			Graph: &types.PlanGraph{
				EntryStepID: "s1",
				Branches: []types.ConditionalBranch{
					edge("e1", "s1", "s2", 0, always()),
					edge("e2", "s2", "s1", 0, always()),
				},
			},
		}
		path := TraversePlanGraph(wf, nil, nil, 100)
		assert.Equal(t, []string{"s1", "s2"}, path)
	})

	t.Run("empty workflow yields nil", func(t *testing.T) {
		assert.Nil(t, TraversePlanGraph(&types.Workflow{}, nil, nil, 10))
	})
}

func TestComposeBranchContext(t *testing.T) {
	outputs := map[string]map[string]any{
		"s1": {"data": map[string]any{"k": "v"}},
	}
	root := map[string]any{"trigger": "manual"}
	ctx := ComposeBranchContext("s1", outputs, root)
	assert.Equal(t, "manual", ctx["trigger"])
	assert.Equal(t, outputs["s1"], ctx["s1"])
	assert.Equal(t, outputs["s1"], ctx["current"])
}
