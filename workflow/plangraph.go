package workflow

import (
	"fmt"
	"sort"

	"github.com/dantwoashim/flowdeck/types"
)

// BuildLinearPlanGraph chains each step to the next with an always-true
// edge, for planners that do not need branching.
func BuildLinearPlanGraph(steps []types.Step) *types.PlanGraph {
	graph := &types.PlanGraph{}
	if len(steps) == 0 {
		return graph
	}
	graph.EntryStepID = steps[0].ID
	for i := 0; i < len(steps)-1; i++ {
		graph.Branches = append(graph.Branches, types.ConditionalBranch{
			ID:         fmt.Sprintf("edge-%d", i),
			FromStepID: steps[i].ID,
			ToStepID:   steps[i+1].ID,
			Label:      "next",
			Priority:   i,
			Condition:  types.BranchCondition{Path: types.AlwaysPath},
		})
	}
	return graph
}

// EnsurePlanGraph returns a sanitized copy of the workflow's plan graph:
// edges referencing step ids absent from the current step list are
// dropped, and an invalid entry id falls back to the first step. The
// stored workflow is never mutated. A workflow without a stored graph
// yields a branchless graph rooted at the first step.
func EnsurePlanGraph(wf *types.Workflow) types.PlanGraph {
	sanitized := types.PlanGraph{}
	if len(wf.Steps) == 0 {
		return sanitized
	}
	known := make(map[string]bool, len(wf.Steps))
	for _, s := range wf.Steps {
		known[s.ID] = true
	}
	if wf.Graph != nil {
		sanitized.EntryStepID = wf.Graph.EntryStepID
		for _, b := range wf.Graph.Branches {
			if known[b.FromStepID] && known[b.ToStepID] {
				sanitized.Branches = append(sanitized.Branches, b)
			}
		}
	}
	if !known[sanitized.EntryStepID] {
		sanitized.EntryStepID = wf.Steps[0].ID
	}
	return sanitized
}

// DetectCycle runs a depth-first search over the sanitized adjacency and
// reports whether a cycle exists. When it does, the returned path is the
// concrete closed loop of step ids (first element equals last) for
// diagnostics.
func DetectCycle(wf *types.Workflow) (bool, []string) {
	graph := EnsurePlanGraph(wf)
	adjacency := buildAdjacency(wf, graph)

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(wf.Steps))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = inStack
		stack = append(stack, id)
		for _, next := range adjacency[id] {
			switch state[next] {
			case inStack:
				// Close the loop from the first occurrence of next.
				start := 0
				for i, v := range stack {
					if v == next {
						start = i
						break
					}
				}
				cycle := append([]string{}, stack[start:]...)
				return append(cycle, next)
			case unvisited:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}
		state[id] = done
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, step := range wf.Steps {
		if state[step.ID] != unvisited {
			continue
		}
		stack = stack[:0]
		if cycle := visit(step.ID); cycle != nil {
			return true, cycle
		}
	}
	return false, nil
}

// TopologicalSort orders the workflow's steps with Kahn's algorithm over
// the sanitized graph, breaking ties by original step order. A detected
// cycle or an order shorter than the step count is a planning invariant
// violation and returns a fatal graph-integrity error, never a silently
// repaired order.
func TopologicalSort(wf *types.Workflow) ([]types.Step, error) {
	if hasCycle, path := DetectCycle(wf); hasCycle {
		return nil, types.NewErrorf(types.ErrGraphCycle, "plan graph contains a cycle: %v", path)
	}
	graph := EnsurePlanGraph(wf)
	adjacency := buildAdjacency(wf, graph)

	indegree := make(map[string]int, len(wf.Steps))
	for _, step := range wf.Steps {
		indegree[step.ID] = 0
	}
	for _, targets := range adjacency {
		for _, to := range targets {
			indegree[to]++
		}
	}

	placed := make(map[string]bool, len(wf.Steps))
	order := make([]types.Step, 0, len(wf.Steps))
	for len(order) < len(wf.Steps) {
		progressed := false
		// Scanning the original list each round keeps ties stable.
		for _, step := range wf.Steps {
			if placed[step.ID] || indegree[step.ID] != 0 {
				continue
			}
			placed[step.ID] = true
			order = append(order, step)
			for _, to := range adjacency[step.ID] {
				indegree[to]--
			}
			progressed = true
			break
		}
		if !progressed {
			break
		}
	}
	if len(order) != len(wf.Steps) {
		return nil, types.NewErrorf(types.ErrGraphDisconnected,
			"topological order covers %d of %d steps", len(order), len(wf.Steps))
	}
	return order, nil
}

// buildAdjacency flattens branches into a from -> []to map with duplicate
// (from, to) pairs collapsed, so parallel conditional edges do not skew
// indegree counting.
func buildAdjacency(wf *types.Workflow, graph types.PlanGraph) map[string][]string {
	adjacency := make(map[string][]string, len(wf.Steps))
	seen := make(map[string]bool)
	for _, b := range graph.Branches {
		key := b.FromStepID + "\x00" + b.ToStepID
		if seen[key] {
			continue
		}
		seen[key] = true
		adjacency[b.FromStepID] = append(adjacency[b.FromStepID], b.ToStepID)
	}
	return adjacency
}

// OutgoingBranches lists the sanitized edges leaving a step, sorted by
// ascending priority, then by the destination step's position in the step
// list, then by edge id. The order is total and deterministic.
func OutgoingBranches(wf *types.Workflow, stepID string) []types.ConditionalBranch {
	graph := EnsurePlanGraph(wf)
	var out []types.ConditionalBranch
	for _, b := range graph.Branches {
		if b.FromStepID == stepID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		pi, pj := wf.StepIndex(out[i].ToStepID), wf.StepIndex(out[j].ToStepID)
		if pi != pj {
			return pi < pj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ComposeBranchContext merges the root context, the per-step outputs keyed
// by step id, and the current step's output aliased as "current" into the
// single map that branch conditions evaluate against.
func ComposeBranchContext(currentStepID string, outputs map[string]map[string]any, root map[string]any) map[string]any {
	ctx := make(map[string]any, len(root)+len(outputs)+1)
	for k, v := range root {
		ctx[k] = v
	}
	for stepID, out := range outputs {
		ctx[stepID] = out
	}
	if cur, ok := outputs[currentStepID]; ok {
		ctx["current"] = cur
	}
	return ctx
}

// ResolveNextStepID decides which step follows currentStepID. Without a
// stored plan graph it falls back to the next step in list order (or ""
// at the end). With a graph, outgoing branches are evaluated in sorted
// order and the first branch whose condition holds wins; this is a
// first-match policy, not highest-confidence. No matching branch returns
// "" — the graph terminates rather than raising.
func ResolveNextStepID(wf *types.Workflow, currentStepID string, outputs map[string]map[string]any, root map[string]any) string {
	if wf.Graph == nil {
		idx := wf.StepIndex(currentStepID)
		if idx < 0 || idx+1 >= len(wf.Steps) {
			return ""
		}
		return wf.Steps[idx+1].ID
	}
	ctx := ComposeBranchContext(currentStepID, outputs, root)
	for _, branch := range OutgoingBranches(wf, currentStepID) {
		if EvaluateCondition(branch.Condition, ctx) {
			return branch.ToStepID
		}
	}
	return ""
}

// TraversePlanGraph previews the full path of step ids that would execute
// from the entry, without side effects. Iteration is capped at
// max(maxDepth, 4 x step count) and halts at the first repeated node, so
// it terminates on cyclic or adversarial contexts without raising. This
// is deliberately tolerant of cycles, unlike TopologicalSort.
func TraversePlanGraph(wf *types.Workflow, outputs map[string]map[string]any, root map[string]any, maxDepth int) []string {
	graph := EnsurePlanGraph(wf)
	if graph.EntryStepID == "" {
		return nil
	}
	limit := maxDepth
	if floor := len(wf.Steps) * 4; limit < floor {
		limit = floor
	}
	var path []string
	visited := make(map[string]bool)
	current := graph.EntryStepID
	for i := 0; i < limit && current != ""; i++ {
		if visited[current] {
			break
		}
		visited[current] = true
		path = append(path, current)
		current = ResolveNextStepID(wf, current, outputs, root)
	}
	return path
}
