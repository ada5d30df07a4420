package workflow

import (
	"fmt"
	"time"

	"github.com/dantwoashim/flowdeck/types"
)

// SnapshotWorkflow captures the change-tracked view of a workflow at the
// given instant: steps, branches, the effective connector set, and the
// settings scalars.
func SnapshotWorkflow(wf *types.Workflow, at time.Time) types.WorkflowSnapshot {
	policy := EffectivePolicy(wf)
	connectors := make([]string, 0, len(policy.AllowedConnectorIDs))
	for _, id := range policy.AllowedConnectorIDs {
		if !containsString(policy.BlockedConnectorIDs, id) {
			connectors = append(connectors, id)
		}
	}
	snapshot := types.WorkflowSnapshot{
		WorkflowID:  wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		Trigger:     wf.Trigger,
		Steps:       append([]types.Step{}, wf.Steps...),
		Connectors:  connectors,
		Budget:      policy.Budget.Clone(),
		TakenAt:     at,
	}
	if wf.Graph != nil {
		snapshot.EntryStepID = wf.Graph.EntryStepID
		snapshot.Branches = append([]types.ConditionalBranch{}, wf.Graph.Branches...)
	}
	return snapshot
}

// DiffSnapshots compares two snapshots across the four tracked
// categories. Diffing a snapshot against an identical one yields empty
// added/removed/changed lists everywhere.
func DiffSnapshots(before, after types.WorkflowSnapshot) types.WorkflowDiff {
	return types.WorkflowDiff{
		Steps:      diffSteps(before.Steps, after.Steps),
		Branches:   diffBranches(before.Branches, after.Branches),
		Connectors: diffConnectors(before.Connectors, after.Connectors),
		Settings:   diffSettings(before, after),
	}
}

func diffSteps(before, after []types.Step) types.CategoryDiff {
	var d types.CategoryDiff
	prev := make(map[string]types.Step, len(before))
	for _, s := range before {
		prev[s.ID] = s
	}
	next := make(map[string]types.Step, len(after))
	for _, s := range after {
		next[s.ID] = s
	}
	for _, s := range after {
		old, ok := prev[s.ID]
		if !ok {
			d.Added = append(d.Added, s.ID)
			continue
		}
		// Status is execution-owned, not a planning change.
		if old.Title != s.Title || old.Description != s.Description ||
			old.Kind != s.Kind || old.Action != s.Action || old.InputTemplate != s.InputTemplate {
			d.Changed = append(d.Changed, s.ID)
		}
	}
	for _, s := range before {
		if _, ok := next[s.ID]; !ok {
			d.Removed = append(d.Removed, s.ID)
		}
	}
	return d
}

func diffBranches(before, after []types.ConditionalBranch) types.CategoryDiff {
	var d types.CategoryDiff
	prev := make(map[string]types.ConditionalBranch, len(before))
	for _, b := range before {
		prev[b.ID] = b
	}
	next := make(map[string]types.ConditionalBranch, len(after))
	for _, b := range after {
		next[b.ID] = b
	}
	for _, b := range after {
		old, ok := prev[b.ID]
		if !ok {
			d.Added = append(d.Added, b.ID)
			continue
		}
		if old != b {
			d.Changed = append(d.Changed, b.ID)
		}
	}
	for _, b := range before {
		if _, ok := next[b.ID]; !ok {
			d.Removed = append(d.Removed, b.ID)
		}
	}
	return d
}

func diffConnectors(before, after []string) types.CategoryDiff {
	var d types.CategoryDiff
	prev := make(map[string]bool, len(before))
	for _, id := range before {
		prev[id] = true
	}
	next := make(map[string]bool, len(after))
	for _, id := range after {
		next[id] = true
	}
	for _, id := range after {
		if !prev[id] {
			d.Added = append(d.Added, id)
		}
	}
	for _, id := range before {
		if !next[id] {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}

func diffSettings(before, after types.WorkflowSnapshot) types.CategoryDiff {
	var d types.CategoryDiff
	change := func(field string, old, new any) {
		d.Changed = append(d.Changed, fmt.Sprintf("%s: %v -> %v", field, old, new))
	}
	if before.Name != after.Name {
		change("name", before.Name, after.Name)
	}
	if before.Description != after.Description {
		change("description", before.Description, after.Description)
	}
	// NextRunAt auto-advances after each run; like step status it is
	// execution-owned and excluded from change tracking.
	if before.Trigger.Kind != after.Trigger.Kind ||
		before.Trigger.IntervalMS != after.Trigger.IntervalMS ||
		before.Trigger.EventType != after.Trigger.EventType ||
		before.Trigger.EventKeyword != after.Trigger.EventKeyword {
		change("trigger", before.Trigger.Kind, after.Trigger.Kind)
	}
	if before.EntryStepID != after.EntryStepID {
		change("entry_step", before.EntryStepID, after.EntryStepID)
	}
	if !before.Budget.Equal(after.Budget) {
		change("budget", before.Budget, after.Budget)
	}
	return d
}
