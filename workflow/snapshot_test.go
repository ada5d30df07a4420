package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dantwoashim/flowdeck/types"
)

var snapTakenAt = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

func snapshotFixture() *types.Workflow {
	steps := []types.Step{
		{ID: "s1", Title: "Fetch", Kind: types.StepKindConnector, Action: "connector.email.fetch_inbox"},
		{ID: "s2", Title: "Summarize", Kind: types.StepKindArtifact, Action: "artifact.write"},
	}
	return &types.Workflow{
		ID:      "wf-1",
		UserID:  "u-1",
		Name:    "inbox digest",
		Trigger: types.Trigger{Kind: types.TriggerSchedule, IntervalMS: 3_600_000},
		Steps:   steps,
		Graph:   BuildLinearPlanGraph(steps),
	}
}

func TestSnapshotWorkflow(t *testing.T) {
	wf := snapshotFixture()
	snap := SnapshotWorkflow(wf, snapTakenAt)
	assert.Equal(t, "wf-1", snap.WorkflowID)
	assert.Equal(t, []string{"email"}, snap.Connectors)
	assert.Equal(t, "s1", snap.EntryStepID)
	assert.Len(t, snap.Branches, 1)
	// The caller's clock stamps the snapshot, so records are deterministic.
	assert.Equal(t, snapTakenAt, snap.TakenAt)

	t.Run("blocked connectors are excluded", func(t *testing.T) {
		blocked := snapshotFixture()
		blocked.Policy = &types.Policy{BlockedConnectorIDs: []string{"email"}}
		assert.Empty(t, SnapshotWorkflow(blocked, snapTakenAt).Connectors)
	})
}

func TestDiffSnapshotsIdenticalIsEmpty(t *testing.T) {
	wf := snapshotFixture()
	diff := DiffSnapshots(SnapshotWorkflow(wf, snapTakenAt), SnapshotWorkflow(wf, snapTakenAt))
	assert.True(t, diff.Empty())
	assert.True(t, diff.Steps.Empty())
	assert.True(t, diff.Branches.Empty())
	assert.True(t, diff.Connectors.Empty())
	assert.True(t, diff.Settings.Empty())
}

func TestDiffSnapshotsCategories(t *testing.T) {
	before := SnapshotWorkflow(snapshotFixture(), snapTakenAt)

	t.Run("step add, remove, change", func(t *testing.T) {
		after := snapshotFixture()
		after.Steps[0].Title = "Fetch unread only"
		after.Steps = append(after.Steps[:1], types.Step{
			ID: "s3", Title: "Notify", Kind: types.StepKindConnector, Action: "connector.slack.send_message",
		})
		diff := DiffSnapshots(before, SnapshotWorkflow(after, snapTakenAt))
		assert.Equal(t, []string{"s3"}, diff.Steps.Added)
		assert.Equal(t, []string{"s2"}, diff.Steps.Removed)
		assert.Equal(t, []string{"s1"}, diff.Steps.Changed)
	})

	t.Run("step status changes are ignored", func(t *testing.T) {
		after := snapshotFixture()
		after.Steps[0].Status = types.StepStatusCompleted
		diff := DiffSnapshots(before, SnapshotWorkflow(after, snapTakenAt))
		assert.True(t, diff.Steps.Empty())
	})

	t.Run("branch rewiring", func(t *testing.T) {
		after := snapshotFixture()
		after.Graph.Branches[0].Priority = 5
		diff := DiffSnapshots(before, SnapshotWorkflow(after, snapTakenAt))
		require.Len(t, diff.Branches.Changed, 1)
	})

	t.Run("connector set", func(t *testing.T) {
		after := snapshotFixture()
		after.Steps[0].Action = "connector.gmail.fetch_inbox"
		diff := DiffSnapshots(before, SnapshotWorkflow(after, snapTakenAt))
		assert.Equal(t, []string{"gmail"}, diff.Connectors.Added)
		assert.Equal(t, []string{"email"}, diff.Connectors.Removed)
	})

	t.Run("settings scalars", func(t *testing.T) {
		after := snapshotFixture()
		after.Name = "inbox digest v2"
		after.Trigger.IntervalMS = 7_200_000
		diff := DiffSnapshots(before, SnapshotWorkflow(after, snapTakenAt))
		assert.Len(t, diff.Settings.Changed, 2)
	})

	t.Run("schedule advance alone is not a settings change", func(t *testing.T) {
		after := snapshotFixture()
		after.Trigger.NextRunAt = after.Trigger.NextRunAt.Add(1_000_000)
		diff := DiffSnapshots(before, SnapshotWorkflow(after, snapTakenAt))
		assert.True(t, diff.Settings.Empty())
	})
}
