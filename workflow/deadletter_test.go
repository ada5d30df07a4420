package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dantwoashim/flowdeck/store"
	"github.com/dantwoashim/flowdeck/types"
)

func TestDeadLetterAppendAndList(t *testing.T) {
	st := store.NewMemoryStore()
	q := NewDeadLetterQueue(st, 3, 0, nil)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	q.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := q.Append(ctx, types.DeadLetterEntry{
			WorkflowID: fmt.Sprintf("wf-%d", i),
			UserID:     "u-1",
			Reason:     "run timeout after 2m0s",
		})
		require.NoError(t, err)
	}

	entries, err := q.List(ctx, "u-1")
	require.NoError(t, err)
	// Capped at 3, oldest evicted.
	require.Len(t, entries, 3)
	// Newest first.
	assert.Equal(t, "wf-4", entries[0].WorkflowID)
	assert.Equal(t, "wf-3", entries[1].WorkflowID)
	assert.Equal(t, "wf-2", entries[2].WorkflowID)
	for _, e := range entries {
		assert.Equal(t, types.DeadLetterPending, e.Status)
		assert.NotEmpty(t, e.ID)
	}
}

func TestDeadLetterRetryLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	q := NewDeadLetterQueue(st, 0, 0, nil)
	ctx := context.Background()

	entry, err := q.Append(ctx, types.DeadLetterEntry{WorkflowID: "wf-1", UserID: "u-1", Reason: "worker panic"})
	require.NoError(t, err)

	retried, err := q.MarkRetrying(ctx, "u-1", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeadLetterRetrying, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.False(t, retried.LastRetryAt.IsZero())

	retried, err = q.MarkRetrying(ctx, "u-1", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, retried.RetryCount)

	resolved, err := q.MarkResolved(ctx, "u-1", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeadLetterResolved, resolved.Status)

	// Resolved is terminal.
	_, err = q.MarkRetrying(ctx, "u-1", entry.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.CodeOf(err))

	_, err = q.MarkRetrying(ctx, "u-1", "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestDeadLetterEscalations(t *testing.T) {
	st := store.NewMemoryStore()
	q := NewDeadLetterQueue(st, 0, 15*time.Minute, nil)
	ctx := context.Background()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now.Add(-30 * time.Minute) }
	old, err := q.Append(ctx, types.DeadLetterEntry{WorkflowID: "wf-old", UserID: "u-1", Reason: "stalled"})
	require.NoError(t, err)

	q.now = func() time.Time { return now.Add(-5 * time.Minute) }
	_, err = q.Append(ctx, types.DeadLetterEntry{WorkflowID: "wf-new", UserID: "u-1", Reason: "stalled"})
	require.NoError(t, err)

	q.now = func() time.Time { return now }
	escalations, err := q.Escalations(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, old.ID, escalations[0].ID)

	// Escalation queries never mutate state.
	entries, err := q.List(ctx, "u-1")
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, types.DeadLetterPending, e.Status)
	}

	t.Run("resolved entries never escalate", func(t *testing.T) {
		_, err := q.MarkResolved(ctx, "u-1", old.ID)
		require.NoError(t, err)
		escalations, err := q.Escalations(ctx, "u-1")
		require.NoError(t, err)
		assert.Empty(t, escalations)
	})
}
