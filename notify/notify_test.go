package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dantwoashim/flowdeck/types"
)

type captureSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (c *captureSink) Emit(ctx context.Context, event ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestRateLimitedActivitySink(t *testing.T) {
	ctx := context.Background()

	t.Run("drops beyond the burst without erroring", func(t *testing.T) {
		inner := &captureSink{}
		sink := NewRateLimitedActivitySink(inner, 1, 3, zaptest.NewLogger(t))

		for i := 0; i < 10; i++ {
			require.NoError(t, sink.Emit(ctx, ActivityEvent{Kind: EventWorkflowStarted, At: time.Now()}))
		}
		// The burst passes, the flood is dropped.
		assert.Equal(t, 3, inner.count())
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		inner := &captureSink{}
		sink := NewRateLimitedActivitySink(inner, 100, 1, nil)

		require.NoError(t, sink.Emit(ctx, ActivityEvent{Kind: EventWorkflowStarted}))
		require.NoError(t, sink.Emit(ctx, ActivityEvent{Kind: EventWorkflowCompleted}))
		assert.Equal(t, 1, inner.count())

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, sink.Emit(ctx, ActivityEvent{Kind: EventWorkflowCompleted}))
		assert.Equal(t, 2, inner.count())
	})

	t.Run("zero burst is clamped to one", func(t *testing.T) {
		inner := &captureSink{}
		sink := NewRateLimitedActivitySink(inner, 10, 0, nil)
		require.NoError(t, sink.Emit(ctx, ActivityEvent{Kind: EventWorkflowStarted}))
		assert.Equal(t, 1, inner.count())
	})
}

func TestRedisActivitySink(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisActivitySink(client, "flowdeck:activity", 100, nil)

	event := ActivityEvent{
		UserID:      "u-1",
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		Kind:        EventWorkflowCompleted,
		At:          time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, sink.Emit(ctx, event))

	entries, err := client.XRange(ctx, "flowdeck:activity", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, ok := entries[0].Values["event"].(string)
	require.True(t, ok)
	var decoded ActivityEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, event.Kind, decoded.Kind)
	assert.Equal(t, "wf-1", decoded.WorkflowID)
}

func TestLogSinksNeverError(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	assert.NoError(t, NewLogActivitySink(logger).Emit(ctx, ActivityEvent{Kind: EventWorkflowStarted, UserID: "u-1"}))
	assert.NoError(t, NewLogNotificationSink(logger).Notify(ctx, types.WorkflowNotification{UserID: "u-1", Kind: "completed"}))
	assert.NoError(t, NewLogKnowledgeSink(logger).Ingest(ctx, "u-1", "workflow/wf-1/run/exec-1", "Run summary", "3 unread"))
}

func TestNullSinks(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, NullActivitySink{}.Emit(ctx, ActivityEvent{}))
	assert.NoError(t, NullNotificationSink{}.Notify(ctx, types.WorkflowNotification{}))
	assert.NoError(t, NullKnowledgeSink{}.Ingest(ctx, "", "", "", ""))
}
