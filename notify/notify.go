// Package notify defines the fire-and-forget collaborator sinks the
// engine emits into: activity events, user notifications, and knowledge
// ingestion. Sink failures are the sink's problem; the engine logs and
// moves on.
package notify

import (
	"context"
	"time"

	"github.com/dantwoashim/flowdeck/types"
)

// EventKind labels a lifecycle activity event.
type EventKind string

const (
	EventWorkflowStarted    EventKind = "workflow_started"
	EventWorkflowPaused     EventKind = "workflow_paused"
	EventWorkflowResumed    EventKind = "workflow_resumed"
	EventWorkflowCancelled  EventKind = "workflow_cancelled"
	EventWorkflowCompleted  EventKind = "workflow_completed"
	EventWorkflowFailed     EventKind = "workflow_failed"
	EventCheckpointRequired EventKind = "checkpoint_required"
	EventCheckpointResumed  EventKind = "checkpoint_resumed"
)

// ActivityEvent is one lifecycle transition emitted by the engine.
type ActivityEvent struct {
	UserID      string    `json:"user_id"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Kind        EventKind `json:"kind"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// ActivitySink receives lifecycle activity events.
type ActivitySink interface {
	Emit(ctx context.Context, event ActivityEvent) error
}

// NotificationSink receives user-facing notifications.
type NotificationSink interface {
	Notify(ctx context.Context, notification types.WorkflowNotification) error
}

// KnowledgeSink ingests a run's final artifact text, best-effort.
type KnowledgeSink interface {
	Ingest(ctx context.Context, userID, namespace, title, text string) error
}

// NullActivitySink discards events.
type NullActivitySink struct{}

func (NullActivitySink) Emit(ctx context.Context, event ActivityEvent) error { return nil }

// NullNotificationSink discards notifications.
type NullNotificationSink struct{}

func (NullNotificationSink) Notify(ctx context.Context, n types.WorkflowNotification) error {
	return nil
}

// NullKnowledgeSink discards ingestions.
type NullKnowledgeSink struct{}

func (NullKnowledgeSink) Ingest(ctx context.Context, userID, namespace, title, text string) error {
	return nil
}
