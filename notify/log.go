package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/dantwoashim/flowdeck/types"
)

// LogActivitySink writes activity events to the structured log.
type LogActivitySink struct {
	logger *zap.Logger
}

// NewLogActivitySink creates a logging activity sink.
func NewLogActivitySink(logger *zap.Logger) *LogActivitySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogActivitySink{logger: logger.With(zap.String("component", "activity_sink"))}
}

func (s *LogActivitySink) Emit(ctx context.Context, event ActivityEvent) error {
	s.logger.Info("activity",
		zap.String("kind", string(event.Kind)),
		zap.String("user_id", event.UserID),
		zap.String("workflow_id", event.WorkflowID),
		zap.String("execution_id", event.ExecutionID),
		zap.String("message", event.Message),
	)
	return nil
}

// LogNotificationSink writes notifications to the structured log.
type LogNotificationSink struct {
	logger *zap.Logger
}

// NewLogNotificationSink creates a logging notification sink.
func NewLogNotificationSink(logger *zap.Logger) *LogNotificationSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationSink{logger: logger.With(zap.String("component", "notification_sink"))}
}

func (s *LogNotificationSink) Notify(ctx context.Context, n types.WorkflowNotification) error {
	s.logger.Info("notification",
		zap.String("kind", n.Kind),
		zap.String("user_id", n.UserID),
		zap.String("workflow_id", n.WorkflowID),
		zap.String("message", n.Message),
	)
	return nil
}

// LogKnowledgeSink records ingestions to the structured log.
type LogKnowledgeSink struct {
	logger *zap.Logger
}

// NewLogKnowledgeSink creates a logging knowledge sink.
func NewLogKnowledgeSink(logger *zap.Logger) *LogKnowledgeSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogKnowledgeSink{logger: logger.With(zap.String("component", "knowledge_sink"))}
}

func (s *LogKnowledgeSink) Ingest(ctx context.Context, userID, namespace, title, text string) error {
	s.logger.Info("knowledge ingest",
		zap.String("user_id", userID),
		zap.String("namespace", namespace),
		zap.String("title", title),
		zap.Int("text_len", len(text)),
	)
	return nil
}
