package notify

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitedActivitySink drops events beyond a sustained rate instead of
// letting a hot loop flood the downstream sink. Dropped events are
// counted in the log, never surfaced as errors.
type RateLimitedActivitySink struct {
	inner   ActivitySink
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimitedActivitySink wraps a sink with an events-per-second cap.
func NewRateLimitedActivitySink(inner ActivitySink, eventsPerSecond float64, burst int, logger *zap.Logger) *RateLimitedActivitySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedActivitySink{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
		logger:  logger.With(zap.String("component", "rate_limited_sink")),
	}
}

func (s *RateLimitedActivitySink) Emit(ctx context.Context, event ActivityEvent) error {
	if !s.limiter.Allow() {
		s.logger.Debug("activity event dropped by rate limit",
			zap.String("kind", string(event.Kind)),
			zap.String("workflow_id", event.WorkflowID),
		)
		return nil
	}
	return s.inner.Emit(ctx, event)
}
