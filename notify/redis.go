package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisActivitySink appends activity events to a capped Redis stream,
// for operators tailing run activity across processes.
type RedisActivitySink struct {
	client    *redis.Client
	streamKey string
	maxLen    int64
	logger    *zap.Logger
}

// NewRedisActivitySink creates a stream-backed activity sink. maxLen
// caps the stream with approximate trimming; <=0 uses 10000.
func NewRedisActivitySink(client *redis.Client, streamKey string, maxLen int64, logger *zap.Logger) *RedisActivitySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if streamKey == "" {
		streamKey = "flowdeck:activity"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisActivitySink{
		client:    client,
		streamKey: streamKey,
		maxLen:    maxLen,
		logger:    logger.With(zap.String("component", "redis_activity_sink")),
	}
}

func (s *RedisActivitySink) Emit(ctx context.Context, event ActivityEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode activity event: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{"event": raw},
	}).Err()
	if err != nil {
		return fmt.Errorf("append activity event: %w", err)
	}
	return nil
}
