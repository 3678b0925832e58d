// Package notify forwards committed vault events to external brokers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/MRamiBalles/vaultsim/server/internal/events"
)

// RedisStreamSink appends every event to a Redis stream, one entry per
// event, so downstream consumers can read with consumer groups.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink. maxLen <= 0 leaves the stream untrimmed.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string { return "redis-stream" }

func (s *RedisStreamSink) Publish(ctx context.Context, evts []events.VaultEvent) error {
	pipe := s.client.Pipeline()
	for _, e := range evts {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"vault_id":  e.VaultID,
				"type":      string(e.Type),
				"data":      string(data),
				"timestamp": time.Now().Unix(),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
