package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// RedisSink publishes each envelope to a Redis pub/sub channel,
// letting external dashboards or notifiers subscribe to run activity
// without touching the Run Ledger's storage directly.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink wraps an already-configured *redis.Client.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, env *contracts.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis sink: failed to marshal envelope: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("redis sink: publish failed: %w", err)
	}
	return nil
}
