package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/warp/points-engine/loyalty"
)

// RedisPublisher publishes each notification as JSON on one channel.
// Subscribers filter on user_id or broadcast themselves.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedis connects using a redis:// URL.
func NewRedis(url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisPublisher{client: redis.NewClient(opts), channel: channel}, nil
}

// Ping checks connectivity at startup.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Publish(ctx context.Context, n loyalty.Notification) error {
	payload, err := json.Marshal(NewMessage(n))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
