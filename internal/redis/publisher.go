package redisclient

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ChannelPublisher pushes notification payloads onto a redis pub/sub
// channel. Delivery beyond the channel is the notification service's
// problem.
type ChannelPublisher struct {
	client *redis.Client
}

func NewChannelPublisher(client *redis.Client) *ChannelPublisher {
	return &ChannelPublisher{client: client}
}

func (p *ChannelPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}
