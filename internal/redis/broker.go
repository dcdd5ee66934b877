package redisclient

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PubSubBroker publishes events on Redis channels. Subscribers use
// PSUBSCRIBE <exchange>.appointment.* to follow every lifecycle topic.
type PubSubBroker struct {
	client *redis.Client
}

func NewPubSubBroker(client *redis.Client) *PubSubBroker {
	return &PubSubBroker{client: client}
}

func (b *PubSubBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}
