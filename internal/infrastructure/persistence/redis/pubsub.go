package redis

import (
	"context"
	"fmt"

	"github.com/habitquest/progression-engine/internal/infrastructure/messaging"
)

// PubSub implements messaging.RedisClient on the cache's connection.
type PubSub struct {
	cache *Cache
}

// NewPubSub creates a Pub/Sub transport.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{cache: cache}
}

// Publish implements messaging.RedisClient.
func (p *PubSub) Publish(ctx context.Context, channel, message string) error {
	if err := p.cache.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements messaging.RedisClient. It returns once the server has
// confirmed the subscription. The channel closes when the returned close
// function is called or ctx ends.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, func() error, error) {
	sub := p.cache.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan messaging.RedisMessage)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close, nil
}
