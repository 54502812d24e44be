package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// recentLimit is how many events per channel are kept for late subscribers.
const recentLimit = 200

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)

// EventBus implements domain.EventBus with Redis Pub/Sub, plus a capped list
// of recent payloads per channel so a reconnecting UI can catch up.
type EventBus struct {
	c *Client
}

// NewEventBus creates an EventBus backed by c.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{c: c}
}

// Publish sends payload to channel and records it in the recent list.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	recent := b.c.key("recent", channel)

	pipe := b.c.rdb.TxPipeline()
	pipe.Publish(ctx, channel, payload)
	pipe.LPush(ctx, recent, payload)
	pipe.LTrim(ctx, recent, 0, recentLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads that closes when ctx is done.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := b.c.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Recent returns up to n of the latest payloads on channel, newest first.
func (b *EventBus) Recent(ctx context.Context, channel string, n int) ([][]byte, error) {
	if n <= 0 || n > recentLimit {
		n = recentLimit
	}
	vals, err := b.c.rdb.LRange(ctx, b.c.key("recent", channel), 0, int64(n-1)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis: recent %s: %w", channel, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
