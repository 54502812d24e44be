package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// Compile-time check that EventBus implements domain.EventBus.
var _ domain.EventBus = (*EventBus)(nil)

// EventBus is an in-process pub/sub. Slow subscribers drop messages rather
// than block publishers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string][]chan []byte)}
}

func (b *EventBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that receives payloads until ctx is done.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, c := range list {
			if c == ch {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}
