// Package bus provides synchronous in-process fan-out of orchestration
// events to telemetry subscribers.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/swarmhq/swarmd/pkg/swarm"
)

// Subscriber receives every published event. Subscribers run
// synchronously on the publisher's goroutine and are bounded by the bus
// deadline; a slow subscriber is cut off, never the mutation.
type Subscriber func(ctx context.Context, event swarm.Event)

// EventBus fans events out to subscribers. The subscriber list is
// copy-on-write: Subscribe replaces the slice under the lock, Publish
// reads it without holding the lock during dispatch.
type EventBus struct {
	mu          sync.Mutex
	subscribers []Subscriber
	deadline    time.Duration
}

// New creates a bus with the given per-subscriber deadline.
func New(deadline time.Duration) *EventBus {
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	return &EventBus{deadline: deadline}
}

// Subscribe registers a subscriber for all future events.
func (b *EventBus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]Subscriber, len(b.subscribers), len(b.subscribers)+1)
	copy(next, b.subscribers)
	b.subscribers = append(next, sub)
}

// Publish dispatches the event to every subscriber in registration
// order, each under the bus deadline.
func (b *EventBus) Publish(event swarm.Event) {
	b.mu.Lock()
	subs := b.subscribers
	b.mu.Unlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), b.deadline)
		sub(ctx, event)
		cancel()
	}
}
