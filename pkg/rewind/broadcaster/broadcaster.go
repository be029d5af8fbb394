// Package broadcaster fans capture batches out to subscribers.
package broadcaster

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jamesainslie/rewind/pkg/rewind/capture"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 100

// Subscriber receives batches on Batches until it unsubscribes or the
// broadcaster closes.
type Subscriber struct {
	ID      string
	Batches chan capture.Batch

	// Initial controls whether the initial batch is delivered.
	Initial bool

	dropped atomic.Int64
}

// Dropped returns how many batches this subscriber missed because its
// channel was full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Broadcaster manages subscribers and distributes batches.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
}

// New creates a new Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber. It returns nil once the broadcaster is
// closed.
func (b *Broadcaster) Subscribe(initial bool) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:      uuid.New().String(),
		Batches: make(chan capture.Batch, DefaultBuffer),
		Initial: initial,
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Batches)
		delete(b.subscribers, id)
	}
}

// Publish sends batch to every subscriber without blocking. A subscriber
// whose channel is full misses the batch.
func (b *Broadcaster) Publish(batch capture.Batch) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if batch.Initial && !sub.Initial {
			continue
		}
		select {
		case sub.Batches <- batch:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close closes the broadcaster and all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Batches)
	}
	b.subscribers = make(map[string]*Subscriber)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
