// SPDX-License-Identifier: AGPL-3.0-only

// Package eventbus implements the process-wide broadcast bus of §4.8:
// bounded per-subscriber channels, non-blocking publish with a drop
// counter for slow consumers, grounded on
// bamboo-server/src/event_bus.rs's already-multi-subscriber
// tokio::sync::broadcast usage. Go has no native multi-consumer
// broadcast channel, so fan-out is an explicit subscriber registry
// under a mutex, publishing by non-blocking send-or-drop to each
// subscriber's own buffered channel.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// DefaultCapacity is the per-subscriber channel buffer size.
const DefaultCapacity = 64

// Subscription is a live subscriber's view of the bus: a channel of
// events and a running count of events dropped because the channel
// was full when published to.
type Subscription struct {
	Events <-chan chatmodel.Event

	ch      chan chatmodel.Event
	dropped atomic.Int64
	bus     *Bus
	id      uint64
}

// Dropped returns how many events this subscriber has missed due to
// backpressure. A climbing counter is the signal to the caller that
// it should resubscribe (or investigate why it's falling behind).
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Unsubscribe removes this subscription from the bus and closes its
// channel. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus is a broadcast publisher over a registry of subscriptions.
type Bus struct {
	capacity int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	closed    atomic.Bool
	published atomic.Int64
}

// New builds a Bus with the given per-subscriber buffer capacity (0
// uses DefaultCapacity).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{capacity: capacity, subs: map[uint64]*Subscription{}}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan chatmodel.Event, b.capacity)
	sub := &Subscription{Events: ch, ch: ch, bus: b, id: id}
	b.subs[id] = sub
	return sub
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish fans event out to every current subscriber. A subscriber
// whose buffer is full has the event dropped for it (never blocks the
// publisher and never blocks other subscribers).
func (b *Bus) Publish(event chatmodel.Event) {
	if b.closed.Load() {
		return
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Published returns the total number of events ever published.
func (b *Bus) Published() int64 { return b.published.Load() }

// SubscriberCount returns the number of currently live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes and closes every subscriber's channel, and marks
// the bus closed so further Publish calls are no-ops.
func (b *Bus) Close() {
	b.closed.Store(true)
	b.mu.Lock()
	subs := b.subs
	b.subs = map[uint64]*Subscription{}
	b.mu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
}
