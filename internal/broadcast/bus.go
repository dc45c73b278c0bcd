// Package broadcast fans values out to any number of subscribers without
// ever blocking the publisher.
//
// Each subscriber owns a bounded queue. When a queue is full the oldest
// queued value is discarded to make room, so a slow consumer always sees
// the most recent values and never holds producers back.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBuffer is the queue length used when Subscribe is given n <= 0.
const DefaultBuffer = 64

var (
	// ErrClosed is returned when subscribing to a closed bus.
	ErrClosed = errors.New("broadcast: bus is closed")
	// ErrNotFound is returned when unsubscribing an unknown id.
	ErrNotFound = errors.New("broadcast: subscription not found")
)

// Bus distributes values of type T to subscribers.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription[T]
	closed bool

	published atomic.Uint64
}

// Subscription is one consumer's queue.
type Subscription[T any] struct {
	id  string
	bus *Bus[T]
	ch  chan T
	// mu serialises the drop-then-send sequence between publishers.
	mu        sync.Mutex
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Stats is a point-in-time view of bus counters.
type Stats struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers map[string]SubscriberStats
}

// SubscriberStats holds one subscriber's counters.
type SubscriberStats struct {
	Delivered uint64
	Dropped   uint64
	Queued    int
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[string]*Subscription[T])}
}

// Subscribe registers a consumer with a queue of n values.
func (b *Bus[T]) Subscribe(n int) (*Subscription[T], error) {
	if n <= 0 {
		n = DefaultBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &Subscription[T]{id: uuid.NewString(), bus: b, ch: make(chan T, n)}
	b.subs[s.id] = s
	return s, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return ErrNotFound
	}
	delete(b.subs, id)
	close(s.ch)
	return nil
}

// Publish offers v to every subscriber and returns how many older values
// were discarded to make room. Publishing on a closed bus is a no-op.
func (b *Bus[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	b.published.Add(1)
	dropped := 0
	for _, s := range b.subs {
		if s.offer(v) {
			dropped++
		}
	}
	return dropped
}

// offer enqueues v, evicting the oldest queued value when full.
func (s *Subscription[T]) offer(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- v:
		s.delivered.Add(1)
		return false
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- v:
		s.delivered.Add(1)
	default:
	}
	s.dropped.Add(1)
	return true
}

// Len reports the number of live subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats returns a snapshot of bus and subscriber counters.
func (b *Bus[T]) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := Stats{Published: b.published.Load(), Subscribers: make(map[string]SubscriberStats, len(b.subs))}
	for id, s := range b.subs {
		ss := SubscriberStats{Delivered: s.delivered.Load(), Dropped: s.dropped.Load(), Queued: len(s.ch)}
		st.Delivered += ss.Delivered
		st.Dropped += ss.Dropped
		st.Subscribers[id] = ss
	}
	return st
}

// Close closes every subscriber channel. Later Publish calls are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}

// ID identifies the subscription on its bus.
func (s *Subscription[T]) ID() string { return s.id }

// C is the receive side of the queue. It is closed on Unsubscribe or when
// the bus closes.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Dropped is how many values this subscriber lost to overflow.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. Closing twice, or after the bus closed, is harmless.
func (s *Subscription[T]) Close() {
	_ = s.bus.Unsubscribe(s.id)
}
