package manager

import "sync"

// Event represents a cache lifecycle event.
// Minimal and stable: name + item ID and optional fields via key/values.
type Event struct {
	Name   string
	ItemID string
	Fields map[string]any
}

// Event names published by the manager.
const (
	EventModelLoaded   = "model_loaded"
	EventModelHit      = "model_hit"
	EventModelUnloaded = "model_unloaded"
	EventEvicted       = "evicted"
	EventPressure      = "pressure_handled"
	EventLoadRejected  = "load_rejected"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic. Events are published
// after the manager lock is released.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Count returns how many events named name were published.
func (p *MemoryPublisher) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Name == name {
			n++
		}
	}
	return n
}
