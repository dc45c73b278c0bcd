package device

import (
	"context"
	"sync"
	"time"
)

// Probe supplies raw device readings. Implementations must be cheap enough
// to call once per monitoring cycle and must report failures as
// ErrProbeUnavailable rather than panicking.
type Probe interface {
	DetectCapabilities(ctx context.Context) (CapabilitySnapshot, error)
	CurrentMemoryUsage() (int64, error)
	AvailableMemory() (int64, error)
}

// StaticProbe returns a configurable snapshot. It backs the config-driven
// device override and tests. Mutators replace the whole snapshot.
type StaticProbe struct {
	mu   sync.Mutex
	snap CapabilitySnapshot
	err  error
	now  func() time.Time
}

// NewStaticProbe returns a probe that always reports snap.
func NewStaticProbe(snap CapabilitySnapshot) *StaticProbe {
	return &StaticProbe{snap: snap, now: time.Now}
}

// SetClock overrides the timestamp source used for CapturedAt.
func (p *StaticProbe) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// Set replaces the reported snapshot.
func (p *StaticProbe) Set(snap CapabilitySnapshot) {
	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
}

// Update applies fn to a copy of the current snapshot and stores the result.
func (p *StaticProbe) Update(fn func(*CapabilitySnapshot)) {
	p.mu.Lock()
	s := p.snap
	fn(&s)
	p.snap = s
	p.mu.Unlock()
}

// Fail makes every subsequent call return err (nil restores normal behaviour).
func (p *StaticProbe) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *StaticProbe) DetectCapabilities(ctx context.Context) (CapabilitySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return CapabilitySnapshot{}, ErrProbeUnavailable("detect", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return CapabilitySnapshot{}, ErrProbeUnavailable("detect", p.err)
	}
	s := p.snap
	s.CapturedAt = p.now()
	return s, nil
}

func (p *StaticProbe) CurrentMemoryUsage() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, ErrProbeUnavailable("memory usage", p.err)
	}
	used := p.snap.TotalMemory - p.snap.AvailableMemory
	if used < 0 {
		used = 0
	}
	return used, nil
}

func (p *StaticProbe) AvailableMemory() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, ErrProbeUnavailable("available memory", p.err)
	}
	return p.snap.AvailableMemory, nil
}
