package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perfd/internal/clock"
	"perfd/internal/device"
)

// Manager owns models of payload type M and analyses of type A.
type Manager[M any, A any] struct {
	mu  sync.Mutex
	clk clock.Clock
	log zerolog.Logger

	publisher       EventPublisher
	availableMemory func() (int64, error)
	pressure        func() device.PressureLevel
	release         func(M)

	budget         int64
	tier           device.Tier
	cachingEnabled bool
	cacheCapacity  int
	holdOff        time.Duration

	models   map[string]*LoadedModel[M]
	images   map[string]*CachedImage
	analyses map[string]*CachedAnalysis[A]

	modelBytes    int64
	imageBytes    int64
	analysisBytes int64

	loadsTotal     uint64
	evictionsTotal uint64
}

// New constructs a Manager with the given budget and package defaults.
func New[M any, A any](budgetBytes int64, tier device.Tier) *Manager[M, A] {
	return NewWithConfig[M, A](ManagerConfig[M]{BudgetBytes: budgetBytes, Tier: tier})
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig[M any, A any](cfg ManagerConfig[M]) *Manager[M, A] {
	m := &Manager[M, A]{
		clk:             cfg.Clock,
		publisher:       cfg.Publisher,
		availableMemory: cfg.AvailableMemory,
		pressure:        cfg.Pressure,
		release:         cfg.Release,
		budget:          cfg.BudgetBytes,
		tier:            cfg.Tier,
		cachingEnabled:  !cfg.DisableCaching,
		cacheCapacity:   cfg.CacheCapacity,
		holdOff:         cfg.HoldOff,
		models:          make(map[string]*LoadedModel[M]),
		images:          make(map[string]*CachedImage),
		analyses:        make(map[string]*CachedAnalysis[A]),
	}
	// Apply defaults if unset
	if m.clk == nil {
		m.clk = clock.Real()
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "cache").Logger()
	} else {
		m.log = zerolog.Nop()
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if m.cacheCapacity <= 0 {
		m.cacheCapacity = defaultCacheCapacity
	}
	if m.holdOff == 0 {
		m.holdOff = defaultHoldOff
	}
	if m.budget < 0 {
		m.budget = 0
	}
	return m
}

// effects collects work that must happen after the lock is released.
type effects[M any] struct {
	released []M
	events   []Event
}

func (fx *effects[M]) emit(name, id string, fields map[string]any) {
	fx.events = append(fx.events, Event{Name: name, ItemID: id, Fields: fields})
}

func (m *Manager[M, A]) flush(fx *effects[M]) {
	if m.release != nil {
		for _, p := range fx.released {
			m.release(p)
		}
	}
	for _, e := range fx.events {
		m.publisher.Publish(e)
	}
}

func (m *Manager[M, A]) usedLocked() int64 {
	return m.modelBytes + m.imageBytes + m.analysisBytes
}

func (m *Manager[M, A]) headroomLocked() int64 {
	h := m.budget - m.usedLocked()
	if h < 0 {
		return 0
	}
	return h
}

func (m *Manager[M, A]) pressureLocked() device.PressureLevel {
	if m.pressure != nil {
		return m.pressure()
	}
	return device.ClassifyPressure(m.headroomLocked(), m.budget)
}

// protectedLocked reports whether an entry last touched at lastAccess is
// inside the hold-off window. CRITICAL pressure ignores the window.
func (m *Manager[M, A]) protectedLocked(lastAccess, now time.Time, critical bool) bool {
	if critical || m.holdOff < 0 {
		return false
	}
	return now.Sub(lastAccess) < m.holdOff
}

// Budget returns the current budget in bytes.
func (m *Manager[M, A]) Budget() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budget
}

// Pressure returns the level the complexity gate currently sees.
func (m *Manager[M, A]) Pressure() device.PressureLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pressureLocked()
}
