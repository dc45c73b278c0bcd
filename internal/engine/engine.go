// Package engine owns the device probe, metric counters, cache manager,
// backend tracker, adaptive controller and alert bus, and runs the periodic
// loop that ties them together.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"perfd/internal/adaptive"
	"perfd/internal/alert"
	"perfd/internal/backend"
	"perfd/internal/broadcast"
	"perfd/internal/clock"
	"perfd/internal/device"
	"perfd/internal/manager"
	"perfd/internal/metrics"
)

// Defaults applied when Config fields are unset.
const (
	DefaultMonitorInterval  = 5 * time.Second
	DefaultPressureCooldown = 30 * time.Second
	DefaultAdmissionWait    = 10 * time.Second
	DefaultAlertBuffer      = 64
	DefaultSampleBuffer     = 16
)

// Config configures an Engine.
type Config[M any] struct {
	Probe  device.Probe
	Clock  clock.Clock
	Logger *zerolog.Logger

	// MonitorInterval is the collection cadence of the monitoring loop.
	MonitorInterval time.Duration
	// AdaptationEpoch is the minimum time between config recomputations.
	AdaptationEpoch time.Duration
	History         int
	Band            float64

	// HoldOff protects recently used cache entries; negative disables it.
	HoldOff time.Duration
	// PressureCooldown is how long the loop waits before handling the same
	// pressure level again. Escalations are handled immediately.
	PressureCooldown time.Duration

	// InitialBackend is the backend assumed active until a switch is
	// recorded. Defaults to backend.Baseline.
	InitialBackend backend.ID
	// AutoSwitch lets the loop act on the tracker's switch advice.
	AutoSwitch bool

	AdmissionWait time.Duration
	AlertBuffer   int
	SampleBuffer  int

	// Release is called for model payloads evicted from the cache.
	Release   func(M)
	Observer  Observer
	Publisher manager.EventPublisher
}

// Engine is the performance core. The zero value is not usable; call New.
type Engine[M any, A any] struct {
	cfg      Config[M]
	clk      clock.Clock
	log      zerolog.Logger
	probe    device.Probe
	observer Observer

	metrics    *metrics.Set
	cache      *manager.Manager[M, A]
	tracker    *backend.Tracker
	controller *adaptive.Controller
	alerts     *alert.Bus
	samples    *broadcast.Bus[metrics.Sample]
	gate       *admission

	initialized atomic.Bool
	snapshot    atomic.Pointer[device.CapabilitySnapshot]
	lastSample  atomic.Pointer[metrics.Sample]
	alertsTotal atomic.Uint64

	// mu guards the lifecycle and loop bookkeeping below.
	mu             sync.Mutex
	task           *Task
	active         backend.ID
	lastPressure   device.PressureLevel
	lastPressureAt time.Time
}

// New wires an engine. Nothing is probed until Init.
func New[M any, A any](cfg Config[M]) *Engine[M, A] {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.PressureCooldown <= 0 {
		cfg.PressureCooldown = DefaultPressureCooldown
	}
	if cfg.AdmissionWait <= 0 {
		cfg.AdmissionWait = DefaultAdmissionWait
	}
	if cfg.AlertBuffer <= 0 {
		cfg.AlertBuffer = DefaultAlertBuffer
	}
	if cfg.SampleBuffer <= 0 {
		cfg.SampleBuffer = DefaultSampleBuffer
	}
	if cfg.InitialBackend == "" {
		cfg.InitialBackend = backend.Baseline
	}
	e := &Engine[M, A]{
		cfg:      cfg,
		clk:      cfg.Clock,
		probe:    cfg.Probe,
		observer: cfg.Observer,
		metrics:  metrics.NewSet(cfg.Clock),
		alerts:   alert.NewBus(),
		samples:  broadcast.New[metrics.Sample](),
		gate:     newAdmission(1),
		active:   cfg.InitialBackend,
	}
	if e.observer == nil {
		e.observer = NopObserver{}
	}
	if cfg.Logger != nil {
		e.log = cfg.Logger.With().Str("component", "engine").Logger()
	} else {
		e.log = zerolog.Nop()
	}
	e.tracker = backend.NewTracker(backend.Config{Clock: cfg.Clock, Logger: cfg.Logger})
	e.controller = adaptive.New(adaptive.Config{
		Probe:   cfg.Probe,
		Clock:   cfg.Clock,
		Logger:  cfg.Logger,
		Epoch:   cfg.AdaptationEpoch,
		History: cfg.History,
		Band:    cfg.Band,
	})
	mcfg := manager.ManagerConfig[M]{
		Pressure:  e.devicePressure,
		Release:   cfg.Release,
		HoldOff:   cfg.HoldOff,
		Clock:     cfg.Clock,
		Logger:    cfg.Logger,
		Publisher: cfg.Publisher,
	}
	if cfg.Probe != nil {
		mcfg.AvailableMemory = cfg.Probe.AvailableMemory
	}
	e.cache = manager.NewWithConfig[M, A](mcfg)
	return e
}

// devicePressure is the cache manager's pressure source. It reads the last
// snapshot only, so it is safe under the manager lock.
func (e *Engine[M, A]) devicePressure() device.PressureLevel {
	if s := e.snapshot.Load(); s != nil {
		return s.Pressure()
	}
	return device.PressureLow
}

// Init probes the device, publishes the first config and sizes the cache.
func (e *Engine[M, A]) Init(ctx context.Context) error {
	cfg, err := e.controller.Init(ctx)
	if err != nil {
		return err
	}
	snap := e.controller.Snapshot()
	e.snapshot.Store(&snap)
	e.applyConfig(cfg)
	e.initialized.Store(true)
	e.log.Info().
		Str("tier", snap.Tier.String()).
		Int64("total_memory", snap.TotalMemory).
		Int("cores", snap.CPUCores).
		Int64("budget", cfg.MemoryThreshold).
		Msg("engine initialized")
	return nil
}

// applyConfig pushes a published config into the cache and admission gate.
func (e *Engine[M, A]) applyConfig(cfg adaptive.PerformanceConfig) {
	e.cache.SetLimits(manager.Limits{
		BudgetBytes:    cfg.MemoryThreshold,
		CachingEnabled: cfg.CachingEnabled,
		CacheCapacity:  cfg.CacheCapacity,
		Tier:           cfg.Tier,
	})
	e.gate.setLimit(cfg.MaxConcurrentAnalyses)
	e.observer.ConfigChanged(cfg)
}

// Initialized reports whether Init has succeeded and Shutdown has not run.
func (e *Engine[M, A]) Initialized() bool { return e.initialized.Load() }

func (e *Engine[M, A]) ensureInit(op string) error {
	if !e.initialized.Load() {
		return adaptive.ErrNotInitialized(op)
	}
	return nil
}

// Shutdown stops monitoring, releases every cached payload and closes the
// alert and sample streams. The engine cannot be restarted afterwards.
func (e *Engine[M, A]) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.StopMonitoring()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.initialized.Store(false)
	e.cache.Clear()
	e.alerts.Close()
	e.samples.Close()
	e.log.Info().Msg("engine shut down")
	return nil
}

// CurrentConfig returns the published config without blocking.
func (e *Engine[M, A]) CurrentConfig() (adaptive.PerformanceConfig, error) {
	return e.controller.Current()
}

// Snapshot returns the most recent capability snapshot.
func (e *Engine[M, A]) Snapshot() (device.CapabilitySnapshot, bool) {
	s := e.snapshot.Load()
	if s == nil {
		return device.CapabilitySnapshot{}, false
	}
	return *s, true
}

// LastSample returns the sample of the most recent collection cycle.
func (e *Engine[M, A]) LastSample() (metrics.Sample, bool) {
	s := e.lastSample.Load()
	if s == nil {
		return metrics.Sample{}, false
	}
	return *s, true
}

// Summary aggregates the metric counters over window.
func (e *Engine[M, A]) Summary(window time.Duration) metrics.Summary {
	return e.metrics.Summary(window)
}

// BackendReport compares backends over window.
func (e *Engine[M, A]) BackendReport(window time.Duration) backend.Report {
	return e.tracker.Report(window)
}

// ActiveBackend is the backend the engine believes is in use.
func (e *Engine[M, A]) ActiveBackend() backend.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// CacheStats reports cache occupancy.
func (e *Engine[M, A]) CacheStats() manager.Stats { return e.cache.Stats() }

// SubscribeAlerts registers an alert consumer with a queue of n.
func (e *Engine[M, A]) SubscribeAlerts(n int) (*broadcast.Subscription[alert.Alert], error) {
	if n <= 0 {
		n = e.cfg.AlertBuffer
	}
	return e.alerts.Subscribe(n)
}

// SubscribeSamples registers a consumer of per-cycle samples.
func (e *Engine[M, A]) SubscribeSamples(n int) (*broadcast.Subscription[metrics.Sample], error) {
	if n <= 0 {
		n = e.cfg.SampleBuffer
	}
	return e.samples.Subscribe(n)
}

// Status is a point-in-time view of the whole engine.
type Status struct {
	Initialized    bool
	Monitoring     bool
	State          adaptive.State
	Config         adaptive.PerformanceConfig
	Snapshot       device.CapabilitySnapshot
	Pressure       device.PressureLevel
	ActiveBackend  backend.ID
	Cache          manager.Stats
	InFlight       int
	AdmissionLimit int
	AlertsRaised   uint64
	AlertsDropped  uint64
}

// Status gathers a Status. Fields are read independently and may be from
// slightly different instants.
func (e *Engine[M, A]) Status() Status {
	st := Status{
		Initialized:   e.initialized.Load(),
		State:         e.controller.State(),
		Pressure:      e.devicePressure(),
		Cache:         e.cache.Stats(),
		AlertsRaised:  e.alertsTotal.Load(),
		AlertsDropped: e.alerts.Stats().Dropped,
	}
	st.Config, _ = e.controller.Current()
	st.Snapshot, _ = e.Snapshot()
	st.InFlight, st.AdmissionLimit = e.gate.state()
	e.mu.Lock()
	st.Monitoring = e.task != nil
	st.ActiveBackend = e.active
	e.mu.Unlock()
	return st
}
