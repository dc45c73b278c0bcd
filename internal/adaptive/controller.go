package adaptive

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"perfd/internal/clock"
	"perfd/internal/device"
	"perfd/internal/metrics"
)

// Defaults applied when Config fields are unset.
const (
	DefaultEpoch   = 30 * time.Second
	DefaultHistory = 10
	DefaultBand    = 0.15
)

// Rule thresholds applied to the sample history.
const (
	fpsCapRatio       = 0.8
	fpsReleaseRatio   = 0.9
	memoryPreloadStop = 60.0
	lowBatteryPercent = 20.0
	moderateSlowdown  = 1.5
	severeSlowdown    = 2.0
)

// Adjustment names recorded in PerformanceConfig.Adjustments.
const (
	AdjustLowFPS         = "low_fps"
	AdjustThermal        = "thermal"
	AdjustMemory         = "memory"
	AdjustLowBattery     = "low_battery"
	AdjustThroughputDown = "throughput_down"
	AdjustThroughputUp   = "throughput_up"
	AdjustUnstable       = "switching_unstable"
)

// State is the controller's position in its epoch cycle.
type State int32

const (
	StateStable State = iota
	StateRecomputing
)

func (s State) String() string {
	if s == StateRecomputing {
		return "recomputing"
	}
	return "stable"
}

// Prober is the part of a device probe the controller needs.
type Prober interface {
	DetectCapabilities(ctx context.Context) (device.CapabilitySnapshot, error)
}

// Config configures a Controller.
type Config struct {
	Probe  Prober
	Clock  clock.Clock
	Logger *zerolog.Logger
	// Epoch is the minimum time between recomputations.
	Epoch time.Duration
	// History is how many recent samples feed each recomputation.
	History int
	// Band is the throughput tolerance around the target ratio of 1.0.
	Band float64
}

// Controller owns the current PerformanceConfig.
type Controller struct {
	probe   Prober
	clk     clock.Clock
	log     zerolog.Logger
	epoch   time.Duration
	history int
	band    float64

	current atomic.Pointer[PerformanceConfig]
	state   atomic.Int32

	// mu guards everything below and serialises recomputation.
	mu             sync.Mutex
	samples        []metrics.Sample
	snapshot       device.CapabilitySnapshot
	lastAdaptation time.Time
	fpsCapped      bool
	// concurrency is the throughput-driven level before caps apply; it only
	// moves when the throughput ratio leaves the band. ceiling is the base
	// level it was last derived against.
	concurrency int
	ceiling     int
	epochs      uint64
}

// New constructs a Controller. It publishes nothing until Init.
func New(cfg Config) *Controller {
	c := &Controller{
		probe:   cfg.Probe,
		clk:     cfg.Clock,
		epoch:   cfg.Epoch,
		history: cfg.History,
		band:    cfg.Band,
	}
	if c.clk == nil {
		c.clk = clock.Real()
	}
	if c.epoch <= 0 {
		c.epoch = DefaultEpoch
	}
	if c.history <= 0 {
		c.history = DefaultHistory
	}
	if c.band <= 0 {
		c.band = DefaultBand
	}
	if cfg.Logger != nil {
		c.log = cfg.Logger.With().Str("component", "adaptive").Logger()
	} else {
		c.log = zerolog.Nop()
	}
	return c
}

// Init probes the device and publishes the capability-derived config.
func (c *Controller) Init(ctx context.Context) (PerformanceConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.detect(ctx)
	if err != nil {
		return PerformanceConfig{}, err
	}
	base := DeriveFromCapabilities(snap)
	c.snapshot = snap
	c.concurrency = base.MaxConcurrentAnalyses
	c.ceiling = base.MaxConcurrentAnalyses
	c.fpsCapped = false
	c.samples = c.samples[:0]
	return c.publishLocked(base), nil
}

// Current returns the published config without blocking.
func (c *Controller) Current() (PerformanceConfig, error) {
	p := c.current.Load()
	if p == nil {
		return PerformanceConfig{}, ErrNotInitialized("current config")
	}
	return p.clone(), nil
}

// State reports whether a recomputation is in progress.
func (c *Controller) State() State { return State(c.state.Load()) }

// Snapshot returns the capability snapshot of the last successful probe.
func (c *Controller) Snapshot() device.CapabilitySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Observe appends a sample to the history, keeping the newest History.
func (c *Controller) Observe(s metrics.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
	if over := len(c.samples) - c.history; over > 0 {
		c.samples = append(c.samples[:0], c.samples[over:]...)
	}
}

// Due reports whether the current epoch has elapsed.
func (c *Controller) Due() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dueLocked()
}

func (c *Controller) dueLocked() bool {
	return c.clk.Now().Sub(c.lastAdaptation) > c.epoch
}

// MaybeAdapt recomputes when the epoch has elapsed. The bool reports
// whether a recomputation ran.
func (c *Controller) MaybeAdapt(ctx context.Context) (PerformanceConfig, bool, error) {
	if c.current.Load() == nil {
		return PerformanceConfig{}, false, ErrNotInitialized("adapt")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dueLocked() {
		return c.current.Load().clone(), false, nil
	}
	cfg, err := c.recomputeLocked(ctx)
	return cfg, true, err
}

// Adapt recomputes immediately regardless of the epoch.
func (c *Controller) Adapt(ctx context.Context) (PerformanceConfig, error) {
	if c.current.Load() == nil {
		return PerformanceConfig{}, ErrNotInitialized("adapt")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recomputeLocked(ctx)
}

// recomputeLocked runs one Stable -> Recomputing -> Stable pass. On probe
// failure the previous config stays published and is returned alongside
// the error.
func (c *Controller) recomputeLocked(ctx context.Context) (PerformanceConfig, error) {
	c.state.Store(int32(StateRecomputing))
	defer c.state.Store(int32(StateStable))

	prev := c.current.Load().clone()
	snap, err := c.detect(ctx)
	if err != nil {
		c.lastAdaptation = c.clk.Now()
		c.log.Warn().Err(err).Msg("capability probe failed; keeping config")
		return prev, err
	}
	c.snapshot = snap
	cfg := c.applyHistoryLocked(DeriveFromCapabilities(snap))
	out := c.publishLocked(cfg)
	if !out.Equivalent(prev) {
		c.log.Info().
			Uint64("epoch", out.Epoch).
			Int("concurrency", out.MaxConcurrentAnalyses).
			Dur("interval", out.InferenceInterval).
			Bool("preloading", out.PreloadingEnabled).
			Bool("low_power", out.LowPowerMode).
			Strs("adjustments", out.Adjustments).
			Msg("performance config changed")
	}
	return out, nil
}

func (c *Controller) detect(ctx context.Context) (device.CapabilitySnapshot, error) {
	if c.probe == nil {
		return device.CapabilitySnapshot{}, device.ErrProbeUnavailable("detect", nil)
	}
	snap, err := c.probe.DetectCapabilities(ctx)
	if err != nil {
		if device.IsProbeUnavailable(err) {
			return snap, err
		}
		return snap, device.ErrProbeUnavailable("detect", err)
	}
	return snap, nil
}

func (c *Controller) publishLocked(cfg PerformanceConfig) PerformanceConfig {
	c.epochs++
	cfg.Epoch = c.epochs
	cfg.ComputedAt = c.clk.Now()
	c.lastAdaptation = cfg.ComputedAt
	c.current.Store(&cfg)
	return cfg.clone()
}

func (c *PerformanceConfig) clone() PerformanceConfig {
	out := *c
	out.Adjustments = slices.Clone(c.Adjustments)
	return out
}

// history summarises the sample window.
type history struct {
	avgFPS        float64
	haveFPS       bool
	maxThermal    device.ThermalState
	avgMemoryPct  float64
	haveMemory    bool
	lastBattery   float64
	avgThroughput float64
	haveRatio     bool
	degrading     bool
}

func summarize(samples []metrics.Sample) history {
	var h history
	var fps, mem, ratio float64
	var nFPS, nMem, nRatio int
	h.lastBattery = 100
	for _, s := range samples {
		if s.HaveFrames || s.FPS > 0 {
			fps += s.FPS
			nFPS++
		}
		if s.MemoryTotal > 0 {
			mem += s.MemoryUsagePercent()
			nMem++
		}
		if s.ThroughputRatio > 0 {
			ratio += s.ThroughputRatio
			nRatio++
		}
		if s.Thermal > h.maxThermal {
			h.maxThermal = s.Thermal
		}
	}
	if n := len(samples); n > 0 {
		last := samples[n-1]
		h.lastBattery = last.BatteryPercent
		h.degrading = last.StabilityDegrading
	}
	if nFPS > 0 {
		h.avgFPS, h.haveFPS = fps/float64(nFPS), true
	}
	if nMem > 0 {
		h.avgMemoryPct, h.haveMemory = mem/float64(nMem), true
	}
	if nRatio > 0 {
		h.avgThroughput, h.haveRatio = ratio/float64(nRatio), true
	}
	return h
}

// applyHistoryLocked layers the history rules over base. With no samples
// base is returned unchanged. The throughput-driven level is only carried
// across epochs while throughput reports keep arriving and the base level
// is unchanged; otherwise it restarts from the base.
func (c *Controller) applyHistoryLocked(base PerformanceConfig) PerformanceConfig {
	cfg := base
	ceiling := base.MaxConcurrentAnalyses
	if c.concurrency <= 0 || c.concurrency > ceiling || ceiling != c.ceiling {
		c.concurrency = ceiling
	}
	c.ceiling = ceiling
	if len(c.samples) == 0 {
		c.concurrency = ceiling
		return cfg
	}
	h := summarize(c.samples)

	switch {
	case !h.haveRatio:
		c.concurrency = ceiling
	case h.avgThroughput < 1-c.band:
		if c.concurrency > 1 {
			c.concurrency--
			cfg.Adjustments = append(cfg.Adjustments, AdjustThroughputDown)
		}
	case h.avgThroughput > 1+c.band:
		if h.degrading {
			cfg.Adjustments = append(cfg.Adjustments, AdjustUnstable)
		} else if c.concurrency < ceiling {
			c.concurrency++
			cfg.Adjustments = append(cfg.Adjustments, AdjustThroughputUp)
		}
	}
	cfg.MaxConcurrentAnalyses = c.concurrency

	if h.haveFPS {
		target := float64(base.UITargetFPS)
		if c.fpsCapped {
			if h.avgFPS >= target*fpsReleaseRatio {
				c.fpsCapped = false
			}
		} else if h.avgFPS < target*fpsCapRatio {
			c.fpsCapped = true
		}
	}
	if c.fpsCapped {
		cfg.MaxConcurrentAnalyses = 1
		cfg.Adjustments = append(cfg.Adjustments, AdjustLowFPS)
	}

	hot := h.maxThermal >= device.ThermalModerate
	if hot {
		cfg.MaxConcurrentAnalyses = 1
		factor := moderateSlowdown
		if h.maxThermal >= device.ThermalSevere {
			factor = severeSlowdown
		}
		cfg.InferenceInterval = time.Duration(float64(cfg.InferenceInterval) * factor)
		cfg.PreloadingEnabled = false
		cfg.LowPowerMode = true
		cfg.Adjustments = append(cfg.Adjustments, AdjustThermal)
	}
	if h.haveMemory && h.avgMemoryPct >= memoryPreloadStop {
		cfg.PreloadingEnabled = false
		cfg.Adjustments = append(cfg.Adjustments, AdjustMemory)
	}
	if h.lastBattery < lowBatteryPercent {
		cfg.LowPowerMode = true
		cfg.Adjustments = append(cfg.Adjustments, AdjustLowBattery)
	}
	return cfg
}
