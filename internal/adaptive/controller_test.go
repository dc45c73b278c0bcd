package adaptive

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"perfd/internal/clock"
	"perfd/internal/device"
	"perfd/internal/metrics"
)

var epoch0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func midSnapshot() device.CapabilitySnapshot {
	return device.CapabilitySnapshot{
		Tier:            device.TierMid,
		TotalMemory:     6 * gib,
		AvailableMemory: 4 * gib,
		CPUCores:        6,
		HasGPU:          true,
		ThermalState:    device.ThermalNominal,
		BatteryPercent:  80,
	}
}

func newTestController(t *testing.T, snap device.CapabilitySnapshot) (*Controller, *clock.FakeClock, *device.StaticProbe) {
	t.Helper()
	clk := clock.Fake(epoch0)
	probe := device.NewStaticProbe(snap)
	probe.SetClock(clk.Now)
	c := New(Config{Probe: probe, Clock: clk})
	if _, err := c.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return c, clk, probe
}

// sample returns a neutral history entry: full battery, nominal thermal.
func sample(mutate func(*metrics.Sample)) metrics.Sample {
	s := metrics.Sample{BatteryPercent: 100, SuccessRate: 1}
	if mutate != nil {
		mutate(&s)
	}
	return s
}

func observeN(c *Controller, n int, mutate func(*metrics.Sample)) {
	for i := 0; i < n; i++ {
		c.Observe(sample(mutate))
	}
}

func adapt(t *testing.T, c *Controller) PerformanceConfig {
	t.Helper()
	cfg, err := c.Adapt(context.Background())
	if err != nil {
		t.Fatalf("adapt: %v", err)
	}
	return cfg
}

func TestDeriveFromCapabilities(t *testing.T) {
	cfg := DeriveFromCapabilities(midSnapshot())
	if cfg.MaxConcurrentAnalyses != 2 || cfg.InferenceInterval != time.Second || cfg.UITargetFPS != 60 {
		t.Fatalf("mid config: %+v", cfg)
	}
	if cfg.MemoryThreshold != 6*gib/4 || !cfg.CachingEnabled || cfg.CacheCapacity != 50 || !cfg.PreloadingEnabled {
		t.Fatalf("mid config: %+v", cfg)
	}

	throttled := midSnapshot()
	throttled.ThermalThrottled = true
	if got := DeriveFromCapabilities(throttled).MaxConcurrentAnalyses; got != 1 {
		t.Fatalf("throttled concurrency %d", got)
	}

	low := DeriveFromCapabilities(device.CapabilitySnapshot{Tier: device.TierLow, BatteryOptimized: true})
	if low.InferenceInterval != 2*time.Second || low.MemoryThreshold != 512<<20 || low.UITargetFPS != 30 {
		t.Fatalf("low config: %+v", low)
	}
	if !low.LowPowerMode || low.PreloadingEnabled {
		t.Fatalf("low config flags: %+v", low)
	}

	high := DeriveFromCapabilities(device.CapabilitySnapshot{Tier: device.TierHigh})
	if high.MaxConcurrentAnalyses != 3 || high.InferenceInterval != 500*time.Millisecond || high.CacheCapacity != 100 {
		t.Fatalf("high config: %+v", high)
	}
}

func TestCurrentBeforeInit(t *testing.T) {
	c := New(Config{Probe: device.NewStaticProbe(midSnapshot())})
	if _, err := c.Current(); !IsNotInitialized(err) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, _, err := c.MaybeAdapt(context.Background()); !IsNotInitialized(err) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}

func TestMaybeAdaptRespectsEpoch(t *testing.T) {
	c, clk, _ := newTestController(t, midSnapshot())
	if _, ran, _ := c.MaybeAdapt(context.Background()); ran {
		t.Fatalf("adapted before epoch elapsed")
	}
	clk.Advance(DefaultEpoch)
	if _, ran, _ := c.MaybeAdapt(context.Background()); ran {
		t.Fatalf("adapted exactly at epoch boundary")
	}
	clk.Advance(time.Second)
	cfg, ran, err := c.MaybeAdapt(context.Background())
	if err != nil || !ran {
		t.Fatalf("expected adaptation: ran=%v err=%v", ran, err)
	}
	if cfg.Epoch != 2 || !cfg.ComputedAt.Equal(epoch0.Add(DefaultEpoch+time.Second)) {
		t.Fatalf("config bookkeeping: %+v", cfg)
	}
	if c.State() != StateStable {
		t.Fatalf("state %s after pass", c.State())
	}
}

func TestNoSamplesYieldsBase(t *testing.T) {
	c, _, _ := newTestController(t, midSnapshot())
	cfg := adapt(t, c)
	base := DeriveFromCapabilities(midSnapshot())
	if !cfg.Equivalent(base) || len(cfg.Adjustments) != 0 {
		t.Fatalf("got %+v want base %+v", cfg, base)
	}
}

func TestLowFPSCapWithHysteresis(t *testing.T) {
	c, _, _ := newTestController(t, midSnapshot())
	observeN(c, 10, func(s *metrics.Sample) { s.FPS = 40 })
	if cfg := adapt(t, c); cfg.MaxConcurrentAnalyses != 1 {
		t.Fatalf("expected cap at 40fps: %+v", cfg)
	}
	// 50fps clears the 48fps trigger but not the 54fps release.
	observeN(c, 10, func(s *metrics.Sample) { s.FPS = 50 })
	if cfg := adapt(t, c); cfg.MaxConcurrentAnalyses != 1 {
		t.Fatalf("cap released too early: %+v", cfg)
	}
	observeN(c, 10, func(s *metrics.Sample) { s.FPS = 55 })
	if cfg := adapt(t, c); cfg.MaxConcurrentAnalyses != 2 {
		t.Fatalf("cap not released at 55fps: %+v", cfg)
	}
}

func TestDroppedOnlyFramesCountAsLowFPS(t *testing.T) {
	c, _, _ := newTestController(t, midSnapshot())
	observeN(c, 10, func(s *metrics.Sample) { s.HaveFrames = true })
	cfg := adapt(t, c)
	if cfg.MaxConcurrentAnalyses != 1 || !slices.Contains(cfg.Adjustments, AdjustLowFPS) {
		t.Fatalf("stalled UI should cap concurrency: %+v", cfg)
	}
}

func TestConcurrencyRecoversAfterThrottle(t *testing.T) {
	snap := midSnapshot()
	snap.ThermalThrottled = true
	c, _, probe := newTestController(t, snap)
	if cfg, _ := c.Current(); cfg.MaxConcurrentAnalyses != 1 {
		t.Fatalf("throttled start: %+v", cfg)
	}
	probe.Update(func(s *device.CapabilitySnapshot) { s.ThermalThrottled = false })
	for i := 0; i < 5; i++ {
		observeN(c, 3, func(s *metrics.Sample) { s.FPS, s.HaveFrames = 60, true })
		cfg := adapt(t, c)
		if cfg.MaxConcurrentAnalyses != 2 || len(cfg.Adjustments) != 0 {
			t.Fatalf("epoch %d after recovery: %+v", i, cfg)
		}
	}
}

func TestThroughputLevelResetsWhenReportsStop(t *testing.T) {
	snap := midSnapshot()
	snap.Tier = device.TierHigh
	c, _, _ := newTestController(t, snap)
	observeN(c, 10, func(s *metrics.Sample) { s.ThroughputRatio = 0.5 })
	if cfg := adapt(t, c); cfg.MaxConcurrentAnalyses != 2 {
		t.Fatalf("throughput down: %+v", cfg)
	}
	observeN(c, 10, nil)
	if cfg := adapt(t, c); cfg.MaxConcurrentAnalyses != 3 || len(cfg.Adjustments) != 0 {
		t.Fatalf("without reports the tier default should return: %+v", cfg)
	}
}

func TestThermalRules(t *testing.T) {
	c, _, _ := newTestController(t, midSnapshot())
	observeN(c, 10, func(s *metrics.Sample) { s.Thermal = device.ThermalModerate })
	cfg := adapt(t, c)
	if cfg.MaxConcurrentAnalyses != 1 || cfg.InferenceInterval != 1500*time.Millisecond {
		t.Fatalf("moderate: %+v", cfg)
	}
	if cfg.PreloadingEnabled || !cfg.LowPowerMode {
		t.Fatalf("moderate flags: %+v", cfg)
	}
	observeN(c, 1, func(s *metrics.Sample) { s.Thermal = device.ThermalCritical })
	if cfg := adapt(t, c); cfg.InferenceInterval != 2*time.Second {
		t.Fatalf("severe interval: %v", cfg.InferenceInterval)
	}
}

func TestMemoryAndBatteryRules(t *testing.T) {
	c, _, _ := newTestController(t, midSnapshot())
	observeN(c, 10, func(s *metrics.Sample) {
		s.MemoryUsed, s.MemoryTotal = 70, 100
		s.BatteryPercent = 15
	})
	cfg := adapt(t, c)
	if cfg.PreloadingEnabled {
		t.Fatalf("preloading should stop at 70%% memory")
	}
	if !cfg.LowPowerMode {
		t.Fatalf("low battery should force low power")
	}
	if cfg.MaxConcurrentAnalyses != 2 {
		t.Fatalf("memory and battery must not touch concurrency: %+v", cfg)
	}
}

func TestThroughputOscillationInsideBandNeverThrashes(t *testing.T) {
	snap := midSnapshot()
	snap.Tier = device.TierHigh
	c, _, _ := newTestController(t, snap)
	ratios := []float64{0.9, 1.1, 0.86, 1.14, 0.95, 1.05, 0.88, 1.12}
	prev := -1
	for i, r := range ratios {
		observeN(c, 10, func(s *metrics.Sample) { s.ThroughputRatio = r })
		cfg := adapt(t, c)
		if prev != -1 && cfg.MaxConcurrentAnalyses != prev {
			t.Fatalf("epoch %d: concurrency moved %d -> %d at ratio %.2f", i, prev, cfg.MaxConcurrentAnalyses, r)
		}
		prev = cfg.MaxConcurrentAnalyses
	}
	if prev != 3 {
		t.Fatalf("concurrency %d want tier default 3", prev)
	}
}

func TestThroughputStepsOutsideBand(t *testing.T) {
	snap := midSnapshot()
	snap.Tier = device.TierHigh
	c, _, _ := newTestController(t, snap)
	steps := []struct {
		ratio     float64
		degrading bool
		want      int
	}{
		{0.5, false, 2},
		{0.5, false, 1},
		{0.5, false, 1},
		{1.0, false, 1},
		{1.3, true, 1},
		{1.3, false, 2},
		{1.3, false, 3},
		{1.3, false, 3},
	}
	for i, st := range steps {
		observeN(c, 10, func(s *metrics.Sample) {
			s.ThroughputRatio = st.ratio
			s.StabilityDegrading = st.degrading
		})
		if cfg := adapt(t, c); cfg.MaxConcurrentAnalyses != st.want {
			t.Fatalf("step %d: concurrency %d want %d", i, cfg.MaxConcurrentAnalyses, st.want)
		}
	}
}

func TestProbeFailureKeepsLastConfig(t *testing.T) {
	c, _, probe := newTestController(t, midSnapshot())
	before, _ := c.Current()
	probe.Fail(errors.New("sensor offline"))
	got, err := c.Adapt(context.Background())
	if !device.IsProbeUnavailable(err) {
		t.Fatalf("expected probe unavailable, got %v", err)
	}
	after, _ := c.Current()
	if after.Epoch != before.Epoch || got.Epoch != before.Epoch {
		t.Fatalf("config replaced on probe failure: before=%d after=%d", before.Epoch, after.Epoch)
	}
}

func TestPublishedConfigIsNotShared(t *testing.T) {
	c, _, _ := newTestController(t, midSnapshot())
	observeN(c, 10, func(s *metrics.Sample) { s.BatteryPercent = 5 })
	first := adapt(t, c)
	first.Adjustments[0] = "mutated"
	again, _ := c.Current()
	if again.Adjustments[0] == "mutated" {
		t.Fatalf("caller mutation leaked into the published config")
	}
}
