package metrics

import (
	"sync"
	"time"

	"perfd/internal/clock"
	"perfd/internal/device"
)

// Retention horizons. Each counter prunes to its own horizon on write.
const (
	FrameRetention     = 60 * time.Second
	CurrentRateWindow  = time.Second
	InferenceRetention = time.Hour
	MemoryRetention    = time.Hour
	ThermalRetention   = time.Hour
	CacheRetention     = time.Hour
	BatteryRetention   = 8 * time.Hour
)

// FrameCounter tracks rendered and dropped UI frames.
type FrameCounter struct {
	mu     sync.Mutex
	clk    clock.Clock
	frames window[bool] // true = dropped
}

// FrameStats aggregates a frame window.
type FrameStats struct {
	Frames     int
	Dropped    int
	AverageFPS float64
	// PeakFPS and MinFPS are taken over whole one-second buckets.
	PeakFPS float64
	MinFPS  float64
}

func NewFrameCounter(clk clock.Clock) *FrameCounter {
	return &FrameCounter{clk: clk, frames: newWindow[bool](FrameRetention)}
}

// Record counts one rendered frame.
func (c *FrameCounter) Record() { c.record(false) }

// RecordDropped counts one frame that missed its deadline.
func (c *FrameCounter) RecordDropped() { c.record(true) }

func (c *FrameCounter) record(dropped bool) {
	c.mu.Lock()
	c.frames.add(c.clk.Now(), dropped)
	c.mu.Unlock()
}

// CurrentFPS is the number of rendered frames in the last second.
func (c *FrameCounter) CurrentFPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.frames.within(c.clk.Now(), CurrentRateWindow) {
		if !s.v {
			n++
		}
	}
	return float64(n)
}

// Query aggregates the last d (clamped to FrameRetention).
func (c *FrameCounter) Query(d time.Duration) FrameStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	d = c.frames.effective(d)
	samples := c.frames.within(now, d)
	var st FrameStats
	if len(samples) == 0 {
		return st
	}
	buckets := make(map[int64]int)
	for _, s := range samples {
		if s.v {
			st.Dropped++
			continue
		}
		st.Frames++
		buckets[s.at.Unix()]++
	}
	st.AverageFPS = float64(st.Frames) / d.Seconds()
	first := true
	for _, n := range buckets {
		f := float64(n)
		if first || f > st.PeakFPS {
			st.PeakFPS = f
		}
		if first || f < st.MinFPS {
			st.MinFPS = f
		}
		first = false
	}
	return st
}

type inferenceEvent struct {
	latency time.Duration
	success bool
}

// InferenceCounter tracks analysis outcomes.
type InferenceCounter struct {
	mu     sync.Mutex
	clk    clock.Clock
	events window[inferenceEvent]
}

// InferenceStats aggregates an inference window. SuccessRate is 1.0 when
// the window is empty.
type InferenceStats struct {
	Count         int
	Failures      int
	RatePerSecond float64
	AvgLatency    time.Duration
	MaxLatency    time.Duration
	MinLatency    time.Duration
	SuccessRate   float64
}

func NewInferenceCounter(clk clock.Clock) *InferenceCounter {
	return &InferenceCounter{clk: clk, events: newWindow[inferenceEvent](InferenceRetention)}
}

func (c *InferenceCounter) Record(latency time.Duration, success bool) {
	c.mu.Lock()
	c.events.add(c.clk.Now(), inferenceEvent{latency: latency, success: success})
	c.mu.Unlock()
}

func (c *InferenceCounter) Query(d time.Duration) InferenceStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	d = c.events.effective(d)
	samples := c.events.within(c.clk.Now(), d)
	st := InferenceStats{SuccessRate: 1.0}
	if len(samples) == 0 {
		return st
	}
	var total time.Duration
	st.MinLatency = samples[0].v.latency
	for _, s := range samples {
		st.Count++
		if !s.v.success {
			st.Failures++
		}
		total += s.v.latency
		st.MaxLatency = max(st.MaxLatency, s.v.latency)
		st.MinLatency = min(st.MinLatency, s.v.latency)
	}
	st.AvgLatency = total / time.Duration(st.Count)
	st.RatePerSecond = float64(st.Count) / d.Seconds()
	st.SuccessRate = float64(st.Count-st.Failures) / float64(st.Count)
	return st
}

type memoryReading struct {
	used, total int64
}

// MemoryTracker records process/device memory readings.
type MemoryTracker struct {
	mu       sync.Mutex
	clk      clock.Clock
	readings window[memoryReading]
}

// MemoryStats aggregates a memory window.
type MemoryStats struct {
	Samples         int
	AvgUsed         int64
	MaxUsed         int64
	MinUsed         int64
	LatestUsed      int64
	LatestTotal     int64
	AvgUsagePercent float64
}

func NewMemoryTracker(clk clock.Clock) *MemoryTracker {
	return &MemoryTracker{clk: clk, readings: newWindow[memoryReading](MemoryRetention)}
}

func (t *MemoryTracker) Record(used, total int64) {
	t.mu.Lock()
	t.readings.add(t.clk.Now(), memoryReading{used: used, total: total})
	t.mu.Unlock()
}

func (t *MemoryTracker) Query(d time.Duration) MemoryStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	samples := t.readings.within(t.clk.Now(), t.readings.effective(d))
	var st MemoryStats
	if len(samples) == 0 {
		return st
	}
	var sum int64
	var pctSum float64
	pctN := 0
	st.MinUsed = samples[0].v.used
	for _, s := range samples {
		st.Samples++
		sum += s.v.used
		st.MaxUsed = max(st.MaxUsed, s.v.used)
		st.MinUsed = min(st.MinUsed, s.v.used)
		if s.v.total > 0 {
			pctSum += float64(s.v.used) / float64(s.v.total) * 100
			pctN++
		}
	}
	st.AvgUsed = sum / int64(st.Samples)
	if pctN > 0 {
		st.AvgUsagePercent = pctSum / float64(pctN)
	}
	last := samples[len(samples)-1].v
	st.LatestUsed, st.LatestTotal = last.used, last.total
	return st
}

// ThermalTracker records thermal state transitions as samples.
type ThermalTracker struct {
	mu       sync.Mutex
	clk      clock.Clock
	readings window[device.ThermalState]
}

// ThermalStats aggregates a thermal window. Empty windows report NOMINAL.
type ThermalStats struct {
	Samples int
	Current device.ThermalState
	Max     device.ThermalState
	// ThrottledPercent is the share of samples at MODERATE or worse.
	ThrottledPercent float64
}

func NewThermalTracker(clk clock.Clock) *ThermalTracker {
	return &ThermalTracker{clk: clk, readings: newWindow[device.ThermalState](ThermalRetention)}
}

func (t *ThermalTracker) Record(s device.ThermalState) {
	t.mu.Lock()
	t.readings.add(t.clk.Now(), s)
	t.mu.Unlock()
}

func (t *ThermalTracker) Query(d time.Duration) ThermalStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	samples := t.readings.within(t.clk.Now(), t.readings.effective(d))
	st := ThermalStats{Current: device.ThermalNominal, Max: device.ThermalNominal}
	if len(samples) == 0 {
		return st
	}
	throttled := 0
	for _, s := range samples {
		st.Samples++
		st.Max = max(st.Max, s.v)
		if s.v >= device.ThermalModerate {
			throttled++
		}
	}
	st.Current = samples[len(samples)-1].v
	st.ThrottledPercent = float64(throttled) / float64(st.Samples) * 100
	return st
}

type batteryReading struct {
	percent  float64
	charging bool
}

// BatteryTracker keeps the longest horizon of all counters.
type BatteryTracker struct {
	mu       sync.Mutex
	clk      clock.Clock
	readings window[batteryReading]
}

// BatteryStats aggregates a battery window. Empty windows report 100%.
type BatteryStats struct {
	Samples  int
	Latest   float64
	Min      float64
	Charging bool
	// DrainPerHour is the discharge rate in percentage points per hour
	// between the first and last reading, 0 while charging.
	DrainPerHour float64
}

func NewBatteryTracker(clk clock.Clock) *BatteryTracker {
	return &BatteryTracker{clk: clk, readings: newWindow[batteryReading](BatteryRetention)}
}

func (t *BatteryTracker) Record(percent float64, charging bool) {
	t.mu.Lock()
	t.readings.add(t.clk.Now(), batteryReading{percent: percent, charging: charging})
	t.mu.Unlock()
}

func (t *BatteryTracker) Query(d time.Duration) BatteryStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	samples := t.readings.within(t.clk.Now(), t.readings.effective(d))
	st := BatteryStats{Latest: 100, Min: 100}
	if len(samples) == 0 {
		return st
	}
	st.Samples = len(samples)
	for _, s := range samples {
		st.Min = min(st.Min, s.v.percent)
	}
	first, last := samples[0], samples[len(samples)-1]
	st.Latest = last.v.percent
	st.Charging = last.v.charging
	if elapsed := last.at.Sub(first.at).Hours(); elapsed > 0 && !last.v.charging {
		if drop := first.v.percent - last.v.percent; drop > 0 {
			st.DrainPerHour = drop / elapsed
		}
	}
	return st
}

// CacheCounter records cache lookups.
type CacheCounter struct {
	mu      sync.Mutex
	clk     clock.Clock
	lookups window[bool] // true = hit
}

// CacheStats aggregates lookups. HitRate is 0 when empty.
type CacheStats struct {
	Hits    int
	Misses  int
	HitRate float64
}

func NewCacheCounter(clk clock.Clock) *CacheCounter {
	return &CacheCounter{clk: clk, lookups: newWindow[bool](CacheRetention)}
}

func (c *CacheCounter) RecordHit()  { c.record(true) }
func (c *CacheCounter) RecordMiss() { c.record(false) }

func (c *CacheCounter) record(hit bool) {
	c.mu.Lock()
	c.lookups.add(c.clk.Now(), hit)
	c.mu.Unlock()
}

func (c *CacheCounter) Query(d time.Duration) CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var st CacheStats
	for _, s := range c.lookups.within(c.clk.Now(), c.lookups.effective(d)) {
		if s.v {
			st.Hits++
		} else {
			st.Misses++
		}
	}
	if n := st.Hits + st.Misses; n > 0 {
		st.HitRate = float64(st.Hits) / float64(n)
	}
	return st
}
