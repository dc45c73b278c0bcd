package metrics

import (
	"time"

	"perfd/internal/clock"
	"perfd/internal/device"
)

// DefaultSummaryWindow is the window used by performance summaries.
const DefaultSummaryWindow = 10 * time.Minute

// Set groups the counters owned by one engine. Counters share nothing but
// the clock; readers may observe them at slightly different instants.
type Set struct {
	Frames    *FrameCounter
	Inference *InferenceCounter
	Memory    *MemoryTracker
	Thermal   *ThermalTracker
	Battery   *BatteryTracker
	Cache     *CacheCounter
}

// NewSet builds a full counter set on clk.
func NewSet(clk clock.Clock) *Set {
	return &Set{
		Frames:    NewFrameCounter(clk),
		Inference: NewInferenceCounter(clk),
		Memory:    NewMemoryTracker(clk),
		Thermal:   NewThermalTracker(clk),
		Battery:   NewBatteryTracker(clk),
		Cache:     NewCacheCounter(clk),
	}
}

// Summary is the cross-counter performance digest.
type Summary struct {
	Window                time.Duration
	AvgFPS                float64
	CacheHitRate          float64
	AnalysisSuccessRate   float64
	AnalysesPerMinute     float64
	AvgInferenceLatency   time.Duration
	MaxInferenceLatency   time.Duration
	AvgMemoryUsagePercent float64
	PeakMemoryUsed        int64
	MaxThermalState       device.ThermalState
	LatestBatteryPercent  float64
	BatteryDrainPerHour   float64
}

// Summary aggregates every counter over window. Missing data yields the
// neutral values: 0 FPS, 0 hit rate, 1.0 success rate, NOMINAL, 100%.
func (s *Set) Summary(window time.Duration) Summary {
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	fr := s.Frames.Query(window)
	inf := s.Inference.Query(window)
	mem := s.Memory.Query(window)
	th := s.Thermal.Query(window)
	bat := s.Battery.Query(window)
	ca := s.Cache.Query(window)
	return Summary{
		Window:                window,
		AvgFPS:                fr.AverageFPS,
		CacheHitRate:          ca.HitRate,
		AnalysisSuccessRate:   inf.SuccessRate,
		AnalysesPerMinute:     inf.RatePerSecond * 60,
		AvgInferenceLatency:   inf.AvgLatency,
		MaxInferenceLatency:   inf.MaxLatency,
		AvgMemoryUsagePercent: mem.AvgUsagePercent,
		PeakMemoryUsed:        mem.MaxUsed,
		MaxThermalState:       th.Max,
		LatestBatteryPercent:  bat.Latest,
		BatteryDrainPerHour:   bat.DrainPerHour,
	}
}

// Sample is one monitoring-cycle snapshot. The adaptive controller keeps
// the most recent samples as its input history.
type Sample struct {
	At                 time.Time
	FPS                float64
	// HaveFrames is set when any frame, rendered or dropped, was reported
	// in the interval. A UI that only drops frames is at 0 FPS, not idle.
	HaveFrames         bool
	InferenceLatency   time.Duration
	InferenceCount     int
	SuccessRate        float64
	MemoryUsed         int64
	MemoryTotal        int64
	CacheUsedBytes     int64
	Thermal            device.ThermalState
	BatteryPercent     float64
	Charging           bool
	CacheHitRate       float64
	// ThroughputRatio is active-backend throughput over its target; 0 when
	// no inference was reported.
	ThroughputRatio    float64
	StabilityScore     float64
	StabilityDegrading bool
}

// MemoryUsagePercent returns used/total in percent, 0 when total is unknown.
func (s Sample) MemoryUsagePercent() float64 {
	if s.MemoryTotal <= 0 {
		return 0
	}
	return float64(s.MemoryUsed) / float64(s.MemoryTotal) * 100
}
