// Package adaptive recomputes the effective performance configuration from
// device capabilities and recent metric history, once per epoch.
package adaptive

import (
	"time"

	"perfd/internal/device"
)

// PerformanceConfig is the knob set the rest of the engine obeys. A value is
// never modified after it is published; each epoch publishes a new one.
type PerformanceConfig struct {
	Epoch                 uint64
	ComputedAt            time.Time
	Tier                  device.Tier
	MaxConcurrentAnalyses int
	InferenceInterval     time.Duration
	UITargetFPS           int
	PreloadingEnabled     bool
	CachingEnabled        bool
	CacheCapacity         int
	MemoryThreshold       int64
	LowPowerMode          bool
	// Adjustments names the history-driven rules applied on top of the
	// capability-derived base, in application order.
	Adjustments []string
}

type tierProfile struct {
	concurrency int
	// targetRate is analyses per second.
	targetRate    float64
	uiFPS         int
	uiFPSWithGPU  int
	cacheCapacity int
	preloading    bool
	nominalMemory int64
}

const gib = int64(1) << 30

var profiles = map[device.Tier]tierProfile{
	device.TierLow:  {concurrency: 1, targetRate: 0.5, uiFPS: 30, uiFPSWithGPU: 30, cacheCapacity: 20, preloading: false, nominalMemory: 2 * gib},
	device.TierMid:  {concurrency: 2, targetRate: 1, uiFPS: 45, uiFPSWithGPU: 60, cacheCapacity: 50, preloading: true, nominalMemory: 4 * gib},
	device.TierHigh: {concurrency: 3, targetRate: 2, uiFPS: 60, uiFPSWithGPU: 60, cacheCapacity: 100, preloading: true, nominalMemory: 8 * gib},
}

func profileFor(t device.Tier) tierProfile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return profiles[device.TierLow]
}

// memoryShare is the fraction of device memory the caches may claim.
const memoryShare = 4

// DeriveFromCapabilities maps a snapshot to its tier defaults. It is pure:
// the same snapshot always yields the same config (Epoch and ComputedAt
// are left zero).
func DeriveFromCapabilities(s device.CapabilitySnapshot) PerformanceConfig {
	p := profileFor(s.Tier)
	cfg := PerformanceConfig{
		Tier:                  s.Tier,
		MaxConcurrentAnalyses: p.concurrency,
		InferenceInterval:     time.Duration(float64(time.Second) / p.targetRate),
		UITargetFPS:           p.uiFPS,
		PreloadingEnabled:     p.preloading,
		CachingEnabled:        true,
		CacheCapacity:         p.cacheCapacity,
		LowPowerMode:          s.BatteryOptimized,
	}
	if s.HasGPU {
		cfg.UITargetFPS = p.uiFPSWithGPU
	}
	if s.ThermalThrottled {
		cfg.MaxConcurrentAnalyses = 1
	}
	mem := s.TotalMemory
	if mem <= 0 {
		mem = p.nominalMemory
	}
	cfg.MemoryThreshold = mem / memoryShare
	return cfg
}

// Equivalent reports whether two configs carry the same knob values,
// ignoring bookkeeping fields.
func (c PerformanceConfig) Equivalent(o PerformanceConfig) bool {
	return c.Tier == o.Tier &&
		c.MaxConcurrentAnalyses == o.MaxConcurrentAnalyses &&
		c.InferenceInterval == o.InferenceInterval &&
		c.UITargetFPS == o.UITargetFPS &&
		c.PreloadingEnabled == o.PreloadingEnabled &&
		c.CachingEnabled == o.CachingEnabled &&
		c.CacheCapacity == o.CacheCapacity &&
		c.MemoryThreshold == o.MemoryThreshold &&
		c.LowPowerMode == o.LowPowerMode
}
