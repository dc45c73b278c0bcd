package alert

import (
	"time"

	"perfd/internal/device"
)

// Thresholds that raise alerts.
const (
	LowFPSRatio        = 0.7
	HighMemoryRatio    = 0.9
	LowBatteryPercent  = 20.0
	SlowInferenceLimit = 5000 * time.Millisecond
	ThermalAlertState  = device.ThermalModerate
)

// Reading is what one collection cycle observed.
type Reading struct {
	// FPS is only judged when HaveFrames is set, so an idle UI does not
	// raise low frame rate alerts.
	FPS        float64
	HaveFrames bool
	TargetFPS  float64

	MemoryUsed      int64
	MemoryThreshold int64

	Thermal        device.ThermalState
	BatteryPercent float64
	Charging       bool

	// InferenceLatency is the worst latency observed in the cycle.
	InferenceLatency time.Duration
}

// Evaluate returns the payloads whose thresholds r crosses, in Kind order.
func Evaluate(r Reading) []Payload {
	var out []Payload
	if r.HaveFrames && r.TargetFPS > 0 && r.FPS < r.TargetFPS*LowFPSRatio {
		out = append(out, LowFPS{Current: r.FPS, Target: r.TargetFPS})
	}
	if r.MemoryThreshold > 0 && float64(r.MemoryUsed) > float64(r.MemoryThreshold)*HighMemoryRatio {
		out = append(out, HighMemory{UsedBytes: r.MemoryUsed, ThresholdBytes: r.MemoryThreshold})
	}
	if r.Thermal >= ThermalAlertState {
		out = append(out, ThermalThrottling{State: r.Thermal})
	}
	if r.BatteryPercent < LowBatteryPercent {
		out = append(out, LowBattery{Percent: r.BatteryPercent, Charging: r.Charging})
	}
	if r.InferenceLatency > SlowInferenceLimit {
		out = append(out, SlowInference{Latency: r.InferenceLatency, Limit: SlowInferenceLimit})
	}
	return out
}
