package device

import (
	"fmt"
	"time"
)

// Tier is the coarse device performance class.
type Tier int

const (
	TierLow Tier = iota
	TierMid
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMid:
		return "mid"
	case TierHigh:
		return "high"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier accepts "low", "mid"/"medium" and "high".
func ParseTier(s string) (Tier, error) {
	switch s {
	case "low", "LOW", "low_end", "LOW_END":
		return TierLow, nil
	case "mid", "MID", "medium", "mid_range", "MID_RANGE":
		return TierMid, nil
	case "high", "HIGH", "high_end", "HIGH_END":
		return TierHigh, nil
	}
	return TierLow, fmt.Errorf("unknown device tier %q", s)
}

// ThermalState mirrors the platform thermal status ladder.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalLight
	ThermalModerate
	ThermalSevere
	ThermalCritical
	ThermalEmergency
)

func (s ThermalState) String() string {
	switch s {
	case ThermalNominal:
		return "NOMINAL"
	case ThermalLight:
		return "LIGHT"
	case ThermalModerate:
		return "MODERATE"
	case ThermalSevere:
		return "SEVERE"
	case ThermalCritical:
		return "CRITICAL"
	case ThermalEmergency:
		return "EMERGENCY"
	default:
		return fmt.Sprintf("THERMAL(%d)", int(s))
	}
}

// ThermalFromCelsius maps a skin/SoC temperature to a thermal state.
func ThermalFromCelsius(c float64) ThermalState {
	switch {
	case c < 45:
		return ThermalNominal
	case c < 50:
		return ThermalLight
	case c < 55:
		return ThermalModerate
	case c < 60:
		return ThermalSevere
	case c < 70:
		return ThermalCritical
	default:
		return ThermalEmergency
	}
}

// Complexity classifies how demanding a model is to load and run.
type Complexity int

const (
	ComplexityBasic Complexity = iota
	ComplexityStandard
	ComplexityAdvanced
)

func (c Complexity) String() string {
	switch c {
	case ComplexityBasic:
		return "basic"
	case ComplexityStandard:
		return "standard"
	case ComplexityAdvanced:
		return "advanced"
	default:
		return fmt.Sprintf("complexity(%d)", int(c))
	}
}

// ParseComplexity accepts "basic", "standard" and "advanced".
func ParseComplexity(s string) (Complexity, error) {
	switch s {
	case "basic", "BASIC":
		return ComplexityBasic, nil
	case "standard", "STANDARD":
		return ComplexityStandard, nil
	case "advanced", "ADVANCED":
		return ComplexityAdvanced, nil
	}
	return ComplexityBasic, fmt.Errorf("unknown model complexity %q", s)
}

// RecommendedComplexity is the most demanding model class a tier should
// load while memory is scarce.
func RecommendedComplexity(t Tier) Complexity {
	switch t {
	case TierHigh:
		return ComplexityAdvanced
	case TierMid:
		return ComplexityStandard
	default:
		return ComplexityBasic
	}
}

// PressureLevel describes available-memory scarcity.
type PressureLevel int

const (
	PressureLow PressureLevel = iota
	PressureModerate
	PressureHigh
	PressureCritical
)

func (p PressureLevel) String() string {
	switch p {
	case PressureLow:
		return "LOW"
	case PressureModerate:
		return "MODERATE"
	case PressureHigh:
		return "HIGH"
	case PressureCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRESSURE(%d)", int(p))
	}
}

// ParsePressure accepts the upper- or lower-case level names.
func ParsePressure(s string) (PressureLevel, error) {
	switch s {
	case "LOW", "low":
		return PressureLow, nil
	case "MODERATE", "moderate":
		return PressureModerate, nil
	case "HIGH", "high":
		return PressureHigh, nil
	case "CRITICAL", "critical":
		return PressureCritical, nil
	}
	return PressureLow, fmt.Errorf("unknown pressure level %q", s)
}

// Pressure thresholds as a fraction of total memory still available.
const (
	criticalAvailableRatio = 0.10
	highAvailableRatio     = 0.20
	moderateAvailableRatio = 0.40
)

// ClassifyPressure derives a pressure level from available and total bytes.
// An unknown total (<= 0) reports LOW.
func ClassifyPressure(available, total int64) PressureLevel {
	if total <= 0 {
		return PressureLow
	}
	if available < 0 {
		available = 0
	}
	ratio := float64(available) / float64(total)
	switch {
	case ratio < criticalAvailableRatio:
		return PressureCritical
	case ratio < highAvailableRatio:
		return PressureHigh
	case ratio < moderateAvailableRatio:
		return PressureModerate
	default:
		return PressureLow
	}
}

// CapabilitySnapshot is one probe reading. It is never mutated after
// construction; a fresh probe produces a fresh value.
type CapabilitySnapshot struct {
	Tier             Tier
	TotalMemory      int64
	AvailableMemory  int64
	CPUCores         int
	HasGPU           bool
	HasNPU           bool
	BatteryOptimized bool
	ThermalThrottled bool
	ThermalState     ThermalState
	// BatteryPercent is 0..100. Devices without a battery report 100.
	BatteryPercent float64
	Charging       bool
	CapturedAt     time.Time
}

// Pressure classifies the snapshot's memory reading.
func (s CapabilitySnapshot) Pressure() PressureLevel {
	return ClassifyPressure(s.AvailableMemory, s.TotalMemory)
}

// ClassifyTier assigns a tier from total memory and core count.
func ClassifyTier(totalMemory int64, cores int) Tier {
	const gib = int64(1) << 30
	switch {
	case totalMemory >= 8*gib && cores >= 8:
		return TierHigh
	case totalMemory >= 4*gib && cores >= 4:
		return TierMid
	default:
		return TierLow
	}
}
