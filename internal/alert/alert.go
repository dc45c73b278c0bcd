// Package alert defines the typed anomalies the monitoring loop raises and
// the thresholds that trigger them.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"perfd/internal/broadcast"
	"perfd/internal/device"
)

// Kind enumerates the alert variants.
type Kind int

const (
	KindLowFPS Kind = iota
	KindHighMemory
	KindThermalThrottling
	KindLowBattery
	KindSlowInference
	KindSystemError
)

var kindNames = []string{"low_fps", "high_memory", "thermal_throttling", "low_battery", "slow_inference", "system_error"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Kinds lists every variant in declaration order.
func Kinds() []Kind {
	return []Kind{KindLowFPS, KindHighMemory, KindThermalThrottling, KindLowBattery, KindSlowInference, KindSystemError}
}

// Payload is implemented only by the variant types in this package.
type Payload interface {
	Kind() Kind
	sealed()
}

// LowFPS fires when the frame rate falls below LowFPSRatio of the target.
type LowFPS struct {
	Current float64
	Target  float64
}

// HighMemory fires when memory use passes HighMemoryRatio of the threshold.
type HighMemory struct {
	UsedBytes      int64
	ThresholdBytes int64
}

// ThermalThrottling fires at MODERATE thermal state and above.
type ThermalThrottling struct {
	State device.ThermalState
}

// LowBattery fires below LowBatteryPercent.
type LowBattery struct {
	Percent  float64
	Charging bool
}

// SlowInference fires when inference latency exceeds SlowInferenceLimit.
type SlowInference struct {
	Latency time.Duration
	Limit   time.Duration
}

// SystemError carries an error or panic recovered by the monitoring loop.
type SystemError struct {
	Op      string
	Message string
	Panic   bool
}

func (LowFPS) Kind() Kind            { return KindLowFPS }
func (HighMemory) Kind() Kind        { return KindHighMemory }
func (ThermalThrottling) Kind() Kind { return KindThermalThrottling }
func (LowBattery) Kind() Kind        { return KindLowBattery }
func (SlowInference) Kind() Kind     { return KindSlowInference }
func (SystemError) Kind() Kind       { return KindSystemError }

func (LowFPS) sealed()            {}
func (HighMemory) sealed()        {}
func (ThermalThrottling) sealed() {}
func (LowBattery) sealed()        {}
func (SlowInference) sealed()     {}
func (SystemError) sealed()       {}

// Alert is one emitted anomaly.
type Alert struct {
	ID      uuid.UUID
	At      time.Time
	Payload Payload
}

// New stamps payload with a fresh id.
func New(at time.Time, p Payload) Alert {
	return Alert{ID: uuid.New(), At: at, Payload: p}
}

// Kind is shorthand for a.Payload.Kind().
func (a Alert) Kind() Kind { return a.Payload.Kind() }

// Severity ranks alerts for display and log level.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityCritical
)

func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "warning"
}

// SeverityOf grades an alert payload.
func SeverityOf(p Payload) Severity {
	switch v := p.(type) {
	case ThermalThrottling:
		if v.State >= device.ThermalSevere {
			return SeverityCritical
		}
	case LowBattery:
		if v.Percent < 10 && !v.Charging {
			return SeverityCritical
		}
	case SystemError:
		return SeverityCritical
	case HighMemory:
		if v.ThresholdBytes > 0 && v.UsedBytes >= v.ThresholdBytes {
			return SeverityCritical
		}
	}
	return SeverityWarning
}

// Describe renders a payload as a one-line human message.
func Describe(p Payload) string {
	switch v := p.(type) {
	case LowFPS:
		return fmt.Sprintf("frame rate %.1f fps below target %.0f fps", v.Current, v.Target)
	case HighMemory:
		pct := 0.0
		if v.ThresholdBytes > 0 {
			pct = float64(v.UsedBytes) / float64(v.ThresholdBytes) * 100
		}
		return fmt.Sprintf("memory use at %.0f%% of threshold (%d of %d bytes)", pct, v.UsedBytes, v.ThresholdBytes)
	case ThermalThrottling:
		return fmt.Sprintf("thermal state %s", v.State)
	case LowBattery:
		if v.Charging {
			return fmt.Sprintf("battery at %.0f%% (charging)", v.Percent)
		}
		return fmt.Sprintf("battery at %.0f%%", v.Percent)
	case SlowInference:
		return fmt.Sprintf("inference latency %s exceeds %s", v.Latency, v.Limit)
	case SystemError:
		if v.Panic {
			return fmt.Sprintf("panic in %s: %s", v.Op, v.Message)
		}
		return fmt.Sprintf("error in %s: %s", v.Op, v.Message)
	default:
		return "unknown alert"
	}
}

// Bus is the alert broadcast channel.
type Bus = broadcast.Bus[Alert]

// NewBus creates an alert bus.
func NewBus() *Bus { return broadcast.New[Alert]() }
