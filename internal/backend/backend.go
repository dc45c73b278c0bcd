// Package backend tracks how each inference backend performs on the device
// and which backend is worth running on.
package backend

import (
	"fmt"
	"strings"
)

// ID names an inference execution target.
type ID string

const (
	CPU       ID = "cpu"
	GPUOpenGL ID = "gpu_opengl"
	GPUOpenCL ID = "gpu_opencl"
	NPUNNAPI  ID = "npu_nnapi"
	NPUQTIHTP ID = "npu_qti_htp"
)

// Baseline is the lowest-power backend, used when nothing else qualifies.
const Baseline = CPU

// known is ordered from lowest to highest power draw.
var known = []ID{CPU, GPUOpenGL, GPUOpenCL, NPUNNAPI, NPUQTIHTP}

// targets is the expected throughput of each backend in inferences/second,
// from reference benchmarks on a mid-range handset.
var targets = map[ID]float64{
	CPU:       243,
	GPUOpenGL: 1200,
	GPUOpenCL: 1876,
	NPUNNAPI:  2500,
	NPUQTIHTP: 5836,
}

// Known returns every backend, lowest power first.
func Known() []ID {
	out := make([]ID, len(known))
	copy(out, known)
	return out
}

// TargetThroughput returns the reference throughput for id, or 0 if unknown.
func TargetThroughput(id ID) float64 { return targets[id] }

// ParseID accepts backend names case-insensitively.
func ParseID(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := targets[id]; !ok {
		return "", fmt.Errorf("unknown backend %q", s)
	}
	return id, nil
}

// powerRank orders backends by power draw; unknown backends rank last.
func powerRank(id ID) int {
	for i, k := range known {
		if k == id {
			return i
		}
	}
	return len(known)
}

// SwitchReason explains why the active backend changed.
type SwitchReason int

const (
	ReasonPerformanceDegradation SwitchReason = iota
	ReasonMemoryPressure
	ReasonThermal
	ReasonBackendFailure
	ReasonManual
	ReasonAdaptiveOptimization
)

var reasonNames = []string{
	"performance_degradation",
	"memory_pressure",
	"thermal",
	"backend_failure",
	"manual",
	"adaptive_optimization",
}

func (r SwitchReason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("reason(%d)", int(r))
	}
	return reasonNames[r]
}

// ParseSwitchReason is the inverse of SwitchReason.String.
func ParseSwitchReason(s string) (SwitchReason, error) {
	for i, n := range reasonNames {
		if strings.EqualFold(n, s) {
			return SwitchReason(i), nil
		}
	}
	return 0, fmt.Errorf("unknown switch reason %q", s)
}
