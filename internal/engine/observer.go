package engine

import (
	"perfd/internal/adaptive"
	"perfd/internal/alert"
	"perfd/internal/backend"
	"perfd/internal/manager"
	"perfd/internal/metrics"
)

// Observer receives engine activity. Calls happen on the monitoring
// goroutine or the caller's goroutine and must not block.
type Observer interface {
	SampleCollected(metrics.Sample)
	AlertRaised(alert.Alert)
	ConfigChanged(adaptive.PerformanceConfig)
	PressureHandled(manager.PressureResult)
	BackendSwitched(from, to backend.ID, reason backend.SwitchReason)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) SampleCollected(metrics.Sample)                               {}
func (NopObserver) AlertRaised(alert.Alert)                                      {}
func (NopObserver) ConfigChanged(adaptive.PerformanceConfig)                     {}
func (NopObserver) PressureHandled(manager.PressureResult)                       {}
func (NopObserver) BackendSwitched(backend.ID, backend.ID, backend.SwitchReason) {}
