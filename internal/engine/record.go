package engine

import (
	"time"

	"perfd/internal/backend"
)

// RecordFrame counts one UI frame.
func (e *Engine[M, A]) RecordFrame(dropped bool) {
	if dropped {
		e.metrics.Frames.RecordDropped()
		return
	}
	e.metrics.Frames.Record()
}

// RecordInference reports one inference outcome on backend id.
func (e *Engine[M, A]) RecordInference(id backend.ID, throughput float64, latency time.Duration, memoryMB float64, success bool) error {
	if err := e.tracker.RecordInference(id, throughput, latency, memoryMB, success); err != nil {
		return err
	}
	e.metrics.Inference.Record(latency, success)
	return nil
}

// RecordSwitch reports a backend change and makes to the active backend.
func (e *Engine[M, A]) RecordSwitch(from, to backend.ID, reason backend.SwitchReason, d time.Duration) error {
	if err := e.tracker.RecordSwitch(from, to, reason, d); err != nil {
		return err
	}
	e.mu.Lock()
	e.active = to
	e.mu.Unlock()
	e.observer.BackendSwitched(from, to, reason)
	return nil
}

// RecordCacheHit counts a result-cache hit reported by a collaborator.
func (e *Engine[M, A]) RecordCacheHit() { e.metrics.Cache.RecordHit() }

// RecordCacheMiss counts a result-cache miss reported by a collaborator.
func (e *Engine[M, A]) RecordCacheMiss() { e.metrics.Cache.RecordMiss() }

// AdviseBackend asks the tracker whether to leave the active backend.
func (e *Engine[M, A]) AdviseBackend(window time.Duration) backend.Advice {
	return e.tracker.Advise(e.ActiveBackend(), window)
}
