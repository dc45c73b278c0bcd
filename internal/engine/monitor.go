package engine

import (
	"context"
	"fmt"

	"perfd/internal/adaptive"
	"perfd/internal/alert"
	"perfd/internal/backend"
	"perfd/internal/clock"
	"perfd/internal/device"
	"perfd/internal/manager"
	"perfd/internal/metrics"
)

// Task is a handle on the running monitoring loop.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed once the loop has exited and stopped its ticker.
func (t *Task) Done() <-chan struct{} { return t.done }

// Stop cancels the loop and waits for it to exit.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// StartMonitoring launches the periodic loop. Calling it while a loop is
// running returns the existing task.
func (e *Engine[M, A]) StartMonitoring(ctx context.Context) (*Task, error) {
	if err := e.ensureInit("start monitoring"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task != nil {
		return e.task, nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	// The ticker exists before StartMonitoring returns so the first tick is
	// scheduled relative to the start.
	ticker := e.clk.NewTicker(e.cfg.MonitorInterval)
	e.task = t
	go e.run(loopCtx, t, ticker)
	e.log.Info().Dur("interval", e.cfg.MonitorInterval).Msg("monitoring started")
	return t, nil
}

// StopMonitoring cancels the loop and joins it. It is a no-op when the loop
// is not running.
func (e *Engine[M, A]) StopMonitoring() {
	e.mu.Lock()
	t := e.task
	e.task = nil
	e.mu.Unlock()
	if t == nil {
		return
	}
	t.Stop()
	e.log.Info().Msg("monitoring stopped")
}

func (e *Engine[M, A]) run(ctx context.Context, t *Task, ticker *clock.Ticker) {
	defer close(t.done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.safeCycle(ctx)
		}
	}
}

// safeCycle runs one cycle, turning errors and panics into SystemError
// alerts so the loop keeps going.
func (e *Engine[M, A]) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("monitoring cycle panicked")
			e.raise(alert.SystemError{Op: "monitor", Message: fmt.Sprint(r), Panic: true})
		}
	}()
	if _, err := e.Cycle(ctx); err != nil && ctx.Err() == nil {
		e.log.Warn().Err(err).Msg("monitoring cycle failed")
		e.raise(alert.SystemError{Op: "monitor", Message: err.Error()})
	}
}

// Cycle performs one collection pass: probe the device, build and publish a
// sample, raise alerts, run the adaptation epoch if due, react to memory
// pressure and, with AutoSwitch, act on backend advice. The monitoring
// loop calls it on every tick; it is exported for on-demand refreshes.
func (e *Engine[M, A]) Cycle(ctx context.Context) (metrics.Sample, error) {
	if err := e.ensureInit("cycle"); err != nil {
		return metrics.Sample{}, err
	}
	snap, err := e.probe.DetectCapabilities(ctx)
	if err != nil {
		return metrics.Sample{}, err
	}
	e.snapshot.Store(&snap)
	used := snap.TotalMemory - snap.AvailableMemory
	if used < 0 {
		used = 0
	}
	e.metrics.Memory.Record(used, snap.TotalMemory)
	e.metrics.Thermal.Record(snap.ThermalState)
	e.metrics.Battery.Record(snap.BatteryPercent, snap.Charging)

	cfg, _ := e.controller.Current()
	sample, reading := e.collect(snap, cfg)
	e.lastSample.Store(&sample)
	e.samples.Publish(sample)
	e.controller.Observe(sample)
	e.observer.SampleCollected(sample)

	for _, p := range alert.Evaluate(reading) {
		e.raise(p)
	}

	next, ran, err := e.controller.MaybeAdapt(ctx)
	if err != nil {
		e.raise(alert.SystemError{Op: "adapt", Message: err.Error()})
	} else if ran && !next.Equivalent(cfg) {
		e.applyConfig(next)
	}

	e.reactToPressure(snap.Pressure())
	if e.cfg.AutoSwitch {
		e.followAdvice()
	}
	return sample, nil
}

// collect reads the counters over one monitoring interval.
func (e *Engine[M, A]) collect(snap device.CapabilitySnapshot, cfg adaptive.PerformanceConfig) (metrics.Sample, alert.Reading) {
	window := e.cfg.MonitorInterval
	frames := e.metrics.Frames.Query(window)
	inf := e.metrics.Inference.Query(window)
	hits := e.metrics.Cache.Query(window)
	cache := e.cache.Stats()

	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	bst := e.tracker.StatsFor(active, window)
	sw := e.tracker.SwitchStats(0)

	s := metrics.Sample{
		At:                 e.clk.Now(),
		FPS:                frames.AverageFPS,
		HaveFrames:         frames.Frames+frames.Dropped > 0,
		InferenceLatency:   inf.AvgLatency,
		InferenceCount:     inf.Count,
		SuccessRate:        inf.SuccessRate,
		MemoryUsed:         max(snap.TotalMemory-snap.AvailableMemory, 0),
		MemoryTotal:        snap.TotalMemory,
		CacheUsedBytes:     cache.UsedBytes,
		Thermal:            snap.ThermalState,
		BatteryPercent:     snap.BatteryPercent,
		Charging:           snap.Charging,
		CacheHitRate:       hits.HitRate,
		StabilityScore:     sw.StabilityScore,
		StabilityDegrading: sw.Trend == backend.TrendDegrading,
	}
	if target := backend.TargetThroughput(active); bst.Count > 0 && target > 0 {
		s.ThroughputRatio = bst.AvgThroughput / target
	}
	r := alert.Reading{
		FPS:              frames.AverageFPS,
		HaveFrames:       s.HaveFrames,
		TargetFPS:        float64(cfg.UITargetFPS),
		MemoryUsed:       cache.UsedBytes,
		MemoryThreshold:  cfg.MemoryThreshold,
		Thermal:          snap.ThermalState,
		BatteryPercent:   snap.BatteryPercent,
		Charging:         snap.Charging,
		InferenceLatency: inf.MaxLatency,
	}
	return s, r
}

// raise stamps and broadcasts an alert.
func (e *Engine[M, A]) raise(p alert.Payload) {
	a := alert.New(e.clk.Now(), p)
	e.alertsTotal.Add(1)
	ev := e.log.Warn()
	if alert.SeverityOf(p) == alert.SeverityCritical {
		ev = e.log.Error()
	}
	ev.Str("alert", a.Kind().String()).Str("id", a.ID.String()).Msg(alert.Describe(p))
	e.alerts.Publish(a)
	e.observer.AlertRaised(a)
}

// reactToPressure sheds cache contents when device memory is scarce. A level
// is handled when it escalates or after PressureCooldown at the same level.
func (e *Engine[M, A]) reactToPressure(level device.PressureLevel) {
	now := e.clk.Now()
	e.mu.Lock()
	if level == device.PressureLow {
		e.lastPressure = level
		e.mu.Unlock()
		return
	}
	due := level > e.lastPressure || now.Sub(e.lastPressureAt) >= e.cfg.PressureCooldown
	if due {
		e.lastPressure = level
		e.lastPressureAt = now
	}
	e.mu.Unlock()
	if !due {
		return
	}
	res := e.cache.HandleMemoryPressure(level)
	e.observer.PressureHandled(res)
}

// HandleMemoryPressure sheds cache contents at level on demand.
func (e *Engine[M, A]) HandleMemoryPressure(level device.PressureLevel) (manager.PressureResult, error) {
	if err := e.ensureInit("handle memory pressure"); err != nil {
		return manager.PressureResult{}, err
	}
	res := e.cache.HandleMemoryPressure(level)
	e.observer.PressureHandled(res)
	return res, nil
}

func (e *Engine[M, A]) followAdvice() {
	adv := e.tracker.Advise(e.ActiveBackend(), 0)
	if !adv.Switch {
		return
	}
	e.log.Info().Str("from", string(adv.From)).Str("to", string(adv.To)).Str("why", adv.Detail).Msg("following backend advice")
	if err := e.RecordSwitch(adv.From, adv.To, adv.Reason, 0); err != nil {
		e.log.Warn().Err(err).Msg("record advised switch")
	}
}
