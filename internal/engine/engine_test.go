package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"perfd/internal/adaptive"
	"perfd/internal/alert"
	"perfd/internal/backend"
	"perfd/internal/clock"
	"perfd/internal/device"
	"perfd/internal/manager"
	"perfd/internal/metrics"
)

const gib = int64(1) << 30

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func midSnapshot() device.CapabilitySnapshot {
	return device.CapabilitySnapshot{
		Tier:            device.TierMid,
		TotalMemory:     6 * gib,
		AvailableMemory: 4 * gib,
		CPUCores:        6,
		HasGPU:          true,
		ThermalState:    device.ThermalNominal,
		BatteryPercent:  80,
	}
}

// recordingObserver counts observer callbacks.
type recordingObserver struct {
	mu        sync.Mutex
	samples   int
	alerts    []alert.Alert
	configs   []adaptive.PerformanceConfig
	pressures []manager.PressureResult
	switches  int
	panicOn   int
}

func (o *recordingObserver) SampleCollected(metrics.Sample) {
	o.mu.Lock()
	o.samples++
	n := o.samples
	o.mu.Unlock()
	if n == o.panicOn {
		panic("observer exploded")
	}
}

func (o *recordingObserver) AlertRaised(a alert.Alert) {
	o.mu.Lock()
	o.alerts = append(o.alerts, a)
	o.mu.Unlock()
}

func (o *recordingObserver) ConfigChanged(c adaptive.PerformanceConfig) {
	o.mu.Lock()
	o.configs = append(o.configs, c)
	o.mu.Unlock()
}

func (o *recordingObserver) PressureHandled(r manager.PressureResult) {
	o.mu.Lock()
	o.pressures = append(o.pressures, r)
	o.mu.Unlock()
}

func (o *recordingObserver) BackendSwitched(backend.ID, backend.ID, backend.SwitchReason) {
	o.mu.Lock()
	o.switches++
	o.mu.Unlock()
}

func (o *recordingObserver) pressureCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pressures)
}

type fixture struct {
	eng   *Engine[string, string]
	clk   *clock.FakeClock
	probe *device.StaticProbe
	obs   *recordingObserver
}

func newFixture(t *testing.T, mutate ...func(*Config[string])) *fixture {
	t.Helper()
	clk := clock.Fake(epoch)
	probe := device.NewStaticProbe(midSnapshot())
	probe.SetClock(clk.Now)
	obs := &recordingObserver{}
	cfg := Config[string]{
		Probe:         probe,
		Clock:         clk,
		Observer:      obs,
		AdmissionWait: 20 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	eng := New[string, string](cfg)
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
	return &fixture{eng: eng, clk: clk, probe: probe, obs: obs}
}

func loader(p string) manager.Loader[string] {
	return func(context.Context) (string, error) { return p, nil }
}

func TestOperationsBeforeInit(t *testing.T) {
	eng := New[string, string](Config[string]{Probe: device.NewStaticProbe(midSnapshot())})
	if _, err := eng.LoadModel(context.Background(), "m", 1, device.ComplexityBasic, loader("m")); !adaptive.IsNotInitialized(err) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, err := eng.StartMonitoring(context.Background()); !adaptive.IsNotInitialized(err) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, err := eng.CurrentConfig(); !adaptive.IsNotInitialized(err) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}

func TestInitSizesCacheFromConfig(t *testing.T) {
	f := newFixture(t)
	cfg, err := f.eng.CurrentConfig()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	st := f.eng.CacheStats()
	if st.BudgetBytes != cfg.MemoryThreshold || cfg.MemoryThreshold != 6*gib/4 {
		t.Fatalf("budget %d threshold %d", st.BudgetBytes, cfg.MemoryThreshold)
	}
	status := f.eng.Status()
	if !status.Initialized || status.AdmissionLimit != 2 || status.ActiveBackend != backend.CPU {
		t.Fatalf("status: %+v", status)
	}
}

func TestCycleRaisesAlerts(t *testing.T) {
	f := newFixture(t)
	sub, err := f.eng.SubscribeAlerts(8)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	f.probe.Update(func(s *device.CapabilitySnapshot) { s.BatteryPercent = 10 })
	for i := 0; i < 10; i++ {
		f.eng.RecordFrame(false)
	}
	if _, err := f.eng.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	kinds := map[alert.Kind]bool{}
	for len(sub.C()) > 0 {
		a := <-sub.C()
		kinds[a.Kind()] = true
	}
	if !kinds[alert.KindLowBattery] || !kinds[alert.KindLowFPS] || len(kinds) != 2 {
		t.Fatalf("alerts: %v", kinds)
	}
	if f.eng.Status().AlertsRaised != 2 {
		t.Fatalf("alerts raised %d", f.eng.Status().AlertsRaised)
	}
}

func TestCycleTreatsDroppedOnlyFramesAsLowFPS(t *testing.T) {
	f := newFixture(t)
	sub, err := f.eng.SubscribeAlerts(8)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 300; i++ {
		f.eng.RecordFrame(true)
	}
	s, err := f.eng.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !s.HaveFrames || s.FPS != 0 {
		t.Fatalf("sample: HaveFrames=%v FPS=%v", s.HaveFrames, s.FPS)
	}
	lowFPS := false
	for len(sub.C()) > 0 {
		if a := <-sub.C(); a.Kind() == alert.KindLowFPS {
			lowFPS = true
		}
	}
	if !lowFPS {
		t.Fatalf("expected a low FPS alert for a UI that only drops frames")
	}
}

func TestCycleBuildsSample(t *testing.T) {
	f := newFixture(t)
	if err := f.eng.RecordInference(backend.CPU, 243, 50*time.Millisecond, 12, true); err != nil {
		t.Fatalf("record: %v", err)
	}
	s, err := f.eng.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if s.InferenceCount != 1 || s.ThroughputRatio != 1 || s.MemoryUsed != 2*gib || s.StabilityScore != 100 {
		t.Fatalf("sample: %+v", s)
	}
	if last, ok := f.eng.LastSample(); !ok || !last.At.Equal(s.At) {
		t.Fatalf("last sample not stored")
	}
}

func TestMonitoringLoopTicksAndStops(t *testing.T) {
	f := newFixture(t)
	sub, _ := f.eng.SubscribeSamples(4)
	task, err := f.eng.StartMonitoring(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if again, _ := f.eng.StartMonitoring(context.Background()); again != task {
		t.Fatalf("second start should return the running task")
	}
	f.clk.Advance(DefaultMonitorInterval)
	select {
	case <-sub.C():
	case <-time.After(2 * time.Second):
		t.Fatalf("no sample after one interval")
	}
	f.eng.StopMonitoring()
	select {
	case <-task.Done():
	default:
		t.Fatalf("task not joined by StopMonitoring")
	}
	if n := f.clk.TickerCount(); n != 0 {
		t.Fatalf("ticker leaked: %d live", n)
	}
	if f.eng.Status().Monitoring {
		t.Fatalf("status still reports monitoring")
	}
}

func TestMonitoringLoopSurvivesPanic(t *testing.T) {
	f := newFixture(t)
	f.obs.panicOn = 1
	alerts, _ := f.eng.SubscribeAlerts(8)
	samples, _ := f.eng.SubscribeSamples(8)
	if _, err := f.eng.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.Advance(DefaultMonitorInterval)
	select {
	case a := <-alerts.C():
		se, ok := a.Payload.(alert.SystemError)
		if !ok || !se.Panic {
			t.Fatalf("expected panic system error, got %+v", a.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no system error alert")
	}
	<-samples.C() // first sample was published before the panic
	f.clk.Advance(DefaultMonitorInterval)
	select {
	case <-samples.C():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not continue after panic")
	}
}

func TestProbeFailureBecomesSystemError(t *testing.T) {
	f := newFixture(t)
	sub, _ := f.eng.SubscribeAlerts(4)
	f.probe.Fail(context.DeadlineExceeded)
	f.eng.safeCycle(context.Background())
	select {
	case a := <-sub.C():
		if a.Kind() != alert.KindSystemError {
			t.Fatalf("kind %s", a.Kind())
		}
	default:
		t.Fatalf("expected a system error alert")
	}
}

func TestPressureReactionWithCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.eng.LoadModel(ctx, "cold", 1<<20, device.ComplexityBasic, loader("c")); err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.eng.LoadModel(ctx, "hot", 1<<20, device.ComplexityBasic, loader("h")); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	f.eng.CacheImage("img", []byte("pixels"))
	f.probe.Update(func(s *device.CapabilitySnapshot) { s.AvailableMemory = 300 << 20 })

	if _, err := f.eng.Cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	st := f.eng.CacheStats()
	if st.ModelCount != 1 || st.ImageCount != 0 || st.Models[0].ID != "hot" {
		t.Fatalf("critical pressure not handled: %+v", st)
	}
	f.eng.Cycle(ctx)
	if n := f.obs.pressureCount(); n != 1 {
		t.Fatalf("pressure handled %d times inside cooldown", n)
	}
	f.clk.Advance(DefaultPressureCooldown)
	f.eng.Cycle(ctx)
	if n := f.obs.pressureCount(); n != 2 {
		t.Fatalf("pressure handled %d times after cooldown", n)
	}
}

func TestAdaptationAppliesLimits(t *testing.T) {
	f := newFixture(t)
	f.probe.Update(func(s *device.CapabilitySnapshot) { s.ThermalState = device.ThermalModerate })
	f.clk.Advance(adaptive.DefaultEpoch + time.Second)
	if _, err := f.eng.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	cfg, _ := f.eng.CurrentConfig()
	if cfg.MaxConcurrentAnalyses != 1 || cfg.Epoch != 2 {
		t.Fatalf("config: %+v", cfg)
	}
	if _, limit := f.eng.gate.state(); limit != 1 {
		t.Fatalf("admission limit %d", limit)
	}
}

func TestBeginAnalysisBoundsConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1, err := f.eng.BeginAnalysis(ctx)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	r2, err := f.eng.BeginAnalysis(ctx)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if _, err := f.eng.BeginAnalysis(ctx); !IsTooBusy(err) {
		t.Fatalf("expected too busy, got %v", err)
	}
	r1()
	r1()
	r3, err := f.eng.BeginAnalysis(ctx)
	if err != nil {
		t.Fatalf("slot not released: %v", err)
	}
	r2()
	r3()
	if inflight, _ := f.eng.gate.state(); inflight != 0 {
		t.Fatalf("inflight %d", inflight)
	}
}

func TestAutoSwitchFollowsAdvice(t *testing.T) {
	f := newFixture(t, func(c *Config[string]) { c.AutoSwitch = true })
	for i := 0; i < 5; i++ {
		f.eng.RecordInference(backend.CPU, 100, 10*time.Millisecond, 10, true)
		f.eng.RecordInference(backend.GPUOpenCL, 1876, 2*time.Millisecond, 30, true)
	}
	if _, err := f.eng.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if got := f.eng.ActiveBackend(); got != backend.GPUOpenCL {
		t.Fatalf("active backend %s", got)
	}
}

func TestShutdownClosesStreams(t *testing.T) {
	clk := clock.Fake(epoch)
	eng := New[string, string](Config[string]{Probe: device.NewStaticProbe(midSnapshot()), Clock: clk})
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	sub, _ := eng.SubscribeAlerts(1)
	if _, err := eng.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := eng.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("alert stream still open")
	}
	if eng.Initialized() {
		t.Fatalf("engine still initialized")
	}
}
