// Package telemetry exports engine activity as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"perfd/internal/adaptive"
	"perfd/internal/alert"
	"perfd/internal/backend"
	"perfd/internal/manager"
	"perfd/internal/metrics"
)

const namespace = "perfd"

// Exporter implements engine.Observer and manager.EventPublisher.
type Exporter struct {
	fps              prometheus.Gauge
	inferenceLatency prometheus.Gauge
	memoryUsed       prometheus.Gauge
	memoryTotal      prometheus.Gauge
	cacheUsed        prometheus.Gauge
	thermalState     prometheus.Gauge
	batteryPercent   prometheus.Gauge
	cacheHitRatio    prometheus.Gauge
	throughputRatio  prometheus.Gauge
	stabilityScore   prometheus.Gauge
	samplesTotal     prometheus.Counter

	alertsTotal *prometheus.CounterVec

	configEpoch       prometheus.Gauge
	configConcurrency prometheus.Gauge
	configInterval    prometheus.Gauge
	configThreshold   prometheus.Gauge
	configCapacity    prometheus.Gauge
	configLowPower    prometheus.Gauge
	configPreloading  prometheus.Gauge

	pressureTotal   *prometheus.CounterVec
	pressureFreed   prometheus.Counter
	loadsTotal      prometheus.Counter
	modelHitsTotal  prometheus.Counter
	evictionsTotal  *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec
	switchesTotal   *prometheus.CounterVec

	reg prometheus.Registerer
}

func gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
}

// New creates an exporter and registers its collectors with reg (the
// default registerer when nil).
func New(reg prometheus.Registerer) *Exporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	e := &Exporter{
		reg:              reg,
		fps:              gauge("engine", "fps", "Average UI frame rate over the last monitoring interval"),
		inferenceLatency: gauge("engine", "inference_latency_seconds", "Average inference latency over the last monitoring interval"),
		memoryUsed:       gauge("engine", "memory_used_bytes", "Device memory in use"),
		memoryTotal:      gauge("engine", "memory_total_bytes", "Device memory installed"),
		cacheUsed:        gauge("engine", "cache_used_bytes", "Bytes held by the resource cache"),
		thermalState:     gauge("engine", "thermal_state", "Thermal state (0 nominal .. 5 emergency)"),
		batteryPercent:   gauge("engine", "battery_percent", "Battery level in percent"),
		cacheHitRatio:    gauge("engine", "cache_hit_ratio", "Cache hit ratio over the last monitoring interval"),
		throughputRatio:  gauge("engine", "throughput_ratio", "Active backend throughput over its target"),
		stabilityScore:   gauge("backend", "stability_score", "Backend switching stability score (0-100)"),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "samples_total",
			Help: "Monitoring cycles that produced a sample",
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts", Name: "raised_total",
			Help: "Alerts raised by kind",
		}, []string{"kind"}),
		configEpoch:       gauge("config", "epoch", "Epoch of the published performance config"),
		configConcurrency: gauge("config", "max_concurrent_analyses", "Maximum concurrent analyses"),
		configInterval:    gauge("config", "inference_interval_seconds", "Minimum interval between inferences"),
		configThreshold:   gauge("config", "memory_threshold_bytes", "Cache memory budget"),
		configCapacity:    gauge("config", "cache_capacity", "Entry capacity of each result cache"),
		configLowPower:    gauge("config", "low_power", "1 when low power mode is on"),
		configPreloading:  gauge("config", "preloading", "1 when model preloading is on"),
		pressureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "pressure_events_total",
			Help: "Memory pressure reactions by level",
		}, []string{"level"}),
		pressureFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "pressure_freed_bytes_total",
			Help: "Bytes freed by memory pressure reactions",
		}),
		loadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "model_loads_total",
			Help: "Models loaded into the cache",
		}),
		modelHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "model_hits_total",
			Help: "Load requests served by a resident model",
		}),
		evictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
			Help: "Entries evicted by class and reason",
		}, []string{"class", "reason"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "load_rejections_total",
			Help: "Rejected model loads by reason",
		}, []string{"reason"}),
		switchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "backend", Name: "switches_total",
			Help: "Backend switches by reason",
		}, []string{"from", "to", "reason"}),
	}
	reg.MustRegister(
		e.fps, e.inferenceLatency, e.memoryUsed, e.memoryTotal, e.cacheUsed,
		e.thermalState, e.batteryPercent, e.cacheHitRatio, e.throughputRatio,
		e.stabilityScore, e.samplesTotal, e.alertsTotal,
		e.configEpoch, e.configConcurrency, e.configInterval, e.configThreshold,
		e.configCapacity, e.configLowPower, e.configPreloading,
		e.pressureTotal, e.pressureFreed, e.loadsTotal, e.modelHitsTotal,
		e.evictionsTotal, e.rejectionsTotal, e.switchesTotal,
	)
	for _, k := range alert.Kinds() {
		e.alertsTotal.WithLabelValues(k.String())
	}
	return e
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (e *Exporter) SampleCollected(s metrics.Sample) {
	e.samplesTotal.Inc()
	e.fps.Set(s.FPS)
	e.inferenceLatency.Set(s.InferenceLatency.Seconds())
	e.memoryUsed.Set(float64(s.MemoryUsed))
	e.memoryTotal.Set(float64(s.MemoryTotal))
	e.cacheUsed.Set(float64(s.CacheUsedBytes))
	e.thermalState.Set(float64(s.Thermal))
	e.batteryPercent.Set(s.BatteryPercent)
	e.cacheHitRatio.Set(s.CacheHitRate)
	e.throughputRatio.Set(s.ThroughputRatio)
	e.stabilityScore.Set(s.StabilityScore)
}

func (e *Exporter) AlertRaised(a alert.Alert) {
	e.alertsTotal.WithLabelValues(a.Kind().String()).Inc()
}

func (e *Exporter) ConfigChanged(c adaptive.PerformanceConfig) {
	e.configEpoch.Set(float64(c.Epoch))
	e.configConcurrency.Set(float64(c.MaxConcurrentAnalyses))
	e.configInterval.Set(c.InferenceInterval.Seconds())
	e.configThreshold.Set(float64(c.MemoryThreshold))
	e.configCapacity.Set(float64(c.CacheCapacity))
	e.configLowPower.Set(boolGauge(c.LowPowerMode))
	e.configPreloading.Set(boolGauge(c.PreloadingEnabled))
}

func (e *Exporter) PressureHandled(r manager.PressureResult) {
	e.pressureTotal.WithLabelValues(r.Level.String()).Inc()
	e.pressureFreed.Add(float64(r.FreedBytes))
}

func (e *Exporter) BackendSwitched(from, to backend.ID, reason backend.SwitchReason) {
	e.switchesTotal.WithLabelValues(string(from), string(to), reason.String()).Inc()
}

// Publish consumes cache manager events.
func (e *Exporter) Publish(ev manager.Event) {
	switch ev.Name {
	case manager.EventModelLoaded:
		e.loadsTotal.Inc()
	case manager.EventModelHit:
		e.modelHitsTotal.Inc()
	case manager.EventEvicted:
		class, _ := ev.Fields["class"].(string)
		reason, _ := ev.Fields["reason"].(string)
		e.evictionsTotal.WithLabelValues(class, reason).Inc()
	case manager.EventLoadRejected:
		reason, _ := ev.Fields["reason"].(string)
		e.rejectionsTotal.WithLabelValues(reason).Inc()
	}
}
