package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"perfd/internal/backend"
)

// backendCollector reads a fresh backend report on every scrape.
type backendCollector struct {
	report func() backend.Report

	score       *prometheus.Desc
	throughput  *prometheus.Desc
	successRate *prometheus.Desc
	recommended *prometheus.Desc
}

// WatchBackends registers per-backend score, throughput and success rate
// gauges computed from report at scrape time.
func (e *Exporter) WatchBackends(report func() backend.Report) {
	e.reg.MustRegister(&backendCollector{
		report:      report,
		score:       prometheus.NewDesc(prometheus.BuildFQName(namespace, "backend", "score"), "Backend score (0-100)", []string{"backend"}, nil),
		throughput:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "backend", "throughput"), "Average backend throughput", []string{"backend"}, nil),
		successRate: prometheus.NewDesc(prometheus.BuildFQName(namespace, "backend", "success_ratio"), "Backend inference success ratio", []string{"backend"}, nil),
		recommended: prometheus.NewDesc(prometheus.BuildFQName(namespace, "backend", "recommended"), "1 for the recommended backend", []string{"backend"}, nil),
	})
}

func (c *backendCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.score
	ch <- c.throughput
	ch <- c.successRate
	ch <- c.recommended
}

func (c *backendCollector) Collect(ch chan<- prometheus.Metric) {
	r := c.report()
	for _, st := range r.Backends {
		id := string(st.Backend)
		ch <- prometheus.MustNewConstMetric(c.score, prometheus.GaugeValue, st.Score, id)
		ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, st.AvgThroughput, id)
		ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, st.SuccessRate, id)
		ch <- prometheus.MustNewConstMetric(c.recommended, prometheus.GaugeValue, boolGauge(st.Backend == r.Recommended), id)
	}
}

// WatchCache registers per-class cache byte gauges read at scrape time.
func (e *Exporter) WatchCache(classBytes func() (models, images, analyses int64)) {
	byClass := func(i int) func() float64 {
		return func() float64 {
			m, img, a := classBytes()
			return float64([3]int64{m, img, a}[i])
		}
	}
	for i, class := range []string{"model", "image", "analysis"} {
		e.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "bytes",
			Help:        "Bytes held by each cache class",
			ConstLabels: prometheus.Labels{"class": class},
		}, byClass(i)))
	}
}
