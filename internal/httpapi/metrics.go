package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Route groups used as a metric label. Reports are the high-rate ingestion
// endpoints clients call from their render and inference loops; control
// covers model residency and pressure; queries are dashboard reads.
const (
	groupReport  = "report"
	groupControl = "control"
	groupQuery   = "query"
	groupStream  = "stream"
	groupProbe   = "probe"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route group, route, method and status.",
		},
		[]string{"group", "path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "perfd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route group.",
			// Reports should stay well under a frame budget.
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"group", "method"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "perfd",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests; streams stay in flight while connected.",
		},
		[]string{"group"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight)
}

// routeGroup classifies a request by method and path. It works on raw paths
// so it can label in-flight requests before chi has resolved a pattern.
func routeGroup(method, path string) string {
	switch {
	case path == "/healthz" || path == "/readyz" || path == "/metrics":
		return groupProbe
	case path == "/alerts/stream":
		return groupStream
	case method == http.MethodGet || method == http.MethodHead:
		return groupQuery
	case strings.HasPrefix(path, "/models/") || path == "/pressure":
		return groupControl
	default:
		return groupReport
	}
}

// statusRecorder captures the response status for the request counters.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsMiddleware instruments requests for Prometheus.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		group := routeGroup(r.Method, r.URL.Path)
		httpInflight.WithLabelValues(group).Inc()
		defer httpInflight.WithLabelValues(group).Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		httpRequestsTotal.WithLabelValues(group, routePatternOrPath(r), r.Method, strconv.Itoa(sr.status)).Inc()
		httpRequestDuration.WithLabelValues(group, r.Method).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
