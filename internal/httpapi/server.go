package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perfd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Ready() bool
	Status() types.StatusResponse
	Config() (types.ConfigResponse, error)
	Summary(window time.Duration) types.SummaryResponse
	Backends(window time.Duration) types.BackendsResponse
	ListModels() types.ModelsResponse
	LoadModel(ctx context.Context, id string) (types.LoadModelResponse, error)
	UnloadModel(id string) bool
	HandlePressure(level string) (types.PressureResponse, error)
	RecordInference(r types.InferenceReport) error
	RecordFrames(r types.FrameReport) error
	RecordSwitch(r types.SwitchReport) error
	Alerts(ctx context.Context, kind string, limit int) (types.AlertsResponse, error)
	StreamAlerts(ctx context.Context, w io.Writer, flush func()) error
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsOptions != nil {
		r.Use(cors.Handler(*corsOptions))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	// The alert stream is registered outside the compressed group so every
	// line reaches the client as soon as it is flushed.
	r.Get("/alerts/stream", streamAlertsHandler(svc))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.Status())
		})

		r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
			cfg, err := svc.Config()
			if err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, http.StatusOK, cfg)
		})

		r.Get("/summary", func(w http.ResponseWriter, r *http.Request) {
			window, ok := windowParam(w, r)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, svc.Summary(window))
		})

		r.Get("/backends", func(w http.ResponseWriter, r *http.Request) {
			window, ok := windowParam(w, r)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, svc.Backends(window))
		})

		r.Post("/backends/switch", func(w http.ResponseWriter, r *http.Request) {
			var req types.SwitchReport
			if !decodeJSON(w, r, &req) {
				return
			}
			if err := svc.RecordSwitch(req); err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.ListModels())
		})

		r.Post("/models/{id}/load", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			start := time.Now()
			lvl := requestLogLevel(r)
			// Join server base context with request context so shutdown cancels loads too.
			ctx, cancel := joinContexts(serverBaseCtx, r.Context())
			defer cancel()
			res, err := svc.LoadModel(ctx, id)
			if err != nil {
				status := statusFor(err)
				writeJSONError(w, status, err.Error())
				logRequestEnd(r, lvl, status, start, err)
				return
			}
			status := http.StatusCreated
			if res.Cached {
				status = http.StatusOK
			}
			writeJSON(w, status, res)
			logRequestEnd(r, lvl, status, start, nil)
		})

		r.Delete("/models/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			if !svc.UnloadModel(id) {
				writeJSONError(w, http.StatusNotFound, "model not loaded: "+id)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/pressure", func(w http.ResponseWriter, r *http.Request) {
			var req types.PressureRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if strings.TrimSpace(req.Level) == "" {
				writeJSONError(w, http.StatusBadRequest, "level is required")
				return
			}
			res, err := svc.HandlePressure(req.Level)
			if err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/inference", func(w http.ResponseWriter, r *http.Request) {
			var req types.InferenceReport
			if !decodeJSON(w, r, &req) {
				return
			}
			if err := svc.RecordInference(req); err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/frames", func(w http.ResponseWriter, r *http.Request) {
			var req types.FrameReport
			if !decodeJSON(w, r, &req) {
				return
			}
			if err := svc.RecordFrames(req); err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/alerts", func(w http.ResponseWriter, r *http.Request) {
			limit := 0
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
					return
				}
				limit = n
			}
			res, err := svc.Alerts(r.Context(), r.URL.Query().Get("kind"), limit)
			if err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("initializing"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func streamAlertsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		start := time.Now()
		writer := io.Writer(w)
		lvl := requestLogLevel(r)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{})
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.StreamAlerts(ctx, writer, flush); err != nil {
			// If context was canceled (client disconnect), just return.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusFor(err)
			writeJSONError(w, status, err.Error())
			logRequestEnd(r, lvl, status, start, err)
			return
		}
		logRequestEnd(r, lvl, http.StatusOK, start, nil)
	}
}

// decodeJSON enforces the content type and body limit, then decodes into v.
// It writes the error response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	// Limit body size (configurable, default 1MiB)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// windowParam parses the optional ?window= duration (e.g. 5m). Zero means
// the service default.
func windowParam(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	v := r.URL.Query().Get("window")
	if v == "" {
		return 0, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		writeJSONError(w, http.StatusBadRequest, "window must be a positive duration such as 5m")
		return 0, false
	}
	return d, true
}
