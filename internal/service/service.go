// Package service adapts the engine, model registry and alert journal to
// the HTTP API.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"perfd/internal/backend"
	"perfd/internal/clock"
	"perfd/internal/device"
	"perfd/internal/engine"
	"perfd/internal/journal"
	"perfd/internal/registry"
	"perfd/pkg/types"
)

// Engine is the engine instantiation served over HTTP: models are file
// handles, analyses are opaque JSON documents.
type Engine = engine.Engine[*registry.Handle, json.RawMessage]

// MaxFramesPerReport bounds a single frame report.
const MaxFramesPerReport = 10000

type Config struct {
	Engine   *Engine
	Registry *registry.Registry
	// Journal is optional; without it /alerts reports unavailable.
	Journal *journal.Journal
	Clock   clock.Clock
	Logger  *zerolog.Logger
}

// Service implements httpapi.Service.
type Service struct {
	eng     *Engine
	reg     *registry.Registry
	journal *journal.Journal
	clk     clock.Clock
	log     zerolog.Logger
	started time.Time
}

func New(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	s := &Service{
		eng:     cfg.Engine,
		reg:     cfg.Registry,
		journal: cfg.Journal,
		clk:     cfg.Clock,
		log:     zerolog.Nop(),
		started: cfg.Clock.Now(),
	}
	if cfg.Logger != nil {
		s.log = cfg.Logger.With().Str("component", "service").Logger()
	}
	return s
}

func (s *Service) Ready() bool { return s.eng.Initialized() }

func (s *Service) Status() types.StatusResponse {
	st := s.eng.Status()
	now := s.clk.Now()
	out := types.StatusResponse{
		Initialized:    st.Initialized,
		Monitoring:     st.Monitoring,
		State:          st.State.String(),
		ActiveBackend:  string(st.ActiveBackend),
		Pressure:       st.Pressure.String(),
		InFlight:       st.InFlight,
		AdmissionLimit: st.AdmissionLimit,
		AlertsRaised:   st.AlertsRaised,
		AlertsDropped:  st.AlertsDropped,
		UptimeSeconds:  int64(now.Sub(s.started).Seconds()),
		ServerTimeUnix: now.Unix(),
		Cache:          cacheStatus(st.Cache),
	}
	if snap, ok := s.eng.Snapshot(); ok {
		out.Device = deviceStatus(snap)
	}
	if st.Initialized {
		cfg := configResponse(st.Config)
		out.Config = &cfg
	}
	return out
}

func (s *Service) Config() (types.ConfigResponse, error) {
	cfg, err := s.eng.CurrentConfig()
	if err != nil {
		return types.ConfigResponse{}, err
	}
	return configResponse(cfg), nil
}

func (s *Service) Summary(window time.Duration) types.SummaryResponse {
	return summaryResponse(s.eng.Summary(window))
}

func (s *Service) Backends(window time.Duration) types.BackendsResponse {
	return backendsResponse(s.eng.BackendReport(window), s.eng.ActiveBackend(), s.eng.AdviseBackend(window))
}

func (s *Service) ListModels() types.ModelsResponse {
	out := types.ModelsResponse{Models: s.reg.List(), Loaded: []string{}}
	for _, m := range s.eng.CacheStats().Models {
		out.Loaded = append(out.Loaded, m.ID)
	}
	return out
}

// LoadModel loads a registry model into the cache, or touches it if resident.
func (s *Service) LoadModel(ctx context.Context, id string) (types.LoadModelResponse, error) {
	m, ok := s.reg.Get(id)
	if !ok {
		return types.LoadModelResponse{}, notFound("model not found: %s", id)
	}
	complexity, err := device.ParseComplexity(m.Complexity)
	if err != nil {
		return types.LoadModelResponse{}, err
	}
	before := s.eng.CacheStats().UsedBytes
	loaded, err := s.eng.LoadModel(ctx, id, m.SizeBytes, complexity, registry.Loader(m))
	if err != nil {
		s.log.Warn().Err(err).Str("model", id).Str("size", humanize.IBytes(uint64(m.SizeBytes))).Msg("model load failed")
		return types.LoadModelResponse{}, err
	}
	cached := loaded.AccessCount > 1
	out := types.LoadModelResponse{Cached: cached}
	if !cached {
		after := s.eng.CacheStats().UsedBytes
		if freed := before + loaded.SizeBytes - after; freed > 0 {
			out.FreedMB = toMB(freed)
		}
		s.log.Info().
			Str("model", id).
			Str("size", humanize.IBytes(uint64(loaded.SizeBytes))).
			Dur("latency", loaded.LoadLatency).
			Msg("model loaded")
	}
	out.Model = types.ResidentModel{
		ID:            loaded.ID,
		SizeMB:        toMB(loaded.SizeBytes),
		Complexity:    loaded.Complexity.String(),
		LoadedAtUnix:  unixOrZero(loaded.LoadedAt),
		LastUsedUnix:  unixOrZero(loaded.LastAccess),
		AccessCount:   loaded.AccessCount,
		LoadLatencyMS: loaded.LoadLatency.Milliseconds(),
	}
	return out, nil
}

func (s *Service) UnloadModel(id string) bool { return s.eng.UnloadModel(id) }

func (s *Service) HandlePressure(level string) (types.PressureResponse, error) {
	lvl, err := device.ParsePressure(level)
	if err != nil {
		return types.PressureResponse{}, badRequest("%v", err)
	}
	res, err := s.eng.HandleMemoryPressure(lvl)
	if err != nil {
		return types.PressureResponse{}, err
	}
	return pressureResponse(res), nil
}

func (s *Service) RecordInference(r types.InferenceReport) error {
	id, err := backend.ParseID(r.Backend)
	if err != nil {
		return badRequest("%v", err)
	}
	if r.Throughput < 0 || r.LatencyMS < 0 || r.MemoryMB < 0 {
		return badRequest("throughput, latency_ms and memory_mb must not be negative")
	}
	success := r.Success == nil || *r.Success
	latency := time.Duration(r.LatencyMS * float64(time.Millisecond))
	return s.eng.RecordInference(id, r.Throughput, latency, r.MemoryMB, success)
}

func (s *Service) RecordFrames(r types.FrameReport) error {
	if r.Rendered < 0 || r.Dropped < 0 {
		return badRequest("frame counts must not be negative")
	}
	if r.Rendered+r.Dropped > MaxFramesPerReport {
		return badRequest("at most %d frames per report", MaxFramesPerReport)
	}
	for range r.Rendered {
		s.eng.RecordFrame(false)
	}
	for range r.Dropped {
		s.eng.RecordFrame(true)
	}
	return nil
}

func (s *Service) RecordSwitch(r types.SwitchReport) error {
	from, err := backend.ParseID(r.From)
	if err != nil {
		return badRequest("from: %v", err)
	}
	to, err := backend.ParseID(r.To)
	if err != nil {
		return badRequest("to: %v", err)
	}
	reason := backend.ReasonManual
	if r.Reason != "" {
		if reason, err = backend.ParseSwitchReason(r.Reason); err != nil {
			return badRequest("%v", err)
		}
	}
	if r.DurationMS < 0 {
		return badRequest("duration_ms must not be negative")
	}
	return s.eng.RecordSwitch(from, to, reason, time.Duration(r.DurationMS*float64(time.Millisecond)))
}

// Alerts lists journaled alerts, newest first.
func (s *Service) Alerts(ctx context.Context, kind string, limit int) (types.AlertsResponse, error) {
	if s.journal == nil {
		return types.AlertsResponse{}, unavailable("alert journal disabled")
	}
	entries, err := s.journal.Recent(ctx, journal.Query{Kind: kind, Limit: limit})
	if err != nil {
		return types.AlertsResponse{}, err
	}
	counts, err := s.journal.Counts(ctx)
	if err != nil {
		return types.AlertsResponse{}, err
	}
	out := types.AlertsResponse{Alerts: make([]types.Alert, 0, len(entries)), Counts: counts}
	for _, e := range entries {
		out.Alerts = append(out.Alerts, types.Alert{
			ID:           e.ID,
			Kind:         e.Kind,
			Severity:     e.Severity,
			Message:      e.Message,
			RaisedAtUnix: e.RaisedAt.Unix(),
			Payload:      e.Payload,
		})
	}
	return out, nil
}

// StreamAlerts writes live alerts as NDJSON until ctx ends or the engine
// shuts down. flush, when non-nil, is called after every line.
func (s *Service) StreamAlerts(ctx context.Context, w io.Writer, flush func()) error {
	sub, err := s.eng.SubscribeAlerts(0)
	if err != nil {
		return unavailable(fmt.Sprintf("alert stream: %v", err))
	}
	defer sub.Close()
	enc := json.NewEncoder(w)
	if flush != nil {
		flush()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := enc.Encode(alertDTO(a)); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
		}
	}
}
