package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"perfd/internal/adaptive"
	"perfd/pkg/types"
)

type mockService struct {
	ready     bool
	status    types.StatusResponse
	configErr error
	loadErr   error
	loadRes   types.LoadModelResponse
	unloaded  map[string]bool
	window    time.Duration
	frames    types.FrameReport
	inference types.InferenceReport
	switched  types.SwitchReport
	pressure  string
	alertKind string
	alertN    int
	streamErr error
}

func (m *mockService) Ready() bool                  { return m.ready }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Config() (types.ConfigResponse, error) {
	if m.configErr != nil {
		return types.ConfigResponse{}, m.configErr
	}
	return types.ConfigResponse{Epoch: 3, MaxConcurrentAnalyses: 2}, nil
}
func (m *mockService) Summary(window time.Duration) types.SummaryResponse {
	m.window = window
	return types.SummaryResponse{WindowSeconds: window.Seconds(), AvgFPS: 59}
}
func (m *mockService) Backends(window time.Duration) types.BackendsResponse {
	m.window = window
	return types.BackendsResponse{Active: "cpu"}
}
func (m *mockService) ListModels() types.ModelsResponse {
	return types.ModelsResponse{Models: []types.Model{{ID: "m1"}, {ID: "m2"}}, Loaded: []string{"m1"}}
}
func (m *mockService) LoadModel(ctx context.Context, id string) (types.LoadModelResponse, error) {
	if m.loadErr != nil {
		return types.LoadModelResponse{}, m.loadErr
	}
	res := m.loadRes
	res.Model.ID = id
	return res, nil
}
func (m *mockService) UnloadModel(id string) bool { return m.unloaded[id] }
func (m *mockService) HandlePressure(level string) (types.PressureResponse, error) {
	m.pressure = level
	return types.PressureResponse{Level: strings.ToUpper(level), ImagesEvicted: 3}, nil
}
func (m *mockService) RecordInference(r types.InferenceReport) error { m.inference = r; return nil }
func (m *mockService) RecordFrames(r types.FrameReport) error        { m.frames = r; return nil }
func (m *mockService) RecordSwitch(r types.SwitchReport) error       { m.switched = r; return nil }
func (m *mockService) Alerts(ctx context.Context, kind string, limit int) (types.AlertsResponse, error) {
	m.alertKind, m.alertN = kind, limit
	return types.AlertsResponse{Alerts: []types.Alert{{ID: "a1", Kind: "low_fps"}}}, nil
}
func (m *mockService) StreamAlerts(ctx context.Context, w io.Writer, flush func()) error {
	if m.streamErr != nil {
		return m.streamErr
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(types.Alert{ID: "a1", Kind: "low_battery"})
	if flush != nil {
		flush()
	}
	_ = enc.Encode(types.Alert{ID: "a2", Kind: "low_fps"})
	return nil
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestModelsHandler(t *testing.T) {
	w := do(t, NewMux(&mockService{}), http.MethodGet, "/models", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Models) != 2 || len(body.Loaded) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{Initialized: true, ActiveBackend: "gpu_opengl"}}
	w := do(t, NewMux(svc), http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !body.Initialized || body.ActiveBackend != "gpu_opengl" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
}

func TestConfigNotInitialized(t *testing.T) {
	svc := &mockService{configErr: adaptive.ErrNotInitialized("current config")}
	w := do(t, NewMux(svc), http.MethodGet, "/config", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Code != http.StatusServiceUnavailable {
		t.Fatalf("error body %q: %v", w.Body.String(), err)
	}
}

func TestWindowParam(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	if w := do(t, h, http.MethodGet, "/summary?window=2m", ""); w.Code != http.StatusOK || svc.window != 2*time.Minute {
		t.Fatalf("status=%d window=%v", w.Code, svc.window)
	}
	if w := do(t, h, http.MethodGet, "/backends?window=soon", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/backends", ""); w.Code != http.StatusOK || svc.window != 0 {
		t.Fatalf("status=%d window=%v", w.Code, svc.window)
	}
}

func TestLoadModelStatusCodes(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	if w := do(t, h, http.MethodPost, "/models/m1/load", ""); w.Code != http.StatusCreated {
		t.Fatalf("fresh load status=%d", w.Code)
	}
	svc.loadRes.Cached = true
	w := do(t, h, http.MethodPost, "/models/m1/load", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cached load status=%d", w.Code)
	}
	var res types.LoadModelResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil || res.Model.ID != "m1" {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	svc.loadErr = mockHTTPError{msg: "model not found: zz", code: http.StatusNotFound}
	if w := do(t, h, http.MethodPost, "/models/zz/load", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing model status=%d", w.Code)
	}
	svc.loadErr = errors.New("disk on fire")
	if w := do(t, h, http.MethodPost, "/models/m1/load", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("generic error status=%d", w.Code)
	}
}

func TestUnloadModel(t *testing.T) {
	svc := &mockService{unloaded: map[string]bool{"m1": true}}
	h := NewMux(svc)
	if w := do(t, h, http.MethodDelete, "/models/m1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/models/m2", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestPressureHandler(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	w := do(t, h, http.MethodPost, "/pressure", `{"level":"high"}`)
	if w.Code != http.StatusOK || svc.pressure != "high" {
		t.Fatalf("status=%d level=%q", w.Code, svc.pressure)
	}
	if w := do(t, h, http.MethodPost, "/pressure", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing level status=%d", w.Code)
	}
}

func TestRecordEndpoints(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	if w := do(t, h, http.MethodPost, "/frames", `{"rendered":58,"dropped":2}`); w.Code != http.StatusNoContent {
		t.Fatalf("frames status=%d", w.Code)
	}
	if svc.frames.Rendered != 58 || svc.frames.Dropped != 2 {
		t.Fatalf("frames %+v", svc.frames)
	}
	if w := do(t, h, http.MethodPost, "/inference", `{"backend":"cpu","throughput":243,"latency_ms":12.5}`); w.Code != http.StatusNoContent {
		t.Fatalf("inference status=%d", w.Code)
	}
	if svc.inference.LatencyMS != 12.5 || svc.inference.Success != nil {
		t.Fatalf("inference %+v", svc.inference)
	}
	if w := do(t, h, http.MethodPost, "/backends/switch", `{"from":"cpu","to":"gpu_opencl","reason":"thermal"}`); w.Code != http.StatusNoContent {
		t.Fatalf("switch status=%d", w.Code)
	}
	if svc.switched.Reason != "thermal" {
		t.Fatalf("switch %+v", svc.switched)
	}
}

func TestDecodeJSONRejectsBadInput(t *testing.T) {
	h := NewMux(&mockService{})
	req := httptest.NewRequest(http.MethodPost, "/frames", strings.NewReader(`{"rendered":1}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/frames", `{"rendered":`); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}

	SetMaxBodyBytes(8)
	defer SetMaxBodyBytes(0)
	if w := do(t, h, http.MethodPost, "/frames", `{"rendered":100000000}`); w.Code != http.StatusBadRequest {
		t.Fatalf("oversized body status=%d", w.Code)
	}
}

func TestAlertsHandler(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	w := do(t, h, http.MethodGet, "/alerts?kind=low_fps&limit=5", "")
	if w.Code != http.StatusOK || svc.alertKind != "low_fps" || svc.alertN != 5 {
		t.Fatalf("status=%d kind=%q n=%d", w.Code, svc.alertKind, svc.alertN)
	}
	if w := do(t, h, http.MethodGet, "/alerts?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestStreamAlerts(t *testing.T) {
	w := do(t, NewMux(&mockService{}), http.MethodGet, "/alerts/stream", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type=%s", ct)
	}
	lines := bytes.Split(bytes.TrimSpace(w.Body.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got %q", w.Body.String())
	}
	var a types.Alert
	if err := json.Unmarshal(lines[0], &a); err != nil || a.Kind != "low_battery" {
		t.Fatalf("first line %q: %v", lines[0], err)
	}

	svc := &mockService{streamErr: mockHTTPError{msg: "bus closed", code: http.StatusServiceUnavailable}}
	if w := do(t, NewMux(svc), http.MethodGet, "/alerts/stream", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	if w := do(t, NewMux(&mockService{ready: true}), http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	w := do(t, NewMux(&mockService{}), http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "initializing") {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if w := do(t, NewMux(&mockService{}), http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	SetCORSOptions(true, []string{"http://dash.local"}, []string{"GET", "POST"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)
	h := NewMux(&mockService{})
	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	req.Header.Set("Origin", "http://dash.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://dash.local" {
		t.Fatalf("allow-origin=%q", got)
	}
}
