package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error"`
	// HTTP status code.
	// example: 400
	Code int `json:"code"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
	// IDs of models currently resident in the cache.
	Loaded []string `json:"loaded"`
}

// ResidentModel summarizes a model held in the cache.
type ResidentModel struct {
	ID            string  `json:"id"`
	SizeMB        float64 `json:"size_mb"`
	Complexity    string  `json:"complexity"`
	LoadedAtUnix  int64   `json:"loaded_at_unix"`
	LastUsedUnix  int64   `json:"last_used_unix"`
	AccessCount   uint64  `json:"access_count"`
	LoadLatencyMS int64   `json:"load_latency_ms"`
}

// CacheStatus reports cache occupancy.
type CacheStatus struct {
	ModelCount     int             `json:"model_count"`
	ModelMB        float64         `json:"model_mb"`
	ImageCount     int             `json:"image_count"`
	ImageMB        float64         `json:"image_mb"`
	AnalysisCount  int             `json:"analysis_count"`
	AnalysisMB     float64         `json:"analysis_mb"`
	TotalMB        float64         `json:"total_mb"`
	BudgetMB       float64         `json:"budget_mb"`
	CachingEnabled bool            `json:"caching_enabled"`
	CacheCapacity  int             `json:"cache_capacity"`
	LoadsTotal     uint64          `json:"loads_total"`
	EvictionsTotal uint64          `json:"evictions_total"`
	Models         []ResidentModel `json:"models"`
}

// DeviceStatus is the latest capability snapshot.
type DeviceStatus struct {
	Tier              string  `json:"tier"`
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	CPUCores          int     `json:"cpu_cores"`
	HasGPU            bool    `json:"has_gpu"`
	HasNPU            bool    `json:"has_npu"`
	ThermalState      string  `json:"thermal_state"`
	BatteryPercent    float64 `json:"battery_percent"`
	Charging          bool    `json:"charging"`
	Pressure          string  `json:"pressure"`
	CapturedAtUnix    int64   `json:"captured_at_unix"`
}

// ConfigResponse is the published performance config, returned by GET /config.
type ConfigResponse struct {
	Epoch                 uint64   `json:"epoch"`
	ComputedAtUnix        int64    `json:"computed_at_unix"`
	Tier                  string   `json:"tier"`
	MaxConcurrentAnalyses int      `json:"max_concurrent_analyses"`
	InferenceIntervalMS   int64    `json:"inference_interval_ms"`
	UITargetFPS           int      `json:"ui_target_fps"`
	PreloadingEnabled     bool     `json:"preloading_enabled"`
	CachingEnabled        bool     `json:"caching_enabled"`
	CacheCapacity         int      `json:"cache_capacity"`
	MemoryThresholdMB     float64  `json:"memory_threshold_mb"`
	LowPowerMode          bool     `json:"low_power_mode"`
	Adjustments           []string `json:"adjustments,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Initialized    bool            `json:"initialized"`
	Monitoring     bool            `json:"monitoring"`
	State          string          `json:"state"`
	ActiveBackend  string          `json:"active_backend"`
	Pressure       string          `json:"pressure"`
	InFlight       int             `json:"inflight"`
	AdmissionLimit int             `json:"admission_limit"`
	AlertsRaised   uint64          `json:"alerts_raised"`
	AlertsDropped  uint64          `json:"alerts_dropped"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
	ServerTimeUnix int64           `json:"server_time_unix"`
	Device         *DeviceStatus   `json:"device,omitempty"`
	Config         *ConfigResponse `json:"config,omitempty"`
	Cache          CacheStatus     `json:"cache"`
}

// SummaryResponse is the performance digest returned by GET /summary.
type SummaryResponse struct {
	WindowSeconds         float64 `json:"window_seconds"`
	AvgFPS                float64 `json:"avg_fps"`
	CacheHitRate          float64 `json:"cache_hit_rate"`
	AnalysisSuccessRate   float64 `json:"analysis_success_rate"`
	AnalysesPerMinute     float64 `json:"analyses_per_minute"`
	AvgInferenceLatencyMS float64 `json:"avg_inference_latency_ms"`
	MaxInferenceLatencyMS float64 `json:"max_inference_latency_ms"`
	AvgMemoryUsagePercent float64 `json:"avg_memory_usage_percent"`
	PeakMemoryUsedMB      float64 `json:"peak_memory_used_mb"`
	MaxThermalState       string  `json:"max_thermal_state"`
	LatestBatteryPercent  float64 `json:"latest_battery_percent"`
	BatteryDrainPerHour   float64 `json:"battery_drain_per_hour"`
}

// BackendStats is one backend's aggregate in a report.
type BackendStats struct {
	Backend          string  `json:"backend"`
	Count            int     `json:"count"`
	AvgThroughput    float64 `json:"avg_throughput"`
	TargetThroughput float64 `json:"target_throughput"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	AvgMemoryMB      float64 `json:"avg_memory_mb"`
	SuccessRate      float64 `json:"success_rate"`
	Score            float64 `json:"score"`
}

// SwitchingStats summarizes backend switching.
type SwitchingStats struct {
	Count             int            `json:"count"`
	SwitchesPerMinute float64        `json:"switches_per_minute"`
	StabilityScore    float64        `json:"stability_score"`
	Trend             string         `json:"trend"`
	AvgDurationMS     float64        `json:"avg_duration_ms"`
	ByReason          map[string]int `json:"by_reason"`
}

// AdviceResponse is the tracker's switch recommendation.
type AdviceResponse struct {
	Switch bool   `json:"switch"`
	From   string `json:"from"`
	To     string `json:"to,omitempty"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// BackendsResponse is returned by GET /backends.
type BackendsResponse struct {
	WindowSeconds float64        `json:"window_seconds"`
	Active        string         `json:"active"`
	Recommended   string         `json:"recommended,omitempty"`
	Assessment    string         `json:"assessment"`
	Backends      []BackendStats `json:"backends"`
	Switching     SwitchingStats `json:"switching"`
	Advice        AdviceResponse `json:"advice"`
}

// LoadModelResponse is returned by POST /models/{id}/load.
type LoadModelResponse struct {
	Model   ResidentModel `json:"model"`
	Cached  bool          `json:"cached"`
	FreedMB float64       `json:"freed_mb"`
}

// PressureRequest asks the cache to react to a memory pressure level.
type PressureRequest struct {
	// example: HIGH
	Level string `json:"level"`
}

// PressureResponse reports what a pressure reaction removed.
type PressureResponse struct {
	Level           string  `json:"level"`
	ImagesEvicted   int     `json:"images_evicted"`
	AnalysesEvicted int     `json:"analyses_evicted"`
	ModelsUnloaded  int     `json:"models_unloaded"`
	FreedMB         float64 `json:"freed_mb"`
}

// InferenceReport reports one inference outcome, POST /inference.
type InferenceReport struct {
	// example: gpu_opencl
	Backend    string  `json:"backend"`
	Throughput float64 `json:"throughput"`
	LatencyMS  float64 `json:"latency_ms"`
	MemoryMB   float64 `json:"memory_mb"`
	Success    *bool   `json:"success,omitempty"`
}

// FrameReport reports rendered and dropped UI frames, POST /frames.
type FrameReport struct {
	Rendered int `json:"rendered"`
	Dropped  int `json:"dropped"`
}

// SwitchReport records a backend change, POST /backends/switch.
type SwitchReport struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Reason     string  `json:"reason"`
	DurationMS float64 `json:"duration_ms"`
}

// Alert is one raised alert as served by the API.
type Alert struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Severity     string `json:"severity"`
	Message      string `json:"message"`
	RaisedAtUnix int64  `json:"raised_at_unix"`
	Payload      any    `json:"payload,omitempty"`
}

// AlertsResponse is returned by GET /alerts.
type AlertsResponse struct {
	Alerts []Alert        `json:"alerts"`
	Counts map[string]int `json:"counts,omitempty"`
}
