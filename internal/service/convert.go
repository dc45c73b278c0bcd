package service

import (
	"time"

	"perfd/internal/adaptive"
	"perfd/internal/alert"
	"perfd/internal/backend"
	"perfd/internal/device"
	"perfd/internal/manager"
	"perfd/internal/metrics"
	"perfd/pkg/types"
)

const mib = float64(1 << 20)

func toMB(b int64) float64 { return float64(b) / mib }

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func residentModel(m manager.ModelStatus) types.ResidentModel {
	return types.ResidentModel{
		ID:            m.ID,
		SizeMB:        toMB(m.SizeBytes),
		Complexity:    m.Complexity.String(),
		LoadedAtUnix:  unixOrZero(m.LoadedAt),
		LastUsedUnix:  unixOrZero(m.LastAccess),
		AccessCount:   m.AccessCount,
		LoadLatencyMS: m.LoadLatency.Milliseconds(),
	}
}

func cacheStatus(st manager.Stats) types.CacheStatus {
	out := types.CacheStatus{
		ModelCount:     st.ModelCount,
		ModelMB:        st.ModelMB,
		ImageCount:     st.ImageCount,
		ImageMB:        st.ImageMB,
		AnalysisCount:  st.AnalysisCount,
		AnalysisMB:     st.AnalysisMB,
		TotalMB:        st.TotalMB,
		BudgetMB:       toMB(st.BudgetBytes),
		CachingEnabled: st.CachingEnabled,
		CacheCapacity:  st.CacheCapacity,
		LoadsTotal:     st.LoadsTotal,
		EvictionsTotal: st.EvictionsTotal,
		Models:         make([]types.ResidentModel, 0, len(st.Models)),
	}
	for _, m := range st.Models {
		out.Models = append(out.Models, residentModel(m))
	}
	return out
}

func deviceStatus(s device.CapabilitySnapshot) *types.DeviceStatus {
	return &types.DeviceStatus{
		Tier:              s.Tier.String(),
		TotalMemoryMB:     toMB(s.TotalMemory),
		AvailableMemoryMB: toMB(s.AvailableMemory),
		CPUCores:          s.CPUCores,
		HasGPU:            s.HasGPU,
		HasNPU:            s.HasNPU,
		ThermalState:      s.ThermalState.String(),
		BatteryPercent:    s.BatteryPercent,
		Charging:          s.Charging,
		Pressure:          s.Pressure().String(),
		CapturedAtUnix:    unixOrZero(s.CapturedAt),
	}
}

func configResponse(c adaptive.PerformanceConfig) types.ConfigResponse {
	return types.ConfigResponse{
		Epoch:                 c.Epoch,
		ComputedAtUnix:        unixOrZero(c.ComputedAt),
		Tier:                  c.Tier.String(),
		MaxConcurrentAnalyses: c.MaxConcurrentAnalyses,
		InferenceIntervalMS:   c.InferenceInterval.Milliseconds(),
		UITargetFPS:           c.UITargetFPS,
		PreloadingEnabled:     c.PreloadingEnabled,
		CachingEnabled:        c.CachingEnabled,
		CacheCapacity:         c.CacheCapacity,
		MemoryThresholdMB:     toMB(c.MemoryThreshold),
		LowPowerMode:          c.LowPowerMode,
		Adjustments:           c.Adjustments,
	}
}

func summaryResponse(s metrics.Summary) types.SummaryResponse {
	return types.SummaryResponse{
		WindowSeconds:         s.Window.Seconds(),
		AvgFPS:                s.AvgFPS,
		CacheHitRate:          s.CacheHitRate,
		AnalysisSuccessRate:   s.AnalysisSuccessRate,
		AnalysesPerMinute:     s.AnalysesPerMinute,
		AvgInferenceLatencyMS: ms(s.AvgInferenceLatency),
		MaxInferenceLatencyMS: ms(s.MaxInferenceLatency),
		AvgMemoryUsagePercent: s.AvgMemoryUsagePercent,
		PeakMemoryUsedMB:      toMB(s.PeakMemoryUsed),
		MaxThermalState:       s.MaxThermalState.String(),
		LatestBatteryPercent:  s.LatestBatteryPercent,
		BatteryDrainPerHour:   s.BatteryDrainPerHour,
	}
}

func backendsResponse(r backend.Report, active backend.ID, adv backend.Advice) types.BackendsResponse {
	out := types.BackendsResponse{
		WindowSeconds: r.Window.Seconds(),
		Active:        string(active),
		Recommended:   string(r.Recommended),
		Assessment:    r.Assessment.String(),
		Backends:      make([]types.BackendStats, 0, len(r.Backends)),
		Switching: types.SwitchingStats{
			Count:             r.Switching.Count,
			SwitchesPerMinute: r.Switching.SwitchesPerMinute,
			StabilityScore:    r.Switching.StabilityScore,
			Trend:             r.Switching.Trend.String(),
			AvgDurationMS:     ms(r.Switching.AvgDuration),
			ByReason:          make(map[string]int, len(r.Switching.ByReason)),
		},
		Advice: types.AdviceResponse{Switch: adv.Switch, From: string(adv.From), Detail: adv.Detail},
	}
	for reason, n := range r.Switching.ByReason {
		out.Switching.ByReason[reason.String()] = n
	}
	for _, st := range r.Backends {
		out.Backends = append(out.Backends, types.BackendStats{
			Backend:          string(st.Backend),
			Count:            st.Count,
			AvgThroughput:    st.AvgThroughput,
			TargetThroughput: backend.TargetThroughput(st.Backend),
			AvgLatencyMS:     ms(st.AvgLatency),
			AvgMemoryMB:      st.AvgMemoryMB,
			SuccessRate:      st.SuccessRate,
			Score:            st.Score,
		})
	}
	if adv.Switch {
		out.Advice.To = string(adv.To)
		out.Advice.Reason = adv.Reason.String()
	}
	return out
}

func pressureResponse(r manager.PressureResult) types.PressureResponse {
	return types.PressureResponse{
		Level:           r.Level.String(),
		ImagesEvicted:   r.ImagesEvicted,
		AnalysesEvicted: r.AnalysesEvicted,
		ModelsUnloaded:  r.ModelsUnloaded,
		FreedMB:         toMB(r.FreedBytes),
	}
}

func alertDTO(a alert.Alert) types.Alert {
	return types.Alert{
		ID:           a.ID.String(),
		Kind:         a.Kind().String(),
		Severity:     alert.SeverityOf(a.Payload).String(),
		Message:      alert.Describe(a.Payload),
		RaisedAtUnix: a.At.Unix(),
		Payload:      a.Payload,
	}
}
