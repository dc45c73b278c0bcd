package manager

import (
	"context"
	"time"

	"perfd/internal/device"
)

// LoadModel returns the resident model id, loading it with loader on a miss.
//
// A miss requires budget headroom of at least sizeBytes*1.2. When headroom
// is short, the freeing cascade is planned first and applied only if it
// covers the shortfall, so a rejected load never evicts anything. The
// loader is invoked under the manager lock with the caller's context.
func (m *Manager[M, A]) LoadModel(ctx context.Context, id string, sizeBytes int64, complexity device.Complexity, loader Loader[M]) (LoadedModel[M], error) {
	if sizeBytes < 0 {
		return LoadedModel[M]{}, errInvalidSize
	}
	var fx effects[M]
	defer m.flush(&fx)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	if mdl, ok := m.models[id]; ok {
		mdl.LastAccess = now
		mdl.AccessCount++
		fx.emit(EventModelHit, id, map[string]any{"access_count": mdl.AccessCount})
		return *mdl, nil
	}

	pressure := m.pressureLocked()
	if complexity > device.RecommendedComplexity(m.tier) && pressure >= device.PressureHigh {
		err := complexityTooHighError{id: id, complexity: complexity, tier: m.tier, pressure: pressure}
		m.log.Warn().Str("model", id).Str("complexity", complexity.String()).Str("pressure", pressure.String()).Msg("load rejected: complexity")
		fx.emit(EventLoadRejected, id, map[string]any{"reason": "complexity"})
		return LoadedModel[M]{}, err
	}

	required := requiredBytes(sizeBytes)
	headroom := m.headroomLocked()
	var plan []victim
	if headroom < required {
		need := required - headroom
		var freed int64
		plan, freed = m.planCascadeLocked(need, now, pressure == device.PressureCritical, 0)
		if freed < need {
			m.log.Warn().Str("model", id).Int64("required", required).Int64("available", headroom+freed).Msg("load rejected: insufficient memory")
			fx.emit(EventLoadRejected, id, map[string]any{"reason": "memory", "required": required})
			return LoadedModel[M]{}, insufficientMemoryError{id: id, required: required, available: headroom + freed}
		}
	}

	start := time.Now()
	payload, err := loader(ctx)
	latency := time.Since(start)
	if err != nil {
		fx.emit(EventLoadRejected, id, map[string]any{"reason": "loader"})
		return LoadedModel[M]{}, loaderFailureError{id: id, err: err}
	}

	m.applyLocked(plan, reasonCascade, &fx)
	mdl := &LoadedModel[M]{
		ID:          id,
		SizeBytes:   sizeBytes,
		Complexity:  complexity,
		LoadedAt:    now,
		LastAccess:  now,
		AccessCount: 1,
		LoadLatency: latency,
		Payload:     payload,
	}
	m.models[id] = mdl
	m.modelBytes += sizeBytes
	m.loadsTotal++
	m.log.Info().Str("model", id).Int64("bytes", sizeBytes).Int("evicted", len(plan)).Dur("latency", latency).Msg("model loaded")
	fx.emit(EventModelLoaded, id, map[string]any{"bytes": sizeBytes, "latency_ms": latency.Milliseconds()})
	return *mdl, nil
}

// GetModel returns a resident model without touching access metadata.
func (m *Manager[M, A]) GetModel(id string) (LoadedModel[M], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mdl, ok := m.models[id]
	if !ok {
		return LoadedModel[M]{}, false
	}
	return *mdl, true
}
