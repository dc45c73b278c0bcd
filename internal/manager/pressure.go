package manager

import (
	"time"

	"perfd/internal/device"
)

// PressureResult summarises what HandleMemoryPressure removed.
type PressureResult struct {
	Level           device.PressureLevel
	ImagesEvicted   int
	AnalysesEvicted int
	ModelsUnloaded  int
	FreedBytes      int64
}

// HandleMemoryPressure sheds cache contents according to level:
//
//	LOW       nothing
//	MODERATE  30% oldest images and analyses
//	HIGH      60% oldest images and analyses, all models but the one used
//	          most often and most lately
//	CRITICAL  both caches, all models but the hottest
//
// Entries inside the hold-off window survive everything but CRITICAL.
func (m *Manager[M, A]) HandleMemoryPressure(level device.PressureLevel) PressureResult {
	var fx effects[M]
	defer m.flush(&fx)
	m.mu.Lock()
	defer m.mu.Unlock()

	res := PressureResult{Level: level}
	if level <= device.PressureLow {
		return res
	}
	before := m.usedLocked()
	imagesBefore, analysesBefore, modelsBefore := len(m.images), len(m.analyses), len(m.models)
	now := m.clk.Now()

	switch level {
	case device.PressureModerate:
		m.evictOldestFractionLocked(classImage, moderateEvictFraction, now, false, &fx)
		m.evictOldestFractionLocked(classAnalysis, moderateEvictFraction, now, false, &fx)
	case device.PressureHigh:
		m.evictOldestFractionLocked(classImage, highEvictFraction, now, false, &fx)
		m.evictOldestFractionLocked(classAnalysis, highEvictFraction, now, false, &fx)
		keep := m.mostRecentlyFrequentLocked(now)
		for _, mdl := range m.coldestModelsLocked(now) {
			if mdl.ID == keep || m.protectedLocked(mdl.LastAccess, now, false) {
				continue
			}
			m.removeLocked(classModel, mdl.ID, reasonPressure, &fx)
		}
	default:
		m.clearCachesLocked(reasonPressure, &fx)
		models := m.coldestModelsLocked(now)
		// The hottest model is last; every other one goes.
		for i := 0; i < len(models)-1; i++ {
			m.removeLocked(classModel, models[i].ID, reasonPressure, &fx)
		}
	}

	res.ImagesEvicted = imagesBefore - len(m.images)
	res.AnalysesEvicted = analysesBefore - len(m.analyses)
	res.ModelsUnloaded = modelsBefore - len(m.models)
	res.FreedBytes = before - m.usedLocked()
	m.log.Info().
		Str("level", level.String()).
		Int("images", res.ImagesEvicted).
		Int("analyses", res.AnalysesEvicted).
		Int("models", res.ModelsUnloaded).
		Int64("freed", res.FreedBytes).
		Msg("memory pressure handled")
	fx.emit(EventPressure, "", map[string]any{"level": level.String(), "freed": res.FreedBytes})
	return res
}

// mostRecentlyFrequentLocked picks the model with the highest
// accessCount/(1+secondsSinceLastAccess).
func (m *Manager[M, A]) mostRecentlyFrequentLocked(now time.Time) string {
	best := ""
	bestScore := -1.0
	for _, mdl := range m.models {
		s := recentFrequency(mdl.AccessCount, mdl.LastAccess, now)
		if s > bestScore || (s == bestScore && mdl.ID < best) {
			best, bestScore = mdl.ID, s
		}
	}
	return best
}
