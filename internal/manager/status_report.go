package manager

import "sort"

// Stats returns a consistent snapshot of occupancy and counters.
func (m *Manager[M, A]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		ModelCount:     len(m.models),
		ModelMB:        toMB(m.modelBytes),
		ImageCount:     len(m.images),
		ImageMB:        toMB(m.imageBytes),
		AnalysisCount:  len(m.analyses),
		AnalysisMB:     toMB(m.analysisBytes),
		TotalMB:        toMB(m.usedLocked()),
		BudgetBytes:    m.budget,
		UsedBytes:      m.usedLocked(),
		CachingEnabled: m.cachingEnabled,
		CacheCapacity:  m.cacheCapacity,
		LoadsTotal:     m.loadsTotal,
		EvictionsTotal: m.evictionsTotal,
		Models:         make([]ModelStatus, 0, len(m.models)),
	}
	for _, mdl := range m.models {
		st.Models = append(st.Models, ModelStatus{
			ID:          mdl.ID,
			SizeBytes:   mdl.SizeBytes,
			Complexity:  mdl.Complexity,
			LoadedAt:    mdl.LoadedAt,
			LastAccess:  mdl.LastAccess,
			AccessCount: mdl.AccessCount,
			LoadLatency: mdl.LoadLatency,
		})
	}
	sort.Slice(st.Models, func(i, j int) bool { return st.Models[i].ID < st.Models[j].ID })
	return st
}

// ClassBytes reports bytes held by models, images and analyses.
func (m *Manager[M, A]) ClassBytes() (models, images, analyses int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelBytes, m.imageBytes, m.analysisBytes
}
