package manager

import "sort"

// UnloadModel removes a resident model. It returns false when id is unknown.
func (m *Manager[M, A]) UnloadModel(id string) bool {
	var fx effects[M]
	defer m.flush(&fx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.removeLocked(classModel, id, reasonExplicit, &fx) {
		return false
	}
	m.log.Info().Str("model", id).Msg("model unloaded")
	return true
}

// Clear drops every model, image and analysis. Payloads are released.
func (m *Manager[M, A]) Clear() {
	var fx effects[M]
	defer m.flush(&fx)
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.models))
	for id := range m.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.removeLocked(classModel, id, reasonExplicit, &fx)
	}
	m.clearCachesLocked(reasonExplicit, &fx)
}

// clearCachesLocked empties the image and analysis caches.
func (m *Manager[M, A]) clearCachesLocked(reason string, fx *effects[M]) int {
	n := 0
	for _, img := range m.oldestImagesLocked("") {
		m.removeLocked(classImage, img.ID, reason, fx)
		n++
	}
	for _, a := range m.oldestAnalysesLocked("") {
		m.removeLocked(classAnalysis, a.ID, reason, fx)
		n++
	}
	return n
}
