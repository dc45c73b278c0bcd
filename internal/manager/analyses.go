package manager

// CacheAnalysis stores value under id with an estimated size. The analysis
// cache is bounded by entry capacity and the shared budget; oldest analyses
// make room first. It returns false when caching is disabled or the entry
// cannot fit, leaving the cache unchanged.
func (m *Manager[M, A]) CacheAnalysis(id string, value A, sizeBytes int64) bool {
	if sizeBytes < 0 {
		return false
	}
	var fx effects[M]
	defer m.flush(&fx)
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cachingEnabled {
		return false
	}
	old, exists := m.analyses[id]
	used := m.usedLocked()
	count := len(m.analyses)
	if exists {
		used -= old.SizeBytes
		count--
	}

	var plan []victim
	for _, a := range m.oldestAnalysesLocked(id) {
		if count < m.cacheCapacity && used+sizeBytes <= m.budget {
			break
		}
		plan = append(plan, victim{class: classAnalysis, id: a.ID, size: a.SizeBytes})
		used -= a.SizeBytes
		count--
	}
	if count >= m.cacheCapacity || used+sizeBytes > m.budget {
		return false
	}

	if exists {
		m.removeLocked(classAnalysis, id, reasonExplicit, &fx)
	}
	for _, v := range plan {
		m.removeLocked(v.class, v.id, reasonCapacity, &fx)
	}
	now := m.clk.Now()
	m.analyses[id] = &CachedAnalysis[A]{
		ID:         id,
		Value:      value,
		SizeBytes:  sizeBytes,
		CachedAt:   now,
		LastAccess: now,
	}
	m.analysisBytes += sizeBytes
	return true
}

// GetCachedAnalysis returns the analysis and bumps its access metadata.
func (m *Manager[M, A]) GetCachedAnalysis(id string) (CachedAnalysis[A], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok {
		return CachedAnalysis[A]{}, false
	}
	a.LastAccess = m.clk.Now()
	a.AccessCount++
	return *a, true
}
