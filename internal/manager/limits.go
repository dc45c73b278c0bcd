package manager

import (
	"perfd/internal/device"
)

// SetLimits adopts new runtime limits and trims the caches to them. A
// shrinking budget is enforced immediately, ignoring the hold-off window:
// oldest images go first, then oldest analyses, then the coldest models.
func (m *Manager[M, A]) SetLimits(l Limits) {
	var fx effects[M]
	defer m.flush(&fx)
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.BudgetBytes < 0 {
		l.BudgetBytes = 0
	}
	if l.CacheCapacity <= 0 {
		l.CacheCapacity = defaultCacheCapacity
	}
	changed := m.budget != l.BudgetBytes || m.cachingEnabled != l.CachingEnabled ||
		m.cacheCapacity != l.CacheCapacity || m.tier != l.Tier
	m.budget = l.BudgetBytes
	m.cachingEnabled = l.CachingEnabled
	m.cacheCapacity = l.CacheCapacity
	m.tier = l.Tier

	if !m.cachingEnabled {
		m.clearCachesLocked(reasonDisabled, &fx)
	}
	if imgs := m.oldestImagesLocked(""); len(imgs) > m.cacheCapacity {
		for _, img := range imgs[:len(imgs)-m.cacheCapacity] {
			m.removeLocked(classImage, img.ID, reasonCapacity, &fx)
		}
	}
	if as := m.oldestAnalysesLocked(""); len(as) > m.cacheCapacity {
		for _, a := range as[:len(as)-m.cacheCapacity] {
			m.removeLocked(classAnalysis, a.ID, reasonCapacity, &fx)
		}
	}
	m.enforceBudgetLocked(&fx)

	if changed {
		m.log.Debug().
			Int64("budget", m.budget).
			Bool("caching", m.cachingEnabled).
			Int("capacity", m.cacheCapacity).
			Str("tier", m.tier.String()).
			Msg("limits updated")
	}
}

func (m *Manager[M, A]) enforceBudgetLocked(fx *effects[M]) {
	if m.usedLocked() <= m.budget {
		return
	}
	for _, img := range m.oldestImagesLocked("") {
		if m.usedLocked() <= m.budget {
			return
		}
		m.removeLocked(classImage, img.ID, reasonBudget, fx)
	}
	for _, a := range m.oldestAnalysesLocked("") {
		if m.usedLocked() <= m.budget {
			return
		}
		m.removeLocked(classAnalysis, a.ID, reasonBudget, fx)
	}
	for _, mdl := range m.coldestModelsLocked(m.clk.Now()) {
		if m.usedLocked() <= m.budget {
			return
		}
		m.removeLocked(classModel, mdl.ID, reasonBudget, fx)
	}
}

// Tier returns the device tier the complexity gate uses.
func (m *Manager[M, A]) Tier() device.Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tier
}
