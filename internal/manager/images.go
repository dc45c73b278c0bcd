package manager

// imageCapLocked is the byte ceiling of the image cache: a share of device
// available memory, or of the budget when the device cannot say.
func (m *Manager[M, A]) imageCapLocked() int64 {
	if m.availableMemory != nil {
		if avail, err := m.availableMemory(); err == nil && avail >= 0 {
			return int64(float64(avail) * imageCacheShare)
		} else if err != nil {
			m.log.Debug().Err(err).Msg("available memory unknown; capping images by budget")
		}
	}
	return int64(float64(m.budget) * imageCacheShare)
}

// CacheImage stores data under id. Oldest images are evicted until the new
// entry fits the image cap, the entry capacity and the budget. It returns
// false when caching is disabled or the image cannot fit at all, in which
// case nothing is evicted.
func (m *Manager[M, A]) CacheImage(id string, data []byte) bool {
	var fx effects[M]
	defer m.flush(&fx)
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cachingEnabled {
		return false
	}
	size := int64(len(data))
	limit := m.imageCapLocked()
	if size > limit {
		return false
	}

	old, exists := m.images[id]
	imageBytes := m.imageBytes
	used := m.usedLocked()
	count := len(m.images)
	if exists {
		imageBytes -= old.SizeBytes
		used -= old.SizeBytes
		count--
	}

	var plan []victim
	for _, img := range m.oldestImagesLocked(id) {
		if imageBytes+size <= limit && count < m.cacheCapacity && used+size <= m.budget {
			break
		}
		plan = append(plan, victim{class: classImage, id: img.ID, size: img.SizeBytes})
		imageBytes -= img.SizeBytes
		used -= img.SizeBytes
		count--
	}
	if imageBytes+size > limit || count >= m.cacheCapacity || used+size > m.budget {
		return false
	}

	now := m.clk.Now()
	if exists {
		m.removeLocked(classImage, id, reasonExplicit, &fx)
	}
	for _, v := range plan {
		m.removeLocked(v.class, v.id, reasonCapacity, &fx)
	}
	m.images[id] = &CachedImage{
		ID:         id,
		Data:       data,
		SizeBytes:  size,
		CachedAt:   now,
		LastAccess: now,
	}
	m.imageBytes += size
	return true
}

// GetCachedImage returns the image and bumps its access metadata.
func (m *Manager[M, A]) GetCachedImage(id string) (CachedImage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return CachedImage{}, false
	}
	img.LastAccess = m.clk.Now()
	img.AccessCount++
	return *img, true
}
