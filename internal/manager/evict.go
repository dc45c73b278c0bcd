package manager

import (
	"math"
	"sort"
	"time"
)

type victim struct {
	class class
	id    string
	size  int64
}

// planCascadeLocked walks the freeing cascade and returns the victims that
// cover need bytes, stopping as soon as the requirement is met:
//
//  1. analyses older than staleAnalysisAge, oldest first;
//  2. images older than staleImageAge, oldest first;
//  3. models with the lowest accessCount/age, while more than keepModels
//     would remain resident.
//
// Nothing is removed; callers apply the plan only when it suffices.
func (m *Manager[M, A]) planCascadeLocked(need int64, now time.Time, critical bool, keepModels int) ([]victim, int64) {
	var plan []victim
	var freed int64
	if need <= 0 {
		return nil, 0
	}

	analyses := make([]*CachedAnalysis[A], 0, len(m.analyses))
	for _, a := range m.analyses {
		if now.Sub(a.CachedAt) > staleAnalysisAge && !m.protectedLocked(a.LastAccess, now, critical) {
			analyses = append(analyses, a)
		}
	}
	sort.Slice(analyses, func(i, j int) bool { return analyses[i].CachedAt.Before(analyses[j].CachedAt) })
	for _, a := range analyses {
		if freed >= need {
			return plan, freed
		}
		plan = append(plan, victim{class: classAnalysis, id: a.ID, size: a.SizeBytes})
		freed += a.SizeBytes
	}

	images := make([]*CachedImage, 0, len(m.images))
	for _, img := range m.images {
		if now.Sub(img.CachedAt) > staleImageAge && !m.protectedLocked(img.LastAccess, now, critical) {
			images = append(images, img)
		}
	}
	sort.Slice(images, func(i, j int) bool { return images[i].CachedAt.Before(images[j].CachedAt) })
	for _, img := range images {
		if freed >= need {
			return plan, freed
		}
		plan = append(plan, victim{class: classImage, id: img.ID, size: img.SizeBytes})
		freed += img.SizeBytes
	}

	models := m.coldestModelsLocked(now)
	resident := len(m.models)
	for _, mdl := range models {
		if freed >= need {
			return plan, freed
		}
		if resident <= keepModels {
			break
		}
		if m.protectedLocked(mdl.LastAccess, now, critical) {
			continue
		}
		plan = append(plan, victim{class: classModel, id: mdl.ID, size: mdl.SizeBytes})
		freed += mdl.SizeBytes
		resident--
	}
	return plan, freed
}

// coldestModelsLocked orders models least hot first.
func (m *Manager[M, A]) coldestModelsLocked(now time.Time) []*LoadedModel[M] {
	out := make([]*LoadedModel[M], 0, len(m.models))
	for _, mdl := range m.models {
		out = append(out, mdl)
	}
	sort.Slice(out, func(i, j int) bool {
		hi := hotness(out[i].AccessCount, out[i].LoadedAt, now)
		hj := hotness(out[j].AccessCount, out[j].LoadedAt, now)
		if hi != hj {
			return hi < hj
		}
		return out[i].LastAccess.Before(out[j].LastAccess)
	})
	return out
}

// applyLocked removes every victim and records the reason.
func (m *Manager[M, A]) applyLocked(plan []victim, reason string, fx *effects[M]) {
	for _, v := range plan {
		m.removeLocked(v.class, v.id, reason, fx)
	}
}

// removeLocked drops one entry and adjusts accounting. Missing ids are ignored.
func (m *Manager[M, A]) removeLocked(c class, id, reason string, fx *effects[M]) bool {
	var size int64
	switch c {
	case classModel:
		mdl, ok := m.models[id]
		if !ok {
			return false
		}
		size = mdl.SizeBytes
		delete(m.models, id)
		m.modelBytes -= size
		fx.released = append(fx.released, mdl.Payload)
		fx.emit(EventModelUnloaded, id, map[string]any{"reason": reason, "bytes": size})
	case classImage:
		img, ok := m.images[id]
		if !ok {
			return false
		}
		size = img.SizeBytes
		delete(m.images, id)
		m.imageBytes -= size
	case classAnalysis:
		a, ok := m.analyses[id]
		if !ok {
			return false
		}
		size = a.SizeBytes
		delete(m.analyses, id)
		m.analysisBytes -= size
	default:
		return false
	}
	if reason != reasonExplicit {
		m.evictionsTotal++
		fx.emit(EventEvicted, id, map[string]any{"class": string(c), "reason": reason, "bytes": size})
	}
	return true
}

// Eviction reasons carried in events.
const (
	reasonExplicit = "explicit"
	reasonCascade  = "cascade"
	reasonPressure = "pressure"
	reasonCapacity = "capacity"
	reasonBudget   = "budget"
	reasonDisabled = "caching_disabled"
)

// evictOldestFractionLocked removes floor(frac*count) of the oldest entries
// of an image or analysis cache, skipping entries inside the hold-off.
func (m *Manager[M, A]) evictOldestFractionLocked(c class, frac float64, now time.Time, critical bool, fx *effects[M]) int {
	type entry struct {
		id       string
		cachedAt time.Time
	}
	var all []entry
	total := 0
	switch c {
	case classImage:
		total = len(m.images)
		for _, img := range m.images {
			if !m.protectedLocked(img.LastAccess, now, critical) {
				all = append(all, entry{img.ID, img.CachedAt})
			}
		}
	case classAnalysis:
		total = len(m.analyses)
		for _, a := range m.analyses {
			if !m.protectedLocked(a.LastAccess, now, critical) {
				all = append(all, entry{a.ID, a.CachedAt})
			}
		}
	}
	n := int(math.Floor(frac * float64(total)))
	if n > len(all) {
		n = len(all)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].cachedAt.Equal(all[j].cachedAt) {
			return all[i].cachedAt.Before(all[j].cachedAt)
		}
		return all[i].id < all[j].id
	})
	for _, e := range all[:n] {
		m.removeLocked(c, e.id, reasonPressure, fx)
	}
	return n
}

// oldestImagesLocked lists images oldest first, excluding skip.
func (m *Manager[M, A]) oldestImagesLocked(skip string) []*CachedImage {
	out := make([]*CachedImage, 0, len(m.images))
	for _, img := range m.images {
		if img.ID != skip {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CachedAt.Equal(out[j].CachedAt) {
			return out[i].CachedAt.Before(out[j].CachedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// oldestAnalysesLocked lists analyses oldest first, excluding skip.
func (m *Manager[M, A]) oldestAnalysesLocked(skip string) []*CachedAnalysis[A] {
	out := make([]*CachedAnalysis[A], 0, len(m.analyses))
	for _, a := range m.analyses {
		if a.ID != skip {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CachedAt.Equal(out[j].CachedAt) {
			return out[i].CachedAt.Before(out[j].CachedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
