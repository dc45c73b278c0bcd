package engine

import (
	"context"

	"perfd/internal/device"
	"perfd/internal/manager"
)

// LoadModel returns the resident model id or loads it. Hits and misses feed
// the cache hit rate.
func (e *Engine[M, A]) LoadModel(ctx context.Context, id string, sizeBytes int64, complexity device.Complexity, loader manager.Loader[M]) (manager.LoadedModel[M], error) {
	if err := e.ensureInit("load model"); err != nil {
		return manager.LoadedModel[M]{}, err
	}
	mdl, err := e.cache.LoadModel(ctx, id, sizeBytes, complexity, loader)
	if err != nil {
		return mdl, err
	}
	if mdl.AccessCount > 1 {
		e.metrics.Cache.RecordHit()
	} else {
		e.metrics.Cache.RecordMiss()
	}
	return mdl, nil
}

// UnloadModel drops a resident model.
func (e *Engine[M, A]) UnloadModel(id string) bool { return e.cache.UnloadModel(id) }

// Model returns a resident model without counting an access.
func (e *Engine[M, A]) Model(id string) (manager.LoadedModel[M], bool) { return e.cache.GetModel(id) }

// CacheImage stores a decoded image.
func (e *Engine[M, A]) CacheImage(id string, data []byte) bool { return e.cache.CacheImage(id, data) }

// CachedImage looks up an image, counting the hit or miss.
func (e *Engine[M, A]) CachedImage(id string) (manager.CachedImage, bool) {
	img, ok := e.cache.GetCachedImage(id)
	e.countLookup(ok)
	return img, ok
}

// CacheAnalysis stores an analysis result of the given estimated size.
func (e *Engine[M, A]) CacheAnalysis(id string, value A, sizeBytes int64) bool {
	return e.cache.CacheAnalysis(id, value, sizeBytes)
}

// CachedAnalysis looks up an analysis, counting the hit or miss.
func (e *Engine[M, A]) CachedAnalysis(id string) (manager.CachedAnalysis[A], bool) {
	a, ok := e.cache.GetCachedAnalysis(id)
	e.countLookup(ok)
	return a, ok
}

func (e *Engine[M, A]) countLookup(hit bool) {
	if hit {
		e.metrics.Cache.RecordHit()
	} else {
		e.metrics.Cache.RecordMiss()
	}
}

// BeginAnalysis reserves one of MaxConcurrentAnalyses slots. The returned
// func releases it; call it when the analysis ends.
func (e *Engine[M, A]) BeginAnalysis(ctx context.Context) (func(), error) {
	if err := e.ensureInit("begin analysis"); err != nil {
		return func() {}, err
	}
	return e.gate.acquire(ctx, e.cfg.AdmissionWait)
}

// CacheClassBytes reports bytes held by models, images and analyses.
func (e *Engine[M, A]) CacheClassBytes() (models, images, analyses int64) {
	return e.cache.ClassBytes()
}
