package manager

import (
	"context"
	"time"

	"perfd/internal/device"
)

// Loader produces a model payload. It runs once per cache miss.
type Loader[M any] func(ctx context.Context) (M, error)

// LoadedModel is a resident model. Values returned to callers are copies;
// only the payload may alias manager-owned data.
type LoadedModel[M any] struct {
	ID          string
	SizeBytes   int64
	Complexity  device.Complexity
	LoadedAt    time.Time
	LastAccess  time.Time
	AccessCount uint64
	LoadLatency time.Duration
	Payload     M
}

// CachedImage is a decoded image kept for re-analysis.
type CachedImage struct {
	ID          string
	Data        []byte
	SizeBytes   int64
	CachedAt    time.Time
	LastAccess  time.Time
	AccessCount uint64
}

// CachedAnalysis is a stored analysis result.
type CachedAnalysis[A any] struct {
	ID          string
	Value       A
	SizeBytes   int64
	CachedAt    time.Time
	LastAccess  time.Time
	AccessCount uint64
}

// ModelStatus is the payload-free view of a resident model.
type ModelStatus struct {
	ID          string
	SizeBytes   int64
	Complexity  device.Complexity
	LoadedAt    time.Time
	LastAccess  time.Time
	AccessCount uint64
	LoadLatency time.Duration
}

// Stats is a consistent snapshot of cache occupancy.
type Stats struct {
	ModelCount     int
	ModelMB        float64
	ImageCount     int
	ImageMB        float64
	AnalysisCount  int
	AnalysisMB     float64
	TotalMB        float64
	BudgetBytes    int64
	UsedBytes      int64
	CachingEnabled bool
	CacheCapacity  int
	LoadsTotal     uint64
	EvictionsTotal uint64
	Models         []ModelStatus
}

// class names a cache class in events and victim lists.
type class string

const (
	classModel    class = "model"
	classImage    class = "image"
	classAnalysis class = "analysis"
)
