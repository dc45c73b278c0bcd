package manager

import (
	"time"

	"github.com/rs/zerolog"

	"perfd/internal/clock"
	"perfd/internal/device"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultCacheCapacity = 50
	defaultHoldOff       = 2 * time.Second

	// loadSafetyMargin is the headroom factor a model load requires.
	loadSafetyMargin = 1.2
	// imageCacheShare is the fraction of available device memory the image
	// cache may occupy.
	imageCacheShare = 0.10

	staleAnalysisAge = 10 * time.Minute
	staleImageAge    = 5 * time.Minute

	moderateEvictFraction = 0.3
	highEvictFraction     = 0.6
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig[M any] struct {
	// BudgetBytes caps the combined size of models, images and analyses.
	BudgetBytes int64
	Tier        device.Tier
	// DisableCaching starts the manager with image/analysis caching off.
	DisableCaching bool
	// CacheCapacity is the maximum entry count of each result cache.
	CacheCapacity int
	// HoldOff protects recently accessed entries from non-critical
	// eviction. Negative disables the protection.
	HoldOff time.Duration
	// AvailableMemory reports device memory for the image cache cap. When
	// nil, or when it fails, budget headroom is used instead.
	AvailableMemory func() (int64, error)
	// Pressure reports the device pressure level used by the complexity
	// gate. When nil, pressure is derived from budget headroom. It runs
	// under the manager lock and must not call back into the Manager.
	Pressure func() device.PressureLevel
	// Release is called with a model payload after it leaves the cache,
	// outside the manager lock.
	Release   func(M)
	Clock     clock.Clock
	Logger    *zerolog.Logger
	Publisher EventPublisher
}

// Limits are the knobs the adaptive controller drives at runtime.
type Limits struct {
	BudgetBytes    int64
	CachingEnabled bool
	CacheCapacity  int
	Tier           device.Tier
}
