package manager

import (
	"math"
	"time"
)

// requiredBytes applies the load safety margin to a model size.
func requiredBytes(size int64) int64 {
	return int64(math.Ceil(float64(size) * loadSafetyMargin))
}

// minAge avoids dividing by zero for entries created in the same instant.
const minAge = time.Millisecond

// hotness is accessCount / age in accesses per millisecond, the cascade's
// measure of how much a model is still needed.
func hotness(accessCount uint64, loadedAt, now time.Time) float64 {
	age := now.Sub(loadedAt)
	if age < minAge {
		age = minAge
	}
	return float64(accessCount) / float64(age.Milliseconds())
}

// recentFrequency favours models that are both used often and used lately.
func recentFrequency(accessCount uint64, lastAccess, now time.Time) float64 {
	idle := now.Sub(lastAccess).Seconds()
	if idle < 0 {
		idle = 0
	}
	return float64(accessCount) / (1 + idle)
}

func toMB(b int64) float64 { return float64(b) / (1024 * 1024) }
