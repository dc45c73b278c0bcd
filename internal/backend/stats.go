package backend

import (
	"math"
	"time"
)

// Stats aggregates one backend's samples over a window.
type Stats struct {
	Backend       ID
	Count         int
	AvgThroughput float64
	AvgLatency    time.Duration
	AvgMemoryMB   float64
	// SuccessRate is 1.0 when there are no samples.
	SuccessRate float64
	// Score is min(100, AvgThroughput/target*100); 0 without samples.
	Score float64
}

// Score computes the comparative score of an average throughput.
func Score(id ID, avgThroughput float64) float64 {
	target := TargetThroughput(id)
	if target <= 0 || avgThroughput <= 0 {
		return 0
	}
	return math.Min(100, avgThroughput/target*100)
}

// Stats reports every known backend over window d (clamped to
// InferenceRetention), lowest power first.
func (t *Tracker) Stats(d time.Duration) []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	out := make([]Stats, 0, len(known))
	for _, id := range known {
		out = append(out, t.statsLocked(id, now, d))
	}
	return out
}

// StatsFor reports a single backend.
func (t *Tracker) StatsFor(id ID, d time.Duration) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked(id, t.clk.Now(), d)
}

func (t *Tracker) statsLocked(id ID, now time.Time, d time.Duration) Stats {
	d = clampWindow(d, InferenceRetention)
	from := now.Add(-d)
	st := Stats{Backend: id, SuccessRate: 1}
	var thr, mem float64
	var lat time.Duration
	ok := 0
	for _, s := range t.samples[id] {
		if s.At.Before(from) || s.At.After(now) {
			continue
		}
		st.Count++
		thr += s.Throughput
		lat += s.Latency
		mem += s.MemoryMB
		if s.Success {
			ok++
		}
	}
	if st.Count == 0 {
		return st
	}
	n := float64(st.Count)
	st.AvgThroughput = thr / n
	st.AvgLatency = lat / time.Duration(st.Count)
	st.AvgMemoryMB = mem / n
	st.SuccessRate = float64(ok) / n
	st.Score = Score(id, st.AvgThroughput)
	return st
}

// Trend is the direction the switching stability is moving.
type Trend int

const (
	TrendSteady Trend = iota
	TrendImproving
	TrendDegrading
)

func (tr Trend) String() string {
	switch tr {
	case TrendImproving:
		return "improving"
	case TrendDegrading:
		return "degrading"
	default:
		return "steady"
	}
}

// trendThreshold is the stability score delta between window halves that
// counts as a trend.
const trendThreshold = 10

// SwitchStats summarises backend switching over a window.
type SwitchStats struct {
	Count             int
	SwitchesPerMinute float64
	// StabilityScore is max(0, 100 - SwitchesPerMinute*10).
	StabilityScore float64
	Trend          Trend
	AvgDuration    time.Duration
	ByReason       map[SwitchReason]int
}

func stabilityScore(perMinute float64) float64 {
	return math.Max(0, 100-perMinute*10)
}

// SwitchStats reports switching over window d (clamped to SwitchRetention).
// The trend compares the stability of the older and newer halves.
func (t *Tracker) SwitchStats(d time.Duration) SwitchStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.switchStatsLocked(t.clk.Now(), d)
}

func (t *Tracker) switchStatsLocked(now time.Time, d time.Duration) SwitchStats {
	d = clampWindow(d, SwitchRetention)
	from := now.Add(-d)
	mid := now.Add(-d / 2)
	st := SwitchStats{ByReason: make(map[SwitchReason]int)}
	var older, newer int
	var total time.Duration
	for _, e := range t.switches {
		if e.At.Before(from) || e.At.After(now) {
			continue
		}
		st.Count++
		st.ByReason[e.Reason]++
		total += e.Duration
		if e.At.Before(mid) {
			older++
		} else {
			newer++
		}
	}
	st.SwitchesPerMinute = float64(st.Count) / d.Minutes()
	st.StabilityScore = stabilityScore(st.SwitchesPerMinute)
	if st.Count == 0 {
		return st
	}
	st.AvgDuration = total / time.Duration(st.Count)
	half := (d / 2).Minutes()
	delta := stabilityScore(float64(newer)/half) - stabilityScore(float64(older)/half)
	switch {
	case delta > trendThreshold:
		st.Trend = TrendImproving
	case delta < -trendThreshold:
		st.Trend = TrendDegrading
	}
	return st
}
