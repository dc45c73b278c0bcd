package backend

import "time"

// RecommendThreshold is the minimum score a backend needs to be recommended.
const RecommendThreshold = 80.0

// Assessment grades the overall backend situation.
type Assessment int

const (
	AssessmentInsufficientData Assessment = iota
	AssessmentPoor
	AssessmentFair
	AssessmentGood
	AssessmentExcellent
)

func (a Assessment) String() string {
	switch a {
	case AssessmentPoor:
		return "poor"
	case AssessmentFair:
		return "fair"
	case AssessmentGood:
		return "good"
	case AssessmentExcellent:
		return "excellent"
	default:
		return "insufficient_data"
	}
}

// Report compares all backends over a window.
type Report struct {
	GeneratedAt time.Time
	Window      time.Duration
	Backends    []Stats
	Recommended ID
	Assessment  Assessment
	Switching   SwitchStats
}

// Report builds the comparison for window d. The recommended backend is the
// highest scoring one at or above RecommendThreshold, ties going to the
// lower-power backend; Baseline when none qualifies.
func (t *Tracker) Report(d time.Duration) Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	r := Report{
		GeneratedAt: now,
		Window:      clampWindow(d, InferenceRetention),
		Backends:    make([]Stats, 0, len(known)),
		Recommended: Baseline,
		Switching:   t.switchStatsLocked(now, d),
	}
	best, top := -1.0, 0.0
	sampled := false
	for _, id := range known {
		st := t.statsLocked(id, now, d)
		r.Backends = append(r.Backends, st)
		if st.Count > 0 {
			sampled = true
		}
		if st.Score > top {
			top = st.Score
		}
		if st.Score >= RecommendThreshold && st.Score > best {
			best = st.Score
			r.Recommended = id
		}
	}
	r.Assessment = assess(sampled, top, r.Switching.StabilityScore)
	return r
}

func assess(sampled bool, top, stability float64) Assessment {
	if !sampled {
		return AssessmentInsufficientData
	}
	switch {
	case top >= 90 && stability >= 80:
		return AssessmentExcellent
	case top >= RecommendThreshold:
		return AssessmentGood
	case top >= 50:
		return AssessmentFair
	default:
		return AssessmentPoor
	}
}
