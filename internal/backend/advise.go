package backend

import (
	"fmt"
	"time"
)

const (
	// minAdviceSamples is how many samples the current backend needs
	// before its failure rate is trusted.
	minAdviceSamples = 5
	failureRateLimit = 0.5
	// advantageMargin is the score lead a candidate needs over the
	// current backend.
	advantageMargin = 10.0
	minStability    = 50.0
)

// Advice is a proposed backend change. Switch is false when current should
// stay; Detail always says why.
type Advice struct {
	Switch bool
	From   ID
	To     ID
	Reason SwitchReason
	Detail string
}

// Advise proposes a switch away from current when it is failing or clearly
// outperformed. Improvements are held back while switching is unstable or
// trending worse; failures are not.
func (t *Tracker) Advise(current ID, d time.Duration) Advice {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()

	cur := t.statsLocked(current, now, d)
	rec, recStats := Baseline, t.statsLocked(Baseline, now, d)
	best := -1.0
	for _, id := range known {
		st := t.statsLocked(id, now, d)
		if st.Score >= RecommendThreshold && st.Score > best {
			best, rec, recStats = st.Score, id, st
		}
	}
	adv := Advice{From: current, To: current}

	if cur.Count >= minAdviceSamples && cur.SuccessRate < failureRateLimit {
		to := rec
		if to == current {
			to = Baseline
		}
		if to != current {
			adv.Switch, adv.To, adv.Reason = true, to, ReasonBackendFailure
			adv.Detail = fmt.Sprintf("%s success rate %.0f%%", current, cur.SuccessRate*100)
			return adv
		}
	}

	sw := t.switchStatsLocked(now, d)
	if sw.Trend == TrendDegrading || sw.StabilityScore < minStability {
		adv.Detail = fmt.Sprintf("switching unstable (score %.0f, %s)", sw.StabilityScore, sw.Trend)
		return adv
	}
	if rec == current {
		adv.Detail = "current backend is recommended"
		return adv
	}
	if recStats.Score < cur.Score+advantageMargin {
		adv.Detail = fmt.Sprintf("%s scores %.0f, within margin of %.0f", rec, recStats.Score, cur.Score)
		return adv
	}
	adv.Switch, adv.To = true, rec
	adv.Reason = ReasonAdaptiveOptimization
	if cur.Count > 0 && cur.Score < RecommendThreshold {
		adv.Reason = ReasonPerformanceDegradation
	}
	adv.Detail = fmt.Sprintf("%s scores %.0f vs %.0f", rec, recStats.Score, cur.Score)
	return adv
}
