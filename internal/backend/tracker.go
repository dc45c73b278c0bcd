package backend

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perfd/internal/clock"
)

// Retention horizons for inference samples and switch events.
const (
	InferenceRetention = 30 * time.Minute
	SwitchRetention    = 2 * time.Hour
)

// ErrUnknownBackend is returned when recording against an unregistered ID.
var ErrUnknownBackend = errors.New("backend: unknown backend")

// InferenceSample is one reported inference outcome.
type InferenceSample struct {
	Backend    ID
	At         time.Time
	Throughput float64
	Latency    time.Duration
	MemoryMB   float64
	Success    bool
}

// SwitchEvent records a change of active backend.
type SwitchEvent struct {
	At       time.Time
	From     ID
	To       ID
	Reason   SwitchReason
	Duration time.Duration
}

// Config configures a Tracker.
type Config struct {
	Clock  clock.Clock
	Logger *zerolog.Logger
}

// Tracker holds per-backend samples and the switch history.
type Tracker struct {
	mu       sync.Mutex
	clk      clock.Clock
	log      zerolog.Logger
	samples  map[ID][]InferenceSample
	switches []SwitchEvent
}

// NewTracker constructs an empty tracker.
func NewTracker(cfg Config) *Tracker {
	t := &Tracker{clk: cfg.Clock, samples: make(map[ID][]InferenceSample)}
	if t.clk == nil {
		t.clk = clock.Real()
	}
	if cfg.Logger != nil {
		t.log = cfg.Logger.With().Str("component", "backend").Logger()
	} else {
		t.log = zerolog.Nop()
	}
	return t
}

// RecordInference appends one outcome for backend.
func (t *Tracker) RecordInference(id ID, throughput float64, latency time.Duration, memoryMB float64, success bool) error {
	if _, ok := targets[id]; !ok {
		return ErrUnknownBackend
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	buf := pruneSamples(t.samples[id], now.Add(-InferenceRetention))
	if n := len(buf); n > 0 && now.Before(buf[n-1].At) {
		now = buf[n-1].At
	}
	t.samples[id] = append(buf, InferenceSample{
		Backend:    id,
		At:         now,
		Throughput: throughput,
		Latency:    latency,
		MemoryMB:   memoryMB,
		Success:    success,
	})
	return nil
}

// RecordSwitch appends a switch event.
func (t *Tracker) RecordSwitch(from, to ID, reason SwitchReason, d time.Duration) error {
	if _, ok := targets[from]; !ok {
		return ErrUnknownBackend
	}
	if _, ok := targets[to]; !ok {
		return ErrUnknownBackend
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	t.switches = pruneSwitches(t.switches, now.Add(-SwitchRetention))
	if n := len(t.switches); n > 0 && now.Before(t.switches[n-1].At) {
		now = t.switches[n-1].At
	}
	t.switches = append(t.switches, SwitchEvent{At: now, From: from, To: to, Reason: reason, Duration: d})
	t.log.Info().Str("from", string(from)).Str("to", string(to)).Str("reason", reason.String()).Dur("took", d).Msg("backend switched")
	return nil
}

func pruneSamples(buf []InferenceSample, cutoff time.Time) []InferenceSample {
	i := sort.Search(len(buf), func(i int) bool { return !buf[i].At.Before(cutoff) })
	return buf[i:]
}

func pruneSwitches(buf []SwitchEvent, cutoff time.Time) []SwitchEvent {
	i := sort.Search(len(buf), func(i int) bool { return !buf[i].At.Before(cutoff) })
	return buf[i:]
}

// clampWindow bounds a query window to (0, retention].
func clampWindow(d, retention time.Duration) time.Duration {
	if d <= 0 || d > retention {
		return retention
	}
	return d
}
