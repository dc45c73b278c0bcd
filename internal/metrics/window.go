package metrics

import (
	"sort"
	"time"
)

type sample[T any] struct {
	at time.Time
	v  T
}

// window is a time-ordered buffer that drops samples older than retention
// on every write. Callers hold the owning counter's lock.
type window[T any] struct {
	buf       []sample[T]
	retention time.Duration
}

func newWindow[T any](retention time.Duration) window[T] {
	return window[T]{retention: retention}
}

func (w *window[T]) add(now time.Time, v T) {
	w.prune(now)
	// Samples arrive in clock order; a clock step backwards is clamped so the
	// buffer stays sorted.
	if n := len(w.buf); n > 0 && now.Before(w.buf[n-1].at) {
		now = w.buf[n-1].at
	}
	w.buf = append(w.buf, sample[T]{at: now, v: v})
}

func (w *window[T]) prune(now time.Time) {
	cutoff := now.Add(-w.retention)
	i := sort.Search(len(w.buf), func(i int) bool { return !w.buf[i].at.Before(cutoff) })
	if i == 0 {
		return
	}
	w.buf = w.buf[i:]
	// Reclaim the backing array once most of it is dead.
	if cap(w.buf) > 64 && len(w.buf) < cap(w.buf)/4 {
		w.buf = append(make([]sample[T], 0, len(w.buf)*2), w.buf...)
	}
}

// within returns the samples in [now-d, now]. The slice aliases the buffer
// and must not be retained past the lock.
func (w *window[T]) within(now time.Time, d time.Duration) []sample[T] {
	if d > w.retention {
		d = w.retention
	}
	from := now.Add(-d)
	lo := sort.Search(len(w.buf), func(i int) bool { return !w.buf[i].at.Before(from) })
	hi := sort.Search(len(w.buf), func(i int) bool { return w.buf[i].at.After(now) })
	if lo >= hi {
		return nil
	}
	return w.buf[lo:hi]
}

func (w *window[T]) last() (sample[T], bool) {
	if len(w.buf) == 0 {
		return sample[T]{}, false
	}
	return w.buf[len(w.buf)-1], true
}

func (w *window[T]) len() int { return len(w.buf) }

// effective clamps a query window to the retention horizon.
func (w *window[T]) effective(d time.Duration) time.Duration {
	if d <= 0 || d > w.retention {
		return w.retention
	}
	return d
}
