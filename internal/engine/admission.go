package engine

import (
	"context"
	"sync"
	"time"
)

// admission bounds concurrent analyses. The limit follows the published
// performance config and may change while callers wait.
type admission struct {
	mu       sync.Mutex
	limit    int
	inflight int
	// wake is closed and replaced whenever a slot frees or the limit moves.
	wake chan struct{}
}

func newAdmission(limit int) *admission {
	if limit < 1 {
		limit = 1
	}
	return &admission{limit: limit, wake: make(chan struct{})}
}

func (a *admission) setLimit(n int) {
	if n < 1 {
		n = 1
	}
	a.mu.Lock()
	a.limit = n
	a.broadcastLocked()
	a.mu.Unlock()
}

func (a *admission) broadcastLocked() {
	close(a.wake)
	a.wake = make(chan struct{})
}

func (a *admission) state() (inflight, limit int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inflight, a.limit
}

// acquire reserves a slot, waiting up to maxWait. Returns a release func to
// be deferred; it is safe to call more than once.
func (a *admission) acquire(ctx context.Context, maxWait time.Duration) (func(), error) {
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	for {
		a.mu.Lock()
		if a.inflight < a.limit {
			a.inflight++
			a.mu.Unlock()
			var once sync.Once
			return func() { once.Do(a.release) }, nil
		}
		wake, limit := a.wake, a.limit
		a.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return func() {}, ctx.Err()
		case <-timer.C:
			return func() {}, tooBusyError{limit: limit, wait: maxWait}
		}
	}
}

func (a *admission) release() {
	a.mu.Lock()
	a.inflight--
	a.broadcastLocked()
	a.mu.Unlock()
}
