package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"perfd/internal/clock"
	"perfd/internal/device"
)

const mb = int64(1 << 20)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestManager builds a string-payload manager on a fake clock.
func newTestManager(t *testing.T, budget int64, mutate ...func(*ManagerConfig[string])) (*Manager[string, string], *clock.FakeClock, *MemoryPublisher) {
	t.Helper()
	clk := clock.Fake(epoch)
	pub := NewMemoryPublisher()
	cfg := ManagerConfig[string]{
		BudgetBytes: budget,
		Tier:        device.TierHigh,
		Clock:       clk,
		Publisher:   pub,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return NewWithConfig[string, string](cfg), clk, pub
}

// countingLoader returns payload and counts invocations.
type countingLoader struct {
	mu    sync.Mutex
	calls int
}

func (c *countingLoader) loader(payload string) Loader[string] {
	return func(ctx context.Context) (string, error) {
		c.mu.Lock()
		c.calls++
		c.mu.Unlock()
		return payload, nil
	}
}

func (c *countingLoader) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func payloadLoader(payload string) Loader[string] {
	return func(ctx context.Context) (string, error) { return payload, nil }
}

// assertBudget checks used = models + images + analyses <= budget.
func assertBudget(t *testing.T, m *Manager[string, string]) {
	t.Helper()
	st := m.Stats()
	models, images, analyses := m.ClassBytes()
	if models+images+analyses != st.UsedBytes {
		t.Fatalf("accounting drift: %d+%d+%d != %d", models, images, analyses, st.UsedBytes)
	}
	if st.UsedBytes > st.BudgetBytes {
		t.Fatalf("budget exceeded: used=%d budget=%d", st.UsedBytes, st.BudgetBytes)
	}
}

func mustLoad(t *testing.T, m *Manager[string, string], id string, size int64, c device.Complexity) LoadedModel[string] {
	t.Helper()
	mdl, err := m.LoadModel(context.Background(), id, size, c, payloadLoader("payload-"+id))
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return mdl
}
