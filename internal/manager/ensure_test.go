package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"perfd/internal/device"
)

func TestLoadModelIsIdempotent(t *testing.T) {
	m, clk, pub := newTestManager(t, 100*mb)
	var cl countingLoader
	ctx := context.Background()
	first, err := m.LoadModel(ctx, "det", 10*mb, device.ComplexityBasic, cl.loader("p"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	clk.Advance(time.Second)
	second, err := m.LoadModel(ctx, "det", 10*mb, device.ComplexityBasic, cl.loader("p"))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cl.count() != 1 {
		t.Fatalf("loader invoked %d times, want 1", cl.count())
	}
	if first.AccessCount != 1 || second.AccessCount != 2 {
		t.Fatalf("access counts: %d then %d", first.AccessCount, second.AccessCount)
	}
	if !second.LastAccess.Equal(epoch.Add(time.Second)) {
		t.Fatalf("last access not refreshed: %v", second.LastAccess)
	}
	if second.Payload != "p" {
		t.Fatalf("payload: %q", second.Payload)
	}
	if st := m.Stats(); st.ModelCount != 1 || st.UsedBytes != 10*mb || st.LoadsTotal != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if pub.Count(EventModelLoaded) != 1 || pub.Count(EventModelHit) != 1 {
		t.Fatalf("events: %+v", pub.Events())
	}
	assertBudget(t, m)
}

func TestLoadModelCascadeEvictsColdModel(t *testing.T) {
	released := []string{}
	m, clk, _ := newTestManager(t, 620*mb, func(c *ManagerConfig[string]) {
		c.Release = func(p string) { released = append(released, p) }
	})
	mustLoad(t, m, "A", 50*mb, device.ComplexityBasic)
	clk.Advance(3 * time.Second)

	// B needs ceil(500MB*1.2)=600MB against 570MB headroom.
	mustLoad(t, m, "B", 500*mb, device.ComplexityBasic)
	if _, ok := m.GetModel("A"); ok {
		t.Fatalf("expected A to be evicted")
	}
	if _, ok := m.GetModel("B"); !ok {
		t.Fatalf("expected B resident")
	}
	if len(released) != 1 || released[0] != "payload-A" {
		t.Fatalf("released: %v", released)
	}
	if st := m.Stats(); st.EvictionsTotal != 1 || st.UsedBytes != 500*mb {
		t.Fatalf("stats: %+v", st)
	}
	assertBudget(t, m)
}

func TestLoadModelInsufficientMemoryEvictsNothing(t *testing.T) {
	m, clk, pub := newTestManager(t, 520*mb)
	mustLoad(t, m, "A", 50*mb, device.ComplexityBasic)
	clk.Advance(3 * time.Second)

	var cl countingLoader
	_, err := m.LoadModel(context.Background(), "B", 500*mb, device.ComplexityBasic, cl.loader("b"))
	if !IsInsufficientMemory(err) {
		t.Fatalf("expected insufficient memory, got %v", err)
	}
	if IsLoaderFailure(err) || IsComplexityTooHigh(err) {
		t.Fatalf("misclassified error: %v", err)
	}
	if cl.count() != 0 {
		t.Fatalf("loader must not run on rejection")
	}
	if _, ok := m.GetModel("A"); !ok {
		t.Fatalf("rejected load must not evict A")
	}
	if pub.Count(EventEvicted) != 0 || pub.Count(EventLoadRejected) != 1 {
		t.Fatalf("events: %+v", pub.Events())
	}
	assertBudget(t, m)
}

func TestLoadModelHoldOffProtectsRecentModel(t *testing.T) {
	m, clk, _ := newTestManager(t, 620*mb)
	mustLoad(t, m, "A", 50*mb, device.ComplexityBasic)
	clk.Advance(500 * time.Millisecond)
	_, err := m.LoadModel(context.Background(), "B", 500*mb, device.ComplexityBasic, payloadLoader("b"))
	if !IsInsufficientMemory(err) {
		t.Fatalf("expected A to be protected by hold-off, got %v", err)
	}
}

func TestLoadModelCascadeDropsStaleAnalysesFirst(t *testing.T) {
	m, clk, _ := newTestManager(t, 100*mb)
	if !m.CacheAnalysis("old", "result", 40*mb) {
		t.Fatalf("cache analysis failed")
	}
	mustLoad(t, m, "keep", 5*mb, device.ComplexityBasic)
	clk.Advance(11 * time.Minute)

	// headroom 55MB, requirement 60MB: the stale analysis covers it.
	mustLoad(t, m, "new", 50*mb, device.ComplexityBasic)
	if _, ok := m.GetCachedAnalysis("old"); ok {
		t.Fatalf("stale analysis should be gone")
	}
	if _, ok := m.GetModel("keep"); !ok {
		t.Fatalf("model should survive when analyses suffice")
	}
	assertBudget(t, m)
}

func TestLoadModelComplexityGate(t *testing.T) {
	level := device.PressureHigh
	m, _, _ := newTestManager(t, 100*mb, func(c *ManagerConfig[string]) {
		c.Tier = device.TierLow
		c.Pressure = func() device.PressureLevel { return level }
	})
	ctx := context.Background()
	_, err := m.LoadModel(ctx, "seg", mb, device.ComplexityStandard, payloadLoader("s"))
	if !IsComplexityTooHigh(err) {
		t.Fatalf("expected complexity rejection, got %v", err)
	}
	if _, err := m.LoadModel(ctx, "cls", mb, device.ComplexityBasic, payloadLoader("c")); err != nil {
		t.Fatalf("basic model should load: %v", err)
	}
	level = device.PressureModerate
	if _, err := m.LoadModel(ctx, "seg", mb, device.ComplexityStandard, payloadLoader("s")); err != nil {
		t.Fatalf("standard model should load under moderate pressure: %v", err)
	}
}

func TestLoadModelWrapsLoaderFailure(t *testing.T) {
	m, _, _ := newTestManager(t, 100*mb)
	boom := errors.New("corrupt file")
	_, err := m.LoadModel(context.Background(), "x", mb, device.ComplexityBasic, func(ctx context.Context) (string, error) {
		return "", boom
	})
	if !IsLoaderFailure(err) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped loader failure, got %v", err)
	}
	if st := m.Stats(); st.ModelCount != 0 || st.UsedBytes != 0 {
		t.Fatalf("failed load left state: %+v", st)
	}
}

func TestLoadModelRejectsNegativeSize(t *testing.T) {
	m, _, _ := newTestManager(t, 100*mb)
	if _, err := m.LoadModel(context.Background(), "x", -1, device.ComplexityBasic, payloadLoader("x")); err == nil {
		t.Fatalf("expected error for negative size")
	}
}

func TestUnloadModel(t *testing.T) {
	var released []string
	m, _, pub := newTestManager(t, 100*mb, func(c *ManagerConfig[string]) {
		c.Release = func(p string) { released = append(released, p) }
	})
	mustLoad(t, m, "a", 10*mb, device.ComplexityBasic)
	if !m.UnloadModel("a") {
		t.Fatalf("unload returned false")
	}
	if m.UnloadModel("a") {
		t.Fatalf("second unload should report false")
	}
	if len(released) != 1 {
		t.Fatalf("payload not released: %v", released)
	}
	if pub.Count(EventModelUnloaded) != 1 || pub.Count(EventEvicted) != 0 {
		t.Fatalf("events: %+v", pub.Events())
	}
	if st := m.Stats(); st.UsedBytes != 0 || st.EvictionsTotal != 0 {
		t.Fatalf("stats: %+v", st)
	}
}
