package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSyntheticFile(t *testing.T, root, path, content string) {
	t.Helper()
	p := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestSysfsProbeFromSyntheticTree(t *testing.T) {
	root := t.TempDir()
	proc := filepath.Join(root, "proc")
	sys := filepath.Join(root, "sys")
	dev := filepath.Join(root, "dev")
	writeSyntheticFile(t, proc, "meminfo", "MemTotal:        8388608 kB\nMemFree:  100 kB\nMemAvailable:    2097152 kB\n")
	writeSyntheticFile(t, proc, "cpuinfo", "processor\t: 0\nprocessor\t: 1\nprocessor\t: 2\nprocessor\t: 3\n")
	writeSyntheticFile(t, sys, "class/thermal/thermal_zone0/temp", "41000\n")
	writeSyntheticFile(t, sys, "class/thermal/thermal_zone1/temp", "52500\n")
	writeSyntheticFile(t, sys, "class/power_supply/BAT0/type", "Battery\n")
	writeSyntheticFile(t, sys, "class/power_supply/BAT0/capacity", "17\n")
	writeSyntheticFile(t, sys, "class/power_supply/BAT0/status", "Discharging\n")
	writeSyntheticFile(t, dev, "dri/renderD128", "")

	p := NewSysfsProbe(proc, sys, dev)
	snap, err := p.DetectCapabilities(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if snap.TotalMemory != 8<<30 || snap.AvailableMemory != 2<<30 {
		t.Fatalf("memory total=%d avail=%d", snap.TotalMemory, snap.AvailableMemory)
	}
	if snap.CPUCores != 4 {
		t.Fatalf("cores=%d", snap.CPUCores)
	}
	if snap.Tier != TierMid {
		t.Fatalf("tier=%v", snap.Tier)
	}
	if snap.ThermalState != ThermalModerate || snap.ThermalThrottled {
		t.Fatalf("thermal=%v throttled=%v", snap.ThermalState, snap.ThermalThrottled)
	}
	if snap.BatteryPercent != 17 || snap.Charging {
		t.Fatalf("battery=%v charging=%v", snap.BatteryPercent, snap.Charging)
	}
	if !snap.HasGPU || snap.HasNPU {
		t.Fatalf("gpu=%v npu=%v", snap.HasGPU, snap.HasNPU)
	}
	used, err := p.CurrentMemoryUsage()
	if err != nil || used != 6<<30 {
		t.Fatalf("used=%d err=%v", used, err)
	}
}

func TestSysfsProbeMissingMeminfo(t *testing.T) {
	p := NewSysfsProbe(t.TempDir(), t.TempDir(), t.TempDir())
	_, err := p.DetectCapabilities(context.Background())
	if err == nil || !IsProbeUnavailable(err) {
		t.Fatalf("expected probe unavailable, got %v", err)
	}
	if _, err := p.AvailableMemory(); !IsProbeUnavailable(err) {
		t.Fatalf("expected probe unavailable from AvailableMemory, got %v", err)
	}
}

func TestStaticProbeFail(t *testing.T) {
	p := NewStaticProbe(CapabilitySnapshot{Tier: TierHigh, TotalMemory: 100, AvailableMemory: 40})
	used, err := p.CurrentMemoryUsage()
	if err != nil || used != 60 {
		t.Fatalf("used=%d err=%v", used, err)
	}
	boom := errors.New("sensor offline")
	p.Fail(boom)
	_, err = p.DetectCapabilities(context.Background())
	if !IsProbeUnavailable(err) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped probe error, got %v", err)
	}
}

func TestClassifyPressure(t *testing.T) {
	cases := []struct {
		avail, total int64
		want         PressureLevel
	}{
		{50, 100, PressureLow},
		{39, 100, PressureModerate},
		{19, 100, PressureHigh},
		{9, 100, PressureCritical},
		{0, 0, PressureLow},
	}
	for _, c := range cases {
		if got := ClassifyPressure(c.avail, c.total); got != c.want {
			t.Fatalf("ClassifyPressure(%d,%d)=%v want %v", c.avail, c.total, got, c.want)
		}
	}
}

func TestRecommendedComplexity(t *testing.T) {
	if RecommendedComplexity(TierLow) != ComplexityBasic ||
		RecommendedComplexity(TierMid) != ComplexityStandard ||
		RecommendedComplexity(TierHigh) != ComplexityAdvanced {
		t.Fatalf("unexpected tier to complexity mapping")
	}
}
