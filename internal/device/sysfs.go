package device

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// SysfsProbe reads capabilities from procfs and sysfs. Roots are
// configurable so tests can point it at a synthetic tree.
type SysfsProbe struct {
	ProcRoot string
	SysRoot  string
	DevRoot  string
	// Tier, when set, overrides the tier derived from memory and cores.
	Tier *Tier
	now  func() time.Time
}

// NewSysfsProbe returns a probe over the given roots ("" means "/proc",
// "/sys" and "/dev").
func NewSysfsProbe(procRoot, sysRoot, devRoot string) *SysfsProbe {
	if procRoot == "" {
		procRoot = "/proc"
	}
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	if devRoot == "" {
		devRoot = "/dev"
	}
	return &SysfsProbe{ProcRoot: procRoot, SysRoot: sysRoot, DevRoot: devRoot, now: time.Now}
}

func (p *SysfsProbe) DetectCapabilities(ctx context.Context) (CapabilitySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return CapabilitySnapshot{}, ErrProbeUnavailable("detect", err)
	}
	total, avail, err := readMeminfo(filepath.Join(p.ProcRoot, "meminfo"))
	if err != nil {
		return CapabilitySnapshot{}, ErrProbeUnavailable("detect", err)
	}
	cores := countCPUs(filepath.Join(p.ProcRoot, "cpuinfo"))
	if cores == 0 {
		cores = runtime.NumCPU()
	}
	thermal := ThermalFromCelsius(p.maxThermalCelsius())
	battery, charging := p.readBattery()
	snap := CapabilitySnapshot{
		TotalMemory:      total,
		AvailableMemory:  avail,
		CPUCores:         cores,
		HasGPU:           p.hasGPU(),
		HasNPU:           p.hasNPU(),
		BatteryOptimized: p.powerSaving(),
		ThermalState:     thermal,
		ThermalThrottled: thermal >= ThermalSevere,
		BatteryPercent:   battery,
		Charging:         charging,
		CapturedAt:       p.now(),
	}
	if p.Tier != nil {
		snap.Tier = *p.Tier
	} else {
		snap.Tier = ClassifyTier(total, cores)
	}
	return snap, nil
}

func (p *SysfsProbe) CurrentMemoryUsage() (int64, error) {
	total, avail, err := readMeminfo(filepath.Join(p.ProcRoot, "meminfo"))
	if err != nil {
		return 0, ErrProbeUnavailable("memory usage", err)
	}
	return total - avail, nil
}

func (p *SysfsProbe) AvailableMemory() (int64, error) {
	_, avail, err := readMeminfo(filepath.Join(p.ProcRoot, "meminfo"))
	if err != nil {
		return 0, ErrProbeUnavailable("available memory", err)
	}
	return avail, nil
}

// readMeminfo returns MemTotal and MemAvailable in bytes.
func readMeminfo(path string) (total, avail int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	var haveTotal, haveAvail bool
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line) * 1024
			haveTotal = true
		case strings.HasPrefix(line, "MemAvailable:"):
			avail = parseMeminfoKB(line) * 1024
			haveAvail = true
		}
	}
	if err := sc.Err(); err != nil {
		return 0, 0, err
	}
	if !haveTotal || !haveAvail {
		return 0, 0, fmt.Errorf("%s: missing MemTotal or MemAvailable", path)
	}
	return total, avail, nil
}

func parseMeminfoKB(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func countCPUs(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "processor") {
			n++
		}
	}
	return n
}

// maxThermalCelsius returns the hottest thermal zone, or 0 when none exist.
func (p *SysfsProbe) maxThermalCelsius() float64 {
	zones, _ := filepath.Glob(filepath.Join(p.SysRoot, "class/thermal/thermal_zone*/temp"))
	hottest := 0.0
	for _, z := range zones {
		milli, ok := readInt(z)
		if !ok {
			continue
		}
		if c := float64(milli) / 1000; c > hottest {
			hottest = c
		}
	}
	return hottest
}

// readBattery returns capacity and charging state of the first battery.
// Mains-only devices report 100% and charging.
func (p *SysfsProbe) readBattery() (float64, bool) {
	supplies, _ := filepath.Glob(filepath.Join(p.SysRoot, "class/power_supply/*"))
	for _, s := range supplies {
		if readString(filepath.Join(s, "type")) != "Battery" {
			continue
		}
		capacity, ok := readInt(filepath.Join(s, "capacity"))
		if !ok {
			continue
		}
		status := readString(filepath.Join(s, "status"))
		return float64(capacity), status == "Charging" || status == "Full"
	}
	return 100, true
}

func (p *SysfsProbe) powerSaving() bool {
	switch readString(filepath.Join(p.SysRoot, "firmware/acpi/platform_profile")) {
	case "low-power", "quiet", "cool":
		return true
	}
	return false
}

func (p *SysfsProbe) hasGPU() bool {
	nodes, _ := filepath.Glob(filepath.Join(p.DevRoot, "dri/renderD*"))
	return len(nodes) > 0
}

func (p *SysfsProbe) hasNPU() bool {
	nodes, _ := filepath.Glob(filepath.Join(p.DevRoot, "accel/accel*"))
	return len(nodes) > 0
}

func readString(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readInt(path string) (int64, bool) {
	s := readString(path)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
