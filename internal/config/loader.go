// Package config loads the daemon configuration from YAML, JSON or TOML.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"perfd/internal/backend"
	"perfd/internal/device"
)

// Duration is a time.Duration written as "5s", "250ms" etc. in every format.
type Duration struct{ time.Duration }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

// DeviceConfig replaces live probing with fixed readings when Static is set.
type DeviceConfig struct {
	Static            bool    `json:"static" yaml:"static" toml:"static"`
	TotalMemoryMB     int64   `json:"total_memory_mb" yaml:"total_memory_mb" toml:"total_memory_mb"`
	AvailableMemoryMB int64   `json:"available_memory_mb" yaml:"available_memory_mb" toml:"available_memory_mb"`
	CPUCores          int     `json:"cpu_cores" yaml:"cpu_cores" toml:"cpu_cores"`
	HasGPU            bool    `json:"has_gpu" yaml:"has_gpu" toml:"has_gpu"`
	HasNPU            bool    `json:"has_npu" yaml:"has_npu" toml:"has_npu"`
	BatteryPercent    float64 `json:"battery_percent" yaml:"battery_percent" toml:"battery_percent"`
	Charging          bool    `json:"charging" yaml:"charging" toml:"charging"`
	BatteryOptimized  bool    `json:"battery_optimized" yaml:"battery_optimized" toml:"battery_optimized"`
	TemperatureC      float64 `json:"temperature_c" yaml:"temperature_c" toml:"temperature_c"`

	// Roots for the Linux probe; tests point these at fixtures.
	ProcRoot string `json:"proc_root" yaml:"proc_root" toml:"proc_root"`
	SysRoot  string `json:"sys_root" yaml:"sys_root" toml:"sys_root"`
	DevRoot  string `json:"dev_root" yaml:"dev_root" toml:"dev_root"`
}

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr         string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	JournalPath  string   `json:"journal_path" yaml:"journal_path" toml:"journal_path"`
	LogLevel     string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	MonitorInterval  Duration `json:"monitor_interval" yaml:"monitor_interval" toml:"monitor_interval"`
	AdaptationEpoch  Duration `json:"adaptation_epoch" yaml:"adaptation_epoch" toml:"adaptation_epoch"`
	History          int      `json:"history" yaml:"history" toml:"history"`
	Band             float64  `json:"band" yaml:"band" toml:"band"`
	HoldOff          Duration `json:"hold_off" yaml:"hold_off" toml:"hold_off"`
	PressureCooldown Duration `json:"pressure_cooldown" yaml:"pressure_cooldown" toml:"pressure_cooldown"`
	AdmissionWait    Duration `json:"admission_wait" yaml:"admission_wait" toml:"admission_wait"`
	InitialBackend   string   `json:"initial_backend" yaml:"initial_backend" toml:"initial_backend"`
	AutoSwitch       bool     `json:"auto_switch" yaml:"auto_switch" toml:"auto_switch"`
	AlertRetention   Duration `json:"alert_retention" yaml:"alert_retention" toml:"alert_retention"`

	Device DeviceConfig `json:"device" yaml:"device" toml:"device"`
}

// Default returns a fully populated configuration.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ModelsDir == "" {
		c.ModelsDir = "~/models"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.MonitorInterval.Duration <= 0 {
		c.MonitorInterval.Duration = 5 * time.Second
	}
	if c.AdaptationEpoch.Duration <= 0 {
		c.AdaptationEpoch.Duration = 30 * time.Second
	}
	if c.History <= 0 {
		c.History = 10
	}
	if c.Band <= 0 {
		c.Band = 0.15
	}
	if c.HoldOff.Duration == 0 {
		c.HoldOff.Duration = 2 * time.Second
	}
	if c.PressureCooldown.Duration <= 0 {
		c.PressureCooldown.Duration = 30 * time.Second
	}
	if c.AdmissionWait.Duration <= 0 {
		c.AdmissionWait.Duration = 10 * time.Second
	}
	if c.InitialBackend == "" {
		c.InitialBackend = string(backend.Baseline)
	}
	if c.AlertRetention.Duration <= 0 {
		c.AlertRetention.Duration = 7 * 24 * time.Hour
	}
	if c.Device.ProcRoot == "" {
		c.Device.ProcRoot = "/proc"
	}
	if c.Device.SysRoot == "" {
		c.Device.SysRoot = "/sys"
	}
	if c.Device.DevRoot == "" {
		c.Device.DevRoot = "/dev"
	}
	if c.Device.Static && c.Device.BatteryPercent == 0 {
		c.Device.BatteryPercent = 100
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Band <= 0 || c.Band >= 1 {
		errs = append(errs, fmt.Errorf("band must be in (0,1), got %v", c.Band))
	}
	if c.History < 2 {
		errs = append(errs, fmt.Errorf("history must be at least 2, got %d", c.History))
	}
	if _, err := backend.ParseID(c.InitialBackend); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if d := c.Device; d.Static {
		if d.TotalMemoryMB <= 0 {
			errs = append(errs, errors.New("device.total_memory_mb must be positive for a static device"))
		}
		if d.AvailableMemoryMB < 0 || d.AvailableMemoryMB > d.TotalMemoryMB {
			errs = append(errs, fmt.Errorf("device.available_memory_mb %d outside [0,%d]", d.AvailableMemoryMB, d.TotalMemoryMB))
		}
		if d.BatteryPercent < 0 || d.BatteryPercent > 100 {
			errs = append(errs, fmt.Errorf("device.battery_percent %v outside [0,100]", d.BatteryPercent))
		}
	}
	return errors.Join(errs...)
}

// StaticSnapshot builds the capability snapshot of a static device.
func (d DeviceConfig) StaticSnapshot() device.CapabilitySnapshot {
	const mib = int64(1) << 20
	cores := d.CPUCores
	if cores <= 0 {
		cores = 1
	}
	total := d.TotalMemoryMB * mib
	thermal := device.ThermalFromCelsius(d.TemperatureC)
	return device.CapabilitySnapshot{
		Tier:             device.ClassifyTier(total, cores),
		TotalMemory:      total,
		AvailableMemory:  d.AvailableMemoryMB * mib,
		CPUCores:         cores,
		HasGPU:           d.HasGPU,
		HasNPU:           d.HasNPU,
		BatteryOptimized: d.BatteryOptimized,
		ThermalThrottled: thermal >= device.ThermalModerate,
		ThermalState:     thermal,
		BatteryPercent:   d.BatteryPercent,
		Charging:         d.Charging,
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
