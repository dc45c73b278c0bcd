package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"perfd/internal/config"
	"perfd/internal/device"
)

// options are the flags shared by every command.
type options struct {
	configPath   string
	addr         string
	modelsDir    string
	journalPath  string
	logLevel     string
	logFormat    string
	staticDevice bool
	autoSwitch   bool
}

func (o *options) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", os.Getenv("PERFD_CONFIG"), "Path to a YAML, JSON or TOML config file")
	f.StringVar(&o.addr, "addr", "", "HTTP listen address, e.g. :8080")
	f.StringVar(&o.modelsDir, "models-dir", "", "Directory to scan for .tflite/.onnx/.gguf/.bin models")
	f.StringVar(&o.journalPath, "journal", "", "SQLite alert journal path (empty disables)")
	f.StringVar(&o.logLevel, "log-level", "", "Log level: trace|debug|info|warn|error")
	f.StringVar(&o.logFormat, "log-format", "", "Log format: json|console")
	f.BoolVar(&o.staticDevice, "static-device", false, "Use the device readings from the config instead of probing")
	f.BoolVar(&o.autoSwitch, "auto-switch", false, "Let the monitoring loop follow backend switch advice")
}

// load reads the config file (if any), applies flags that were set and
// fills defaults.
func (o *options) load(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Addr = o.addr
	}
	if f.Changed("models-dir") {
		cfg.ModelsDir = o.modelsDir
	}
	if f.Changed("journal") {
		cfg.JournalPath = o.journalPath
	}
	if f.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if f.Changed("log-format") {
		cfg.LogFormat = o.logFormat
	}
	if f.Changed("static-device") {
		cfg.Device.Static = o.staticDevice
	}
	if f.Changed("auto-switch") {
		cfg.AutoSwitch = o.autoSwitch
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) zerolog.Logger {
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "perfd").Logger()
}

func newProbe(cfg config.Config) device.Probe {
	if cfg.Device.Static {
		return device.NewStaticProbe(cfg.Device.StaticSnapshot())
	}
	return device.NewSysfsProbe(cfg.Device.ProcRoot, cfg.Device.SysRoot, cfg.Device.DevRoot)
}
