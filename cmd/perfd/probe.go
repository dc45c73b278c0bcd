package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"perfd/internal/adaptive"
	"perfd/internal/device"
)

func newProbeCmd() *cobra.Command {
	var o options
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Print the detected device capabilities and the config derived from them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			snap, err := newProbe(cfg).DetectCapabilities(ctx)
			if err != nil {
				return err
			}
			derived := adaptive.DeriveFromCapabilities(snap)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"device": snap, "config": derived})
			}
			printProbe(cmd.OutOrStdout(), snap, derived)
			return nil
		},
	}
	o.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	return cmd
}

func printProbe(w io.Writer, s device.CapabilitySnapshot, c adaptive.PerformanceConfig) {
	fmt.Fprintf(w, "tier:               %s\n", s.Tier)
	fmt.Fprintf(w, "memory:             %s available of %s (%s pressure)\n",
		humanize.IBytes(uint64(max(s.AvailableMemory, 0))), humanize.IBytes(uint64(max(s.TotalMemory, 0))), s.Pressure())
	fmt.Fprintf(w, "cpu cores:          %d\n", s.CPUCores)
	fmt.Fprintf(w, "gpu / npu:          %t / %t\n", s.HasGPU, s.HasNPU)
	fmt.Fprintf(w, "thermal:            %s\n", s.ThermalState)
	fmt.Fprintf(w, "battery:            %.0f%% (charging %t, saver %t)\n", s.BatteryPercent, s.Charging, s.BatteryOptimized)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "max analyses:       %d\n", c.MaxConcurrentAnalyses)
	fmt.Fprintf(w, "inference interval: %s\n", c.InferenceInterval)
	fmt.Fprintf(w, "ui target fps:      %d\n", c.UITargetFPS)
	fmt.Fprintf(w, "cache budget:       %s (%d entries per cache)\n", humanize.IBytes(uint64(max(c.MemoryThreshold, 0))), c.CacheCapacity)
	fmt.Fprintf(w, "preloading:         %t\n", c.PreloadingEnabled)
	fmt.Fprintf(w, "low power mode:     %t\n", c.LowPowerMode)
}
