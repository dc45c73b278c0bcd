package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"perfd/internal/backend"
	"perfd/internal/common/fsutil"
	"perfd/internal/engine"
	"perfd/internal/httpapi"
	"perfd/internal/journal"
	"perfd/internal/registry"
	"perfd/internal/service"
	"perfd/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring loop and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			modelsDir, err := fsutil.EnsureDir(cfg.ModelsDir)
			if err != nil {
				return fmt.Errorf("models dir: %w", err)
			}
			reg, err := registry.New(modelsDir)
			if err != nil {
				return fmt.Errorf("load models: %w", err)
			}

			exporter := telemetry.New(nil)
			initial, _ := backend.ParseID(cfg.InitialBackend)
			eng := engine.New[*registry.Handle, json.RawMessage](engine.Config[*registry.Handle]{
				Probe:            newProbe(cfg),
				Logger:           &logger,
				MonitorInterval:  cfg.MonitorInterval.Duration,
				AdaptationEpoch:  cfg.AdaptationEpoch.Duration,
				History:          cfg.History,
				Band:             cfg.Band,
				HoldOff:          cfg.HoldOff.Duration,
				PressureCooldown: cfg.PressureCooldown.Duration,
				AdmissionWait:    cfg.AdmissionWait.Duration,
				InitialBackend:   initial,
				AutoSwitch:       cfg.AutoSwitch,
				Release:          (*registry.Handle).Release,
				Observer:         exporter,
				Publisher:        exporter,
			})
			if err := eng.Init(ctx); err != nil {
				return fmt.Errorf("init engine: %w", err)
			}
			exporter.WatchCache(eng.CacheClassBytes)
			exporter.WatchBackends(func() backend.Report { return eng.BackendReport(0) })

			var jnl *journal.Journal
			if cfg.JournalPath != "" {
				path, err := fsutil.EnsureParent(cfg.JournalPath)
				if err != nil {
					return fmt.Errorf("journal path: %w", err)
				}
				jnl, err = journal.Open(path, &logger)
				if err != nil {
					return err
				}
				defer func() { _ = jnl.Close() }()
				sub, err := eng.SubscribeAlerts(0)
				if err != nil {
					return err
				}
				go jnl.Consume(ctx, sub)
				go jnl.RunRetention(ctx, time.Hour, cfg.AlertRetention.Duration)
			}

			if _, err := eng.StartMonitoring(ctx); err != nil {
				return fmt.Errorf("start monitoring: %w", err)
			}

			svc := service.New(service.Config{Engine: eng, Registry: reg, Journal: jnl, Logger: &logger})
			httpapi.SetLogger(logger)
			httpapi.SetBaseContext(ctx)
			httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
			httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins,
				[]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
				[]string{"Content-Type", "X-Log-Level", "X-Request-Id"})

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(svc),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				snap, _ := eng.Snapshot()
				logger.Info().
					Str("addr", cfg.Addr).
					Str("models_dir", modelsDir).
					Int("models", len(reg.List())).
					Str("tier", snap.Tier.String()).
					Str("memory", humanize.IBytes(uint64(snap.TotalMemory))).
					Msg("perfd listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case <-ctx.Done():
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			}
			stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("graceful shutdown error")
			}
			return eng.Shutdown(shutdownCtx)
		},
	}
	o.bind(cmd)
	return cmd
}
