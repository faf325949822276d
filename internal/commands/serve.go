// Package commands implements the gridshift CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gridshift-io/gridshift/internal/alert"
	"github.com/gridshift-io/gridshift/internal/archiver"
	pgdest "github.com/gridshift-io/gridshift/internal/archiver/postgres"
	"github.com/gridshift-io/gridshift/internal/config"
	"github.com/gridshift-io/gridshift/internal/engine"
	"github.com/gridshift-io/gridshift/internal/metrics"
	"github.com/gridshift-io/gridshift/internal/sentinel"
	"github.com/gridshift-io/gridshift/internal/server"
	"github.com/gridshift-io/gridshift/internal/tracker"
	"github.com/gridshift-io/gridshift/internal/valve"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Gridshift control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	logger := slog.Default()

	st, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		return fmt.Errorf("creating alert dispatcher: %w", err)
	}

	// Data valve
	vopts := valve.Options{Store: st, Logger: logger}
	if vc := cfg.Valve; vc != nil {
		vopts.MinPrice = vc.MinPrice
		vopts.MaxPrice = vc.MaxPrice
		vopts.Retention = config.Duration(vc.Retention, 0)
		vopts.CacheTTL = config.Duration(vc.CacheTTL, 0)
		vopts.CacheCapacity = vc.CacheCapacity
	}
	v := valve.New(vopts)

	tr := tracker.New(tracker.Options{Store: st, Logger: logger})

	// Decision engine manager
	active, fallback, historyLimit := engine.CostModelEngineName, engine.RulesEngineName, 0
	if ec := cfg.Engine; ec != nil {
		if ec.Active != "" {
			active = ec.Active
		}
		if ec.Fallback != "" {
			fallback = ec.Fallback
		}
		historyLimit = ec.HistoryLimit
	}
	mgr := engine.NewManager(engine.Options{
		Registry:     engine.BuiltinRegistry(),
		Logger:       logger,
		Store:        st,
		Fallback:     fallback,
		HistoryLimit: historyLimit,
	})
	if err := mgr.Load(ctx, active, false); err != nil {
		if _, _, _, ok := mgr.Active(); !ok {
			return fmt.Errorf("loading decision engine: %w", err)
		}
		logger.Warn("configured engine rejected, fallback promoted", "engine", active, "error", err)
	}

	// Sentinel
	sopts := sentinel.Options{
		Store:   st,
		Logger:  logger,
		AlertFn: dispatcher.AlertFunc(),
	}
	if sc := cfg.Sentinel; sc != nil {
		sopts.DedupWindow = config.Duration(sc.DedupWindow, 0)
		sopts.RateLimitWindow = config.Duration(sc.RateLimitWindow, 0)
		sopts.RateThreshold = sc.RateLimitThreshold
		sopts.RateDelay = time.Duration(sc.RateLimitDelaySeconds) * time.Second
	}
	sent := sentinel.New(sopts)
	if err := registerRemediation(sent, st, tr, v, logger); err != nil {
		return fmt.Errorf("registering remediation callbacks: %w", err)
	}

	monitorInterval := time.Minute
	if cfg.Sentinel != nil {
		monitorInterval = config.Duration(cfg.Sentinel.MonitorInterval, monitorInterval)
	}
	mon := sentinel.NewMonitor(sent, monitorInterval)
	mon.Start(ctx)

	// Archiver
	var arc *archiver.Archiver
	if cfg.Archiver != nil && cfg.Archiver.Enabled {
		pg, err := pgdest.New(ctx, cfg.Archiver.DSN)
		if err != nil {
			return fmt.Errorf("connecting to Postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return fmt.Errorf("migrating Postgres: %w", err)
		}
		arc = archiver.New(st, pg, config.Duration(cfg.Archiver.Interval, 5*time.Minute), logger)
		arc.Start(ctx)
	}

	// Metrics export
	var metricsShutdown func(context.Context) error
	if cfg.Metrics != nil && cfg.Metrics.OTLPEndpoint != "" {
		metricsShutdown, err = metrics.StartOTLPExport(ctx,
			cfg.Metrics.OTLPEndpoint, config.Duration(cfg.Metrics.Interval, time.Minute))
		if err != nil {
			return fmt.Errorf("starting metrics export: %w", err)
		}
	}

	addr, apiKey := ":3000", ""
	if cfg.Server != nil {
		if cfg.Server.Addr != "" {
			addr = cfg.Server.Addr
		}
		apiKey = cfg.Server.APIKey
	}
	srv := server.New(addr, apiKey, st, mgr, v)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mon.Stop(shutdownCtx)
		if arc != nil {
			arc.Stop(shutdownCtx)
		}
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if metricsShutdown != nil {
			_ = metricsShutdown(shutdownCtx)
		}
		_ = st.Stop(shutdownCtx)
		color.Green("Control plane stopped gracefully")
		return nil
	}
}
