package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	service "github.com/okian/talentmatch/internal/app"
	"github.com/okian/talentmatch/internal/config"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/okian/talentmatch/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the matching service",
	Long: `Loads configuration (defaults, then the optional TALENTMATCH_CONFIG file,
then TALENTMATCH_* environment variables) and serves the HTTP API until
SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// We export our own runtime gauges instead of the default collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, err := service.New(ctx, cfg, service.WithLogger(log))
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	go startSystemMetricsUpdater(ctx, metrics.RefreshInterval())

	if err := svc.Run(ctx); err != nil {
		return err
	}
	log.Info(context.WithoutCancel(ctx), "server stopped")
	return nil
}
