package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config file (optional, can use env vars)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load configuration
	cfg, err := LoadConfig(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("segmentpam-agent starting",
		"version", version,
		"server_url", cfg.ServerURL,
		"host", cfg.Host,
		"physnets", cfg.PhysicalNetworks,
		"report_interval", cfg.ReportInterval,
	)

	// Create pusher
	pusher := NewPusher(cfg.ServerURL, cfg.APIKey, cfg.RequestTimeout, logger)

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Run scheduler
	if err := runScheduler(ctx, cfg, pusher, logger); err != nil {
		logger.Error("scheduler failed", "error", err)
		os.Exit(1)
	}

	logger.Info("segmentpam-agent stopped")
}

// runScheduler re-reports the host's physical networks on a fixed
// interval. Reports are idempotent on the server side, so repeated
// reports heal drift after server restarts or missed updates.
func runScheduler(ctx context.Context, cfg *Config, pusher *Pusher, logger *slog.Logger) error {
	ticker := time.NewTicker(cfg.ReportInterval)
	defer ticker.Stop()

	// Initial report
	runReport(ctx, cfg, pusher, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, stopping scheduler")
			return nil

		case <-ticker.C:
			runReport(ctx, cfg, pusher, logger)
		}
	}
}

func runReport(ctx context.Context, cfg *Config, pusher *Pusher, logger *slog.Logger) {
	if err := pusher.ReportPhysnets(ctx, cfg.Host, cfg.PhysicalNetworks, cfg.MaxRetries, cfg.RetryBackoff); err != nil {
		logger.Error("physnet report failed", "error", err, "host", cfg.Host)
		return
	}
}
