package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"

	segmentpamhttp "segmentpam/internal/http"
	"segmentpam/internal/inventory"
	"segmentpam/internal/ipam"
	"segmentpam/internal/observability"
	"segmentpam/internal/ports"
	"segmentpam/internal/segments"
)

func main() {
	// Initialize structured logger from environment configuration
	logCfg := observability.ConfigFromEnv()
	logger := observability.NewLogger(logCfg)

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config file (optional, can use env vars)")
	migrate := flag.String("migrate", "", "run migrations: 'up' to apply, 'status' to show status")
	flag.Parse()

	cfg, err := LoadConfig(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize Sentry if DSN is provided
	sentryDSN := os.Getenv("SENTRY_DSN")
	sentryEnabled := false
	if sentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			Environment:      envOr("SENTRY_ENVIRONMENT", "production"),
			Release:          envOr("APP_VERSION", "dev"),
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		} else {
			logger.Info("sentry initialized",
				"environment", envOr("SENTRY_ENVIRONMENT", "production"),
				"release", envOr("APP_VERSION", "dev"),
			)
			sentryEnabled = true
		}
	}

	// Handle migrations CLI before starting server
	if *migrate != "" {
		runMigrationsCLI(logger, *migrate)
		return
	}

	// Select storage based on build tags and env (see store_*.go in this package).
	store := selectStore(logger)

	metricsCfg := observability.MetricsConfigFromEnv()
	var metrics *observability.Metrics
	if metricsCfg.Enabled {
		metrics = observability.NewMetrics(metricsCfg)
		logger.Info("metrics enabled",
			"namespace", metricsCfg.Namespace,
			"version", metricsCfg.Version,
		)
	} else {
		logger.Info("metrics disabled")
	}

	rateCfg := segmentpamhttp.DefaultRateLimitConfig()
	if !rateCfg.Enabled() {
		logger.Info("rate limiting disabled")
	} else {
		logger.Info("rate limiting configured",
			"requests_per_second", rateCfg.RequestsPerSecond,
			"burst", rateCfg.Burst,
		)
	}

	// Placement client: real service when configured, in-process double
	// otherwise so the allocation path behaves the same in both modes.
	var placement inventory.PlacementClient
	if cfg.Placement.BaseURL != "" {
		placement = inventory.NewHTTPClient(inventory.HTTPClientConfig{
			BaseURL:    cfg.Placement.BaseURL,
			APIKey:     cfg.Placement.APIKey,
			Timeout:    cfg.Placement.Timeout,
			MaxRetries: cfg.Placement.MaxRetries,
			Backoff:    cfg.Placement.Backoff,
		}, logger)
		logger.Info("placement client configured", "base_url", cfg.Placement.BaseURL)
	} else {
		placement = inventory.NewMemoryPlacement()
		logger.Info("no placement endpoint configured; using in-memory placement")
	}

	publisher := inventory.NewPublisher(store, placement, logger, metrics, inventory.PublisherConfig{
		MaxRetries: cfg.Publisher.MaxRetries,
		Backoff:    cfg.Publisher.Backoff,
	})
	publisher.Start()

	registry := segments.NewRegistry(store, logger, publisher)
	binder := ipam.NewBinder(store, logger, registry, publisher)
	allocator := ipam.NewAllocator(store, logger, metrics, publisher)
	resolver := ports.NewResolver(store, allocator, logger, metrics, nil)

	mux := http.NewServeMux()
	srv := segmentpamhttp.NewServer(mux, store, registry, binder, allocator, resolver, logger, metrics)
	srv.RegisterRoutes()

	// Periodic full reconciliation heals drift from missed notifications
	// and placement-side changes.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ReconcileSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := publisher.ReconcileAll(ctx); err != nil {
			logger.Error("inventory reconciliation failed", "error", err)
		}
	}); err != nil {
		logger.Error("invalid reconcile schedule", "schedule", cfg.ReconcileSchedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	logger.Info("inventory reconciliation scheduled", "schedule", cfg.ReconcileSchedule)

	// Apply middleware stack.
	// Order: metrics (outermost) -> requestID -> logging -> rateLimiting (innermost before handler)
	handler := segmentpamhttp.ApplyMiddlewares(
		mux,
		observability.MetricsMiddleware(metrics),
		segmentpamhttp.RequestIDMiddleware(),
		segmentpamhttp.LoggingMiddleware(logger.Slog()),
		segmentpamhttp.RateLimitMiddleware(rateCfg, logger.Slog()),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("segmentpam listening", "addr", cfg.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown with 15-second timeout
	logger.Info("shutting down server", "timeout", "15s")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	// Stop the reconcile scheduler and wait for a running sweep to finish.
	<-scheduler.Stop().Done()

	// Drain pending inventory syncs before closing the store.
	publisher.Close()

	if err := store.Close(); err != nil {
		logger.Error("error closing store", "error", err)
	} else {
		logger.Info("store closed")
	}

	if sentryEnabled {
		logger.Info("flushing sentry events", "deadline", "2s")
		sentry.Flush(2 * time.Second)
	}

	logger.Info("shutdown complete")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// runMigrationsCLI executes migration commands.
func runMigrationsCLI(logger observability.Logger, cmd string) {
	switch cmd {
	case "up":
		// Initialize store (runs migrations automatically), then show status
		st := selectStore(logger)
		_ = st.Close()
		runMigrationsCLI(logger, "status")
	case "status":
		status := "migrations status not available in this build"
		dsn := os.Getenv("SQLITE_DSN")
		if dsn == "" {
			dsn = "file:segmentpam.db?cache=shared&_fk=1"
		}
		if s := sqliteStatus(dsn); s != "" {
			status = s
		}
		if s := postgresStatus(); s != "" {
			status = s
		}
		logger.Info("migrations status", "status", status)
	default:
		logger.Warn("unknown migrate command", "command", cmd)
	}
}
