package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/config"
	logutil "github.com/domainscout/engine/internal/common/logger"
	"github.com/domainscout/engine/internal/common/metricsserver"
	"github.com/domainscout/engine/internal/scan/cache"
	"github.com/domainscout/engine/internal/scan/chrome"
	"github.com/domainscout/engine/internal/scan/events"
	"github.com/domainscout/engine/internal/scan/metrics"
	"github.com/domainscout/engine/internal/scan/orchestrator"
	"github.com/domainscout/engine/internal/scan/precheck"
	"github.com/domainscout/engine/internal/scan/server"
)

func main() {
	configPath := flag.String("c", "", "Path to configuration file (optional; env vars override)")
	flag.Parse()

	// Initialize logger (will be reconfigured from config)
	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	cfg, err := config.Load(*configPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Reconfigure logger based on config settings (uses INFO level during
	// startup if configured level is higher)
	dynamicLogger, err := logutil.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}

	logger := dynamicLogger.Logger

	concurrency := chrome.CalculateConcurrency(cfg.Scan.Concurrency)

	logger.Info("Scan Service starting",
		zap.String("listen", cfg.Server.Listen),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("concurrency", concurrency))

	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)

	metricsServer, err := metricsserver.StartMetricsServer(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		metricsCollector,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	store, err := cache.New(&cfg.Cache, metricsCollector, logger)
	if err != nil {
		logger.Fatal("Failed to create cache store", zap.Error(err))
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.Init(initCtx); err != nil {
		initCancel()
		logger.Fatal("Failed to initialize cache store", zap.Error(err))
	}
	initCancel()

	filter, err := chrome.NewNoiseFilter(cfg.Scan.NoisePatterns)
	if err != nil {
		logger.Fatal("Invalid noise patterns", zap.Error(err))
	}

	logger.Info("Initializing browser pool")
	pool := chrome.NewPool(&cfg.Browser, metricsCollector, logger)

	scanner := chrome.NewScanner(&cfg.Scan, pool, filter, metricsCollector, logger)
	checker := precheck.NewChecker(&cfg.Precheck, cfg.Scan.UserAgent, logger)

	emitter, err := buildEmitter(cfg.Events, logger)
	if err != nil {
		logger.Fatal("Failed to create event emitter", zap.Error(err))
	}

	orch := orchestrator.New(&cfg.Scan, concurrency, store, checker, scanner, emitter, metricsCollector, logger)

	httpHandler := server.NewHandler(orch, metricsCollector, logger)

	// In-flight requests may legitimately take the whole hard timeout.
	serverTimeout := cfg.Scan.HardTimeout.ToDuration() + 10*time.Second

	httpServer := &fasthttp.Server{
		Handler:      httpHandler,
		ReadTimeout:  serverTimeout,
		WriteTimeout: serverTimeout,
		IdleTimeout:  serverTimeout,
		Name:         "ScanService",
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("listen", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(cfg.Server.Listen); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait briefly for the listener before declaring readiness
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrCh:
		logger.Fatal("HTTP server failed to start", zap.Error(err))
	default:
	}

	pool.StartHeartbeat(cfg.Browser.HeartbeatInterval.ToDuration())

	logger.Info("Scan Service ready",
		zap.String("listen", cfg.Server.Listen),
		zap.Int("concurrency", concurrency))

	dynamicLogger.SwitchToConfiguredLevel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		logger.Error("Server error", zap.Error(err))
	}

	dynamicLogger.EnsureInfoLevelForShutdown()
	logger.Info("Shutting down gracefully...")

	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsShutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		metricsShutdownCancel()
	}

	// Complete in-flight scans before tearing anything else down
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverTimeout)
	defer shutdownCancel()
	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	if err := pool.Shutdown(cfg.Browser.ShutdownTimeout.ToDuration()); err != nil {
		logger.Error("Browser pool shutdown error", zap.Error(err))
	}

	if err := emitter.Close(); err != nil {
		logger.Error("Event emitter close error", zap.Error(err))
	}

	if err := store.Close(); err != nil {
		logger.Error("Cache store close error", zap.Error(err))
	}

	logger.Info("Scan Service stopped")
}

// buildEmitter assembles the configured event sinks. With nothing enabled the
// orchestrator gets a no-op emitter.
func buildEmitter(cfg config.EventsConfig, logger *zap.Logger) (events.Emitter, error) {
	var sinks []events.Emitter

	if cfg.File.Enabled {
		fileEmitter, err := events.NewFileEmitter(cfg.File, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileEmitter)
	}

	if cfg.ClickHouse.Enabled {
		chEmitter, err := events.NewClickHouseEmitter(cfg.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, chEmitter)
	}

	switch len(sinks) {
	case 0:
		return &events.NoopEmitter{}, nil
	case 1:
		return sinks[0], nil
	default:
		return events.NewMultiEmitter(sinks, logger), nil
	}
}
