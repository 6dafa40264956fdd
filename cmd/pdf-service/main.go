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

	"github.com/pagepress/engine/internal/common/config"
	logutil "github.com/pagepress/engine/internal/common/logger"
	"github.com/pagepress/engine/internal/common/metricsserver"
	"github.com/pagepress/engine/internal/pdf/browser"
	"github.com/pagepress/engine/internal/pdf/events"
	"github.com/pagepress/engine/internal/pdf/metrics"
	"github.com/pagepress/engine/internal/pdf/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("c", "configs/pdf-service.yaml",
		"Path to PDF service configuration file")
	flag.Parse()

	// Initialize logger (will be reconfigured from config)
	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	// Load configuration
	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	absPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}

	configMgr, err := config.NewServiceConfigManager(absPath, initialLogger.Logger)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	cfg := configMgr.GetConfig()

	// Reconfigure logger based on config settings (uses INFO level during startup if configured level is higher)
	dynamicLogger, err := logutil.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}

	logger := dynamicLogger.Logger

	logger.Info("PDF Service starting",
		zap.String("service", cfg.Server.ID),
		zap.String("listen", cfg.Server.Listen),
		zap.String("max_concurrent", cfg.Browser.MaxConcurrent))

	// Browser pool configuration from YAML config
	browserConfig := &browser.Config{
		MaxConcurrent:   cfg.Browser.MaxConcurrent,
		Timeout:         time.Duration(cfg.PDF.MaxTimeout),
		WarmupHTML:      cfg.Browser.Warmup.HTML,
		WarmupTimeout:   time.Duration(cfg.Browser.Warmup.Timeout),
		ShutdownTimeout: time.Duration(cfg.Browser.ShutdownTimeout),
	}
	if err := browserConfig.Validate(); err != nil {
		logger.Fatal("Invalid browser configuration", zap.Error(err))
	}

	// Initialize metrics collector (before pool creation)
	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)

	// Start separate metrics server if needed
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

	// Initialize event emitter
	emitter := createEventEmitter(cfg, logger)

	// Initialize page pool
	maxConcurrent := browserConfig.CalculateMaxConcurrent()
	launcher := browser.NewChromeLauncher(browserConfig, logger)
	pool := browser.NewManager(launcher, maxConcurrent, time.Duration(cfg.PDF.MaxTimeout), logger)

	logger.Info("Page pool initialized",
		zap.Int("max_concurrent", maxConcurrent))
	metricsCollector.UpdatePoolState(0, maxConcurrent, false)

	// Create HTTP handler
	handler := service.NewHandler(pool, metricsCollector, emitter, &cfg.PDF, cfg.Server.ID, logger)
	httpHandler := service.CreateHTTPHandler(handler)

	// Calculate server timeout from pdf max_timeout + safety margin
	serverTimeout := cfg.PDF.CalculateServerTimeout()

	// Configure FastHTTP server
	server := &fasthttp.Server{
		Handler:      httpHandler,
		ReadTimeout:  serverTimeout,
		WriteTimeout: serverTimeout,
		IdleTimeout:  serverTimeout,
		Name:         "PdfService/" + cfg.Server.ID,
	}

	// Start server in background goroutine
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("listen", cfg.Server.Listen))
		if err := server.ListenAndServe(cfg.Server.Listen); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait briefly for HTTP server to start listening
	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-serverErrCh:
		logger.Fatal("HTTP server failed to start", zap.Error(err))
	default:
		// Server started successfully
	}

	// Publish pool gauges once a second
	gaugeStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		var launches int64
		for {
			select {
			case <-ticker.C:
				stats := pool.GetStats()
				metricsCollector.UpdatePoolState(stats.ActivePages, stats.MaxConcurrent, stats.Connected)
				for launches < stats.TotalLaunches {
					metricsCollector.RecordBrowserLaunch()
					launches++
				}
			case <-gaugeStop:
				return
			}
		}
	}()

	logger.Info("PDF Service fully ready",
		zap.String("service", cfg.Server.ID),
		zap.String("listen", cfg.Server.Listen),
		zap.Int("max_concurrent", maxConcurrent))

	// Switch to configured log level after startup is complete
	dynamicLogger.SwitchToConfiguredLevel()

	// Wait for shutdown signal or server error
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

	close(gaugeStop)

	// Shutdown separate metrics server if exists
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsShutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		metricsShutdownCancel()
	}

	// Graceful HTTP server shutdown - complete in-flight requests
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverTimeout)
	defer shutdownCancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Shutdown page pool, draining in-flight generations
	if err := pool.Close(time.Duration(cfg.Browser.ShutdownTimeout)); err != nil {
		logger.Error("Page pool shutdown error", zap.Error(err))
	}

	if err := emitter.Close(); err != nil {
		logger.Error("Event emitter shutdown error", zap.Error(err))
	}

	logger.Info("PDF Service stopped")
}

// createEventEmitter builds the event emitter chain from configuration.
// Falls back to the noop emitter when event logging is disabled or broken.
func createEventEmitter(cfg *config.ServiceConfig, logger *zap.Logger) events.EventEmitter {
	if cfg.EventLogging == nil || !cfg.EventLogging.File.Enabled {
		return &events.NoopEmitter{}
	}

	fileEmitter, err := events.NewFileEmitter(cfg.EventLogging.File, logger)
	if err != nil {
		logger.Error("Failed to create file event emitter, events disabled",
			zap.String("path", cfg.EventLogging.File.Path),
			zap.Error(err))
		return &events.NoopEmitter{}
	}

	logger.Info("Event logging enabled",
		zap.String("path", cfg.EventLogging.File.Path))
	return fileEmitter
}
