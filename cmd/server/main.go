package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/custodybuddy/internal"
	"github.com/DukeRupert/custodybuddy/internal/draft"
	"github.com/DukeRupert/custodybuddy/internal/evidence"
	"github.com/DukeRupert/custodybuddy/internal/handler"
	"github.com/DukeRupert/custodybuddy/internal/jobs"
	"github.com/DukeRupert/custodybuddy/internal/metrics"
	"github.com/DukeRupert/custodybuddy/internal/middleware"
	"github.com/DukeRupert/custodybuddy/internal/report"
	"github.com/DukeRupert/custodybuddy/internal/wizard"
	"github.com/DukeRupert/custodybuddy/internal/worker"
)

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel, "server")
	cfg.LogWarnings(logger)

	// Initialize draft database
	dsn := cfg.DraftSQLitePath
	if cfg.DraftDriver == draft.DriverPostgres {
		dsn = cfg.DatabaseUrl
	}
	db, err := draft.Open(ctx, cfg.DraftDriver, dsn)
	if err != nil {
		return fmt.Errorf("draft database failed: %w", err)
	}
	defer db.Close()

	// Run migrations
	if err := internal.RunMigrations(db, cfg.DraftDriver); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Draft store ready", "driver", cfg.DraftDriver)

	// Initialize blob storage
	blobs, err := internal.NewStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// Initialize AI provider
	provider, err := internal.NewAIProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ai provider initialization failed: %w", err)
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	reports := report.New(provider, report.Config{
		Timeout:   cfg.AIReportTimeout,
		NextSteps: cfg.ReportNextSteps,
	}, logger)

	var pool *worker.Worker
	var queue evidence.Enqueuer
	if cfg.WorkerEnabled {
		workerCfg := worker.DefaultConfig()
		workerCfg.Concurrency = cfg.WorkerConcurrency
		workerCfg.QueueSize = cfg.WorkerQueueSize
		workerCfg.JobTimeout = cfg.WorkerJobTimeout
		pool, err = worker.New(workerCfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		queue = pool
	}

	sessions := wizard.NewManager(wizard.Config{
		Drafts:           draft.NewSQLStore(db, logger),
		Storage:          blobs,
		Queue:            queue,
		Reports:          reports,
		MaxEvidenceBytes: cfg.EvidenceMaxBytes,
		Logger:           logger,
	})
	defer sessions.Close()

	if pool != nil {
		pool.Register(jobs.NewAnalyzeEvidenceHandler(sessions, evidence.NewAnalyzer(provider, logger), logger))
		pool.Start(ctx)
		defer pool.Stop()
	}

	go sweepSessions(ctx, sessions, cfg.SessionIdleTimeout, logger)

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := cfg.Env != "development"
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	corsMw := middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)
	if !metricsAuth.Enabled() {
		logger.Warn("METRICS_USERNAME and METRICS_PASSWORD are empty; /metrics is unprotected")
	}

	proxyLimiter := middleware.NewRateLimiter(cfg.ProxyRateLimit, cfg.ProxyRateWindow, logger)
	defer proxyLimiter.Stop()
	proxyLimit := middleware.NewRateLimitMiddleware(proxyLimiter, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	handler.NewProxyHandler(reports, cfg.ProxyMaxBodyBytes, logger).RegisterRoutes(mux, proxyLimit.Limit)
	handler.NewIncidentHandler(sessions, cfg.EvidenceMaxUploadBytes, cfg.EvidenceMaxBytes, logger).RegisterRoutes(mux)

	stack := middleware.Stack(
		loggingMw.Handler,
		metrics.Middleware,
		securityMw.Handler,
		corsMw.Handler,
	)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           stack(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started",
			"address", server.Addr,
			"env", cfg.Env,
			"ai_provider", cfg.AIProvider,
			"storage", cfg.StorageProvider,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a failed listener
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Server stopped")
	return nil
}

func sweepSessions(ctx context.Context, sessions *wizard.Manager, maxIdle time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(maxIdle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(maxIdle); n > 0 {
				logger.Info("Idle sessions dropped", "count", n)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
