package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conversahq/conversa-platform/cmd/mainconfig"
	"github.com/conversahq/conversa-platform/internal/api/router"
	"github.com/conversahq/conversa-platform/internal/app/bootstrap"
	appconfig "github.com/conversahq/conversa-platform/internal/config"
	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/internal/events"
	"github.com/conversahq/conversa-platform/internal/http/handlers"
	"github.com/conversahq/conversa-platform/internal/observability/metrics"
	"github.com/conversahq/conversa-platform/internal/tenantcfg"
	"github.com/conversahq/conversa-platform/internal/webchat"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting conversa-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("redis is required for session state")
		os.Exit(1)
	}

	db, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// The outbox and the processed-message ledger ride on pgx; the API can
	// still decide without them, so pool failures only degrade telemetry
	// and provider-level dedup.
	pool, err := bootstrap.BuildEnginePool(ctx, cfg, logger)
	if err != nil {
		logger.Warn("pgx pool unavailable; outbox and message ledger disabled", "error", err)
	} else {
		defer pool.Close()
	}

	turnStore := engine.NewPostgresTurnStore(db)
	outcomeStore := engine.NewPostgresOutcomeStore(db)
	sessionStore := engine.NewRedisSessionStore(redisClient, cfg.SessionTTL, nil)
	locks := engine.NewManager(sessionStore, cfg.LockTimeout, logger)
	guard := engine.NewIdempotencyGuard(redisClient, turnStore, cfg.DedupWindow, logger)

	tenantStore := tenantcfg.NewPostgresStore(db)
	tenants := tenantcfg.NewCachedProvider(tenantStore, redisClient, 0, logger)

	resolver, err := bootstrap.BuildResolver(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build inference resolver", "error", err)
		os.Exit(1)
	}

	engineMetrics := metrics.NewEngineMetrics(nil)

	var outboxStore *events.OutboxStore
	if pool != nil {
		outboxStore = events.NewOutboxStore(pool)
	}
	telemetry := bootstrap.BuildTelemetry(engineMetrics, outboxStore, logger)

	eng := engine.NewEngine(engine.Deps{
		Matcher:   engine.NewPatternMatcher(),
		Resolver:  resolver,
		Locks:     locks,
		Guard:     guard,
		Tenants:   tenants,
		Turns:     turnStore,
		Outcomes:  outcomeStore,
		Telemetry: telemetry,
		Logger:    logger,
	}, engine.WithAbandonThreshold(cfg.AbandonedTurnCount))

	var dispatcher *engine.Dispatcher
	if cfg.UseMemoryQueue {
		logger.Info("dispatching through in-memory queue")
		dispatcher = engine.NewDispatcher(eng, engine.NewMemoryQueue(128), logger,
			engine.WithWorkerCount(cfg.WorkerCount))
	} else {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		logger.Info("dispatching through SQS", "queue_url", cfg.EngineQueueURL)
		dispatcher = engine.NewDispatcher(eng, engine.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.EngineQueueURL), logger,
			engine.WithWorkerCount(cfg.WorkerCount))
	}

	webhookCfg := handlers.InboundWebhookConfig{
		Engine:  dispatcher,
		Logger:  logger,
		Metrics: engineMetrics,
	}
	if pool != nil {
		webhookCfg.Processed = events.NewProcessedStore(pool)
	}

	routerCfg := &router.Config{
		Logger:         logger,
		InboundWebhook: handlers.NewInboundWebhookHandler(webhookCfg),
		TenantAdmin:    handlers.NewTenantAdminHandler(tenantStore, tenants, logger),
		WebChat:        webchat.NewHandler(dispatcher, turnStore, logger),
		MetricsHandler: promhttp.Handler(),
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("dispatcher shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
