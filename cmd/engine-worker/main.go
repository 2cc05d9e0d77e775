package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/conversahq/conversa-platform/cmd/mainconfig"
	"github.com/conversahq/conversa-platform/internal/app/bootstrap"
	"github.com/conversahq/conversa-platform/internal/archive"
	appconfig "github.com/conversahq/conversa-platform/internal/config"
	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/internal/events"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

// The engine worker drains the transactional outbox: telemetry events
// written during decision processing are shipped to the downstream events
// queue, and terminal outcomes trigger transcript archival to S3.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting engine worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildEnginePool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	outbox := events.NewOutboxStore(pool)

	needsAWS := strings.TrimSpace(cfg.EventsQueueURL) != "" || strings.TrimSpace(cfg.ArchiveBucket) != ""
	var awsCfg aws.Config
	if needsAWS {
		awsCfg, err = mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
	}

	var handler events.DeliveryHandler
	if strings.TrimSpace(cfg.EventsQueueURL) == "" {
		logger.Warn("no events queue configured; delivering to log only")
		handler = events.NewLoggingDeliveryHandler(logger)
	} else {
		handler = events.NewQueueDeliveryHandler(
			engine.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.EventsQueueURL),
		)
		logger.Info("delivering events to SQS", "queue_url", cfg.EventsQueueURL)
	}

	if strings.TrimSpace(cfg.ArchiveBucket) != "" {
		db, err := bootstrap.OpenDatabase(ctx, cfg)
		if err != nil {
			logger.Error("failed to open database for archival", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		store := archive.NewStore(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)
		archiver := archive.NewSessionArchiver(store, engine.NewPostgresTurnStore(db), logger)
		handler = archive.NewOutcomeHandler(archiver, handler)
		logger.Info("transcript archival enabled", "bucket", cfg.ArchiveBucket)
	}

	deliverer := events.NewDeliverer(outbox, handler, logger).
		WithBatchSize(50).
		WithInterval(2 * time.Second)

	done := make(chan struct{})
	go func() {
		deliverer.Start(ctx)
		close(done)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down engine worker...")
	cancel()

	select {
	case <-done:
		logger.Info("engine worker stopped")
	case <-time.After(30 * time.Second):
		logger.Error("engine worker shutdown timed out")
	}
}
