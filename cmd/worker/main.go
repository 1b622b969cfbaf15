package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	mqcontracts "milestonehub/contracts/mq"
	"milestonehub/internal/mqhandler"
	"milestonehub/pkg/config"
	"milestonehub/pkg/db"
	"milestonehub/pkg/logger"
	"milestonehub/pkg/mq"
	"milestonehub/pkg/outbox"
	redisclient "milestonehub/pkg/redis"
	"milestonehub/pkg/util"
)

const milestoneSubmittedQueue = "milestone.submitted.review.q"

func main() {
	env := config.GetConfigEnv()
	cfg, err := config.Load(env, config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Log)
	defer log.Sync()

	log.Info("Starting milestonehub worker...",
		zap.String("env", env),
		zap.String("db_host", cfg.DB.Host),
		zap.String("mq_url", cfg.MQ.URL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	dbConn, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established")

	// Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	if err := redisclient.Ping(ctx, rdb); err != nil {
		log.Warn("Redis not reachable, dedup will fall through", zap.Error(err))
	}
	deduper := util.NewDeduper(rdb, cfg.Outbox.DedupTTL, log)
	retryCounter := util.NewRetryCounter(rdb, cfg.Outbox.DedupTTL)

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL, "milestonehub-worker")
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Outbox
	outboxRepo := outbox.NewRepository(dbConn)
	if cfg.Outbox.ReplayOnStart {
		replayed, err := outbox.NewReplayService(outboxRepo, publisher, log).ReplayFailedEvents(ctx, cfg.Outbox.BatchSize)
		if err != nil {
			log.Error("Failed to replay outbox events", zap.Error(err))
		} else {
			log.Info("Replayed failed outbox events", zap.Int("count", replayed))
		}
	}
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)
	go dispatcher.Start(ctx)

	// MQ Consumer for milestone.submitted
	handler := mqhandler.NewMilestoneSubmittedHandler(
		mqhandler.NewLogNotifier(log),
		publisher,
		deduper,
		retryCounter,
		log,
	).WithMaxRetries(cfg.Outbox.ConsumerRetries)

	log.Info("Initializing MQ consumer...",
		zap.String("queue", milestoneSubmittedQueue),
		zap.String("routing_key", mqcontracts.RoutingMilestoneSubmitted),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, milestoneSubmittedQueue, mqcontracts.RoutingMilestoneSubmitted, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(handler.Handle)

	log.Info("milestonehub worker is running")
	if err := consumer.StartConsuming(ctx); err != nil {
		log.Error("Consumer stopped with error", zap.Error(err))
	}

	log.Info("milestonehub worker shutdown complete")
}
