package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"milestonehub/internal/api"
	"milestonehub/internal/httpserver"
	"milestonehub/internal/model"
	"milestonehub/internal/repository"
	"milestonehub/internal/submission"
	"milestonehub/internal/upload"
	"milestonehub/pkg/circuitbreaker"
	"milestonehub/pkg/config"
	"milestonehub/pkg/db"
	"milestonehub/pkg/logger"
	"milestonehub/pkg/outbox"
)

// store is the milestone catalog as the API uses it: browsed, read and submitted to.
type store interface {
	submission.Catalog
	submission.Sink
	ListProjects(ctx context.Context) ([]model.Project, error)
}

func main() {
	env := config.GetConfigEnv()
	cfg, err := config.Load(env, config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Log)
	defer log.Sync()

	log.Info("Starting milestonehub api...",
		zap.String("env", env),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("port", cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		catalog store
		ready   httpserver.ReadyCheck
	)
	switch cfg.Storage.Driver {
	case "postgres":
		dbConn, err := db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			log.Fatal("DB initialization failed", zap.Error(err))
		}
		defer dbConn.Close()
		log.Info("Database connection established")

		catalog = repository.NewMilestoneRepository(dbConn, outbox.NewRepository(dbConn))
		ready = pingDB(dbConn)
	default:
		projects, err := repository.LoadProjects(cfg.Storage.SeedFile)
		if err != nil {
			log.Fatal("Failed to load project seed", zap.Error(err))
		}
		catalog = repository.NewMemoryStore(projects,
			repository.WithLatency(cfg.Storage.SubmitLatency),
			repository.WithLogger(log),
		)
		log.Info("In-memory catalog loaded", zap.Int("projects", len(projects)))
	}

	transport := upload.NewSimulatedTransport(cfg.Upload.TickInterval, cfg.Upload.MaxStep)
	coordinator := submission.NewCoordinator(catalog, catalog, transport, coordinatorConfig(cfg), log)
	defer coordinator.Close()

	router := httpserver.NewRouter(
		api.NewProjectHandler(catalog, log),
		api.NewSessionHandler(coordinator, log),
		ready,
		log,
	)

	if err := router.Serve(ctx, cfg.Server.Port, cfg.Server.ShutdownTimeout, log); err != nil {
		log.Error("HTTP server failed", zap.Error(err))
		return
	}
	log.Info("milestonehub api shutdown complete")
}

func coordinatorConfig(cfg *config.Config) submission.Config {
	return submission.Config{
		Upload: upload.SupervisorConfig{
			MaxParallel: cfg.Upload.MaxParallel,
			Worker: upload.WorkerConfig{
				MaxRetries:   cfg.Upload.MaxRetries,
				RetryBackoff: cfg.Upload.RetryBackoff,
			},
		},
		SubmitTimeout:   cfg.Submission.Timeout,
		RetainSubmitted: cfg.Submission.RetainSubmitted,
		Breaker: circuitbreaker.Config{
			FailureThreshold:    cfg.Submission.FailureThreshold,
			SuccessThreshold:    cfg.Submission.SuccessThreshold,
			Timeout:             cfg.Submission.BreakerTimeout,
			HalfOpenMaxRequests: 1,
		},
	}
}

func pingDB(pool *pgxpool.Pool) httpserver.ReadyCheck {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}
