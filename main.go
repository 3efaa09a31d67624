package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/breaker"
	"github.com/bizdata-inc/listing-engine/pkg/config"
	"github.com/bizdata-inc/listing-engine/pkg/database"
	"github.com/bizdata-inc/listing-engine/pkg/drive"
	"github.com/bizdata-inc/listing-engine/pkg/handlers"
	"github.com/bizdata-inc/listing-engine/pkg/logging"
	"github.com/bizdata-inc/listing-engine/pkg/metrics"
	"github.com/bizdata-inc/listing-engine/pkg/middleware"
	"github.com/bizdata-inc/listing-engine/pkg/models"
	"github.com/bizdata-inc/listing-engine/pkg/pipeline"
	"github.com/bizdata-inc/listing-engine/pkg/repositories"
	"github.com/bizdata-inc/listing-engine/pkg/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load("config.yaml", Version)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host),
		zap.String("drive_root", cfg.Drive.RootFolderID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, continuing without prefilter", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	registryRepo := repositories.NewRegistryRepository(db)
	metadataRepo := repositories.NewMetadataRepository(db)
	rawRepo := repositories.NewRawRepository(db)
	validationRepo := repositories.NewValidationRepository(db)
	masterRepo := repositories.NewMasterRepository(db)
	batchRepo := repositories.NewBatchRepository(db)
	dlqRepo := repositories.NewDLQRepository(db)
	statsRepo := repositories.NewStatsRepository(db)

	driveClient := drive.NewClient(drive.Config{
		BaseURL:     cfg.Drive.BaseURL,
		DownloadURL: cfg.Drive.DownloadURL,
		AccessToken: cfg.Drive.AccessToken,
		PageSize:    cfg.Drive.PageSize,
		Timeout:     time.Duration(cfg.Drive.TimeoutSec) * time.Second,
		MaxFileSize: cfg.Drive.MaxFileSizeMB * 1024 * 1024,
	}, logger)

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewBoundedStrategy(cfg.Ingest.Workers)),
		workqueue.WithRetryConfig(workqueue.RetryConfig{
			MaxRetries:     cfg.Ingest.MaxRetries,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2,
		}),
		workqueue.WithPermanentFailureHandler(func(task workqueue.Task, err error, retries int) {
			ingest, ok := task.(*pipeline.IngestTask)
			if !ok {
				return
			}
			file := ingest.File()
			m.DLQEntries.Inc()
			entry := &models.DLQEntry{
				FileID:     file.ID,
				FileName:   file.Name,
				Error:      logging.ErrorForStorage(err),
				TaskID:     task.ID(),
				RetryCount: retries,
			}
			if derr := dlqRepo.Record(context.Background(), entry); derr != nil {
				logger.Error("failed to record dead letter",
					zap.String("file_id", file.ID), zap.Error(derr))
			}
		}),
	)

	brk := breaker.New(cfg.Scanner.BreakerThreshold, cfg.Scanner.BreakerCooldown, logger,
		breaker.WithStateChange(func(state breaker.State) {
			m.BreakerState.Set(float64(state))
		}))

	statsTracker := pipeline.NewStatsTracker(redisClient, statsRepo, queue, cfg.Stats.RefreshEvery, logger)

	ingestDeps := &pipeline.IngestDeps{
		Drive:    driveClient,
		Registry: registryRepo,
		Raw:      rawRepo,
		Redis:    redisClient,
		Stats:    statsTracker,
		Metrics:  m,
		Config:   cfg.Ingest,
		Logger:   logger,
	}

	scanner := pipeline.NewScanner(driveClient, registryRepo, metadataRepo, queue,
		ingestDeps, brk, cfg.Scanner, cfg.Drive.RootFolderID, m, logger)

	validator := pipeline.NewValidator(rawRepo, validationRepo, masterRepo,
		batchRepo, metadataRepo, cfg.Validate, m, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db.Pool, logger).RegisterRoutes(mux)
	handlers.NewStatsHandler(statsRepo, dlqRepo, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: middleware.RequestLogger(logger)(mux),
	}

	go func() {
		logger.Info("starting listing-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	go scanner.Run(ctx)
	go validator.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}

	// Running ingest tasks observe the cancelled context, flush their
	// current batch and persist checkpoints before returning.
	queue.Cancel()
	if err := queue.Wait(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("queue drained with errors", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func newLogger(env string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	return logger
}

func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return database.RunMigrations(sqlDB, "migrations", logger)
}
