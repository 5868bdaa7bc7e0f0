package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scribe/backend/internal/modules/assistant"
	"github.com/scribe/backend/internal/modules/transcription"
	"github.com/scribe/backend/internal/modules/uploads"
	"github.com/scribe/backend/internal/shared/config"
	"github.com/scribe/backend/internal/shared/database"
	"github.com/scribe/backend/internal/shared/docstore"
	"github.com/scribe/backend/internal/shared/logging"
	"github.com/scribe/backend/internal/shared/metrics"
	"github.com/scribe/backend/internal/shared/storage"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// metricsPortOffset places the worker's /metrics listener next to the API port
const metricsPortOffset = 1

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Scribe Worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	if cfg.Storage.Backend != "s3" {
		logger.Fatal("Transcription worker requires the s3 storage backend",
			zap.String("backend", cfg.Storage.Backend),
		)
	}

	ctx := context.Background()
	m := metrics.New()

	// Initialize database
	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.PoolSize{
		MaxConns: int32(cfg.DatabaseMaxConns),
		MinConns: int32(cfg.DatabaseMinConns),
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	store := docstore.NewPostgresStore(db.Pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to prepare document store", zap.Error(err))
	}

	// Initialize Redis, used to publish status events for the API's websocket hub
	redisClient, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize storage
	storageService, err := storage.NewService(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	awsCfg, err := storage.LoadAWSConfig(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	redisOpt, err := transcription.RedisConnOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to parse Redis address for queue", zap.Error(err))
	}
	queue := transcription.NewQueueClient(redisOpt, logger)
	defer queue.Close()

	files := uploads.NewRepository(store)
	texts := assistant.NewService(store, files, nil, m, logger)

	// Create poll handler
	pollHandler := transcription.NewHandler(transcription.HandlerConfig{
		Client:       transcription.NewAWSClient(awsCfg, cfg.Storage.S3Bucket, storageService, logger),
		Files:        files,
		Texts:        texts,
		Publisher:    redisClient,
		Queue:        queue,
		PollInterval: time.Duration(cfg.TranscribePollInterval) * time.Second,
		Recorder:     m,
		Logger:       logger,
	})

	// Configure Asynq server
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(transcription.TypePoll, pollHandler.HandlePoll)

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port+metricsPortOffset),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics listener failed", zap.Error(err))
		}
	}()

	// Start worker
	go func() {
		logger.Info("Worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
		if err := srv.Run(mux); err != nil {
			logger.Fatal("Worker failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("Worker stopped")
}
