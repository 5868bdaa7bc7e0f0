package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scribe/backend/internal/api"
	"github.com/scribe/backend/internal/api/websocket"
	"github.com/scribe/backend/internal/modules/assistant"
	"github.com/scribe/backend/internal/modules/media"
	"github.com/scribe/backend/internal/modules/subscription"
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

	logger.Info("Starting Scribe API Server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)
	if cfg.BypassValidation {
		logger.Warn("Upload validation is bypassed, never run this in production")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

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

	// Initialize Redis
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

	// Initialize modules
	subscriptionSvc := subscription.NewService(store, m, logger)
	files := uploads.NewRepository(store)

	validator := media.NewValidator(
		media.NewFFprobe(cfg.FFprobePath, logger),
		logger,
		media.WithTempDir(cfg.TempDir),
		media.WithRecorder(m),
	)

	var (
		transcriber    uploads.Transcriber
		transcriptions *transcription.Service
	)
	if cfg.Storage.Backend == "s3" {
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

		transcriptions = transcription.NewService(transcription.ServiceConfig{
			Client:       transcription.NewAWSClient(awsCfg, cfg.Storage.S3Bucket, storageService, logger),
			Queue:        queue,
			Files:        files,
			Language:     cfg.TranscribeLanguage,
			PollInterval: time.Duration(cfg.TranscribePollInterval) * time.Second,
			Recorder:     m,
			Logger:       logger,
		})
		transcriber = transcriptions
	} else {
		logger.Warn("Transcription disabled, it requires the s3 storage backend",
			zap.String("backend", cfg.Storage.Backend),
		)
	}

	uploadModule := uploads.NewModule(uploads.Config{
		Tiers:       subscriptionSvc,
		Admitter:    validator,
		Storage:     storageService,
		Files:       files,
		Transcriber: transcriber,
		Recorder:    m,
		Options: uploads.Options{
			SkipValidation: cfg.BypassValidation,
			URLTTL:         time.Duration(cfg.Storage.PresignTTL) * time.Second,
		},
		Logger: logger,
	})

	var completer assistant.Completer
	if cfg.AnthropicAPIKey != "" {
		completer = assistant.NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicMaxTokens, logger)
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, question answering is unavailable")
	}
	assistantSvc := assistant.NewService(store, files, completer, m, logger)

	// Initialize WebSocket hub and relay worker status events to it
	wsHub := websocket.NewHub(cfg.AllowedOrigins, m, logger)
	go wsHub.Run(ctx)
	go wsHub.Relay(ctx, redisClient.Subscribe(ctx, transcription.StatusChannel))

	serverCfg := api.ServerConfig{
		Config:          cfg,
		Logger:          logger,
		Metrics:         m,
		DB:              db,
		Redis:           redisClient,
		WSHub:           wsHub,
		Uploads:         uploadModule,
		Assistant:       assistantSvc,
		SubscriptionSvc: subscriptionSvc,
	}
	if transcriptions != nil {
		serverCfg.Transcriptions = transcriptions
	}
	server := api.NewServer(serverCfg)

	// Create HTTP server. Uploads of several gigabytes need generous body timeouts.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Minute,
		WriteTimeout:      30 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
