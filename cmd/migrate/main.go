package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/scribe/backend/internal/modules/subscription"
	"github.com/scribe/backend/internal/shared/config"
	"github.com/scribe/backend/internal/shared/database"
	"github.com/scribe/backend/internal/shared/docstore"
	"github.com/scribe/backend/internal/shared/logging"
	"go.uber.org/zap"
)

// migrate creates the document table and gives every known user a default
// free subscription record. Safe to run repeatedly.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.PoolSize{MaxConns: 2, MinConns: 1})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	store := docstore.NewPostgresStore(db.Pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to prepare document store", zap.Error(err))
	}

	result, err := subscription.NewService(store, nil, logger).BackfillDefaults(ctx)
	if err != nil {
		logger.Fatal("Subscription backfill failed", zap.Error(err))
	}

	logger.Info("Subscription backfill complete",
		zap.Int("users_seen", result.UsersSeen),
		zap.Int("created", result.Created),
	)
}
