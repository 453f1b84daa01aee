package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/stakecast/stakecast/internal/db"
	"github.com/stakecast/stakecast/internal/farcaster"
	"github.com/stakecast/stakecast/internal/lockup"
	"github.com/stakecast/stakecast/internal/price"
	"github.com/stakecast/stakecast/internal/reconcile"
	"github.com/stakecast/stakecast/pkg/config"
	"github.com/stakecast/stakecast/pkg/logging"
	"github.com/stakecast/stakecast/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Stakecast Syncer")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Initialize upstream clients
	farcasterClient, err := farcaster.New(&cfg.Farcaster)
	if err != nil {
		logger.Fatal("Failed to initialize Farcaster client", zap.Error(err))
	}
	lockupClient, err := lockup.New(&cfg.Lockup)
	if err != nil {
		logger.Fatal("Failed to initialize lockup client", zap.Error(err))
	}
	priceClient := price.New(&cfg.Price)

	// Wire the reconciliation core
	repo := db.NewCastRepository(db.NewRepository(database.DB))
	syncer := reconcile.NewSyncer(repo, lockupClient, farcasterClient, farcasterClient, priceClient, &cfg.Stake)
	runner := reconcile.NewRunner(syncer, &cfg.Syncer)

	// Run until interrupted
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down syncer...")
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Syncer stopped unexpectedly", zap.Error(err))
	}

	logger.Info("Syncer exited")
}
