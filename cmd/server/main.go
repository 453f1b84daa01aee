package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stakecast/stakecast/internal/api"
	"github.com/stakecast/stakecast/internal/cache"
	"github.com/stakecast/stakecast/internal/db"
	"github.com/stakecast/stakecast/internal/farcaster"
	"github.com/stakecast/stakecast/internal/lockup"
	"github.com/stakecast/stakecast/internal/notify"
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
	logger.Info("Starting Stakecast API Server")

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

	// Initialize Redis cache (optional)
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

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
	stats := reconcile.NewStats(repo)
	broadcaster := notify.NewBroadcaster()

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	router := api.NewRouter(syncer, stats, broadcaster, redisCache)
	router.SetupRoutes(engine)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
