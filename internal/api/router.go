package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stakecast/stakecast/internal/cache"
	"github.com/stakecast/stakecast/internal/notify"
	"github.com/stakecast/stakecast/internal/reconcile"
	"github.com/stakecast/stakecast/pkg/logging"
)

// Router sets up API routes
type Router struct {
	syncer      *reconcile.Syncer
	stats       *reconcile.Stats
	broadcaster *notify.Broadcaster
	cache       *cache.Cache
	logger      *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(
	syncer *reconcile.Syncer,
	stats *reconcile.Stats,
	broadcaster *notify.Broadcaster,
	redisCache *cache.Cache,
) *Router {
	return &Router{
		syncer:      syncer,
		stats:       stats,
		broadcaster: broadcaster,
		cache:       redisCache,
		logger:      logging.GetLogger().With(zap.String("component", "api-router")),
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	api := engine.Group("/api")
	api.GET("/leaderboard", r.getLeaderboard)
	api.GET("/casts/:hash", r.getCast)
	api.GET("/users/:fid/stats", r.getUserStats)
	api.GET("/stats", r.getNetworkStats)
	api.GET("/events", r.streamEvents)

	engine.POST("/webhooks/lockup", r.handleLockupWebhook)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "OK",
		"service": "stakecast-api",
	})
}
