package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"trekkr/internal/api/handlers"
	"trekkr/internal/api/middleware"
	"trekkr/internal/config"
	"trekkr/internal/logger"
	"trekkr/internal/metrics"
	"trekkr/internal/repository"
)

// Route names used as rate limit and metric labels.
const (
	routeIngest      = "ingest"
	routeIngestBatch = "ingest_batch"
)

type Router struct {
	locationHandler    *handlers.LocationHandler
	achievementHandler *handlers.AchievementHandler
	counter            repository.WindowCounter
	ping               func(context.Context) error
	cfg                *config.Config
	log                *logger.Logger
}

// NewRouter wires the handlers. ping backs /health and may be nil.
func NewRouter(
	locationHandler *handlers.LocationHandler,
	achievementHandler *handlers.AchievementHandler,
	counter repository.WindowCounter,
	ping func(context.Context) error,
	cfg *config.Config,
	log *logger.Logger,
) *Router {
	return &Router{
		locationHandler:    locationHandler,
		achievementHandler: achievementHandler,
		counter:            counter,
		ping:               ping,
		cfg:                cfg,
		log:                log,
	}
}

func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(cors.New(r.corsConfig()))
	if r.cfg.Telemetry.Enabled {
		engine.Use(otelgin.Middleware(r.cfg.Telemetry.ServiceName))
	}
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger(r.log))

	// Health check endpoint
	engine.GET("/health", r.health)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Protected routes
	api := engine.Group("/api/v1")
	api.Use(middleware.JWTAuth(r.cfg.Auth.JWTSecret))
	{
		location := api.Group("/location")
		{
			location.POST("/ingest",
				r.rateLimit(routeIngest, r.cfg.RateLimit.SinglePerWindow),
				r.locationHandler.Ingest)
			location.POST("/ingest/batch",
				r.rateLimit(routeIngestBatch, r.cfg.RateLimit.BatchPerWindow),
				r.locationHandler.IngestBatch)
		}

		api.GET("/achievements", r.achievementHandler.List)
		api.GET("/achievements/unlocked", r.achievementHandler.Unlocked)
	}
}

func (r *Router) rateLimit(route string, limit int) gin.HandlerFunc {
	if !r.cfg.RateLimit.Enabled || r.counter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RateLimit(r.counter, route, limit, r.cfg.RateLimit.Window, r.log)
}

func (r *Router) health(c *gin.Context) {
	if r.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := r.ping(ctx); err != nil {
			r.log.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range r.cfg.Server.CORSOrigins {
		if o == "*" {
			// Browsers reject credentialed requests against a wildcard origin.
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(r.cfg.Server.CORSOrigins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = r.cfg.Server.CORSOrigins
	cfg.AllowCredentials = true
	return cfg
}
