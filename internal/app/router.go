package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cargorapido/internal/handler"
	"cargorapido/internal/logger"
	"cargorapido/internal/metrics"
	"cargorapido/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	BookingHandler  *handler.BookingHandler
	DispatchHandler *handler.DispatchHandler
	DriverHandler   *handler.DriverHandler
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
	RedisClient     *redis.Client // optional, enables Idempotency-Key replay
	NewRelicApp     *newrelic.Application
	OTPLimiter      *middleware.OTPRateLimiter // optional
	JWTSecret       string
	CORSOrigins     []string
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(logger.Recovery(deps.Logger))
	router.Use(logger.GinMiddleware(deps.Logger))
	router.Use(middleware.CORSMiddleware(deps.CORSOrigins...))

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := router.Group("")
	api.Use(middleware.ActorMiddleware(middleware.ActorConfig{JWTSecret: deps.JWTSecret}))
	api.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Logger))
	{
		bookings := api.Group("/bookings")
		{
			bookings.POST("", deps.BookingHandler.Create)
			bookings.GET("/:id", deps.BookingHandler.Get)
			bookings.POST("/:id/accept", deps.BookingHandler.Accept)
			bookings.PUT("/:id/status", middleware.OTPRateLimit(deps.OTPLimiter), deps.BookingHandler.UpdateStatus)
			bookings.PUT("/:id/cancel", deps.BookingHandler.Cancel)
		}

		api.GET("/dispatch/pending", deps.DispatchHandler.Pending)

		api.PUT("/drivers/:id/availability", deps.DriverHandler.UpdateAvailability)
	}

	return router
}
