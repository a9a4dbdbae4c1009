package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/pkg/middleware"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// RouterConfig holds the handlers and middleware settings of the HTTP API
type RouterConfig struct {
	ServiceName string
	Version     string

	Auth      middleware.AuthConfig
	RateLimit *middleware.RateLimiter
	// Idempotency is applied to holder write routes when set
	Idempotency *middleware.IdempotencyConfig
	// Tracing enables the OpenTelemetry gin middleware
	Tracing bool

	Health      *HealthHandler
	Reservation *ReservationHandler
	Payment     *PaymentHandler
	Admin       *AdminHandler
}

// NewRouter builds the gin engine
func NewRouter(cfg *RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Tracing {
		router.Use(telemetry.TracingMiddleware(cfg.ServiceName))
	}
	router.Use(requestMetrics())

	router.GET("/health", cfg.Health.Health)
	router.GET("/ready", cfg.Health.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	if cfg.RateLimit != nil {
		v1.Use(cfg.RateLimit.Middleware())
	}

	v1.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": cfg.Version,
			"service": cfg.ServiceName,
		})
	})

	categories := v1.Group("/categories/:category")
	{
		categories.GET("/quote", cfg.Reservation.Quote)
		categories.GET("/availability/:date/:slot", cfg.Reservation.Availability)
	}

	// Gateway callbacks authenticate with a body signature, not a JWT
	payments := v1.Group("/payments")
	{
		payments.POST("/callback", cfg.Payment.Callback)
		payments.POST("/stripe/webhook", cfg.Payment.StripeWebhook)
		payments.POST("/mock/:ref/settle", cfg.Payment.MockSettle)
	}

	writes := []gin.HandlerFunc{}
	if cfg.Idempotency != nil {
		writes = append(writes, middleware.Idempotency(cfg.Idempotency))
	}

	reservations := v1.Group("/reservations")
	reservations.Use(middleware.JWTAuth(cfg.Auth))
	{
		reservations.POST("", append(writes, cfg.Reservation.Create)...)
		reservations.POST("/:id/cancel", append(writes, cfg.Reservation.Cancel)...)
		reservations.POST("/:id/payment", append(writes, cfg.Reservation.InitiatePayment)...)

		reservations.GET("", cfg.Reservation.ListMine)
		reservations.GET("/:id", cfg.Reservation.Get)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.JWTAuth(cfg.Auth), middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.GET("/counters", cfg.Admin.Counters)
		admin.PUT("/counters/:category", cfg.Admin.ResetCounter)

		admin.GET("/reservations", cfg.Admin.ListReservations)
		admin.POST("/reservations/:id/cancel", cfg.Admin.CancelReservation)
		admin.POST("/reservations/:id/release", cfg.Admin.Release)

		admin.POST("/blocks", cfg.Admin.Block)
		admin.DELETE("/blocks/:id", cfg.Admin.Unblock)

		admin.POST("/sweep", cfg.Admin.Sweep)
		admin.GET("/stats", cfg.Admin.Stats)
	}

	return router
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
