package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/api/handler"
	"github.com/komunitin/komunitin-sub000/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth holds the token verifiers and the idempotency store used by the
// middleware chain.
type Auth struct {
	Users       middleware.TokenVerifier
	Servers     middleware.TokenVerifier
	Idempotency middleware.IdempotencyStore
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

const healthCheckTimeout = 2 * time.Second

// setupRouter configures API routes and middleware for the application.
// Paths start with the currency code, as peers derive currency and transfer
// URLs from account URLs.
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	auth Auth,
	checks []HealthCheck,
	currencyHandler *handler.CurrencyHandler,
	accountHandler *handler.AccountHandler,
	transferHandler *handler.TransferHandler,
	trustlineHandler *handler.TrustlineHandler,
) {
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	r.GET("/health", healthHandler(logger, checks))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authenticated := r.Group("", middleware.Authenticate(logger, auth.Users, auth.Servers))

	// Public reads used by other currency servers
	authenticated.GET("/:code/currency", currencyHandler.Get)
	authenticated.GET("/:code/accounts/:id", accountHandler.GetByID)

	api := authenticated.Group("", middleware.RequireAuth())
	{
		api.POST("/currencies", currencyHandler.Create)
		api.PATCH("/:code/currency", currencyHandler.Update)

		api.POST("/:code/currency/accounts", accountHandler.Create)
		api.PATCH("/:code/accounts/:id", accountHandler.Update)
		api.DELETE("/:code/accounts/:id", accountHandler.Delete)

		transfers := api.Group("/:code/transfers")
		{
			transfers.POST("", middleware.Idempotency(logger, auth.Idempotency), transferHandler.Create)
			transfers.POST("/batch", middleware.Idempotency(logger, auth.Idempotency), transferHandler.CreateBatch)
			transfers.GET("/:id", transferHandler.GetByID)
			transfers.PATCH("/:id", transferHandler.Update)
			transfers.DELETE("/:id", transferHandler.Delete)
		}

		trustlines := api.Group("/:code/trustlines")
		{
			trustlines.POST("", trustlineHandler.Create)
			trustlines.GET("", trustlineHandler.List)
			trustlines.GET("/:id", trustlineHandler.GetByID)
			trustlines.PATCH("/:id", trustlineHandler.Update)
		}
	}
}

func healthHandler(logger *slog.Logger, checks []HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		results := gin.H{}
		for _, check := range checks {
			if err := check.Ping(ctx); err != nil {
				logger.Warn("Health check failed", "check", check.Name, "error", err)
				status, code = "unavailable", http.StatusServiceUnavailable
				results[check.Name] = err.Error()
				continue
			}
			results[check.Name] = "ok"
		}
		c.JSON(code, gin.H{"status": status, "checks": results, "timestamp": time.Now().UTC()})
	}
}
