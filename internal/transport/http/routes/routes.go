package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mermac/goblincave-auth/internal/infra/config"
	"github.com/mermac/goblincave-auth/internal/transport/http/handlers"
	"github.com/mermac/goblincave-auth/internal/transport/http/middleware"
	"github.com/mermac/goblincave-auth/internal/usecase"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Flows       *usecase.FlowRegistry
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))

	if metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{}); err == nil {
		r.Use(metrics.Handler())
	} else if deps.Logger != nil {
		deps.Logger.Warn("http metrics disabled", zap.Error(err))
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Flows)
		authHandler.RegisterRoutes(authGroup, buildAuthRouteLimits(deps))
	}

	return r
}

func buildAuthRouteLimits(deps Dependencies) handlers.AuthRouteLimits {
	if deps.RateLimiter == nil || deps.Config == nil {
		return handlers.AuthRouteLimits{}
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	build := func(name string, limit int) []gin.HandlerFunc {
		if limit <= 0 {
			return nil
		}
		rule := middleware.RateLimitRule{
			Name:       name,
			Limit:      limit,
			Window:     window,
			Identifier: middleware.ClientIPIdentifier(),
		}
		return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
	}

	return handlers.AuthRouteLimits{
		Register: build("auth_register_ip", deps.Config.RateLimit.RegisterMaxAttempts),
		Login:    build("auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts),
		Resend:   build("auth_resend_ip", deps.Config.RateLimit.ResendMaxAttempts),
		Callback: build("auth_callback_ip", deps.Config.RateLimit.CallbackMaxAttempts),
	}
}
