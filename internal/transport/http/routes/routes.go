package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/port"
	"github.com/keygate-labs/keygate/internal/infra/config"
	"github.com/keygate-labs/keygate/internal/transport/http/handlers"
	"github.com/keygate-labs/keygate/internal/transport/http/middleware"
	"github.com/keygate-labs/keygate/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Checkpoints *usecase.CheckpointService
	Keys        *usecase.KeyService
	Sessions    *usecase.SessionService
	Sweeper     *usecase.Sweeper
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.HTTPMetrics
	Services    ServiceSet
	Settings    port.SettingsRepository
	// ValidateKeyLimit is the hourly budget applied to the validation API,
	// resolved from runtime settings at boot.
	ValidateKeyLimit int
	Database         DatabaseChecker
	Cache            CacheChecker
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
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
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

	secureCookies := deps.Config.App.Env == "production"
	identityMiddleware := middleware.Identity(deps.Services.Sessions, secureCookies, deps.Logger)

	funnel := r.Group("/")
	funnel.Use(identityMiddleware)

	checkpointHandler := handlers.NewCheckpointHandler(deps.Services.Checkpoints, deps.Services.Keys, deps.Logger)
	checkpointHandler.RegisterRoutes(funnel)

	api := r.Group("/api")
	api.Use(identityMiddleware)

	apiHandler := handlers.NewAPIHandler(deps.Services.Keys, deps.Logger)
	apiHandler.RegisterRoutes(api, buildValidateKeyMiddlewares(deps)...)

	admin := r.Group("/admin")
	admin.Use(middleware.AdminAuth(deps.Config.Admin, deps.Logger))

	adminHandler := handlers.NewAdminHandler(deps.Services.Keys, deps.Services.Sweeper, deps.Settings, deps.Logger)
	adminHandler.RegisterRoutes(admin)

	return r
}

func buildValidateKeyMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.ValidateKeyLimit
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Hour
	}

	rule := middleware.RateLimitRule{
		Name:       "validate_key_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
