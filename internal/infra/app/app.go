package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/port"
	"github.com/keygate-labs/keygate/internal/infra/config"
	"github.com/keygate-labs/keygate/internal/infra/database"
	kafkainfra "github.com/keygate-labs/keygate/internal/infra/kafka"
	"github.com/keygate-labs/keygate/internal/infra/logger"
	"github.com/keygate-labs/keygate/internal/infra/notify"
	redisinfra "github.com/keygate-labs/keygate/internal/infra/redis"
	"github.com/keygate-labs/keygate/internal/infra/telemetry"
	postgresrepo "github.com/keygate-labs/keygate/internal/repository/postgres"
	redisrepo "github.com/keygate-labs/keygate/internal/repository/redis"
	"github.com/keygate-labs/keygate/internal/transport/http/middleware"
	"github.com/keygate-labs/keygate/internal/transport/http/routes"
	"github.com/keygate-labs/keygate/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	sweeper  *usecase.Sweeper
	reporter *usecase.StatsReporter
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.Enabled {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)
	sessionStore := redisrepo.NewSessionBindingStore(redisClient.Client(), cfg.Redis.SessionBindingPrefix)

	rateLimitTTL := cfg.RateLimit.KeyTTL
	if rateLimitTTL <= 0 {
		rateLimitTTL = cfg.RateLimit.WindowDuration * 2
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitTTL,
	})

	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	var eventPublisher port.EventPublisher
	var producer *kafkainfra.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			producer = nil
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	checkpointService := usecase.NewCheckpointService(repos.Tokens, repos.Settings, sessionStore, cfg.App.BaseURL, log)
	checkpointService.WithSessionIdleTTL(cfg.Session.IdleTTL)
	keyService := usecase.NewKeyService(repos.Tokens, repos.Settings, sessionStore, eventPublisher, log)
	sessionService := usecase.NewSessionService(sessionStore, repos.Settings, log)
	sweeper := usecase.NewSweeper(repos.Tokens, sessionStore, eventPublisher, cfg.Sweeper.Interval, log)
	reporter := usecase.NewStatsReporter(repos.Tokens, repos.Settings, notify.NewLoggingStatsNotifier(log), log)

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		log.Warn("failed to init http metrics", zap.Error(err))
	}

	// The per-hour validation budget lives in runtime settings; resolve it
	// once at boot for the middleware rule.
	validateKeyLimit := 0
	if settings, err := repos.Settings.Get(ctx); err != nil {
		log.Warn("failed to load settings for rate limit", zap.Error(err))
	} else {
		validateKeyLimit = settings.RateLimitPerHour
	}

	engine := routes.Register(routes.Dependencies{
		Config:           cfg,
		Logger:           log,
		RateLimiter:      rateLimiter,
		Metrics:          metrics,
		Settings:         repos.Settings,
		ValidateKeyLimit: validateKeyLimit,
		Database:         pool,
		Cache:            redisClient,
		Services: routes.ServiceSet{
			Checkpoints: checkpointService,
			Keys:        keyService,
			Sessions:    sessionService,
			Sweeper:     sweeper,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		tracer:   tracer,
		sweeper:  sweeper,
		reporter: reporter,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer func() {
		if a.tracer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = a.tracer.Shutdown(shutdownCtx)
		}
	}()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	go a.sweeper.Run(workerCtx)
	go a.reporter.Run(workerCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting key gate",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		stopWorkers()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
