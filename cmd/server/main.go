package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cargorapido/internal/app"
	"cargorapido/internal/config"
	"cargorapido/internal/events"
	"cargorapido/internal/handler"
	"cargorapido/internal/logger"
	"cargorapido/internal/metrics"
	"cargorapido/internal/middleware"
	internalRedis "cargorapido/internal/redis"
	"cargorapido/internal/repository"
	"cargorapido/internal/repository/memory"
	"cargorapido/internal/repository/postgres"
	"cargorapido/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// New Relic goes first so the database and Redis clients can be instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Warn("failed to initialize New Relic", zap.Error(err))
			nrApp = nil
		} else {
			log.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
		}
	}

	var db *sql.DB
	if cfg.Store.Driver == "postgres" {
		db, err = app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		log.Info("connected to PostgreSQL", zap.String("host", cfg.Database.Host))

		if cfg.Migrations.Enabled {
			if err := app.RunMigrations(db, cfg.Migrations.Path, log); err != nil {
				log.Fatal("failed to run migrations", zap.Error(err))
			}
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		log.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	publisher, err := newPublisher(cfg.Events, log)
	if err != nil {
		log.Fatal("failed to create event publisher", zap.Error(err))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("close event publisher", zap.Error(err))
		}
	}()

	server, sweeper, err := wireServer(db, redisClient, nrApp, publisher, cfg, log)
	if err != nil {
		log.Fatal("failed to wire server", zap.Error(err))
	}

	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go sweeper.Run(runCtx)

	go func() {
		log.Info("starting server", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	stopWorkers()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info("server exited")
}

// newPublisher selects the event bus for timeline notifications.
func newPublisher(cfg config.EventsConfig, log *zap.Logger) (events.Publisher, error) {
	switch cfg.Driver {
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers), nil
	case "amqp":
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
	default:
		return events.NewLogPublisher(log), nil
	}
}

// wireServer wires all dependencies and returns the HTTP server and the
// deadline sweeper.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) (*http.Server, *service.DeadlineSweeper, error) {
	// Interfaces stay untyped nil without Redis so the services skip them.
	var (
		driverLocations internalRedis.GeoIndexInterface
		pendingPickups  internalRedis.GeoIndexInterface
		lockStore       internalRedis.LockStoreInterface
		cacheStore      internalRedis.AvailabilityCacheInterface
	)
	if redisClient != nil {
		driverLocations = internalRedis.NewGeoIndex(redisClient, internalRedis.DriverLocationKey)
		pendingPickups = internalRedis.NewGeoIndex(redisClient, internalRedis.PendingPickupKey)
		lockStore = internalRedis.NewLockStore(redisClient)
		cacheStore = internalRedis.NewCacheStore(redisClient)
	}

	var (
		bookingRepo repository.BookingRepository
		driverRepo  repository.DriverRepository
	)
	switch cfg.Store.Driver {
	case "memory":
		bookingRepo = memory.NewBookingRepository()
		driverRepo = memory.NewDriverRepository()
	default:
		bookingRepo = postgres.NewBookingRepository(db)
		driverRepo = postgres.NewDriverRepository(db)
	}

	m := metrics.New()

	otp, err := service.NewOTPVerifier(cfg.OTP.Length)
	if err != nil {
		return nil, nil, err
	}

	notifier := service.NewNotificationService(publisher, service.Topics{
		Timeline:   cfg.Events.TimelineTopic,
		Pending:    cfg.Events.PendingTopic,
		Escalation: cfg.Events.EscalationTopic,
	}, cfg.Events.PublishTimeout, log)

	registry := service.NewBookingRegistry(bookingRepo, otp, notifier, pendingPickups, m, log, service.RegistryConfig{
		AssignmentTimeout: cfg.Dispatch.AssignmentTimeout,
		SearchRadiusKm:    cfg.Dispatch.SearchRadiusKm,
	})
	driverService := service.NewDriverService(driverRepo, driverLocations, cacheStore, log)
	pool := service.NewDispatchPool(registry, driverService, m, log, service.PoolConfig{
		SearchRadiusKm:    cfg.Dispatch.SearchRadiusKm,
		RadiusWidenFactor: cfg.Dispatch.RadiusWidenFactor,
		MaxEscalations:    cfg.Dispatch.MaxEscalations,
		PollInterval:      cfg.Dispatch.PollInterval,
	})
	arbiter := service.NewAssignmentArbiter(registry, driverService, lockStore, m, log, cfg.Dispatch.DriverLockTTL)
	stateMachine := service.NewDeliveryStateMachine(registry, otp, m, log)
	sweeper := service.NewDeadlineSweeper(registry, notifier, m, log, service.SweeperConfig{
		Interval:          cfg.Dispatch.SweepInterval,
		AssignmentTimeout: cfg.Dispatch.AssignmentTimeout,
		MaxEscalations:    cfg.Dispatch.MaxEscalations,
		RadiusWidenFactor: cfg.Dispatch.RadiusWidenFactor,
	})

	var otpLimiter *middleware.OTPRateLimiter
	if cfg.RateLimit.Enabled {
		otpLimiter = middleware.NewOTPRateLimiter(cfg.RateLimit.OTPAttemptsPerMin, cfg.RateLimit.OTPBurst)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty, trusting X-Actor-ID and X-Actor-Role headers")
	}

	router := app.NewRouter(app.RouterDeps{
		BookingHandler:  handler.NewBookingHandler(registry, arbiter, stateMachine),
		DispatchHandler: handler.NewDispatchHandler(pool),
		DriverHandler:   handler.NewDriverHandler(driverService),
		Metrics:         m,
		Logger:          log,
		RedisClient:     redisClient,
		NewRelicApp:     nrApp,
		OTPLimiter:      otpLimiter,
		JWTSecret:       cfg.Auth.JWTSecret,
		CORSOrigins:     cfg.Server.CORSOrigins,
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, sweeper, nil
}
