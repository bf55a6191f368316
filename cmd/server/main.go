package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/clock"
	"github.com/travelhub/reservation-core/internal/config"
	"github.com/travelhub/reservation-core/internal/database"
	"github.com/travelhub/reservation-core/internal/handlers"
	"github.com/travelhub/reservation-core/internal/metrics"
	"github.com/travelhub/reservation-core/internal/middleware"
	"github.com/travelhub/reservation-core/internal/repository"
	"github.com/travelhub/reservation-core/internal/services"
	"github.com/travelhub/reservation-core/pkg/jwt"
	"github.com/travelhub/reservation-core/pkg/notify"
	"github.com/travelhub/reservation-core/pkg/payment"
	"github.com/travelhub/reservation-core/pkg/reference"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting reservation core")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Storage
	var (
		store  repository.Store
		pinger handlers.Pinger
	)
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("Using in-memory storage, data is lost on restart")
		store = repository.NewMemoryStore()
	default:
		logger.Info("Connecting to database...")
		db, err := database.NewConnection(ctx, cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		logger.Info("Database connection established")

		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, db.DB.DB, "up"); err != nil {
				logger.Fatalf("Failed to run migrations: %v", err)
			}
			logger.Info("Database migrations applied")
		}
		store = database.NewStore(db)
		pinger = db
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(registry)
	jobMetrics := metrics.NewJobMetrics(registry)

	// Collaborators
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		logger.Info("Redis connection established")
	}

	references, err := newReferenceGenerator(ctx, cfg, redisClient, g, gctx, logger)
	if err != nil {
		logger.Fatalf("Failed to set up reference generator: %v", err)
	}

	gateway := newPaymentGateway(cfg, logger)

	notifier, closeNotifier := newNotifier(cfg, logger)
	defer closeNotifier()
	dispatcher := notify.NewDispatcher(notifier, logger, 1024)
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	go dispatcher.Run(notifyCtx)

	// Services
	logger.Info("Initializing services...")
	clk := clock.NewSystem()
	registrySvc := services.NewInventoryRegistry(store, clk, cfg.Booking.DefaultCurrency, logger)
	availability := services.NewAvailabilityCalculator(store, clk)
	holds := services.NewHoldManager(store, availability, clk, services.HoldManagerConfig{
		DefaultTTL: cfg.Booking.HoldTTL,
		MaxTTL:     cfg.Booking.MaxHoldTTL,
	}, bookingMetrics, logger)
	ledger := services.NewReservationLedger(store, clk, logger)
	orchestrator := services.NewBookingOrchestratorService(
		store, registrySvc, holds, ledger,
		services.NewBookingValidator(nil),
		services.DefaultCancellationPolicy(),
		references, gateway, dispatcher,
		clk, bookingMetrics,
		services.BookingOrchestratorConfig{
			HoldTTL:         cfg.Booking.HoldTTL,
			PaymentTimeout:  cfg.Booking.PaymentTimeout,
			DefaultCurrency: cfg.Booking.DefaultCurrency,
		},
		logger,
	)

	sweeper := services.NewHoldExpirationService(
		store, holds, ledger, clk, bookingMetrics, logger,
		cfg.Booking.SweepInterval, cfg.Booking.SweepBatchSize, cfg.Booking.PendingSettleTTL,
	)
	sweeper.Start()

	cronService := services.NewCronService(store.Holds(), clk, cfg.Booking.PurgeSchedule, cfg.Booking.HoldRetentionDays, jobMetrics, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}

	var rateLimit gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		rateLimit = middleware.HoldRateLimit(newRateLimitService(cfg, redisClient, clk, logger), logger)
	}

	// Router
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Security.EnableRequestLog {
		router.Use(middleware.RequestLogger(logger))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handlers.RegisterRoutes(router, handlers.Routes{
		Health:       handlers.NewHealthHandler(pinger, cfg.Storage.Driver, version),
		Inventory:    handlers.NewInventoryHandler(registrySvc, availability, logger),
		Bookings:     handlers.NewBookingHandler(orchestrator, logger),
		Reservations: handlers.NewReservationHandler(ledger, orchestrator, cfg.Reference.Prefix, logger),
		Auth:         middleware.AuthMiddleware(jwtService, logger),
		RateLimit:    rateLimit,
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Booking.PaymentTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}

	logger.Info("Stopping background services...")
	sweeper.Stop()
	cronService.Stop()
	stopNotify()
	dispatcher.Wait()

	logger.Info("Server exited")
}

// newReferenceGenerator uses the configured shard, or leases one from Redis when REFERENCE_SHARD_ID=-1.
// A leased shard is renewed in g until gctx ends.
func newReferenceGenerator(
	ctx context.Context,
	cfg *config.Config,
	client *redis.Client,
	g *errgroup.Group,
	gctx context.Context,
	logger *logrus.Logger,
) (*reference.Generator, error) {
	if cfg.Reference.ShardID >= 0 {
		logger.WithField("shard", cfg.Reference.ShardID).Info("Using configured reference shard")
		return reference.NewGenerator(cfg.Reference.Prefix, cfg.Reference.ShardID)
	}

	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s/%s", host, uuid.NewString())
	lease, err := reference.AcquireShard(ctx, client, owner, cfg.Reference.ShardCount, cfg.Reference.LeaseTTL)
	if err != nil {
		return nil, err
	}
	logger.WithField("shard", lease.Shard()).Info("Leased reference shard")

	g.Go(func() error {
		return lease.KeepAlive(gctx)
	})

	return reference.NewGenerator(cfg.Reference.Prefix, lease.Shard(), reference.WithShardGuard(lease.Check))
}

// newRateLimitService shares counters through Redis when it is configured
func newRateLimitService(cfg *config.Config, client *redis.Client, clk clock.Clock, logger *logrus.Logger) *services.RateLimitService {
	limits := services.RateLimitConfig{
		MaxHolderRequests: cfg.RateLimit.MaxHolderRequests,
		HolderWindow:      cfg.RateLimit.HolderWindow,
		MaxIPRequests:     cfg.RateLimit.MaxIPRequests,
		IPWindow:          cfg.RateLimit.IPWindow,
	}
	if client != nil {
		logger.Info("Using Redis rate limit counters")
		return services.NewRateLimitService(services.NewRedisRateCounter(client, clk), limits)
	}
	logger.Warn("Using in-process rate limit counters")
	return services.NewRateLimitService(services.NewMemoryRateCounter(clk), limits)
}

func newPaymentGateway(cfg *config.Config, logger *logrus.Logger) payment.Gateway {
	if cfg.Payment.Mode == "http" {
		logger.WithField("url", cfg.Payment.GatewayURL).Info("Using HTTP payment gateway")
		return payment.NewHTTPGateway(payment.HTTPConfig{
			BaseURL:       cfg.Payment.GatewayURL,
			MerchantKey:   cfg.Payment.MerchantKey,
			MerchantToken: cfg.Payment.MerchantToken,
		}, logger)
	}
	logger.WithField("success_rate", cfg.Payment.SuccessRate).Warn("Using simulated payments")
	return payment.NewSimulator(cfg.Payment.SuccessRate, logger)
}

// newNotifier fans out to every configured channel; the returned func closes producers
func newNotifier(cfg *config.Config, logger *logrus.Logger) (notify.Notifier, func()) {
	var (
		channels notify.Multi
		closers  []func() error
	)
	for _, ch := range cfg.Notification.Channels {
		switch ch {
		case "log":
			channels = append(channels, notify.NewLogNotifier(logger))
		case "kafka":
			kafka := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
			channels = append(channels, kafka)
			closers = append(closers, kafka.Close)
		}
	}
	return channels, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.WithError(err).Warn("Failed to close notifier")
			}
		}
	}
}
