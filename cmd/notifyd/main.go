package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notifyhub/internal/api"
	"notifyhub/internal/config"
	"notifyhub/internal/database"
	"notifyhub/internal/delivery"
	"notifyhub/internal/domain"
	"notifyhub/internal/events"
	"notifyhub/internal/logging"
	"notifyhub/internal/metrics"
	"notifyhub/internal/scheduler"
	"notifyhub/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	metrics.Register()

	db, err := database.NewDB(cfg.Database.Path, logging.Component(&logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backup := database.NewBackupService(db, cfg.Database.Backup, logging.Component(&logger, "backup"))
	go backup.Start(ctx)

	hub := delivery.NewHub(cfg.Delivery.SendBuffer, logging.Component(&logger, "hub"))
	publisher := initPublisher(ctx, cfg, hub, &logger)

	bus := events.NewEventBus(logging.Component(&logger, "events"))
	history := service.NewHistoryRecorder(db, logging.Component(&logger, "history"))
	unsubscribe := history.Subscribe(bus)
	defer unsubscribe()

	schedules := service.NewScheduleService(db, logging.Component(&logger, "schedules"))
	notifications := service.NewNotificationService(db, publisher, logging.Component(&logger, "notifications"))

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(
			scheduler.Options{RefreshInterval: cfg.Scheduler.RefreshInterval, Message: cfg.Scheduler.Message},
			initSource(cfg, db),
			initDispatcher(cfg, notifications, &logger),
			publisher,
			bus,
			logging.Component(&logger, "scheduler"),
		)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	deps := api.HTTPDeps{
		Schedules:     schedules,
		Notifications: notifications,
		History:       history,
		Hub:           hub,
		Health:        db,
		WS: delivery.WSOptions{
			PingInterval:   cfg.Delivery.PingInterval,
			WriteTimeout:   cfg.Delivery.WriteTimeout,
			AllowedOrigins: cfg.Delivery.AllowedOrigins,
		},
	}
	if sched != nil {
		deps.Scheduler = sched
	}
	httpServer := api.NewHTTPServer(cfg.API, deps, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled && sched != nil {
		grpcServer, err = api.NewGRPCServer(&cfg.API, sched, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		if err := grpcServer.Listen(); err != nil {
			logger.Error().Err(err).Msg("bind grpc server")
			return err
		}
	}

	startMetrics(ctx, cfg, &logger)

	return serve(ctx, httpServer, grpcServer, sched, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "notifyd").Logger()

	return cfg, logger, closer, nil
}

// initPublisher relays through Redis when it is reachable and falls back to the local hub.
func initPublisher(ctx context.Context, cfg *config.Config, hub *delivery.Hub, logger *zerolog.Logger) delivery.Publisher {
	if cfg.Redis.Address == "" {
		return hub
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return hub
	}
	go func() {
		<-ctx.Done()
		_ = redisClient.Close()
	}()

	relay := delivery.NewRedisRelay(redisClient, cfg.Redis.ChannelPrefix, logging.Component(logger, "redis-relay"))
	ready := make(chan struct{})
	go func() {
		if err := relay.Run(ctx, hub, ready); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("redis relay stopped")
		}
	}()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("redis relay subscription is slow to start")
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return delivery.NewFailoverPublisher(relay, hub, logging.Component(logger, "publisher"))
}

func initSource(cfg *config.Config, db *database.DB) scheduler.Source {
	if cfg.Scheduler.SourceURL == "" {
		return scheduler.NewRepositorySource(db)
	}
	return scheduler.NewHTTPSource(cfg.Scheduler.SourceURL, cfg.Scheduler.RequestTimeout, authHeaders(cfg))
}

func initDispatcher(cfg *config.Config, local *service.NotificationService, logger *zerolog.Logger) domain.Dispatcher {
	if cfg.Scheduler.DispatchURL == "" {
		return local
	}
	return scheduler.NewHTTPDispatcher(
		cfg.Scheduler.DispatchURL,
		cfg.Scheduler.RequestTimeout,
		authHeaders(cfg),
		scheduler.RetryPolicyFromConfig(cfg.Scheduler.DispatchRetry),
		logging.Component(logger, "dispatcher"),
	)
}

func authHeaders(cfg *config.Config) map[string]string {
	headers := make(map[string]string, 2)
	if cfg.Scheduler.APIKey != "" {
		headers[cfg.API.Auth.HeaderAPIKey] = cfg.Scheduler.APIKey
	}
	if cfg.Scheduler.APIExtra != "" {
		headers[cfg.API.Auth.HeaderExtra] = cfg.Scheduler.APIExtra
	}
	return headers
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(
	ctx context.Context,
	httpServer *api.HTTPServer,
	grpcServer *api.GRPCServer,
	sched *scheduler.Scheduler,
	logger *zerolog.Logger,
) error {
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	logger.Info().Msg("notifyd started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("scheduler stop")
		}
	}
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("notifyd stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
