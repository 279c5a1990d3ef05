package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/oaa-dev/service-system-sub003/internal/config"
	"github.com/oaa-dev/service-system-sub003/internal/database"
	"github.com/oaa-dev/service-system-sub003/internal/logger"
	"github.com/oaa-dev/service-system-sub003/internal/middleware"
	"github.com/oaa-dev/service-system-sub003/internal/queue"
	"github.com/oaa-dev/service-system-sub003/internal/realtime"
	"github.com/oaa-dev/service-system-sub003/internal/reconcile"
	"github.com/oaa-dev/service-system-sub003/internal/repository"
	"github.com/oaa-dev/service-system-sub003/internal/routes"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logger.New(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		log.Fatal().Msg("DB_URL is required")
	}
	pool, err := database.NewPool(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()
	log.Info().Msg("connected to PostgreSQL")

	// 3. Real-time fan-out
	hub := realtime.NewHub(log)
	go hub.Run(ctx)

	notifier, cleanup := buildNotifier(ctx, cfg, hub, log)
	defer cleanup()

	// 4. Unread reconciler
	reconciler, err := reconcile.New(
		repository.NewParticipantRepository(pool),
		reconcile.Config{Cron: cfg.ReconcileCron, Repair: cfg.ReconcileRepair},
		log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure reconciler")
	}
	go reconciler.Run(ctx)

	// 5. Setup Fiber
	app := fiber.New(fiber.Config{DisableStartupMessage: !cfg.IsDevelopment()})

	app.Use(cors.New())
	app.Use(middleware.RequestLogger(log))
	app.Use(recover.New())

	if err := routes.RegisterRoutes(app, routes.Dependencies{
		Config:   cfg,
		DB:       pool,
		Hub:      hub,
		Notifier: notifier,
		Log:      log,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register routes")
	}

	// 6. Start Server
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("Server starting")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped")
}

// buildNotifier delivers events through the local hub when Redis is not
// configured. With Redis, events go through the asynq queue and are published
// on Redis so every instance's relay can reach its own sockets.
func buildNotifier(ctx context.Context, cfg *config.Config, hub *realtime.Hub, log zerolog.Logger) (*realtime.Notifier, func()) {
	if !cfg.RedisEnabled() {
		log.Info().Msg("REDIS_URL not set, delivering events in-process")
		return realtime.NewNotifier(hub, "hub"), func() {}
	}

	redisClient, err := realtime.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}

	relay := realtime.NewRedisRelay(redisClient, hub, log)
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error().Err(err).Msg("redis relay stopped")
		}
	}()

	asynqClient, err := queue.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("asynq client failed")
	}

	worker, err := queue.NewServer(queue.ServerConfig{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.AsynqConcurrency,
		Queue:       cfg.RealtimeQueue,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("asynq server failed")
	}
	worker.Handle(queue.TaskRealtimeDeliver, queue.NewDeliveryWorker(realtime.NewRedisPublisher(redisClient), log))
	go func() {
		if err := worker.Run(ctx); err != nil {
			log.Error().Err(err).Msg("asynq server stopped")
		}
	}()

	log.Info().Str("queue", cfg.RealtimeQueue).Msg("connected to Redis, delivering events via asynq")
	publisher := queue.NewDeliveryPublisher(asynqClient, cfg.RealtimeQueue, cfg.NotifyMaxRetry)
	return realtime.NewNotifier(publisher, "asynq"), func() {
		if err := asynqClient.Close(); err != nil {
			log.Warn().Err(err).Msg("close asynq client")
		}
		if err := redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis client")
		}
	}
}
