package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/api/handlers"
	"github.com/maheshrc27/postscheduler/internal/api/middleware"
	"github.com/maheshrc27/postscheduler/internal/instagram"
	job "github.com/maheshrc27/postscheduler/internal/jobs"
	"github.com/maheshrc27/postscheduler/internal/queue"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/maheshrc27/postscheduler/internal/service"
	"github.com/maheshrc27/postscheduler/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		boot := logger.New("info", true)
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(cfg.LogLevel, cfg.Env == "development")
	ctx := context.Background()

	db, err := repository.Connect(ctx, cfg.PostgresURI)
	if err != nil {
		log.Fatal().Err(err).Msg("database is unreachable")
	}
	if err := repository.Migrate(ctx, db.DB, log); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisConn, err := asynq.ParseRedisURI(cfg.RedisURI)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URI")
	}
	client := asynq.NewClient(redisConn)
	inspector := asynq.NewInspector(redisConn)

	redisClient, err := job.ConnectRedis(ctx, cfg.RedisURI, 10, time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("redis is unreachable")
	}

	scheduledPostRepo := repository.NewScheduledPostRepository(db)
	publishedPostRepo := repository.NewPublishedPostRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	accountInsightRepo := repository.NewAccountInsightRepository(db)

	dispatcher := queue.NewAsynqDispatcher(client, inspector, cfg.Scheduler.Queue, log)
	graphClient := instagram.NewGraphClient(cfg.Instagram, log)

	mediaResolver, err := service.NewMediaResolver(ctx, *cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure media storage")
	}

	schedulingService := service.NewSchedulingService(cfg.Scheduler, scheduledPostRepo, socialAccountRepo, dispatcher, log)
	publisherService := service.NewPublisherService(cfg.Scheduler, cfg.SecretKey, scheduledPostRepo, socialAccountRepo, dispatcher, graphClient, mediaResolver, log)
	platformService := service.NewPlatformService(*cfg, graphClient, socialAccountRepo, log)

	// worker
	worker := asynq.NewServer(redisConn, asynq.Config{
		Concurrency:     cfg.Scheduler.WorkerConcurrency,
		Queues:          map[string]int{cfg.Scheduler.Queue: 1},
		Logger:          queue.NewLogger(log),
		ErrorHandler:    queue.ErrorHandler(log),
		ShutdownTimeout: cfg.Scheduler.PublishTimeout,
	})
	mux := asynq.NewServeMux()
	queue.NewQueue(publisherService, log).Register(mux)
	if err := worker.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("could not start task worker")
	}

	// cron jobs
	maintenanceJob := job.NewMaintenanceJob(cfg.Sweeper, scheduledPostRepo, dispatcher, job.NewRedisLock(redisClient), log)
	tokenJob := job.NewTokenRefreshJob(socialAccountRepo, graphClient, cfg.SecretKey, log)
	insightsJob := job.NewInsightsSyncJob(cfg.Jobs, cfg.SecretKey, publishedPostRepo, socialAccountRepo, accountInsightRepo, graphClient, log)

	scheduler := job.NewScheduler(log)
	for _, entry := range []struct {
		name, spec string
		run        func()
	}{
		{"maintenance_sweep", "@every " + cfg.Sweeper.Interval.String(), maintenanceJob.RunScheduled},
		{"token_refresh", cfg.Jobs.TokenRefresh, tokenJob.RefreshTokens},
		{"insights_sync", cfg.Jobs.InsightsSync, insightsJob.RunScheduled},
	} {
		if err := scheduler.Add(entry.name, entry.spec, entry.run); err != nil {
			log.Fatal().Err(err).Msg("invalid job schedule")
		}
	}
	scheduler.Start()

	// http
	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				log.Error().Err(err).Str("path", c.Path()).Msg("unhandled request error")
			}
			return c.Status(code).JSON(fiber.Map{"error": fiber.Map{"code": "HTTP_ERROR", "message": err.Error()}})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	handlers.NewPlatformHandler(platformService, *cfg, log).Register(app)

	authMiddleware := middleware.NewAuthMiddleware(*cfg, log)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	handlers.NewScheduledPostHandler(schedulingService, socialAccountRepo, log).Register(api)
	handlers.NewAccountHandler(socialAccountRepo, accountInsightRepo, log).Register(api)

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Str("addr", cfg.HTTPAddr).Msg("server is running")

	gracefulShutdown(log, app, worker, scheduler, func() {
		_ = client.Close()
		_ = inspector.Close()
		_ = redisClient.Close()
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	})
}

func gracefulShutdown(log zerolog.Logger, app *fiber.App, worker *asynq.Server, scheduler *job.Scheduler, closeAll func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("failed to shut down http server")
	}
	if err := scheduler.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("cron jobs still running at shutdown")
	}
	worker.Shutdown()

	closeAll()
	log.Info().Msg("server shutdown complete")
}
