package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/designanalyzer/api/internal/client"
	"github.com/designanalyzer/api/internal/config"
	"github.com/designanalyzer/api/internal/handler"
	"github.com/designanalyzer/api/internal/logging"
	"github.com/designanalyzer/api/internal/metrics"
	"github.com/designanalyzer/api/internal/notify"
	"github.com/designanalyzer/api/internal/pipeline"
	"github.com/designanalyzer/api/internal/scheduler"
	"github.com/designanalyzer/api/internal/service"
	"github.com/designanalyzer/api/internal/stage"
	"github.com/designanalyzer/api/internal/store"
	ws "github.com/designanalyzer/api/internal/websocket"
	"github.com/designanalyzer/api/internal/worker"
	"github.com/designanalyzer/api/pkg/response"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "console", os.Stderr)
		boot.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat, os.Stdout)

	// Job store
	var (
		st          store.Store
		redisClient *redis.Client
	)
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis not available")
		}
		st = store.NewRedisStore(redisClient, cfg.Store.TTL, log)
	default:
		memStore := store.NewMemoryStore(store.MemoryStoreConfig{
			TTL:             cfg.Store.TTL,
			JanitorInterval: cfg.Store.JanitorInterval,
			Logger:          log,
		})
		defer memStore.Close()
		st = memStore
	}

	// External clients
	screenshotClient := client.NewScreenshotClient(&cfg.Screenshot)
	detectionClient := client.NewDetectionClient(&cfg.Detection)

	var reviewer stage.Reviewer
	visionClient, err := client.NewVisionClient(&cfg.Vision)
	if err != nil {
		log.Warn().Err(err).Msg("Vision client not initialized")
	} else {
		reviewer = visionClient
	}

	// R2 storage (optional - reports stay inline if not configured)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			storage = r2Client
		}
	} else {
		log.Info().Msg("R2 storage not configured, reports are kept inline only")
	}

	adapters := stage.New(stage.Config{
		Capturer:  screenshotClient,
		Detector:  detectionClient,
		Reviewer:  reviewer,
		Storage:   storage,
		MockDelay: cfg.Pipeline.MockDelay,
		Logger:    log,
	})
	if mocked := adapters.Mocked(); len(mocked) > 0 {
		log.Info().Strs("stages", mocked).Msg("Stages without a configured service use mock output")
	}

	collector := metrics.NewCollector()

	runner := pipeline.NewRunner(adapters.Stages(), pipeline.Options{
		StageTimeout:  cfg.Pipeline.StageTimeout,
		JobTimeout:    cfg.Pipeline.JobTimeout,
		ParallelRules: cfg.Pipeline.ParallelRules,
		OnStageDone:   collector.ObserveStage,
		Logger:        log,
	})

	// WebSocket hub and callback delivery follow every job
	hub := ws.NewHub(log)
	go hub.Run()

	notifier := notify.NewCallbackNotifier(notify.CallbackConfig{
		MaxRetries: cfg.Callback.MaxRetries,
		Timeout:    cfg.Callback.Timeout,
		Logger:     log,
	})

	schedulerConfig := scheduler.Config{
		MaxWorkers: cfg.Scheduler.MaxWorkers,
		Observers:  []scheduler.Observer{hub, notifier, collector},
		Logger:     log,
	}

	if cfg.Scheduler.Mode == config.SchedulerModeAsynq {
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		schedulerConfig.Enqueuer = worker.NewAsynqEnqueuer(asynqClient)
	}

	sched := scheduler.New(st, runner, schedulerConfig)

	var workerServer *asynq.Server
	if cfg.Scheduler.Mode == config.SchedulerModeAsynq {
		workerServer = worker.NewServer(worker.ServerConfig{
			Redis:       redisOpt,
			Concurrency: cfg.Scheduler.MaxWorkers,
			LogLevel:    cfg.Server.LogLevel,
			Logger:      log,
		})
		mux := worker.NewServeMux(worker.NewAnalysisWorker(sched, log))
		if err := workerServer.Start(mux); err != nil {
			log.Fatal().Err(err).Msg("Failed to start asynq worker server")
		}
	}

	// Services and handlers
	submissionService := service.NewSubmissionService(sched, service.NewValidator())
	statusService := service.NewStatusService(st)

	analysisHandler := handler.NewAnalysisHandler(submissionService, statusService)
	healthHandler := handler.NewHealthHandler(version, fiber.Map{
		"store":      cfg.Store.Backend,
		"scheduler":  cfg.Scheduler.Mode,
		"screenshot": screenshotClient.IsConfigured(),
		"detection":  detectionClient.IsConfigured(),
		"vision":     visionClient.IsConfigured(),
		"r2":         storage != nil,
	})

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if cfg.IsDebug() {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Debug().Msg("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	handler.Register(app, handler.Routes{
		Analysis:  analysisHandler,
		Health:    healthHandler,
		Stream:    handler.NewJobStream(hub, st.Get),
		JobLookup: st.Get,
		Metrics:   adaptor.HTTPHandler(collector.Handler()),
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info().
		Str("addr", addr).
		Str("version", version).
		Str("store", cfg.Store.Backend).
		Str("scheduler", cfg.Scheduler.Mode).
		Msg("Server starting")
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("Server error")
	}

	shutdown(log, cfg.Scheduler.ShutdownTimeout, sched, workerServer, notifier, hub)
}

// shutdown drains running jobs, then stops everything that reports on them
func shutdown(log zerolog.Logger, timeout time.Duration, sched *scheduler.Scheduler, workerServer *asynq.Server, notifier *notify.CallbackNotifier, hub *ws.Hub) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if workerServer != nil {
		workerServer.Shutdown()
	}
	if err := sched.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Jobs still running at shutdown were cancelled")
	}
	if err := notifier.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Pending callbacks abandoned")
	}
	hub.Stop()

	log.Info().Msg("Server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	errorCode := response.CodeServiceError
	if code == fiber.StatusNotFound {
		errorCode = response.CodeNotFound
	}

	return response.Error(c, code, errorCode, message, nil)
}
