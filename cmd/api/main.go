package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/config"
	"alfredoptarigan/cv-screening/internal/handlers"
	"alfredoptarigan/cv-screening/internal/repositories"
	"alfredoptarigan/cv-screening/internal/services"
)

func main() {
	// Load configuration
	cfg := config.Load()

	zlog, err := config.NewLogger(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()
	zlog.Info("✅ Config loaded successfully", zap.String("env", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := config.InitDatabase(cfg, zlog)
	if err != nil {
		zlog.Fatal("❌ Failed to initialize database", zap.Error(err))
	}

	// Initializes repositories
	docRepo := repositories.NewDocumentRepository(db)
	evalRepo := repositories.NewEvaluationRepository(db, zlog.Named("repository"))
	zlog.Info("✅ Repositories initialized successfully")

	// Initialize services
	storageService := services.NewStorageService(cfg.Storage.UploadPath)
	if err := storageService.EnsureUploadDir(); err != nil {
		zlog.Fatal("❌ Failed to create upload directory", zap.Error(err))
	}

	extractor := services.NewTextExtractor()
	reader := services.NewCandidateDocumentReader(docRepo, extractor, cfg.Storage.MinDocumentChars)

	// Initialize Gemini AI
	geminiService, err := services.NewGeminiService(ctx, services.GeminiOptions{
		APIKey:           cfg.Gemini.APIKey,
		Model:            cfg.Gemini.Model,
		EmbeddingModel:   cfg.Gemini.EmbeddingModel,
		CallTimeout:      cfg.Gemini.CallTimeout,
		BreakerThreshold: cfg.Gemini.BreakerThreshold,
		BreakerCooldown:  cfg.Gemini.BreakerCooldown,
	}, zlog.Named("gemini"))
	if err != nil {
		zlog.Fatal("❌ Failed to initialize Gemini AI", zap.Error(err))
	}
	zlog.Info("✅ Gemini AI initialized successfully", zap.String("model", cfg.Gemini.Model))

	// Initialize Qdrant
	qdrantService, err := services.NewQdrantService(
		cfg.Qdrant.URL,
		cfg.Qdrant.APIKey,
		cfg.Qdrant.Collection,
		cfg.Qdrant.VectorSize,
		zlog.Named("qdrant"),
	)
	if err != nil {
		zlog.Fatal("❌ Failed to initialize Qdrant", zap.Error(err))
	}
	refStore := services.NewReferenceStore(qdrantService, geminiService, extractor, zlog.Named("reference"))
	zlog.Info("✅ Qdrant initialized successfully", zap.String("collection", cfg.Qdrant.Collection))

	queue, closeQueue := newQueue(ctx, cfg, zlog)
	defer closeQueue()

	evaluatorService := services.NewEvaluatorService(refStore, geminiService, zlog.Named("evaluator"))
	evalService := services.NewEvaluationService(evalRepo, docRepo, queue, zlog.Named("submission"))

	// Initialize worker
	worker := services.NewWorker(
		queue,
		evalRepo,
		reader,
		evaluatorService,
		refStore,
		services.WorkerOptions{
			MaxAttempts:  cfg.Worker.RetryMaxAttempts,
			InitialDelay: cfg.Worker.RetryInitialDelay,
			TaskTimeout:  cfg.Worker.TaskTimeout,
			PollInterval: cfg.Worker.PollInterval,
			StallTimeout: cfg.Worker.StallTimeout,
			ReferenceDir: cfg.Storage.ReferenceDocsDir,
		},
		zlog.Named("worker"),
	)

	// Initialization may ingest the reference corpus; the API accepts jobs meanwhile.
	go func() {
		err := worker.Start(ctx)
		switch {
		case errors.Is(err, services.ErrWorkerStopped), err != nil && ctx.Err() != nil:
			zlog.Info("worker start abandoned during shutdown")
		case err != nil:
			zlog.Fatal("❌ Failed to start worker", zap.Error(err))
		}
	}()

	// Initialize Handlers
	uploadHandler := handlers.NewUploadHandler(
		docRepo,
		storageService,
		cfg.Storage.MaxFileSize,
		zlog.Named("upload"),
	)
	evaluateHandler := handlers.NewEvaluationHandler(evalService, zlog.Named("evaluate"))
	resultHandler := handlers.NewResultHandler(evalService, zlog.Named("result"))
	healthHandler := handlers.NewHealthHandler(worker)
	zlog.Info("✅ Handlers initialized")

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "AI CV Screening API",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    int(cfg.Storage.MaxFileSize) + 1024*1024,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	registerRoutes(app, uploadHandler, evaluateHandler, resultHandler, healthHandler)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zlog.Info("🛑 Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zlog.Error("❌ Server forced to shutdown", zap.Error(err))
		}
	}()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	zlog.Info("🚀 Server starting", zap.String("addr", addr))

	if err := app.Listen(addr); err != nil {
		zlog.Error("❌ Failed to start server", zap.Error(err))
	}

	worker.Stop()
	zlog.Info("👋 Server exited")
}

func registerRoutes(
	app *fiber.App,
	uploadHandler *handlers.UploadHandler,
	evaluateHandler *handlers.EvaluationHandler,
	resultHandler *handlers.ResultHandler,
	healthHandler *handlers.HealthHandler,
) {
	api := app.Group("/api/v1")

	api.Get("/health", healthHandler.HandleHealth)
	api.Post("/upload", uploadHandler.HandleUpload)
	api.Post("/evaluate", evaluateHandler.HandleEvaluate)
	api.Get("/result/:id", resultHandler.HandleGetResult)

	// Root route
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "AI CV Screening API",
			"version": "1.0.0",
			"endpoints": []string{
				"POST /api/v1/upload",
				"POST /api/v1/evaluate",
				"GET /api/v1/result/:id",
				"GET /api/v1/health",
			},
		})
	})
}

// newQueue selects the work queue backend. The returned func releases it.
func newQueue(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (services.Queue, func()) {
	switch cfg.Worker.QueueBackend {
	case "redis":
		client, err := config.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			zlog.Fatal("❌ Failed to connect to Redis", zap.Error(err))
		}
		queue := services.NewRedisQueue(client, services.RedisQueueOptions{
			KeyPrefix:         cfg.Redis.KeyPrefix,
			VisibilityTimeout: cfg.Redis.VisibilityTimeout,
		}, zlog.Named("queue"))
		zlog.Info("✅ Redis queue initialized", zap.String("addr", cfg.Redis.Addr))

		return queue, func() {
			queue.Close()
			client.Close()
		}
	case "", "memory":
		queue := services.NewMemoryQueue(cfg.Worker.QueueSize, zlog.Named("queue"))
		zlog.Info("✅ In-memory queue initialized", zap.Int("size", cfg.Worker.QueueSize))
		return queue, func() { queue.Close() }
	default:
		zlog.Fatal("❌ Unknown queue backend", zap.String("backend", cfg.Worker.QueueBackend))
		return nil, nil
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}
