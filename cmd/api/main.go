package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/api/handlers"
	"github.com/knowledge-assistant/backend/internal/audit"
	rediscache "github.com/knowledge-assistant/backend/internal/cache/redis"
	"github.com/knowledge-assistant/backend/internal/embedding"
	"github.com/knowledge-assistant/backend/internal/inference"
	keywordneo4j "github.com/knowledge-assistant/backend/internal/keyword/neo4j"
	"github.com/knowledge-assistant/backend/internal/metrics"
	"github.com/knowledge-assistant/backend/internal/middleware/ratelimit"
	"github.com/knowledge-assistant/backend/internal/middleware/security"
	"github.com/knowledge-assistant/backend/internal/middleware/validation"
	"github.com/knowledge-assistant/backend/internal/orchestrator"
	"github.com/knowledge-assistant/backend/internal/prompt"
	"github.com/knowledge-assistant/backend/internal/retrieval"
	"github.com/knowledge-assistant/backend/internal/safety"
	"github.com/knowledge-assistant/backend/internal/storage/sqlite"
	"github.com/knowledge-assistant/backend/internal/vector/milvus"
	"github.com/knowledge-assistant/backend/pkg/config"
	appLogger "github.com/knowledge-assistant/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Knowledge Assistant API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	cacheClient, err := rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer cacheClient.Close()

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.EnsureLoaded(context.Background()); err != nil {
		appLogger.Fatal("Failed to load vector collection", zap.Error(err))
	}

	keywordClient, err := keywordneo4j.NewClient(
		cfg.Neo4j.URI,
		cfg.Neo4j.Username,
		cfg.Neo4j.Password,
		cfg.Neo4j.Database,
		cfg.Neo4j.FulltextIndex,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
	}
	defer keywordClient.Close(context.Background())

	if err := keywordClient.EnsureIndex(context.Background()); err != nil {
		appLogger.Fatal("Failed to ensure full-text index", zap.Error(err))
	}

	embedder := embedding.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.EmbeddingModel,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second,
		cacheClient,
		time.Duration(cfg.Cache.EmbeddingTTLSec)*time.Second,
	)

	retriever := retrieval.NewRetriever(milvusClient, keywordClient, embedder, retrieval.Config{
		MaxResults:    cfg.Retrieval.MaxResults,
		VectorWeight:  cfg.Retrieval.VectorWeight,
		KeywordWeight: cfg.Retrieval.KeywordWeight,
	})

	gate := safety.NewGate(cfg.LLM.APIKey, cfg.Safety.Enabled, time.Duration(cfg.Safety.TimeoutSec)*time.Second)

	invoker := inference.NewInvoker(cfg.LLM.APIKey, cfg.Tiers, time.Duration(cfg.LLM.TimeoutSec)*time.Second)

	archiveSink, err := audit.NewArchiveSink(cfg.Audit.ArchiveDir)
	if err != nil {
		appLogger.Fatal("Failed to create audit archive", zap.Error(err))
	}
	defer archiveSink.Close()

	auditor := audit.NewEmitter(
		[]audit.Sink{
			audit.NewSQLiteSink(sqliteClient),
			audit.NewLogSink(appLogger.GetLogger()),
			archiveSink,
		},
		cacheClient,
		cfg.Audit.AlertChannel,
	)

	builder := prompt.NewBuilder(cfg.Prompt)

	engine := orchestrator.NewEngine(
		gate,
		cacheClient,
		sqliteClient,
		sqliteClient,
		retriever,
		invoker,
		auditor,
		builder,
		retrieval.RerankConfig{
			MinChunkWords:     cfg.Retrieval.MinChunkWords,
			ShortChunkPenalty: cfg.Retrieval.ShortChunkPenalty,
			OverlapBoost:      cfg.Retrieval.OverlapBoost,
			MaxResults:        cfg.Retrieval.MaxResults,
		},
		orchestrator.Config{
			RequestTimeout:   time.Duration(cfg.Pipeline.RequestTimeoutSec) * time.Second,
			RetrievalTimeout: time.Duration(cfg.Retrieval.TimeoutSec) * time.Second,
			HistoryLimit:     cfg.Pipeline.HistoryLimit,
			CacheTTL:         time.Duration(cfg.Cache.ResponseTTLSec) * time.Second,
		},
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	queryHandler := handlers.NewQueryHandler(engine)
	conversationHandler := handlers.NewConversationHandler(sqliteClient, cfg.Pipeline.HistoryLimit)
	feedbackHandler := handlers.NewFeedbackHandler(sqliteClient)

	api := app.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/conversations/:id/history", conversationHandler.GetHistory)
	api.Post("/feedback", feedbackHandler.SubmitFeedback)

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
