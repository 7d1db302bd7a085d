package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"lifeboard.app/core/common/id"
	"lifeboard.app/core/common/llm"
	"lifeboard.app/core/common/logger"
	"lifeboard.app/core/common/otel"
	"lifeboard.app/core/core/config"
	"lifeboard.app/core/core/db"
	"lifeboard.app/core/internal/catalog"
	"lifeboard.app/core/internal/classifier"
	"lifeboard.app/core/internal/dispatch"
	"lifeboard.app/core/internal/handlers"
	"lifeboard.app/core/internal/http/handler"
	"lifeboard.app/core/internal/http/middleware"
	httprouter "lifeboard.app/core/internal/http/router"
	"lifeboard.app/core/internal/orchestrator"
	"lifeboard.app/core/internal/parser"
	"lifeboard.app/core/internal/queue"
	"lifeboard.app/core/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "core starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, nil)
	defer producer.Close()

	o, commandLog, err := buildPipeline(cfg, database)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build pipeline", "error", err)
		os.Exit(1)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	commands := handler.NewCommandHandler(o, producer, commandLog, cfg.Pipeline.TraceHeaderName)
	router := setupRouter(cfg, commands)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// buildPipeline wires catalog, parser, classifier, and dispatcher into an
// orchestrator backed by the command audit log.
func buildPipeline(cfg config.Config, database *db.DB) (*orchestrator.Orchestrator, *store.CommandLog, error) {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, nil, err
	}

	interpreter := parser.Disabled()
	if cfg.ParserLLM.Enabled() {
		llmClient, err := llm.New(llm.Config{
			Provider: cfg.ParserLLM.Provider,
			APIKey:   cfg.ParserLLM.APIKey,
			BaseURL:  cfg.ParserLLM.BaseURL,
			Model:    cfg.ParserLLM.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		interpreter = parser.NewClient(llmClient, cat, parser.Config{
			Timeout:   cfg.Parser.Timeout,
			MaxTokens: cfg.ParserLLM.MaxTokens,
		})
	} else {
		slog.Warn("parser llm not configured, classification will use keywords only")
	}

	commandLog := store.NewCommandLog(database)

	o := orchestrator.New(
		interpreter,
		classifier.New(cat, classifier.Config{
			MinConfidence:    cfg.Classifier.MinConfidence,
			SecondaryPenalty: cfg.Classifier.SecondaryPenalty,
		}),
		dispatch.New(handlers.NewRegistry(), dispatch.Config{
			PrimaryRetry:   cfg.Dispatch.PrimaryRetry,
			SecondaryRetry: cfg.Dispatch.SecondaryRetry,
			BackoffInitial: cfg.Dispatch.BackoffInitial,
			BackoffFactor:  cfg.Dispatch.BackoffFactor,
			BackoffMax:     cfg.Dispatch.BackoffMax,
			MaxParallel:    cfg.Dispatch.MaxParallel,
		}),
		commandLog,
	)
	return o, commandLog, nil
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath != "" {
		return catalog.LoadFile(cfg.CatalogPath)
	}
	return catalog.Default()
}

func setupRouter(cfg config.Config, commands *handler.CommandHandler) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, commands)

	return router
}
