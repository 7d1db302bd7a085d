package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

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
	"lifeboard.app/core/internal/orchestrator"
	"lifeboard.app/core/internal/parser"
	"lifeboard.app/core/internal/queue"
	"lifeboard.app/core/internal/store"
	"lifeboard.app/core/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "core worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Different node ID than the server so both can mint IDs concurrently
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
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
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    1, // Process one command at a time
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	o, err := buildPipeline(cfg, database)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build pipeline", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, o, worker.Config{
		MaxAttempts: 3,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go w.Run(runCtx)
	go reclaimer.Run(runCtx)

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	// Stop reclaimer first (quick), then the worker (may be mid-command)
	reclaimer.Stop()
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

func buildPipeline(cfg config.Config, database *db.DB) (*orchestrator.Orchestrator, error) {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
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
			return nil, err
		}
		interpreter = parser.NewClient(llmClient, cat, parser.Config{
			Timeout:   cfg.Parser.Timeout,
			MaxTokens: cfg.ParserLLM.MaxTokens,
		})
	} else {
		slog.Warn("parser llm not configured, classification will use keywords only")
	}

	return orchestrator.New(
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
		store.NewCommandLog(database),
	), nil
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath != "" {
		return catalog.LoadFile(cfg.CatalogPath)
	}
	return catalog.Default()
}
