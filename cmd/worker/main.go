package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/larp0/uwularpy-sub000/common/id"
	"github.com/larp0/uwularpy-sub000/common/llm"
	"github.com/larp0/uwularpy-sub000/common/logger"
	"github.com/larp0/uwularpy-sub000/common/otel"
	"github.com/larp0/uwularpy-sub000/common/retry"
	"github.com/larp0/uwularpy-sub000/core/config"
	"github.com/larp0/uwularpy-sub000/internal/brain"
	"github.com/larp0/uwularpy-sub000/internal/queue"
	"github.com/larp0/uwularpy-sub000/internal/ratelimit"
	"github.com/larp0/uwularpy-sub000/internal/service"
	"github.com/larp0/uwularpy-sub000/internal/service/issue_tracker"
	"github.com/larp0/uwularpy-sub000/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "planner worker starting",
		"env", cfg.Env,
		"platform", cfg.Platform.Provider,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Use a different node id than the server so run ids never collide
	if err := id.Init(cfg.NodeID + 1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

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

	pipeline, err := buildPipeline(ctx, cfg, redisClient)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build pipeline", "error", err)
		os.Exit(1)
	}

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    1, // One trigger at a time keeps comment order per thread
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, pipeline, worker.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:      cfg.Pipeline.RedisStream,
		Group:       cfg.Pipeline.RedisGroup,
		Consumer:    cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:     cfg.Pipeline.ReclaimIdle,
		Interval:    cfg.Pipeline.ReclaimInterval,
		BatchSize:   10,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	}, consumer, w.HandleReclaimed)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop reclaimer first (quick)
	reclaimer.Stop()

	// Stop worker (may be mid-run)
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

func buildPipeline(ctx context.Context, cfg config.Config, redisClient *redis.Client) (*service.Pipeline, error) {
	planner := cfg.Planner

	tracker, err := issue_tracker.New(ctx, cfg.Platform, retry.Policy{
		Attempts:  planner.RetryAttempts,
		BaseDelay: planner.RetryBaseDelay,
		MaxDelay:  30 * time.Second,
		Timeout:   cfg.Platform.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating issue tracker: %w", err)
	}

	llmClient, err := llm.New(llm.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		limiter = ratelimit.NewRedisLimiter(redisClient, "planner:ratelimit:", cfg.RateLimit.Window)
	default:
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Window)
	}

	var classifier brain.Classifier
	if planner.ClassifierEnabled {
		c, err := brain.NewIntentClassifier(llmClient, planner.ClassifierCache, planner.AITimeout)
		if err != nil {
			return nil, fmt.Errorf("creating intent classifier: %w", err)
		}
		classifier = c
	}

	slog.InfoContext(ctx, "pipeline configured",
		"rate_limit_backend", cfg.RateLimit.Backend,
		"rate_limit", cfg.RateLimit.Limit,
		"rate_window", cfg.RateLimit.Window,
		"ai_classifier", planner.ClassifierEnabled,
		"max_items", planner.MaxItems)

	return service.NewPipeline(service.PipelineDeps{
		Tracker:  tracker,
		Limiter:  limiter,
		Resolver: brain.NewIntentResolver(cfg.Platform.BotUsername, classifier),
		Ingestor: brain.NewIngestor(tracker, brain.IngestConfig{
			MaxFiles:        planner.MaxFilesAnalyzed,
			MaxFileChars:    planner.MaxFileChars,
			MaxSummaryChars: planner.MaxSummaryChars,
			BatchSize:       planner.IngestBatchSize,
			BatchDelay:      planner.IngestBatchDelay,
		}),
		Analyzer: brain.NewAnalyzer(llmClient, brain.AnalyzerConfig{
			Timeout:          planner.AITimeout,
			RetryAttempts:    planner.RetryAttempts,
			RetryBaseDelay:   planner.RetryBaseDelay,
			RefinementPasses: planner.RefinementPasses,
		}),
		Enricher: brain.NewEnricher(llmClient, brain.EnrichConfig{
			BatchSize:      planner.CreateBatchSize,
			BatchDelay:     planner.CreateBatchDelay,
			Timeout:        planner.AITimeout,
			RetryAttempts:  planner.RetryAttempts,
			RetryBaseDelay: planner.RetryBaseDelay,
		}),
		Milestones: service.NewMilestoneManager(tracker, planner.MaxThreadScan),
		Verifier:   service.NewAttachmentVerifier(tracker),
	}, service.PipelineConfig{
		BotUsername:      cfg.Platform.BotUsername,
		MaxItems:         planner.MaxItems,
		CreateBatchSize:  planner.CreateBatchSize,
		CreateBatchDelay: planner.CreateBatchDelay,
		RateLimit:        cfg.RateLimit.Limit,
		MaxThreadScan:    planner.MaxThreadScan,
	}), nil
}

const banner = `
 ____  _        _    _   _ _   _ _____ ____   __        _____  ____  _  _______ ____
|  _ \| |      / \  | \ | | \ | | ____|  _ \  \ \      / / _ \|  _ \| |/ / ____|  _ \
| |_) | |     / _ \ |  \| |  \| |  _| | |_) |  \ \ /\ / / | | | |_) | ' /|  _| | |_) |
|  __/| |___ / ___ \| |\  | |\  | |___|  _ <    \ V  V /| |_| |  _ <| . \| |___|  _ <
|_|   |_____/_/   \_\_| \_|_| \_|_____|_| \_\    \_/\_/  \___/|_| \_\_|\_\_____|_| \_\
`
