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

	"vozlab.mx/conversa/common/id"
	"vozlab.mx/conversa/common/llm"
	"vozlab.mx/conversa/common/logger"
	"vozlab.mx/conversa/common/otel"
	"vozlab.mx/conversa/core/config"
	"vozlab.mx/conversa/core/db"
	"vozlab.mx/conversa/internal/brand"
	"vozlab.mx/conversa/internal/channel"
	"vozlab.mx/conversa/internal/conversation"
	llmx "vozlab.mx/conversa/internal/llm"
	"vozlab.mx/conversa/internal/queue"
	"vozlab.mx/conversa/internal/rag"
	"vozlab.mx/conversa/internal/retriever"
	"vozlab.mx/conversa/internal/scheduling"
	"vozlab.mx/conversa/internal/service"
	"vozlab.mx/conversa/internal/store"
	"vozlab.mx/conversa/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet, OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "conversa worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Queue.RedisGroup,
		"consumer_name", cfg.Queue.RedisConsumer)

	// Different node ID than the server so snowflakes never collide
	if err := id.Init(2); err != nil {
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

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
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
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Queue.RedisStream,
		Group:        cfg.Queue.RedisGroup,
		Consumer:     cfg.Queue.RedisConsumer,
		DLQStream:    cfg.Queue.RedisDLQStream,
		BatchSize:    1, // Process one turn at a time
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database)

	brands, err := stores.Brands().List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load brands", "error", err)
		os.Exit(1)
	}
	registry := brand.NewRegistry(brands)
	slog.InfoContext(ctx, "brand registry loaded", "brands", len(brands))

	chatClient, err := llm.New(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}

	embeddingClient, err := llm.NewEmbedder(llm.Config{
		APIKey:  cfg.Embedding.APIKey,
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create embedding client", "error", err)
		os.Exit(1)
	}

	vectorRetriever, err := retriever.New(retriever.Config{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create qdrant retriever", "error", err)
		os.Exit(1)
	}
	defer vectorRetriever.Close()
	slog.InfoContext(ctx, "qdrant connected", "host", cfg.Qdrant.Host, "port", cfg.Qdrant.Port)

	channelClient, err := channel.New(channel.Config{
		BaseURL:       cfg.Channel.BaseURL,
		AccessToken:   cfg.Channel.AccessToken,
		PhoneNumberID: cfg.Channel.PhoneNumberID,
		Timeout:       cfg.Channel.RequestTimeout,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create channel client", "error", err)
		os.Exit(1)
	}

	var scheduler scheduling.Client
	if cfg.Scheduling.Enabled() {
		scheduler, err = scheduling.New(scheduling.Config{
			BaseURL: cfg.Scheduling.BaseURL,
			Token:   cfg.Scheduling.Token,
			Timeout: cfg.Scheduling.RequestTimeout,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create scheduling client", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "scheduling enabled", "base_url", cfg.Scheduling.BaseURL)
	} else {
		slog.InfoContext(ctx, "scheduling disabled (no calendar token configured)")
	}

	var intents *service.IntentDetector
	if cfg.Intent.LLMEnabled {
		intents = service.NewIntentDetector(chatClient, true)
		slog.InfoContext(ctx, "llm intent classifier enabled", "model", chatClient.Model())
	}

	orchestrator, err := service.NewOrchestrator(service.OrchestratorDeps{
		Registry:      registry,
		Conversations: conversation.NewRedisStore(redisClient, cfg.Chat.ConversationTTL),
		Locks:         conversation.NewLocks(),
		Dedup:         conversation.NewRedisDedup(redisClient, cfg.Chat.DedupTTL),
		Embedder:      rag.NewEmbedder(embeddingClient),
		Retriever:     vectorRetriever,
		Assembler: rag.NewAssembler(rag.AssemblerConfig{
			MinScore:  cfg.RAG.MinScore,
			MaxChunks: cfg.RAG.DefaultK,
			MaxChars:  cfg.RAG.MaxContextChars,
		}),
		LLM: llmx.New(chatClient, llmx.Config{
			MaxAttempts:    cfg.LLM.MaxAttempts,
			AttemptTimeout: cfg.LLM.AttemptTimeout,
			RetryBase:      cfg.LLM.RetryBase,
			RetryMax:       cfg.LLM.RetryMax,
			RPS:            cfg.LLM.RPS,
		}),
		Scheduler:    scheduler,
		Intents:      intents,
		Interactions: stores.Interactions(),
		Bookings:     stores.Bookings(),
	}, service.OrchestratorConfig{
		DefaultK:        cfg.RAG.DefaultK,
		FetchMultiplier: cfg.RAG.FetchMultiplier,
		MinContextChars: cfg.RAG.MinContextChars,
		HistoryWindow:   cfg.Chat.HistoryWindow,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
		DaysAhead:       cfg.Scheduling.DaysAhead,
		Timezone:        cfg.Scheduling.Timezone,
		OfferLimit:      cfg.Scheduling.OfferLimit,
		MaxRetries:      cfg.Scheduling.MaxRetries,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, orchestrator, channelClient, worker.Config{
		MaxAttempts: 3,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Queue.RedisStream,
		Group:     cfg.Queue.RedisGroup,
		Consumer:  cfg.Queue.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

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

	// Stop worker (may be mid-turn)
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

const banner = `
 ██████╗ ██████╗ ███╗   ██╗██╗   ██╗███████╗██████╗ ███████╗ █████╗     ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔════╝██╔═══██╗████╗  ██║██║   ██║██╔════╝██╔══██╗██╔════╝██╔══██╗    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██║     ██║   ██║██╔██╗ ██║██║   ██║█████╗  ██████╔╝███████╗███████║    ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██║     ██║   ██║██║╚██╗██║╚██╗ ██╔╝██╔══╝  ██╔══██╗╚════██║██╔══██║    ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
╚██████╗╚██████╔╝██║ ╚████║ ╚████╔╝ ███████╗██║  ██║███████║██║  ██║    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
 ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝  ╚═══╝  ╚══════╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
