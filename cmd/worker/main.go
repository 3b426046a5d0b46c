package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vipplay/content-backend/internal/config"
	"github.com/vipplay/content-backend/internal/domain"
	"github.com/vipplay/content-backend/internal/generation"
	"github.com/vipplay/content-backend/internal/queue"
	"github.com/vipplay/content-backend/internal/repository"
	"github.com/vipplay/content-backend/internal/worker"
)

// Standalone worker. Runs the same processor the api binary embeds, so
// processing can be scaled out independently of the HTTP surface.
func main() {
	logger := log.New(os.Stdout, "[content-worker] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	if cfg.RedisAddr == "" {
		logger.Fatalf("REDIS_ADDR is required for the worker")
	}
	if cfg.DatabaseURL == "" {
		logger.Fatalf("DATABASE_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to initialize postgres repository: %v", err)
	}
	defer repo.Close()

	consumer := cfg.RedisConsumer
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = host + "-" + uuid.NewString()[:8]
	}

	receivers := map[domain.JobType]queue.Receiver{}
	for _, jobType := range domain.JobTypes {
		stream := cfg.RedisStreamBase + "_" + string(jobType)
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:              cfg.RedisAddr,
			Password:          cfg.RedisPassword,
			DB:                cfg.RedisDB,
			Stream:            stream,
			DLQStream:         stream + "_dlq",
			Group:             cfg.RedisGroup,
			Consumer:          consumer,
			VisibilityTimeout: time.Duration(cfg.QueueVisibilitySeconds) * time.Second,
		})
		if err != nil {
			logger.Fatalf("failed to initialize redis streams queue %s: %v", stream, err)
		}
		defer func() { _ = streams.Close() }()
		receivers[jobType] = streams
	}

	generator := generation.NewClient(generation.ClientConfig{
		BaseURL: cfg.GenerationBaseURL,
		APIKey:  cfg.GenerationAPIKey,
		Timeout: time.Duration(cfg.GenerationTimeoutMS) * time.Millisecond,
	})

	processor := worker.NewProcessor(receivers, repo, generator, worker.Config{
		MaxBatch:     cfg.QueueMaxBatch,
		WaitTime:     time.Duration(cfg.QueueWaitSeconds) * time.Second,
		PollInterval: time.Duration(cfg.QueuePollIntervalMS) * time.Millisecond,
		MaxReceives:  cfg.QueueMaxReceives,
	}, logger)

	processor.Start(ctx)
	logger.Printf("worker started consumer=%s", consumer)

	<-ctx.Done()
	logger.Printf("shutdown signal received")
	processor.Wait()
}
