package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vipplay/content-backend/internal/config"
	"github.com/vipplay/content-backend/internal/domain"
	"github.com/vipplay/content-backend/internal/generation"
	httpserver "github.com/vipplay/content-backend/internal/http"
	"github.com/vipplay/content-backend/internal/http/handlers"
	"github.com/vipplay/content-backend/internal/queue"
	"github.com/vipplay/content-backend/internal/repository"
	"github.com/vipplay/content-backend/internal/service"
	"github.com/vipplay/content-backend/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[content-api] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	producer, receivers, queueCloser := setupQueues(ctx, cfg, logger)
	defer queueCloser()

	generator := generation.NewClient(generation.ClientConfig{
		BaseURL: cfg.GenerationBaseURL,
		APIKey:  cfg.GenerationAPIKey,
		Timeout: time.Duration(cfg.GenerationTimeoutMS) * time.Millisecond,
	})

	jobsService := service.NewJobsService(repo, producer, generator, cfg.UserActiveJobQuota, logger)
	api := handlers.NewAPI(jobsService)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	var processor *worker.Processor
	if cfg.WorkerEnabled && len(receivers) > 0 {
		processor = worker.NewProcessor(receivers, repo, generator, worker.Config{
			MaxBatch:     cfg.QueueMaxBatch,
			WaitTime:     time.Duration(cfg.QueueWaitSeconds) * time.Second,
			PollInterval: time.Duration(cfg.QueuePollIntervalMS) * time.Millisecond,
			MaxReceives:  cfg.QueueMaxReceives,
		}, logger)
		processor.Start(ctx)
		logger.Printf("in-process worker started")
	} else {
		logger.Printf("in-process worker not started")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      130 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if processor != nil {
		processor.Wait()
	}
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Printf("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

// setupQueues builds one stream per job type. With REDIS_ADDR unset it
// returns a nil producer, which puts the service on the synchronous
// fallback path.
func setupQueues(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, map[domain.JobType]queue.Receiver, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, submissions run synchronously")
		return nil, nil, func() {}
	}

	consumer := cfg.RedisConsumer
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = host + "-" + uuid.NewString()[:8]
	}

	producers := queue.TypedProducer{}
	receivers := map[domain.JobType]queue.Receiver{}
	closers := make([]func() error, 0, len(domain.JobTypes))
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
		producers[jobType] = streams
		receivers[jobType] = streams
		closers = append(closers, streams.Close)
	}
	logger.Printf("redis streams queues initialized consumer=%s", consumer)

	return producers, receivers, func() {
		for _, closer := range closers {
			_ = closer()
		}
	}
}
