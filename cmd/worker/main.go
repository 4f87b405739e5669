// Command worker consumes the task queues and runs the image pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/pixtools/internal/adapter/barrier"
	"github.com/fairyhunter13/pixtools/internal/adapter/blob/s3"
	"github.com/fairyhunter13/pixtools/internal/adapter/observability"
	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/pixtools/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/pixtools/internal/adapter/webhook"
	"github.com/fairyhunter13/pixtools/internal/config"
	"github.com/fairyhunter13/pixtools/internal/domain"
	"github.com/fairyhunter13/pixtools/internal/ml"
	"github.com/fairyhunter13/pixtools/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	// Dedicated scrape endpoint; the worker has no API surface of its own.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv), slog.Any("queues", cfg.WorkerQueues))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema ensure failed", slog.Any("error", err))
		os.Exit(1)
	}
	jobRepo := postgres.NewJobRepo(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	barrierSvc := barrier.NewRedisBarrier(rdb)

	store, err := s3.New(ctx, cfg)
	if err != nil {
		slog.Error("s3 client init failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := store.EnsureBucket(ctx, cfg.S3RetentionDays); err != nil {
		slog.Error("s3 bucket ensure failed", slog.Any("error", err))
		os.Exit(1)
	}

	broker, err := rabbitmq.Dial(ctx, cfg.RabbitMQURL)
	if err != nil {
		slog.Error("rabbitmq connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = broker.Close() }()
	if err := broker.DeclareTopology(); err != nil {
		slog.Error("rabbitmq topology failed", slog.Any("error", err))
		os.Exit(1)
	}
	producer, err := rabbitmq.NewProducer(broker)
	if err != nil {
		slog.Error("rabbitmq producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = producer.Close() }()

	// The model is only needed by consumers of the ML queue; skipping the
	// load elsewhere keeps codec-only workers lean.
	var model *ml.DnCNN
	if consumesQueue(cfg.WorkerQueues, domain.QueueMLInference) {
		model, err = ml.Load(cfg.DenoiseModelPath)
		if err != nil {
			slog.Error("denoise model load failed",
				slog.String("path", cfg.DenoiseModelPath), slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("denoise model loaded", slog.String("path", cfg.DenoiseModelPath))
	}

	notifier := webhook.NewDeliverer(cfg.WebhookTimeout, cfg.WebhookCBFailThreshold, cfg.WebhookCBResetTimeout())

	handlers := &tasks.Handlers{
		Jobs:           jobRepo,
		Blobs:          store,
		Queue:          producer,
		Barrier:        barrierSvc,
		Webhook:        notifier,
		Model:          model,
		MaxImageWidth:  cfg.MaxImageWidth,
		MaxImageHeight: cfg.MaxImageHeight,
	}

	consumer := rabbitmq.NewConsumer(broker, producer, cfg.TaskTimeout(), cfg.TaskRetryDelay)
	tasks.RegisterAll(consumer, handlers)

	if err := consumer.Start(ctx, cfg.WorkerQueues); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

func consumesQueue(queues []string, name string) bool {
	for _, q := range queues {
		if q == name {
			return true
		}
	}
	return false
}
