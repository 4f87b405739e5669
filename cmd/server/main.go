// Command server starts the pixtools HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/pixtools/internal/adapter/barrier"
	"github.com/fairyhunter13/pixtools/internal/adapter/blob/s3"
	httpserver "github.com/fairyhunter13/pixtools/internal/adapter/httpserver"
	"github.com/fairyhunter13/pixtools/internal/adapter/idempotency"
	"github.com/fairyhunter13/pixtools/internal/adapter/observability"
	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/pixtools/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/pixtools/internal/app"
	"github.com/fairyhunter13/pixtools/internal/config"
	"github.com/fairyhunter13/pixtools/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
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
	idemCache := idempotency.NewRedisCache(rdb, cfg.IdempotencyTTL())
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

	// Expired job rows are swept in-process; blob expiry rides on the bucket
	// lifecycle rules instead.
	if cfg.JobRetentionHours > 0 {
		pruner := postgres.NewPruner(jobRepo, cfg.JobRetentionHours)
		go pruner.RunPeriodic(ctx, cfg.PruneInterval)
		slog.Info("job pruner started",
			slog.Int("retention_hours", cfg.JobRetentionHours),
			slog.Duration("interval", cfg.PruneInterval))
	}

	submitSvc := usecase.NewSubmitService(jobRepo, idemCache, store, producer, barrierSvc)
	statusSvc := usecase.NewStatusService(jobRepo, store)

	dbCheck, redisCheck, brokerCheck, s3Check := app.BuildReadinessChecks(pool, rdb, broker, store)
	srv := httpserver.NewServer(cfg, submitSvc, statusSvc, dbCheck, redisCheck, brokerCheck, s3Check)
	handler := app.BuildRouter(cfg, srv, broker)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
