package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	adobs "github.com/fairyhunter13/pixtools/internal/adapter/observability"
	"github.com/fairyhunter13/pixtools/internal/domain"
	"github.com/fairyhunter13/pixtools/internal/observability"
)

// HandlerFunc processes one decoded task envelope.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// Registration binds a task name to its handler and retry policy.
type Registration struct {
	// Queue the task is re-published to when it is retried.
	Queue      string
	MaxRetries int
	Handler    HandlerFunc
	// OnExhausted runs after the final attempt, before the delivery is
	// dead-lettered. Used to fail the owning job and its barrier group.
	OnExhausted func(ctx context.Context, env *Envelope, cause error)
	// OnRetry runs after a retry republish succeeds.
	OnRetry func(ctx context.Context, env *Envelope)
}

// Consumer pulls deliveries off the work queues one at a time and dispatches
// them to registered handlers. Acks happen after the handler returns, so a
// worker killed mid-task leaves the message for redelivery.
type Consumer struct {
	client      *Client
	producer    *Producer
	registry    map[string]Registration
	taskTimeout time.Duration
	retryDelay  time.Duration
}

// NewConsumer builds a consumer that republishes retries through producer.
func NewConsumer(client *Client, producer *Producer, taskTimeout, retryDelay time.Duration) *Consumer {
	return &Consumer{
		client:      client,
		producer:    producer,
		registry:    map[string]Registration{},
		taskTimeout: taskTimeout,
		retryDelay:  retryDelay,
	}
}

// Register adds a task handler. Later registrations for the same name win.
func (c *Consumer) Register(taskName string, reg Registration) {
	c.registry[taskName] = reg
}

// Start consumes the given queues until the context is cancelled.
func (c *Consumer) Start(ctx context.Context, queues []string) error {
	for _, queue := range queues {
		ch, err := c.client.Channel()
		if err != nil {
			return err
		}
		// Prefetch one so a slow denoise cannot pile deliveries onto a
		// worker that dies holding them.
		if err := ch.Qos(1, 0, false); err != nil {
			return err
		}
		deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			return err
		}
		go c.consumeLoop(ctx, queue, ch, deliveries)
		slog.Info("consumer started", slog.String("queue", queue))
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *Consumer) consumeLoop(ctx context.Context, queue string, ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
	defer func() { _ = ch.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				slog.Warn("delivery channel closed", slog.String("queue", queue))
				return
			}
			c.processDelivery(ctx, queue, d)
		}
	}
}

func (c *Consumer) processDelivery(ctx context.Context, queue string, d amqp.Delivery) {
	env, err := DecodeEnvelope(d.Body)
	if err != nil {
		slog.Error("undecodable delivery, dead-lettering", slog.String("queue", queue), slog.Any("error", err))
		_ = d.Reject(false)
		return
	}

	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "ProcessTask "+env.TaskName)
	defer span.End()

	if rid := env.Headers[domain.HeaderRequestID]; rid != "" {
		ctx = observability.ContextWithRequestID(ctx, rid)
	}
	jobID := env.Headers[domain.HeaderJobID]
	if jobID != "" {
		ctx = observability.ContextWithJobID(ctx, jobID)
	}
	lg := observability.LoggerFromContext(ctx).With(
		slog.String("task_name", env.TaskName),
		slog.String("queue", queue),
		slog.Int("retry_count", env.RetryCount()),
	)
	if jobID != "" {
		lg = lg.With(slog.String("job_id", jobID))
	}
	if rid := env.Headers[domain.HeaderRequestID]; rid != "" {
		lg = lg.With(slog.String("request_id", rid))
	}
	ctx = observability.ContextWithLogger(ctx, lg)

	reg, ok := c.registry[env.TaskName]
	if !ok {
		lg.Error("no handler registered, dead-lettering")
		_ = d.Reject(false)
		return
	}

	if env.RetryCount() == 0 {
		if at := env.EnqueuedAt(); !at.IsZero() {
			adobs.ObserveQueueWait(env.TaskName, time.Since(at))
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, c.taskTimeout)
	start := time.Now()
	err = reg.Handler(runCtx, env)
	cancel()
	adobs.ObserveTaskProcessing(env.TaskName, time.Since(start))

	if err == nil {
		_ = d.Ack(false)
		return
	}

	fatal := errors.Is(err, domain.ErrFatalTask)
	if fatal || env.RetryCount() >= reg.MaxRetries {
		lg.Error("task failed terminally",
			slog.Bool("fatal", fatal),
			slog.Any("error", err))
		adobs.ObserveTaskFailure(env.TaskName)
		if reg.OnExhausted != nil {
			reg.OnExhausted(ctx, env, err)
		}
		// Reject without requeue routes the delivery to the DLX.
		_ = d.Reject(false)
		return
	}

	lg.Warn("task failed, scheduling retry", slog.Any("error", err))
	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return
	}
	retryQueue := reg.Queue
	if retryQueue == "" {
		retryQueue = queue
	}
	if pubErr := c.producer.publishEnvelope(ctx, retryQueue, env.WithRetryCount(env.RetryCount()+1)); pubErr != nil {
		lg.Error("retry republish failed, requeueing original", slog.Any("error", pubErr))
		_ = d.Nack(false, true)
		return
	}
	adobs.ObserveTaskRetry(env.TaskName)
	if reg.OnRetry != nil {
		reg.OnRetry(ctx, env)
	}
	_ = d.Ack(false)
}
