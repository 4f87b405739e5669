// Package rabbitmq provides the AMQP task transport.
//
// Messages are JSON envelopes published to named queues. Work queues carry a
// dead-letter exchange so rejected deliveries land on the dead_letter queue
// for inspection instead of vanishing.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/pixtools/internal/adapter/observability"
	"github.com/fairyhunter13/pixtools/internal/domain"
)

const (
	dlxExchange   = "dlx"
	dlxRoutingKey = "dead_letter"
)

// Client owns the broker connection shared by producers and consumers.
type Client struct {
	url  string
	conn *amqp.Connection

	refreshMu   sync.Mutex
	lastRefresh time.Time
}

// Dial connects with exponential backoff so the service survives the broker
// coming up after it.
func Dial(ctx context.Context, url string) (*Client, error) {
	var conn *amqp.Connection
	op := func() error {
		var err error
		conn, err = amqp.Dial(url)
		if err != nil {
			slog.Warn("rabbitmq dial failed, retrying", slog.Any("error", err))
			return err
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("op=rabbitmq.dial: %w", err)
	}
	return &Client{url: url, conn: conn}, nil
}

// Channel opens a fresh channel on the shared connection.
func (c *Client) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("op=rabbitmq.channel: %w", err)
	}
	return ch, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// IsClosed reports whether the underlying connection is gone.
func (c *Client) IsClosed() bool {
	return c.conn == nil || c.conn.IsClosed()
}

// DeclareTopology creates the exchanges and queues both sides rely on. Safe
// to call from the API server and the worker; declarations are idempotent.
func (c *Client) DeclareTopology() error {
	ch, err := c.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(dlxExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("op=rabbitmq.declare_dlx: %w", err)
	}
	if _, err := ch.QueueDeclare(domain.QueueDeadLetter, true, false, false, false, nil); err != nil {
		return fmt.Errorf("op=rabbitmq.declare_dead_letter: %w", err)
	}
	if err := ch.QueueBind(domain.QueueDeadLetter, dlxRoutingKey, dlxExchange, false, nil); err != nil {
		return fmt.Errorf("op=rabbitmq.bind_dead_letter: %w", err)
	}

	workArgs := amqp.Table{
		"x-dead-letter-exchange":    dlxExchange,
		"x-dead-letter-routing-key": dlxRoutingKey,
	}
	for _, q := range []string{domain.QueueDefault, domain.QueueMLInference} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, workArgs); err != nil {
			return fmt.Errorf("op=rabbitmq.declare_queue queue=%s: %w", q, err)
		}
	}
	return nil
}

// RefreshQueueMetrics inspects queue depth and consumer counts into the
// Prometheus gauges. Called on every /metrics scrape, so refreshes are rate
// limited to once per 5s unless forced.
func (c *Client) RefreshQueueMetrics(force bool) {
	c.refreshMu.Lock()
	if !force && time.Since(c.lastRefresh) < 5*time.Second {
		c.refreshMu.Unlock()
		return
	}
	c.lastRefresh = time.Now()
	c.refreshMu.Unlock()

	ch, err := c.Channel()
	if err != nil {
		observability.RabbitMQUp.Set(0)
		slog.Warn("queue metrics refresh failed", slog.Any("error", err))
		return
	}
	defer func() { _ = ch.Close() }()

	for _, name := range []string{domain.QueueDefault, domain.QueueMLInference, domain.QueueDeadLetter} {
		q, err := ch.QueueInspect(name)
		if err != nil {
			observability.RabbitMQUp.Set(0)
			slog.Warn("queue inspect failed", slog.String("queue", name), slog.Any("error", err))
			return
		}
		observability.RabbitMQQueueDepth.WithLabelValues(name).Set(float64(q.Messages))
		observability.RabbitMQQueueConsumers.WithLabelValues(name).Set(float64(q.Consumers))
	}
	observability.RabbitMQUp.Set(1)
}
