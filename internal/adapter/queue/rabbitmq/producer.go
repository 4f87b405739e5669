package rabbitmq

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/pixtools/internal/domain"
	"github.com/fairyhunter13/pixtools/internal/observability"
)

// Producer publishes task envelopes. It implements domain.TaskQueue.
type Producer struct {
	client *Client

	mu sync.Mutex
	ch *amqp.Channel
}

// NewProducer opens a dedicated publish channel on the shared connection.
func NewProducer(client *Client) (*Producer, error) {
	ch, err := client.Channel()
	if err != nil {
		return nil, err
	}
	return &Producer{client: client, ch: ch}, nil
}

// Publish sends one task to the named queue. The request id is lifted from
// the context when the caller did not set it explicitly, so worker logs stay
// correlated with the originating HTTP request.
func (p *Producer) Publish(ctx domain.Context, queue, taskName string, kwargs any, headers map[string]string) error {
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers[domain.HeaderRequestID]; !ok {
		if rid := observability.RequestIDFromContext(ctx); rid != "" {
			headers[domain.HeaderRequestID] = rid
		}
	}
	env, err := NewEnvelope(taskName, kwargs, headers)
	if err != nil {
		return err
	}
	return p.publishEnvelope(ctx, queue, env)
}

func (p *Producer) publishEnvelope(ctx domain.Context, queue string, env *Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}
	// The default exchange routes directly to the queue named by the key.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("op=rabbitmq.publish queue=%s task=%s: %w", queue, env.TaskName, err)
	}
	return nil
}

// Close releases the publish channel.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	return p.ch.Close()
}
