// Package webhook delivers job-completion callbacks behind a circuit breaker.
//
// The breaker is per-process: a misbehaving callback endpoint stops costing
// worker time quickly, and an isolated worker restart resets only its own
// view of the endpoint.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fairyhunter13/pixtools/internal/adapter/observability"
	"github.com/fairyhunter13/pixtools/internal/domain"
)

// Payload is the JSON body POSTed to the client's webhook URL.
type Payload struct {
	JobID      string            `json:"job_id"`
	Status     string            `json:"status"`
	ResultURLs map[string]string `json:"result_urls"`
}

// Deliverer implements domain.WebhookNotifier.
type Deliverer struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewDeliverer builds a deliverer with the given HTTP timeout and breaker
// thresholds. The breaker trips after failThreshold consecutive failures and
// probes again after resetTimeout.
func NewDeliverer(timeout time.Duration, failThreshold int, resetTimeout time.Duration) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if failThreshold <= 0 {
		failThreshold = 5
	}
	settings := gobreaker.Settings{
		Name:    "webhook",
		Timeout: resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.ObserveCircuitTransition(from.String(), to.String())
			slog.Warn("webhook circuit state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &Deliverer{
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Deliver POSTs the payload to url. An empty url is a no-op recorded as
// no_webhook. While the breaker is open it returns ErrCircuitOpen without
// touching the network.
func (d *Deliverer) Deliver(ctx domain.Context, url, jobID string, status domain.JobStatus, resultURLs map[string]string) error {
	if url == "" {
		observability.ObserveWebhookDelivery("no_webhook")
		return nil
	}
	_, err := d.breaker.Execute(func() (any, error) {
		return nil, d.post(ctx, url, Payload{JobID: jobID, Status: string(status), ResultURLs: resultURLs})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.ObserveWebhookDelivery("circuit_open")
			return fmt.Errorf("op=webhook.deliver job=%s: %w", jobID, domain.ErrCircuitOpen)
		}
		observability.ObserveWebhookDelivery("error")
		return fmt.Errorf("op=webhook.deliver job=%s: %w", jobID, err)
	}
	observability.ObserveWebhookDelivery("success")
	return nil
}

func (d *Deliverer) post(ctx domain.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=webhook.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=webhook.request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=webhook.post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("op=webhook.post: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
