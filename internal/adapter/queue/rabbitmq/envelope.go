package rabbitmq

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fairyhunter13/pixtools/internal/domain"
)

// Envelope is the wire format for every task message. Kwargs stays raw so the
// consumer can defer decoding to the task handler.
type Envelope struct {
	TaskName string            `json:"task_name"`
	Kwargs   json.RawMessage   `json:"kwargs"`
	Headers  map[string]string `json:"headers"`
}

// NewEnvelope marshals kwargs and stamps the correlation headers.
func NewEnvelope(taskName string, kwargs any, headers map[string]string) (*Envelope, error) {
	raw, err := json.Marshal(kwargs)
	if err != nil {
		return nil, fmt.Errorf("op=envelope.marshal_kwargs task=%s: %w", taskName, err)
	}
	h := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		h[k] = v
	}
	if _, ok := h[domain.HeaderEnqueuedAt]; !ok {
		h[domain.HeaderEnqueuedAt] = strconv.FormatFloat(float64(time.Now().UnixNano())/1e9, 'f', 6, 64)
	}
	if _, ok := h[domain.HeaderRetryCount]; !ok {
		h[domain.HeaderRetryCount] = "0"
	}
	return &Envelope{TaskName: taskName, Kwargs: raw, Headers: h}, nil
}

// Encode renders the envelope as JSON.
func (e *Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("op=envelope.encode task=%s: %w", e.TaskName, err)
	}
	return b, nil
}

// DecodeEnvelope parses an envelope from a message body.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("op=envelope.decode: %w", err)
	}
	if e.TaskName == "" {
		return nil, fmt.Errorf("op=envelope.decode: missing task_name")
	}
	if e.Headers == nil {
		e.Headers = map[string]string{}
	}
	return &e, nil
}

// RetryCount reads the retry header, defaulting to zero.
func (e *Envelope) RetryCount() int {
	n, err := strconv.Atoi(e.Headers[domain.HeaderRetryCount])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// WithRetryCount returns a copy of the envelope with the retry header set.
func (e *Envelope) WithRetryCount(n int) *Envelope {
	h := make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		h[k] = v
	}
	h[domain.HeaderRetryCount] = strconv.Itoa(n)
	return &Envelope{TaskName: e.TaskName, Kwargs: e.Kwargs, Headers: h}
}

// EnqueuedAt parses the enqueue timestamp header. The zero time is returned
// when the header is absent or malformed.
func (e *Envelope) EnqueuedAt() time.Time {
	raw, ok := e.Headers[domain.HeaderEnqueuedAt]
	if !ok {
		return time.Time{}
	}
	sec, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, int64(sec*1e9))
}
