package rabbitmq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pixtools/internal/domain"
)

func TestNewEnvelope_StampsHeaders(t *testing.T) {
	env, err := NewEnvelope(domain.TaskConvertJPG,
		domain.ConvertTaskKwargs{JobID: "job-1", RawKey: "raw/job-1/a.png", Op: "jpg"},
		map[string]string{domain.HeaderRequestID: "req-1", domain.HeaderJobID: "job-1"})
	require.NoError(t, err)

	assert.Equal(t, "req-1", env.Headers[domain.HeaderRequestID])
	assert.Equal(t, "0", env.Headers[domain.HeaderRetryCount])
	assert.NotEmpty(t, env.Headers[domain.HeaderEnqueuedAt])
	assert.WithinDuration(t, time.Now(), env.EnqueuedAt(), 2*time.Second)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(domain.TaskFinalize,
		domain.FinalizeTaskKwargs{JobID: "job-1", Results: []string{"a", "b"}},
		nil)
	require.NoError(t, err)

	body, err := env.Encode()
	require.NoError(t, err)

	got, err := DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFinalize, got.TaskName)

	var kwargs domain.FinalizeTaskKwargs
	require.NoError(t, json.Unmarshal(got.Kwargs, &kwargs))
	assert.Equal(t, "job-1", kwargs.JobID)
	assert.Equal(t, []string{"a", "b"}, kwargs.Results)
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	require.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"kwargs":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing task_name")
}

func TestEnvelope_WithRetryCount(t *testing.T) {
	env, err := NewEnvelope(domain.TaskDenoise, domain.ConvertTaskKwargs{JobID: "job-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, env.RetryCount())

	bumped := env.WithRetryCount(2)
	assert.Equal(t, 2, bumped.RetryCount())
	// Original is untouched.
	assert.Equal(t, 0, env.RetryCount())
	// Other headers survive the copy.
	assert.Equal(t, env.Headers[domain.HeaderEnqueuedAt], bumped.Headers[domain.HeaderEnqueuedAt])
}

func TestEnvelope_RetryCount_Malformed(t *testing.T) {
	env := &Envelope{TaskName: "x", Headers: map[string]string{domain.HeaderRetryCount: "banana"}}
	assert.Equal(t, 0, env.RetryCount())
}

func TestEnvelope_EnqueuedAt_Missing(t *testing.T) {
	env := &Envelope{TaskName: "x", Headers: map[string]string{}}
	assert.True(t, env.EnqueuedAt().IsZero())
}
