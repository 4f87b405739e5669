// Package tasks implements the worker-side task handlers: the per-operation
// image tasks, EXIF extraction, the finalizer that commits results, and the
// archive bundler.
package tasks

import (
	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/pixtools/internal/domain"
	"github.com/fairyhunter13/pixtools/internal/ml"
)

// Handlers bundles the ports every task handler shares. Model may be nil on
// deployments that do not consume the ML queue.
type Handlers struct {
	Jobs    domain.JobRepository
	Blobs   domain.BlobStore
	Queue   domain.TaskQueue
	Barrier domain.Barrier
	Webhook domain.WebhookNotifier
	Model   *ml.DnCNN

	MaxImageWidth  int
	MaxImageHeight int
}

// chainHeaders carries the correlation headers of the triggering delivery
// into a follow-up task. The origin enqueue timestamp is inherited, so
// end-to-end timing spans the whole chain. The retry counter is dropped; a
// new task starts its own retry budget.
func chainHeaders(env *rabbitmq.Envelope, jobID string) map[string]string {
	h := make(map[string]string, len(env.Headers)+1)
	for k, v := range env.Headers {
		h[k] = v
	}
	delete(h, domain.HeaderRetryCount)
	h[domain.HeaderJobID] = jobID
	return h
}
