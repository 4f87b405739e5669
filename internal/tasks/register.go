package tasks

import (
	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/pixtools/internal/domain"
)

// Retry budgets. Image and finalize tasks get three attempts; metadata and
// archive are cheaper to give up on since neither blocks job completion on
// its own.
const (
	opMaxRetries        = 3
	ancillaryMaxRetries = 2
)

// RegisterAll binds every task handler to the consumer. The denoise task
// retries through the ML queue so it never lands on a worker without the
// model loaded.
func RegisterAll(c *rabbitmq.Consumer, h *Handlers) {
	convertTasks := map[string]string{
		domain.TaskConvertJPG:  domain.QueueDefault,
		domain.TaskConvertPNG:  domain.QueueDefault,
		domain.TaskConvertWebP: domain.QueueDefault,
		domain.TaskConvertAVIF: domain.QueueDefault,
		domain.TaskDenoise:     domain.QueueMLInference,
	}
	for name, queue := range convertTasks {
		c.Register(name, rabbitmq.Registration{
			Queue:       queue,
			MaxRetries:  opMaxRetries,
			Handler:     h.HandleOperation,
			OnExhausted: h.FailJob,
			OnRetry:     h.NoteRetry,
		})
	}
	c.Register(domain.TaskMetadata, rabbitmq.Registration{
		Queue:       domain.QueueDefault,
		MaxRetries:  ancillaryMaxRetries,
		Handler:     h.HandleMetadata,
		OnExhausted: h.FailJob,
		OnRetry:     h.NoteRetry,
	})
	c.Register(domain.TaskFinalize, rabbitmq.Registration{
		Queue:       domain.QueueDefault,
		MaxRetries:  opMaxRetries,
		Handler:     h.HandleFinalize,
		OnExhausted: h.FailJob,
		OnRetry:     h.NoteRetry,
	})
	// No exhaustion hook: the job is already COMPLETED when archiving runs,
	// and the failure CAS would match zero rows anyway.
	c.Register(domain.TaskArchive, rabbitmq.Registration{
		Queue:      domain.QueueDefault,
		MaxRetries: ancillaryMaxRetries,
		Handler:    h.HandleArchive,
		OnRetry:    h.NoteRetry,
	})
}
