package tasks

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/fairyhunter13/pixtools/internal/adapter/observability"
	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/pixtools/internal/domain"
	obsctx "github.com/fairyhunter13/pixtools/internal/observability"
)

// FailJob is the exhaustion callback for the pipeline tasks. It moves a still
// live job to FAILED, poisons the barrier group so it never fires, and sends
// the failure webhook. Jobs already terminal are untouched by the CAS.
func (h *Handlers) FailJob(ctx context.Context, env *rabbitmq.Envelope, cause error) {
	jobID := env.Headers[domain.HeaderJobID]
	if jobID == "" {
		jobID = jobIDFromKwargs(env.Kwargs)
	}
	if jobID == "" {
		return
	}
	lg := obsctx.LoggerFromContext(ctx)

	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	applied, err := h.Jobs.TransitionStatus(ctx, jobID,
		[]domain.JobStatus{domain.JobPending, domain.JobProcessing}, domain.JobFailed, msg)
	if err != nil {
		lg.Error("failure transition errored", slog.Any("error", err))
		return
	}
	if err := h.Barrier.Fail(ctx, jobID); err != nil {
		lg.Error("barrier fail errored", slog.Any("error", err))
	}
	if !applied {
		return
	}
	observability.ObserveJobStatus(string(domain.JobFailed))

	job, err := h.Jobs.Get(ctx, jobID)
	if err != nil {
		lg.Error("job load after failure errored", slog.Any("error", err))
		return
	}
	h.deliverWebhook(ctx, job, nil)
}

// NoteRetry bumps the informational retry counter on the owning job row.
func (h *Handlers) NoteRetry(ctx context.Context, env *rabbitmq.Envelope) {
	jobID := env.Headers[domain.HeaderJobID]
	if jobID == "" {
		jobID = jobIDFromKwargs(env.Kwargs)
	}
	if jobID == "" {
		return
	}
	if err := h.Jobs.IncrementRetryCount(ctx, jobID); err != nil {
		obsctx.LoggerFromContext(ctx).Warn("retry count bump failed", slog.Any("error", err))
	}
}

func jobIDFromKwargs(raw json.RawMessage) string {
	var probe struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.JobID
}
