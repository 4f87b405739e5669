package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/pixtools/internal/adapter/observability"
	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/pixtools/internal/domain"
	obsctx "github.com/fairyhunter13/pixtools/internal/observability"
)

// HandleFinalize commits the barrier output: result keys and fresh presigned
// URLs in one compare-and-commit, then the archive dispatch and the webhook.
func (h *Handlers) HandleFinalize(ctx context.Context, env *rabbitmq.Envelope) error {
	var kw domain.FinalizeTaskKwargs
	if err := json.Unmarshal(env.Kwargs, &kw); err != nil {
		return fmt.Errorf("op=tasks.finalize decode kwargs: %w: %w", domain.ErrFatalTask, err)
	}
	lg := obsctx.LoggerFromContext(ctx)

	job, err := h.Jobs.Get(ctx, kw.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Pruned between completion and finalize. Nothing to commit.
			lg.Warn("finalize for missing job, skipping")
			return nil
		}
		return fmt.Errorf("op=tasks.finalize job_id=%s: %w", kw.JobID, err)
	}

	resultKeys := make(map[string]string, len(kw.Results))
	resultURLs := make(map[string]string, len(kw.Results))
	for _, key := range kw.Results {
		op, ext, ok := domain.OpFromKey(key)
		if !ok {
			return fmt.Errorf("op=tasks.finalize job_id=%s: malformed result key %q: %w", kw.JobID, key, domain.ErrFatalTask)
		}
		url, err := h.Blobs.PresignGet(ctx, key, domain.DownloadFilename(op, job.OriginalFilename, ext))
		if err != nil {
			return fmt.Errorf("op=tasks.finalize job_id=%s key=%s: %w", kw.JobID, key, err)
		}
		resultKeys[op] = key
		resultURLs[op] = url
	}

	applied, err := h.Jobs.CompleteJob(ctx, kw.JobID, resultURLs, resultKeys)
	if err != nil {
		return fmt.Errorf("op=tasks.finalize job_id=%s complete: %w", kw.JobID, err)
	}
	if !applied {
		// A concurrent failure or a redelivered finalize already settled the
		// job. Results stay as the first commit wrote them.
		lg.Warn("completion not applied, job already settled")
		return nil
	}
	observability.ObserveJobStatus(string(domain.JobCompleted))
	// The enqueue timestamp is inherited from the operation task, so this is
	// the full submission-to-completion span.
	start := env.EnqueuedAt()
	if start.IsZero() {
		start = job.CreatedAt
	}
	observability.ObserveJobEndToEnd(time.Since(start))
	lg.Info("job completed", slog.Int("results", len(resultKeys)))

	// Archive bundling is best effort. The job is already complete; a lost
	// dispatch only means no bundle download.
	archive := domain.ArchiveTaskKwargs{
		JobID:            kw.JobID,
		ResultKeys:       resultKeys,
		OriginalFilename: job.OriginalFilename,
	}
	if err := h.Queue.Publish(ctx, domain.QueueDefault, domain.TaskArchive, archive, chainHeaders(env, kw.JobID)); err != nil {
		lg.Error("archive dispatch failed", slog.Any("error", err))
	}

	h.deliverWebhook(ctx, job, resultURLs)
	return nil
}

// deliverWebhook sends the terminal-status callback and demotes COMPLETED to
// COMPLETED_WEBHOOK_FAILED when delivery fails.
func (h *Handlers) deliverWebhook(ctx context.Context, job domain.Job, resultURLs map[string]string) {
	if job.WebhookURL == "" {
		return
	}
	lg := obsctx.LoggerFromContext(ctx)

	status := domain.JobCompleted
	if job.Status == domain.JobFailed {
		status = domain.JobFailed
	}
	err := h.Webhook.Deliver(ctx, job.WebhookURL, job.ID, status, resultURLs)
	if err == nil {
		return
	}
	lg.Warn("webhook delivery failed", slog.Any("error", err))
	if status != domain.JobCompleted {
		return
	}
	applied, terr := h.Jobs.TransitionStatus(ctx, job.ID,
		[]domain.JobStatus{domain.JobCompleted}, domain.JobCompletedWebhookFailed, "webhook delivery failed: "+err.Error())
	if terr != nil {
		lg.Error("webhook-failed transition errored", slog.Any("error", terr))
		return
	}
	if applied {
		observability.ObserveJobStatus(string(domain.JobCompletedWebhookFailed))
	}
}
