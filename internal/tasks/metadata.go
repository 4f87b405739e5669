package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/pixtools/internal/adapter/observability"
	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/pixtools/internal/domain"
	"github.com/fairyhunter13/pixtools/internal/imageproc"
	obsctx "github.com/fairyhunter13/pixtools/internal/observability"
)

// HandleMetadata extracts EXIF from the original and persists it. For
// metadata-only jobs it also completes the job and fires the webhook, since
// no finalizer runs.
func (h *Handlers) HandleMetadata(ctx context.Context, env *rabbitmq.Envelope) error {
	var kw domain.MetadataTaskKwargs
	if err := json.Unmarshal(env.Kwargs, &kw); err != nil {
		return fmt.Errorf("op=tasks.metadata decode kwargs: %w: %w", domain.ErrFatalTask, err)
	}
	lg := obsctx.LoggerFromContext(ctx)

	if _, err := h.Jobs.TransitionStatus(ctx, kw.JobID, []domain.JobStatus{domain.JobPending}, domain.JobProcessing, ""); err != nil {
		return fmt.Errorf("op=tasks.metadata job_id=%s: %w", kw.JobID, err)
	}

	raw, err := h.Blobs.Download(ctx, kw.RawKey)
	if err != nil {
		return fmt.Errorf("op=tasks.metadata job_id=%s key=%s: %w", kw.JobID, kw.RawKey, err)
	}
	md := imageproc.ExtractEXIF(raw)
	if err := h.Jobs.SetExifMetadata(ctx, kw.JobID, md); err != nil {
		return fmt.Errorf("op=tasks.metadata job_id=%s: %w", kw.JobID, err)
	}
	lg.Info("exif metadata stored", slog.Int("fields", len(md)))

	if !kw.MarkCompleted {
		return nil
	}

	applied, err := h.Jobs.CompleteJob(ctx, kw.JobID, map[string]string{}, map[string]string{})
	if err != nil {
		return fmt.Errorf("op=tasks.metadata job_id=%s complete: %w", kw.JobID, err)
	}
	if !applied {
		lg.Warn("job already terminal, skipping completion")
		return nil
	}
	observability.ObserveJobStatus(string(domain.JobCompleted))

	job, err := h.Jobs.Get(ctx, kw.JobID)
	if err != nil {
		lg.Error("job load after completion failed", slog.Any("error", err))
		return nil
	}
	start := env.EnqueuedAt()
	if start.IsZero() {
		start = job.CreatedAt
	}
	observability.ObserveJobEndToEnd(time.Since(start))
	h.deliverWebhook(ctx, job, map[string]string{})
	return nil
}
