package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/pixtools/internal/domain"
	"github.com/fairyhunter13/pixtools/internal/imageproc"
	obsctx "github.com/fairyhunter13/pixtools/internal/observability"
)

// HandleOperation runs one codec or denoise task: download the original,
// transform, upload the output, and report to the barrier. The arrival that
// completes the group dispatches the finalizer with the ordered key list.
func (h *Handlers) HandleOperation(ctx context.Context, env *rabbitmq.Envelope) error {
	var kw domain.ConvertTaskKwargs
	if err := json.Unmarshal(env.Kwargs, &kw); err != nil {
		return fmt.Errorf("op=tasks.operation decode kwargs: %w: %w", domain.ErrFatalTask, err)
	}
	lg := obsctx.LoggerFromContext(ctx)

	// First task to start moves the job out of PENDING. Redeliveries and
	// siblings see zero rows matched, which is fine.
	if _, err := h.Jobs.TransitionStatus(ctx, kw.JobID, []domain.JobStatus{domain.JobPending}, domain.JobProcessing, ""); err != nil {
		return fmt.Errorf("op=tasks.operation job_id=%s: %w", kw.JobID, err)
	}

	raw, err := h.Blobs.Download(ctx, kw.RawKey)
	if err != nil {
		return fmt.Errorf("op=tasks.operation job_id=%s key=%s: %w", kw.JobID, kw.RawKey, err)
	}
	img, err := imageproc.Decode(raw)
	if err != nil {
		return err
	}

	var params *domain.ResizeParams
	quality := 0
	if kw.Params != nil {
		params = kw.Params.Resize
		quality = kw.Params.Quality
	}
	img = imageproc.Resize(img, params, h.MaxImageWidth, h.MaxImageHeight)

	var out []byte
	var ext, contentType string
	if kw.Op == domain.OpDenoise {
		if h.Model == nil {
			return fmt.Errorf("op=tasks.operation job_id=%s: denoise model not loaded: %w", kw.JobID, domain.ErrFatalTask)
		}
		// Denoised output stays lossless.
		out, ext, contentType, err = imageproc.Encode(h.Model.Denoise(img), domain.OpPNG, 0)
	} else {
		out, ext, contentType, err = imageproc.Encode(img, kw.Op, quality)
	}
	if err != nil {
		return err
	}

	key := domain.ProcessedKey(kw.JobID, kw.Op, ext)
	if err := h.Blobs.Upload(ctx, key, out, contentType); err != nil {
		return fmt.Errorf("op=tasks.operation job_id=%s key=%s: %w", kw.JobID, key, err)
	}

	fire, results, err := h.Barrier.Arrive(ctx, kw.JobID, kw.Index, key)
	if err != nil {
		return fmt.Errorf("op=tasks.operation job_id=%s barrier: %w", kw.JobID, err)
	}
	if !fire {
		return nil
	}
	lg.Info("barrier complete, dispatching finalizer", slog.Int("results", len(results)))
	finalize := domain.FinalizeTaskKwargs{JobID: kw.JobID, Results: results}
	if err := h.Queue.Publish(ctx, domain.QueueDefault, domain.TaskFinalize, finalize, chainHeaders(env, kw.JobID)); err != nil {
		return fmt.Errorf("op=tasks.operation job_id=%s dispatch finalize: %w", kw.JobID, err)
	}
	return nil
}
