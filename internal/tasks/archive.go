package tasks

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/pixtools/internal/domain"
	obsctx "github.com/fairyhunter13/pixtools/internal/observability"
)

// HandleArchive bundles every result object into one ZIP under a
// deterministic key, so redelivery overwrites instead of duplicating.
func (h *Handlers) HandleArchive(ctx context.Context, env *rabbitmq.Envelope) error {
	var kw domain.ArchiveTaskKwargs
	if err := json.Unmarshal(env.Kwargs, &kw); err != nil {
		return fmt.Errorf("op=tasks.archive decode kwargs: %w: %w", domain.ErrFatalTask, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for op, key := range kw.ResultKeys {
		body, err := h.Blobs.Download(ctx, key)
		if err != nil {
			return fmt.Errorf("op=tasks.archive job_id=%s key=%s: %w", kw.JobID, key, err)
		}
		_, ext, ok := domain.OpFromKey(key)
		if !ok {
			ext = domain.FileExt(key)
		}
		w, err := zw.Create(domain.DownloadFilename(op, kw.OriginalFilename, ext))
		if err != nil {
			return fmt.Errorf("op=tasks.archive job_id=%s: %w", kw.JobID, err)
		}
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("op=tasks.archive job_id=%s: %w", kw.JobID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("op=tasks.archive job_id=%s: %w", kw.JobID, err)
	}

	key := domain.ArchiveKey(kw.JobID)
	if err := h.Blobs.Upload(ctx, key, buf.Bytes(), "application/zip"); err != nil {
		return fmt.Errorf("op=tasks.archive job_id=%s key=%s: %w", kw.JobID, key, err)
	}
	obsctx.LoggerFromContext(ctx).Info("result bundle uploaded",
		slog.String("key", key), slog.Int("members", len(kw.ResultKeys)))
	return nil
}
