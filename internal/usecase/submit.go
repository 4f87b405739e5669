// Package usecase holds the application services behind the HTTP layer:
// job submission with idempotent replay, and job reads with fresh URLs.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/fairyhunter13/pixtools/internal/domain"
	obsctx "github.com/fairyhunter13/pixtools/internal/observability"
)

// SubmitInput is one validated-at-the-edge submission. Data is the full
// upload body; the HTTP layer has already enforced the size cap and sniffed
// the content type.
type SubmitInput struct {
	Filename       string
	ContentType    string
	Data           []byte
	Operations     []string
	Params         map[string]domain.OperationParams
	WebhookURL     string
	IdempotencyKey string
}

// SubmitResult reports the accepted job. Replayed is true when an
// idempotency key matched an earlier submission and no new job was created.
type SubmitResult struct {
	JobID    string
	Status   domain.JobStatus
	Replayed bool
}

// SubmitService validates a submission, stores the original, creates the job
// row and fans the operation tasks out.
type SubmitService struct {
	jobs    domain.JobRepository
	idem    domain.IdempotencyCache
	blobs   domain.BlobStore
	queue   domain.TaskQueue
	barrier domain.Barrier
}

// NewSubmitService wires the submission pipeline.
func NewSubmitService(jobs domain.JobRepository, idem domain.IdempotencyCache, blobs domain.BlobStore, queue domain.TaskQueue, barrier domain.Barrier) *SubmitService {
	return &SubmitService{jobs: jobs, idem: idem, blobs: blobs, queue: queue, barrier: barrier}
}

// Submit runs the full submission flow. Replay via idempotency key returns
// the canonical job without touching storage or the queue.
func (s *SubmitService) Submit(ctx domain.Context, in SubmitInput) (SubmitResult, error) {
	if err := validateSubmission(in); err != nil {
		return SubmitResult{}, err
	}

	if in.IdempotencyKey != "" {
		jobID, err := s.idem.Get(ctx, in.IdempotencyKey)
		switch {
		case err == nil:
			obsctx.LoggerFromContext(ctx).Info("idempotent replay",
				slog.String("job_id", jobID), slog.String("idempotency_key", in.IdempotencyKey))
			return SubmitResult{JobID: jobID, Status: domain.JobPending, Replayed: true}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return SubmitResult{}, fmt.Errorf("op=usecase.submit idempotency: %w", err)
		}
	}

	jobID := uuid.NewString()
	ctx = obsctx.ContextWithJobID(ctx, jobID)
	rawKey := domain.RawKey(jobID, in.Filename)

	if err := s.blobs.Upload(ctx, rawKey, in.Data, in.ContentType); err != nil {
		return SubmitResult{}, fmt.Errorf("op=usecase.submit upload job_id=%s: %w", jobID, err)
	}

	job := domain.Job{
		ID:               jobID,
		Status:           domain.JobPending,
		Operations:       in.Operations,
		RawKey:           rawKey,
		OriginalFilename: in.Filename,
		WebhookURL:       in.WebhookURL,
	}
	if _, err := s.jobs.Create(ctx, job); err != nil {
		return SubmitResult{}, fmt.Errorf("op=usecase.submit create job_id=%s: %w", jobID, err)
	}

	if in.IdempotencyKey != "" {
		// SetNX keeps the first writer canonical. A lost race only means the
		// competing submission's job id stays mapped; this job still runs.
		if err := s.idem.Set(ctx, in.IdempotencyKey, jobID); err != nil {
			obsctx.LoggerFromContext(ctx).Warn("idempotency record failed", slog.Any("error", err))
		}
	}

	if err := s.dispatch(ctx, job, in.Params); err != nil {
		if _, terr := s.jobs.TransitionStatus(ctx, jobID,
			[]domain.JobStatus{domain.JobPending}, domain.JobFailed, "task dispatch failed"); terr != nil {
			obsctx.LoggerFromContext(ctx).Error("failure transition errored", slog.Any("error", terr))
		}
		return SubmitResult{}, fmt.Errorf("op=usecase.submit dispatch job_id=%s: %w", jobID, err)
	}

	return SubmitResult{JobID: jobID, Status: domain.JobPending}, nil
}

func validateSubmission(in SubmitInput) error {
	if len(in.Operations) == 0 {
		return fmt.Errorf("%w: operations must not be empty", domain.ErrValidation)
	}
	seen := map[string]bool{}
	for _, op := range in.Operations {
		if !domain.IsKnownOperation(op) {
			return fmt.Errorf("%w: unknown operation %q", domain.ErrValidation, op)
		}
		if seen[op] {
			return fmt.Errorf("%w: duplicate operation %q", domain.ErrValidation, op)
		}
		seen[op] = true
	}

	// Converting into the source format is a no-op the client almost
	// certainly did not mean.
	srcFormat := normalizeFormat(domain.FileExt(in.Filename))
	for _, op := range in.Operations {
		switch op {
		case domain.OpJPG, domain.OpPNG, domain.OpWebP, domain.OpAVIF:
			if op == srcFormat {
				return fmt.Errorf("%w: source image is already %s", domain.ErrValidation, op)
			}
		}
	}

	for op, p := range in.Params {
		if !seen[op] {
			return fmt.Errorf("%w: params for unrequested operation %q", domain.ErrValidation, op)
		}
		if p.Quality != 0 {
			// Only the lossy encoders honour a quality knob.
			if op != domain.OpJPG && op != domain.OpWebP {
				return fmt.Errorf("%w: quality is only supported for jpg and webp, not %q", domain.ErrValidation, op)
			}
			if p.Quality < 1 || p.Quality > 100 {
				return fmt.Errorf("%w: quality for %q must be within [1,100]", domain.ErrValidation, op)
			}
		}
		if p.Resize != nil {
			if op == domain.OpMetadata {
				return fmt.Errorf("%w: resize is not supported for %q", domain.ErrValidation, op)
			}
			if p.Resize.Width < 0 || p.Resize.Height < 0 {
				return fmt.Errorf("%w: resize dimensions for %q must be positive", domain.ErrValidation, op)
			}
			if p.Resize.Width == 0 && p.Resize.Height == 0 {
				return fmt.Errorf("%w: resize for %q requires width or height", domain.ErrValidation, op)
			}
		}
	}

	if in.WebhookURL != "" {
		u, err := url.Parse(in.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: webhook_url must be an absolute http(s) URL", domain.ErrValidation)
		}
	}
	return nil
}

func normalizeFormat(ext string) string {
	if strings.EqualFold(ext, "jpeg") {
		return domain.OpJPG
	}
	return strings.ToLower(ext)
}
