package usecase

import (
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/pixtools/internal/domain"
	obsctx "github.com/fairyhunter13/pixtools/internal/observability"
)

// JobView is a job read projection. ResultURLs and ArchiveURL are presigned
// fresh per read, so a view never carries an expired link.
type JobView struct {
	Job        domain.Job
	ResultURLs map[string]string
	ArchiveURL string
}

// StatusService serves job reads.
type StatusService struct {
	jobs  domain.JobRepository
	blobs domain.BlobStore
}

// NewStatusService wires the read side.
func NewStatusService(jobs domain.JobRepository, blobs domain.BlobStore) *StatusService {
	return &StatusService{jobs: jobs, blobs: blobs}
}

// Get loads the job and regenerates every download URL from the stored
// result keys. The persisted result_urls column is ignored on reads; it only
// feeds the webhook payload at completion time.
func (s *StatusService) Get(ctx domain.Context, id string) (JobView, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return JobView{}, fmt.Errorf("op=usecase.status job_id=%s: %w", id, err)
	}
	ctx = obsctx.ContextWithJobID(ctx, job.ID)

	view := JobView{Job: job, ResultURLs: map[string]string{}}
	for op, key := range job.ResultKeys {
		_, ext, ok := domain.OpFromKey(key)
		if !ok {
			ext = domain.FileExt(key)
		}
		url, err := s.blobs.PresignGet(ctx, key, domain.DownloadFilename(op, job.OriginalFilename, ext))
		if err != nil {
			return JobView{}, fmt.Errorf("op=usecase.status job_id=%s key=%s: %w", id, key, err)
		}
		view.ResultURLs[op] = url
	}

	// The bundle is built asynchronously after completion, so probe rather
	// than assume. A missing bundle is not an error, the field stays empty.
	if len(job.ResultKeys) > 0 && (job.Status == domain.JobCompleted || job.Status == domain.JobCompletedWebhookFailed) {
		archiveKey := domain.ArchiveKey(job.ID)
		exists, err := s.blobs.Exists(ctx, archiveKey)
		if err != nil {
			obsctx.LoggerFromContext(ctx).Warn("archive probe failed", slog.Any("error", err))
		} else if exists {
			url, err := s.blobs.PresignGet(ctx, archiveKey, domain.ArchiveDownloadFilename(job.OriginalFilename))
			if err != nil {
				return JobView{}, fmt.Errorf("op=usecase.status job_id=%s archive: %w", id, err)
			}
			view.ArchiveURL = url
		}
	}
	return view, nil
}
