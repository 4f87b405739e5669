package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/pixtools/internal/domain"
)

// JobRepo persists and loads jobs from PostgreSQL using a minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, status, operations, raw_key, original_filename, webhook_url,
	result_keys, result_urls, exif_metadata, COALESCE(error_message,''), retry_count,
	created_at, updated_at`

// Create inserts a new job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "jobs"),
	)
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	ops, err := json.Marshal(j.Operations)
	if err != nil {
		return "", fmt.Errorf("op=job.create_marshal: %w", err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO jobs (id, status, operations, raw_key, original_filename, webhook_url, error_message, retry_count, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,'',0,$7,$8)`
	_, err = r.Pool.Exec(ctx, q, id, j.Status, ops, j.RawKey, j.OriginalFilename, j.WebhookURL, now, now)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// TransitionStatus moves a job from any of the given states to the target
// state. The WHERE clause carries the allowed source states, so a stale
// transition matches zero rows and reports false instead of clobbering a
// terminal status.
func (r *JobRepo) TransitionStatus(ctx domain.Context, id string, from []domain.JobStatus, to domain.JobStatus, errMsg string) (bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.TransitionStatus")
	defer span.End()
	span.SetAttributes(attribute.String("job.status.to", string(to)))
	fromVals := make([]string, 0, len(from))
	for _, s := range from {
		fromVals = append(fromVals, string(s))
	}
	q := `UPDATE jobs SET status=$2, error_message=$3, updated_at=$4 WHERE id=$1 AND status = ANY($5)`
	tag, err := r.Pool.Exec(ctx, q, id, to, errMsg, time.Now().UTC(), fromVals)
	if err != nil {
		return false, fmt.Errorf("op=job.transition_status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteJob commits COMPLETED together with both result maps in one
// compare-and-set write. Returns false when the job already left
// PENDING/PROCESSING.
func (r *JobRepo) CompleteJob(ctx domain.Context, id string, resultURLs, resultKeys map[string]string) (bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CompleteJob")
	defer span.End()
	urls, err := json.Marshal(resultURLs)
	if err != nil {
		return false, fmt.Errorf("op=job.complete_marshal: %w", err)
	}
	keys, err := json.Marshal(resultKeys)
	if err != nil {
		return false, fmt.Errorf("op=job.complete_marshal: %w", err)
	}
	q := `UPDATE jobs SET status=$2, result_urls=$3, result_keys=$4, updated_at=$5
	      WHERE id=$1 AND status IN ($6,$7)`
	tag, err := r.Pool.Exec(ctx, q, id, domain.JobCompleted, urls, keys, time.Now().UTC(),
		domain.JobPending, domain.JobProcessing)
	if err != nil {
		return false, fmt.Errorf("op=job.complete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetExifMetadata stores the normalized EXIF document on the job row.
func (r *JobRepo) SetExifMetadata(ctx domain.Context, id string, metadata map[string]any) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetExifMetadata")
	defer span.End()
	doc, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("op=job.set_exif_marshal: %w", err)
	}
	q := `UPDATE jobs SET exif_metadata=$2, updated_at=$3 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, doc, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=job.set_exif: %w", err)
	}
	return nil
}

// IncrementRetryCount bumps the per-job retry counter.
func (r *JobRepo) IncrementRetryCount(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.IncrementRetryCount")
	defer span.End()
	q := `UPDATE jobs SET retry_count = retry_count + 1, updated_at=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=job.increment_retry: %w", err)
	}
	return nil
}

// PruneOlderThan deletes jobs created before the cutoff and returns how many
// rows were removed.
func (r *JobRepo) PruneOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.PruneOlderThan")
	defer span.End()
	q := `DELETE FROM jobs WHERE created_at < $1`
	tag, err := r.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=job.prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var ops, keys, urls, exif []byte
	if err := row.Scan(&j.ID, &j.Status, &ops, &j.RawKey, &j.OriginalFilename, &j.WebhookURL,
		&keys, &urls, &exif, &j.ErrorMessage, &j.RetryCount, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.Job{}, err
	}
	if len(ops) > 0 {
		if err := json.Unmarshal(ops, &j.Operations); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.scan_operations: %w", err)
		}
	}
	if len(keys) > 0 {
		if err := json.Unmarshal(keys, &j.ResultKeys); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.scan_result_keys: %w", err)
		}
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &j.ResultURLs); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.scan_result_urls: %w", err)
		}
	}
	if len(exif) > 0 {
		if err := json.Unmarshal(exif, &j.ExifMetadata); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.scan_exif: %w", err)
		}
	}
	return j, nil
}
