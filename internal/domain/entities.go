package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrValidation       = errors.New("validation error")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrTooLarge         = errors.New("payload too large")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrCircuitOpen      = errors.New("circuit open")
	ErrInternal         = errors.New("internal error")

	// ErrFatalTask marks a task failure no retry can fix, such as an
	// undecodable image. The consumer dead-letters these immediately.
	ErrFatalTask = errors.New("fatal task error")
)

// Operation enumerates the operations a client may request.
const (
	OpJPG      = "jpg"
	OpPNG      = "png"
	OpWebP     = "webp"
	OpAVIF     = "avif"
	OpDenoise  = "denoise"
	OpMetadata = "metadata"
)

// KnownOperations is the accepted operations enum in canonical order.
var KnownOperations = []string{OpJPG, OpPNG, OpWebP, OpAVIF, OpDenoise, OpMetadata}

// IsKnownOperation reports whether op is a member of the operations enum.
func IsKnownOperation(op string) bool {
	for _, k := range KnownOperations {
		if op == k {
			return true
		}
	}
	return false
}

type JobStatus string

const (
	JobPending                JobStatus = "PENDING"
	JobProcessing             JobStatus = "PROCESSING"
	JobCompleted              JobStatus = "COMPLETED"
	JobFailed                 JobStatus = "FAILED"
	JobCompletedWebhookFailed JobStatus = "COMPLETED_WEBHOOK_FAILED"
)

// Terminal reports whether the status admits no further transitions
// (COMPLETED still admits the webhook-failed edge set by the finalizer).
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCompletedWebhookFailed
}

// Job is the single mutable aggregate of the pipeline.
// Invariants: RawKey immutable after creation; ResultKeys written exactly
// once by the finalizer; status advances only along legal edges.
type Job struct {
	ID               string
	Status           JobStatus
	Operations       []string
	RawKey           string
	OriginalFilename string
	WebhookURL       string
	ResultKeys       map[string]string
	ResultURLs       map[string]string
	ExifMetadata     map[string]any
	ErrorMessage     string
	RetryCount       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ResizeParams bound an optional aspect-preserving resize.
type ResizeParams struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// OperationParams carries the per-operation knobs accepted at submission.
type OperationParams struct {
	Quality int           `json:"quality,omitempty"`
	Resize  *ResizeParams `json:"resize,omitempty"`
}

// Correlation header keys carried on every task envelope. Headers propagate
// through chained tasks so worker logs line up with the originating request.
const (
	HeaderRequestID  = "X-Request-ID"
	HeaderJobID      = "X-Job-ID"
	HeaderEnqueuedAt = "X-Job-Enqueued-At"
	HeaderRetryCount = "X-Retry-Count"
)

// Task names. Stable identifiers, also used as metric labels.
const (
	TaskConvertJPG  = "convert_jpg"
	TaskConvertPNG  = "convert_png"
	TaskConvertWebP = "convert_webp"
	TaskConvertAVIF = "convert_avif"
	TaskDenoise     = "denoise"
	TaskMetadata    = "extract_metadata"
	TaskFinalize    = "finalize_job"
	TaskArchive     = "bundle_results"
)

// Queue names. denoise is long-tailed ML inference and gets its own queue so
// it cannot head-of-line-block the fast codec tasks.
const (
	QueueDefault     = "default_queue"
	QueueMLInference = "ml_inference_queue"
	QueueDeadLetter  = "dead_letter"
)

// TaskForOperation maps a requested operation to its task name.
func TaskForOperation(op string) string {
	switch op {
	case OpJPG:
		return TaskConvertJPG
	case OpPNG:
		return TaskConvertPNG
	case OpWebP:
		return TaskConvertWebP
	case OpAVIF:
		return TaskConvertAVIF
	case OpDenoise:
		return TaskDenoise
	case OpMetadata:
		return TaskMetadata
	}
	return ""
}

// QueueForOperation routes denoise to the ML inference queue and everything
// else to the default queue.
func QueueForOperation(op string) string {
	if op == OpDenoise {
		return QueueMLInference
	}
	return QueueDefault
}

// ConvertTaskKwargs is the payload for codec and denoise tasks.
type ConvertTaskKwargs struct {
	JobID  string           `json:"job_id"`
	RawKey string           `json:"raw_key"`
	Op     string           `json:"op"`
	Index  int              `json:"index"`
	Params *OperationParams `json:"params,omitempty"`
}

// MetadataTaskKwargs is the payload for the EXIF extraction task.
type MetadataTaskKwargs struct {
	JobID         string `json:"job_id"`
	RawKey        string `json:"raw_key"`
	MarkCompleted bool   `json:"mark_completed"`
}

// FinalizeTaskKwargs carries the barrier output: one blob key per group
// member, ordered by index in the original operations list.
type FinalizeTaskKwargs struct {
	JobID   string   `json:"job_id"`
	Results []string `json:"results"`
}

// ArchiveTaskKwargs is the payload for the ZIP bundling task.
type ArchiveTaskKwargs struct {
	JobID            string            `json:"job_id"`
	ResultKeys       map[string]string `json:"result_keys"`
	OriginalFilename string            `json:"original_filename"`
}

// Repositories and services (ports)

// JobRepository persists job rows. All status writes are compare-then-set:
// a transition from a state no longer current affects zero rows.
type JobRepository interface {
	Create(ctx Context, j Job) (string, error)
	Get(ctx Context, id string) (Job, error)
	// TransitionStatus moves id from any of `from` to `to`, optionally
	// recording an error message. Returns false when no row matched.
	TransitionStatus(ctx Context, id string, from []JobStatus, to JobStatus, errMsg string) (bool, error)
	// CompleteJob sets COMPLETED together with both result maps in one
	// compare-and-commit. Returns false when the job already left
	// PENDING/PROCESSING.
	CompleteJob(ctx Context, id string, resultURLs, resultKeys map[string]string) (bool, error)
	SetExifMetadata(ctx Context, id string, metadata map[string]any) error
	IncrementRetryCount(ctx Context, id string) error
	PruneOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

// IdempotencyCache maps a client idempotency key to a canonical job id for a
// bounded TTL.
type IdempotencyCache interface {
	Get(ctx Context, key string) (string, error)
	Set(ctx Context, key, jobID string) error
}

// BlobStore is the object-storage port. Keys follow the layout
// raw/{job}/{hex}.{ext} | processed/{job}/{op}_{hex8}.{ext} |
// archives/{job}/bundle.zip.
type BlobStore interface {
	Upload(ctx Context, key string, body []byte, contentType string) error
	Download(ctx Context, key string) ([]byte, error)
	Exists(ctx Context, key string) (bool, error)
	PresignGet(ctx Context, key, downloadFilename string) (string, error)
}

// TaskQueue publishes task envelopes onto named queues.
type TaskQueue interface {
	Publish(ctx Context, queue, taskName string, kwargs any, headers map[string]string) error
}

// Barrier synthesizes the fan-in join: every operation task reports its
// output under its index; any arrival observing the completed group receives
// the full ordered output list. A failed group never fires. Redelivered
// arrivals after completion fire again, so whatever fire triggers must be
// idempotent.
type Barrier interface {
	Init(ctx Context, jobID string, total int) error
	// Arrive records output for index. fire is true once the group is
	// complete and not failed, and results is then ordered by index.
	Arrive(ctx Context, jobID string, index int, output string) (fire bool, results []string, err error)
	Fail(ctx Context, jobID string) error
}

// WebhookNotifier delivers the job-completion callback.
// Deliver returns ErrCircuitOpen without any HTTP call while the breaker is
// open; any other non-nil error is a terminal delivery failure.
type WebhookNotifier interface {
	Deliver(ctx Context, url, jobID string, status JobStatus, resultURLs map[string]string) error
}

// Context is aliased so the domain package does not spell out std context
// in every port signature; adapters pass context.Context through.
type Context = context.Context
