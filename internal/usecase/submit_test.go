package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pixtools/internal/domain"
	"github.com/fairyhunter13/pixtools/internal/domain/mocks"
)

func validInput() SubmitInput {
	return SubmitInput{
		Filename:    "photo.png",
		ContentType: "image/png",
		Data:        []byte("png-bytes"),
		Operations:  []string{domain.OpJPG, domain.OpWebP},
	}
}

func newSubmit(t *testing.T) (*SubmitService, *mocks.MockJobRepository, *mocks.MockIdempotencyCache, *mocks.MockBlobStore, *mocks.MockTaskQueue, *mocks.MockBarrier) {
	jobs := mocks.NewMockJobRepository(t)
	idem := mocks.NewMockIdempotencyCache(t)
	blobs := mocks.NewMockBlobStore(t)
	queue := mocks.NewMockTaskQueue(t)
	barrier := mocks.NewMockBarrier(t)
	return NewSubmitService(jobs, idem, blobs, queue, barrier), jobs, idem, blobs, queue, barrier
}

func TestSubmit_FansOutOperationTasks(t *testing.T) {
	svc, jobs, _, blobs, queue, barrier := newSubmit(t)
	ctx := context.Background()

	blobs.On("Upload", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "raw/") && strings.HasSuffix(key, ".png")
	}), []byte("png-bytes"), "image/png").Return(nil)
	jobs.On("Create", mock.Anything, mock.MatchedBy(func(j domain.Job) bool {
		return j.Status == domain.JobPending && len(j.Operations) == 2 && j.OriginalFilename == "photo.png"
	})).Return("", nil)
	barrier.On("Init", mock.Anything, mock.AnythingOfType("string"), 2).Return(nil)
	queue.On("Publish", mock.Anything, domain.QueueDefault, domain.TaskConvertJPG,
		mock.MatchedBy(func(kw domain.ConvertTaskKwargs) bool { return kw.Op == domain.OpJPG && kw.Index == 0 }),
		mock.Anything).Return(nil)
	queue.On("Publish", mock.Anything, domain.QueueDefault, domain.TaskConvertWebP,
		mock.MatchedBy(func(kw domain.ConvertTaskKwargs) bool { return kw.Op == domain.OpWebP && kw.Index == 1 }),
		mock.Anything).Return(nil)

	res, err := svc.Submit(ctx, validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, domain.JobPending, res.Status)
	assert.False(t, res.Replayed)
}

func TestSubmit_DenoiseRoutesToMLQueue(t *testing.T) {
	svc, jobs, _, blobs, queue, barrier := newSubmit(t)
	ctx := context.Background()

	blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	jobs.On("Create", mock.Anything, mock.Anything).Return("", nil)
	barrier.On("Init", mock.Anything, mock.Anything, 1).Return(nil)
	queue.On("Publish", mock.Anything, domain.QueueMLInference, domain.TaskDenoise,
		mock.Anything, mock.Anything).Return(nil)

	in := validInput()
	in.Operations = []string{domain.OpDenoise}
	_, err := svc.Submit(ctx, in)
	require.NoError(t, err)
}

func TestSubmit_MetadataOnlyMarksCompletion(t *testing.T) {
	svc, jobs, _, blobs, queue, barrier := newSubmit(t)
	ctx := context.Background()

	blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	jobs.On("Create", mock.Anything, mock.Anything).Return("", nil)
	queue.On("Publish", mock.Anything, domain.QueueDefault, domain.TaskMetadata,
		mock.MatchedBy(func(kw domain.MetadataTaskKwargs) bool { return kw.MarkCompleted }),
		mock.Anything).Return(nil)

	in := validInput()
	in.Operations = []string{domain.OpMetadata}
	_, err := svc.Submit(ctx, in)
	require.NoError(t, err)
	barrier.AssertNotCalled(t, "Init", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_MetadataAlongsidePipelineDoesNotMarkCompletion(t *testing.T) {
	svc, jobs, _, blobs, queue, barrier := newSubmit(t)
	ctx := context.Background()

	blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	jobs.On("Create", mock.Anything, mock.Anything).Return("", nil)
	barrier.On("Init", mock.Anything, mock.Anything, 1).Return(nil)
	queue.On("Publish", mock.Anything, domain.QueueDefault, domain.TaskConvertJPG,
		mock.Anything, mock.Anything).Return(nil)
	queue.On("Publish", mock.Anything, domain.QueueDefault, domain.TaskMetadata,
		mock.MatchedBy(func(kw domain.MetadataTaskKwargs) bool { return !kw.MarkCompleted }),
		mock.Anything).Return(nil)

	in := validInput()
	in.Operations = []string{domain.OpJPG, domain.OpMetadata}
	_, err := svc.Submit(ctx, in)
	require.NoError(t, err)
}

func TestSubmit_IdempotentReplayReturnsCanonicalJob(t *testing.T) {
	svc, _, idem, blobs, queue, _ := newSubmit(t)
	ctx := context.Background()

	idem.On("Get", mock.Anything, "client-key-1").Return("job-original", nil)

	in := validInput()
	in.IdempotencyKey = "client-key-1"
	res, err := svc.Submit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "job-original", res.JobID)
	assert.True(t, res.Replayed)
	blobs.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	queue.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_IdempotencyMissCreatesAndRecords(t *testing.T) {
	svc, jobs, idem, blobs, queue, barrier := newSubmit(t)
	ctx := context.Background()

	idem.On("Get", mock.Anything, "client-key-2").Return("", domain.ErrNotFound)
	blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	jobs.On("Create", mock.Anything, mock.Anything).Return("", nil)
	idem.On("Set", mock.Anything, "client-key-2", mock.AnythingOfType("string")).Return(nil)
	barrier.On("Init", mock.Anything, mock.Anything, 2).Return(nil)
	queue.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	in := validInput()
	in.IdempotencyKey = "client-key-2"
	res, err := svc.Submit(ctx, in)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestSubmit_DispatchFailureFailsJob(t *testing.T) {
	svc, jobs, _, blobs, queue, barrier := newSubmit(t)
	ctx := context.Background()

	blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	jobs.On("Create", mock.Anything, mock.Anything).Return("", nil)
	barrier.On("Init", mock.Anything, mock.Anything, 2).Return(nil)
	queue.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker gone"))
	jobs.On("TransitionStatus", mock.Anything, mock.AnythingOfType("string"),
		[]domain.JobStatus{domain.JobPending}, domain.JobFailed, "task dispatch failed").Return(true, nil)

	_, err := svc.Submit(ctx, validInput())
	require.Error(t, err)
}

func TestSubmit_ValidationFailures(t *testing.T) {
	svc, _, _, _, _, _ := newSubmit(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*SubmitInput)
	}{
		{"no operations", func(in *SubmitInput) { in.Operations = nil }},
		{"unknown operation", func(in *SubmitInput) { in.Operations = []string{"tiff"} }},
		{"duplicate operation", func(in *SubmitInput) { in.Operations = []string{domain.OpJPG, domain.OpJPG} }},
		{"same format as source", func(in *SubmitInput) {
			in.Filename = "photo.jpeg"
			in.Operations = []string{domain.OpJPG}
		}},
		{"bad webhook scheme", func(in *SubmitInput) { in.WebhookURL = "ftp://host/hook" }},
		{"relative webhook", func(in *SubmitInput) { in.WebhookURL = "/hook" }},
		{"quality out of range", func(in *SubmitInput) {
			in.Params = map[string]domain.OperationParams{domain.OpJPG: {Quality: 101}}
		}},
		{"quality for lossless op", func(in *SubmitInput) {
			in.Filename = "photo.jpeg"
			in.Operations = []string{domain.OpPNG}
			in.Params = map[string]domain.OperationParams{domain.OpPNG: {Quality: 80}}
		}},
		{"params for unrequested op", func(in *SubmitInput) {
			in.Params = map[string]domain.OperationParams{domain.OpAVIF: {Quality: 50}}
		}},
		{"negative resize", func(in *SubmitInput) {
			in.Params = map[string]domain.OperationParams{domain.OpJPG: {Resize: &domain.ResizeParams{Width: -1}}}
		}},
		{"empty resize", func(in *SubmitInput) {
			in.Params = map[string]domain.OperationParams{domain.OpJPG: {Resize: &domain.ResizeParams{}}}
		}},
		{"resize for metadata", func(in *SubmitInput) {
			in.Operations = []string{domain.OpMetadata}
			in.Params = map[string]domain.OperationParams{domain.OpMetadata: {Resize: &domain.ResizeParams{Width: 100}}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Submit(ctx, in)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}
