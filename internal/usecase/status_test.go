package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pixtools/internal/domain"
	"github.com/fairyhunter13/pixtools/internal/domain/mocks"
)

func TestStatus_RegeneratesURLsPerRead(t *testing.T) {
	jobs := mocks.NewMockJobRepository(t)
	blobs := mocks.NewMockBlobStore(t)
	svc := NewStatusService(jobs, blobs)
	ctx := context.Background()

	job := domain.Job{
		ID:               "job-1",
		Status:           domain.JobCompleted,
		OriginalFilename: "photo.png",
		ResultKeys: map[string]string{
			"jpg": "processed/job-1/jpg_11111111.jpg",
		},
		// Stale persisted URL must not leak into the view.
		ResultURLs: map[string]string{"jpg": "https://s3/expired"},
	}
	jobs.On("Get", ctx, "job-1").Return(job, nil)
	blobs.On("PresignGet", mock.Anything, "processed/job-1/jpg_11111111.jpg", "pixtools_jpg_photo.jpg").
		Return("https://s3/fresh", nil)
	blobs.On("Exists", mock.Anything, "archives/job-1/bundle.zip").Return(true, nil)
	blobs.On("PresignGet", mock.Anything, "archives/job-1/bundle.zip", "pixtools_bundle_photo.zip").
		Return("https://s3/bundle", nil)

	view, err := svc.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "https://s3/fresh", view.ResultURLs["jpg"])
	assert.Equal(t, "https://s3/bundle", view.ArchiveURL)
}

func TestStatus_PendingJobHasNoURLs(t *testing.T) {
	jobs := mocks.NewMockJobRepository(t)
	blobs := mocks.NewMockBlobStore(t)
	svc := NewStatusService(jobs, blobs)
	ctx := context.Background()

	jobs.On("Get", ctx, "job-2").Return(domain.Job{ID: "job-2", Status: domain.JobPending}, nil)

	view, err := svc.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Empty(t, view.ResultURLs)
	assert.Empty(t, view.ArchiveURL)
}

func TestStatus_MissingBundleLeavesArchiveEmpty(t *testing.T) {
	jobs := mocks.NewMockJobRepository(t)
	blobs := mocks.NewMockBlobStore(t)
	svc := NewStatusService(jobs, blobs)
	ctx := context.Background()

	job := domain.Job{
		ID:               "job-3",
		Status:           domain.JobCompleted,
		OriginalFilename: "photo.png",
		ResultKeys:       map[string]string{"png": "processed/job-3/png_22222222.png"},
	}
	jobs.On("Get", ctx, "job-3").Return(job, nil)
	blobs.On("PresignGet", mock.Anything, "processed/job-3/png_22222222.png", "pixtools_png_photo.png").
		Return("https://s3/png", nil)
	blobs.On("Exists", mock.Anything, "archives/job-3/bundle.zip").Return(false, nil)

	view, err := svc.Get(ctx, "job-3")
	require.NoError(t, err)
	assert.Empty(t, view.ArchiveURL)
}

func TestStatus_NotFoundPropagates(t *testing.T) {
	jobs := mocks.NewMockJobRepository(t)
	blobs := mocks.NewMockBlobStore(t)
	svc := NewStatusService(jobs, blobs)
	ctx := context.Background()

	jobs.On("Get", ctx, "nope").Return(domain.Job{}, domain.ErrNotFound)

	_, err := svc.Get(ctx, "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
