package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pixtools/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/pixtools/internal/domain"
)

type mockPool struct{ mock.Mock }

func (m *mockPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	callArgs := m.Called(ctx, sql, args)
	return callArgs.Get(0).(pgconn.CommandTag), callArgs.Error(1)
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	callArgs := m.Called(ctx, sql, args)
	return callArgs.Get(0).(pgx.Row)
}

func (m *mockPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	callArgs := m.Called(ctx, sql, args)
	rows, _ := callArgs.Get(0).(pgx.Rows)
	return rows, callArgs.Error(1)
}

type scanFuncRow func(dest ...any) error

func (f scanFuncRow) Scan(dest ...any) error { return f(dest...) }

func TestJobRepo_Create(t *testing.T) {
	pool := &mockPool{}
	repo := postgres.NewJobRepo(pool)
	ctx := context.Background()

	job := domain.Job{
		ID:         "job-1",
		Status:     domain.JobPending,
		Operations: []string{"jpg", "webp"},
		RawKey:     "raw/job-1/abc.png",
	}

	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	id, err := repo.Create(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, assert.AnError).Once()
	_, err = repo.Create(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=job.create")
	pool.AssertExpectations(t)
}

func TestJobRepo_Create_GeneratesID(t *testing.T) {
	pool := &mockPool{}
	repo := postgres.NewJobRepo(pool)

	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	id, err := repo.Create(context.Background(), domain.Job{Status: domain.JobPending})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestJobRepo_TransitionStatus(t *testing.T) {
	pool := &mockPool{}
	repo := postgres.NewJobRepo(pool)
	ctx := context.Background()

	// Matching row: transition applied.
	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	ok, err := repo.TransitionStatus(ctx, "job-1", []domain.JobStatus{domain.JobPending}, domain.JobProcessing, "")
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale transition: source state no longer current, zero rows matched.
	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()
	ok, err = repo.TransitionStatus(ctx, "job-1", []domain.JobStatus{domain.JobPending}, domain.JobFailed, "boom")
	require.NoError(t, err)
	assert.False(t, ok)

	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, assert.AnError).Once()
	_, err = repo.TransitionStatus(ctx, "job-1", []domain.JobStatus{domain.JobPending}, domain.JobFailed, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=job.transition_status")
	pool.AssertExpectations(t)
}

func TestJobRepo_CompleteJob(t *testing.T) {
	pool := &mockPool{}
	repo := postgres.NewJobRepo(pool)
	ctx := context.Background()

	urls := map[string]string{"jpg": "https://example/presigned"}
	keys := map[string]string{"jpg": "processed/job-1/jpg_abcd1234.jpg"}

	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	ok, err := repo.CompleteJob(ctx, "job-1", urls, keys)
	require.NoError(t, err)
	assert.True(t, ok)

	// Job already FAILED: completion must not overwrite it.
	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()
	ok, err = repo.CompleteJob(ctx, "job-1", urls, keys)
	require.NoError(t, err)
	assert.False(t, ok)
	pool.AssertExpectations(t)
}

func TestJobRepo_Get(t *testing.T) {
	pool := &mockPool{}
	repo := postgres.NewJobRepo(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	row := scanFuncRow(func(dest ...any) error {
		*(dest[0].(*string)) = "job-1"
		*(dest[1].(*domain.JobStatus)) = domain.JobCompleted
		*(dest[2].(*[]byte)) = []byte(`["jpg","metadata"]`)
		*(dest[3].(*string)) = "raw/job-1/abc.png"
		*(dest[4].(*string)) = "cat.png"
		*(dest[5].(*string)) = ""
		*(dest[6].(*[]byte)) = []byte(`{"jpg":"processed/job-1/jpg_abcd1234.jpg"}`)
		*(dest[7].(*[]byte)) = []byte(`{"jpg":"https://example/presigned"}`)
		*(dest[8].(*[]byte)) = []byte(`{"iso":200}`)
		*(dest[9].(*string)) = ""
		*(dest[10].(*int)) = 1
		*(dest[11].(*time.Time)) = now
		*(dest[12].(*time.Time)) = now
		return nil
	})
	pool.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(row).Once()

	job, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, []string{"jpg", "metadata"}, job.Operations)
	assert.Equal(t, "https://example/presigned", job.ResultURLs["jpg"])
	assert.EqualValues(t, 200, job.ExifMetadata["iso"])

	notFound := scanFuncRow(func(dest ...any) error { return pgx.ErrNoRows })
	pool.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(notFound).Once()
	_, err = repo.Get(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	pool.AssertExpectations(t)
}

func TestJobRepo_PruneOlderThan(t *testing.T) {
	pool := &mockPool{}
	repo := postgres.NewJobRepo(pool)

	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("DELETE 7"), nil).Once()
	n, err := repo.PruneOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	pool.AssertExpectations(t)
}

func TestJobRepo_IncrementRetryCount(t *testing.T) {
	pool := &mockPool{}
	repo := postgres.NewJobRepo(pool)

	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	require.NoError(t, repo.IncrementRetryCount(context.Background(), "job-1"))

	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, assert.AnError).Once()
	err := repo.IncrementRetryCount(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=job.increment_retry")
	pool.AssertExpectations(t)
}
