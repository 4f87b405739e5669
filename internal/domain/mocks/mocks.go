// Package mocks provides testify mocks for the domain ports.
package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/pixtools/internal/domain"
)

type testingT interface {
	Cleanup(func())
	mock.TestingT
}

// MockJobRepository mocks domain.JobRepository.
type MockJobRepository struct{ mock.Mock }

// NewMockJobRepository returns a mock that asserts its expectations on cleanup.
func NewMockJobRepository(t testingT) *MockJobRepository {
	m := &MockJobRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockJobRepository) Create(ctx domain.Context, j domain.Job) (string, error) {
	args := m.Called(ctx, j)
	return args.String(0), args.Error(1)
}

func (m *MockJobRepository) Get(ctx domain.Context, id string) (domain.Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *MockJobRepository) TransitionStatus(ctx domain.Context, id string, from []domain.JobStatus, to domain.JobStatus, errMsg string) (bool, error) {
	args := m.Called(ctx, id, from, to, errMsg)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) CompleteJob(ctx domain.Context, id string, resultURLs, resultKeys map[string]string) (bool, error) {
	args := m.Called(ctx, id, resultURLs, resultKeys)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) SetExifMetadata(ctx domain.Context, id string, metadata map[string]any) error {
	args := m.Called(ctx, id, metadata)
	return args.Error(0)
}

func (m *MockJobRepository) IncrementRetryCount(ctx domain.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockJobRepository) PruneOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockIdempotencyCache mocks domain.IdempotencyCache.
type MockIdempotencyCache struct{ mock.Mock }

// NewMockIdempotencyCache returns a mock that asserts its expectations on cleanup.
func NewMockIdempotencyCache(t testingT) *MockIdempotencyCache {
	m := &MockIdempotencyCache{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockIdempotencyCache) Get(ctx domain.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockIdempotencyCache) Set(ctx domain.Context, key, jobID string) error {
	args := m.Called(ctx, key, jobID)
	return args.Error(0)
}

// MockBlobStore mocks domain.BlobStore.
type MockBlobStore struct{ mock.Mock }

// NewMockBlobStore returns a mock that asserts its expectations on cleanup.
func NewMockBlobStore(t testingT) *MockBlobStore {
	m := &MockBlobStore{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockBlobStore) Upload(ctx domain.Context, key string, body []byte, contentType string) error {
	args := m.Called(ctx, key, body, contentType)
	return args.Error(0)
}

func (m *MockBlobStore) Download(ctx domain.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockBlobStore) Exists(ctx domain.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockBlobStore) PresignGet(ctx domain.Context, key, downloadFilename string) (string, error) {
	args := m.Called(ctx, key, downloadFilename)
	return args.String(0), args.Error(1)
}

// MockTaskQueue mocks domain.TaskQueue.
type MockTaskQueue struct{ mock.Mock }

// NewMockTaskQueue returns a mock that asserts its expectations on cleanup.
func NewMockTaskQueue(t testingT) *MockTaskQueue {
	m := &MockTaskQueue{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockTaskQueue) Publish(ctx domain.Context, queue, taskName string, kwargs any, headers map[string]string) error {
	args := m.Called(ctx, queue, taskName, kwargs, headers)
	return args.Error(0)
}

// MockBarrier mocks domain.Barrier.
type MockBarrier struct{ mock.Mock }

// NewMockBarrier returns a mock that asserts its expectations on cleanup.
func NewMockBarrier(t testingT) *MockBarrier {
	m := &MockBarrier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockBarrier) Init(ctx domain.Context, jobID string, total int) error {
	args := m.Called(ctx, jobID, total)
	return args.Error(0)
}

func (m *MockBarrier) Arrive(ctx domain.Context, jobID string, index int, output string) (bool, []string, error) {
	args := m.Called(ctx, jobID, index, output)
	results, _ := args.Get(1).([]string)
	return args.Bool(0), results, args.Error(2)
}

func (m *MockBarrier) Fail(ctx domain.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// MockWebhookNotifier mocks domain.WebhookNotifier.
type MockWebhookNotifier struct{ mock.Mock }

// NewMockWebhookNotifier returns a mock that asserts its expectations on cleanup.
func NewMockWebhookNotifier(t testingT) *MockWebhookNotifier {
	m := &MockWebhookNotifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockWebhookNotifier) Deliver(ctx domain.Context, url, jobID string, status domain.JobStatus, resultURLs map[string]string) error {
	args := m.Called(ctx, url, jobID, status, resultURLs)
	return args.Error(0)
}
