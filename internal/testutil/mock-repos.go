package testutil

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

// MockModelVersionRepo is a mock of ModelVersionRepository.
type MockModelVersionRepo struct {
	mock.Mock
}

func (m *MockModelVersionRepo) Create(ctx context.Context, version *domain.ModelVersion) error {
	args := m.Called(ctx, version)
	return args.Error(0)
}

func (m *MockModelVersionRepo) GetByID(ctx context.Context, id int64) (*domain.ModelVersion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ModelVersion), args.Error(1)
}

func (m *MockModelVersionRepo) GetByNameVersion(ctx context.Context, name, version string) (*domain.ModelVersion, error) {
	args := m.Called(ctx, name, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ModelVersion), args.Error(1)
}

func (m *MockModelVersionRepo) List(ctx context.Context) ([]*domain.ModelVersion, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ModelVersion), args.Error(1)
}

func (m *MockModelVersionRepo) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockArtifactStore is a mock of ArtifactStore. Put drains the reader so
// size limits wrapped around it still trigger.
type MockArtifactStore struct {
	mock.Mock
}

func (m *MockArtifactStore) Put(ctx context.Context, path string, r io.Reader) (*domain.ArtifactInfo, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ArtifactInfo), args.Error(1)
}

func (m *MockArtifactStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockArtifactStore) Stat(ctx context.Context, path string) (*domain.ArtifactInfo, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ArtifactInfo), args.Error(1)
}

func (m *MockArtifactStore) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

// MockLoader is a mock of Loader.
type MockLoader struct {
	mock.Mock
	FW domain.Framework
}

func (m *MockLoader) Framework() domain.Framework { return m.FW }

func (m *MockLoader) Load(ctx context.Context, path string) (ports.Handle, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Handle), args.Error(1)
}

// MockHandle is a mock of Handle.
type MockHandle struct {
	mock.Mock
	FW domain.Framework
}

func (m *MockHandle) Framework() domain.Framework { return m.FW }

func (m *MockHandle) Predict(ctx context.Context, input any) (any, error) {
	args := m.Called(ctx, input)
	return args.Get(0), args.Error(1)
}

// StaticResolver resolves frameworks from a fixed map.
type StaticResolver map[domain.Framework]ports.Loader

func (r StaticResolver) Loader(fw domain.Framework) (ports.Loader, error) {
	l, ok := r[fw]
	if !ok {
		return nil, domain.ErrUnsupportedFramework
	}
	return l, nil
}

var (
	_ ports.ModelVersionRepository = (*MockModelVersionRepo)(nil)
	_ ports.ArtifactStore          = (*MockArtifactStore)(nil)
	_ ports.Loader                 = (*MockLoader)(nil)
	_ ports.Handle                 = (*MockHandle)(nil)
	_ ports.LoaderResolver         = StaticResolver(nil)
)
