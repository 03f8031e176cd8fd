package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"model-serving-gateway/internal/adapters/secondary/artifacts"
	"model-serving-gateway/internal/adapters/secondary/sqlite"
	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
	"model-serving-gateway/internal/testutil"
)

const tinyForest = `{"format":"tree-ensemble","version":1,"objective":"regression","n_features":1,
  "trees":[{"nodes":[{"feature":0,"threshold":0,"left":1,"right":2},{"value":-1},{"value":1}]}]}`

type registryFixture struct {
	svc   *RegistryService
	repo  ports.ModelVersionRepository
	store ports.ArtifactStore
}

func newRegistryFixture(t *testing.T, opts ...RegistryOption) *registryFixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	repo := sqlite.NewModelVersionRepository(db)
	return &registryFixture{
		svc:   NewRegistryService(repo, store, nil, opts...),
		repo:  repo,
		store: store,
	}
}

func registerReq(name, version, framework, artifact string) RegisterRequest {
	return RegisterRequest{
		Name:      name,
		Version:   version,
		Accuracy:  0.95,
		Framework: framework,
		Artifact:  strings.NewReader(artifact),
	}
}

func TestRegistryService_RegisterAndFetch(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	mv, err := f.svc.Register(ctx, registerReq("model_A", "1.0", "tree-ensemble", tinyForest))
	require.NoError(t, err)
	assert.Equal(t, int64(1), mv.ID)
	assert.Equal(t, "model_A/1.0/artifact", mv.ArtifactPath)
	assert.Equal(t, domain.FrameworkTreeEnsemble, mv.Framework)
	assert.True(t, strings.HasPrefix(mv.ArtifactDigest, "sha256:"))
	assert.Equal(t, int64(len(tinyForest)), mv.ArtifactSize)

	path, err := f.svc.ResolveArtifactPath(ctx, mv)
	require.NoError(t, err)
	assert.Equal(t, mv.ArtifactPath, path)
	info, err := f.svc.ResolveArtifact(ctx, mv)
	require.NoError(t, err)
	assert.NotEmpty(t, info.Revision)

	got, err := f.svc.Get(ctx, mv.ID)
	require.NoError(t, err)
	assert.Equal(t, mv.Name, got.Name)
	assert.Equal(t, mv.Version, got.Version)
	assert.Equal(t, 0.95, got.Accuracy)

	got, err = f.svc.GetByNameVersion(ctx, "model_A", "1.0")
	require.NoError(t, err)
	assert.Equal(t, mv.ID, got.ID)

	_, rc, err := f.svc.OpenArtifact(ctx, mv.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, tinyForest, string(body))
}

func TestRegistryService_DuplicateVersion(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, registerReq("m", "1", "tree-ensemble", tinyForest))
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, registerReq("m", "1", "tree-ensemble", "other bytes"))
	assert.ErrorIs(t, err, domain.ErrDuplicateVersion)

	// The original blob is untouched.
	_, rc, err := f.svc.OpenArtifact(ctx, 1)
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, tinyForest, string(body))

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRegistryService_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  RegisterRequest
		err  error
	}{
		{"unsupported framework", registerReq("m", "1", "sklearn", "x"), domain.ErrUnsupportedFramework},
		{"empty name", registerReq("  ", "1", "tree-ensemble", "x"), domain.ErrInvalidModelName},
		{"empty version", registerReq("m", "", "tree-ensemble", "x"), domain.ErrInvalidVersion},
		{"no artifact", RegisterRequest{Name: "m", Version: "1", Framework: "tree-ensemble"}, domain.ErrMissingArtifact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRegistryFixture(t)
			_, err := f.svc.Register(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.err)

			list, err := f.svc.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, list)

			_, err = f.store.Stat(context.Background(), domain.ArtifactPath("m", "1"))
			assert.ErrorIs(t, err, domain.ErrArtifactMissing)
		})
	}
}

func TestRegistryService_ListInInsertionOrder(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	for _, v := range []string{"2.0", "1.0", "10"} {
		_, err := f.svc.Register(ctx, registerReq("m", v, "tree-ensemble", tinyForest))
		require.NoError(t, err)
	}

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "2.0", list[0].Version)
	assert.Equal(t, "1.0", list[1].Version)
	assert.Equal(t, "10", list[2].Version)
	assert.Less(t, list[0].ID, list[1].ID)
	assert.Less(t, list[1].ID, list[2].ID)
}

func TestRegistryService_TooLarge(t *testing.T) {
	f := newRegistryFixture(t, WithMaxArtifactSize(8))

	_, err := f.svc.Register(context.Background(), registerReq("m", "1", "tree-ensemble", tinyForest))
	assert.ErrorIs(t, err, domain.ErrArtifactTooLarge)

	_, err = f.store.Stat(context.Background(), domain.ArtifactPath("m", "1"))
	assert.ErrorIs(t, err, domain.ErrArtifactMissing)

	_, err = f.svc.Register(context.Background(), registerReq("m", "2", "tree-ensemble", "12345678"))
	assert.NoError(t, err, "an artifact of exactly the limit is accepted")
}

func TestRegistryService_GetUnknown(t *testing.T) {
	f := newRegistryFixture(t)

	_, err := f.svc.Get(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)

	_, err = f.svc.Get(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)

	_, _, err = f.svc.OpenArtifact(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}

func TestRegistryService_ArtifactMissing(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	mv, err := f.svc.Register(ctx, registerReq("m", "1", "tree-ensemble", tinyForest))
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, mv.ArtifactPath))

	_, err = f.svc.ResolveArtifact(ctx, mv)
	assert.ErrorIs(t, err, domain.ErrArtifactMissing)
	_, err = f.svc.ResolveArtifactPath(ctx, mv)
	assert.ErrorIs(t, err, domain.ErrArtifactMissing)

	_, _, err = f.svc.OpenArtifact(ctx, mv.ID)
	assert.ErrorIs(t, err, domain.ErrArtifactMissing)
}

func TestRegistryService_RollbackOnInsertFailure(t *testing.T) {
	repo := new(testutil.MockModelVersionRepo)
	store := new(testutil.MockArtifactStore)
	svc := NewRegistryService(repo, store, nil)

	path := domain.ArtifactPath("m", "1")
	repo.On("GetByNameVersion", mock.Anything, "m", "1").Return(nil, domain.ErrModelNotFound)
	store.On("Put", mock.Anything, path).Return(&domain.ArtifactInfo{Path: path, Digest: "sha256:00", Size: 3}, nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.ModelVersion")).Return(domain.ErrDuplicateVersion)
	store.On("Delete", mock.Anything, path).Return(nil)

	_, err := svc.Register(context.Background(), registerReq("m", "1", "tensor-graph", "abc"))
	assert.ErrorIs(t, err, domain.ErrDuplicateVersion)
	store.AssertCalled(t, "Delete", mock.Anything, path)
}

func TestRegistryService_RollbackDeletesOnlyThePublishedBlob(t *testing.T) {
	repo := new(testutil.MockModelVersionRepo)
	store := new(testutil.MockArtifactStore)
	svc := NewRegistryService(repo, store, nil)

	path := domain.ArtifactPath("m", "1")
	published := path + "-7f1c"
	repo.On("GetByNameVersion", mock.Anything, "m", "1").Return(nil, domain.ErrModelNotFound)
	store.On("Put", mock.Anything, path).Return(&domain.ArtifactInfo{Path: published, Digest: "sha256:00", Size: 3}, nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.ModelVersion")).Return(domain.ErrDuplicateVersion)
	store.On("Delete", mock.Anything, published).Return(nil)

	_, err := svc.Register(context.Background(), registerReq("m", "1", "tensor-graph", "abc"))
	assert.ErrorIs(t, err, domain.ErrDuplicateVersion)
	store.AssertCalled(t, "Delete", mock.Anything, published)
	store.AssertNotCalled(t, "Delete", mock.Anything, path)
}

func TestRegistryService_ConcurrentRegisterAdmitsOne(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*domain.ModelVersion
		start   = make(chan struct{})
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := registerReq("m", "1", "tree-ensemble", fmt.Sprintf("payload-%d", i))
			mv, err := f.svc.Register(ctx, req)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrDuplicateVersion)
				return
			}
			mu.Lock()
			winners = append(winners, mv)
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, winners[0].ID, list[0].ID)

	// The committed row still points at the winner's bytes.
	_, rc, err := f.svc.OpenArtifact(ctx, winners[0].ID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	sum := sha256.Sum256(body)
	assert.Equal(t, winners[0].ArtifactDigest, "sha256:"+hex.EncodeToString(sum[:]))
}

func TestRegistryService_KeepsSanitizedFileName(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	req := registerReq("m", "1", "tree-ensemble", tinyForest)
	req.FileName = `C:\models\forest.json`
	mv, err := f.svc.Register(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "forest.json", mv.FileName)

	got, err := f.svc.Get(ctx, mv.ID)
	require.NoError(t, err)
	assert.Equal(t, "forest.json", got.FileName)
}

func TestRegistryService_RollbackFailureIsReported(t *testing.T) {
	repo := new(testutil.MockModelVersionRepo)
	store := new(testutil.MockArtifactStore)
	svc := NewRegistryService(repo, store, nil)

	path := domain.ArtifactPath("m", "1")
	insertErr := errors.New("disk I/O error")
	repo.On("GetByNameVersion", mock.Anything, "m", "1").Return(nil, domain.ErrModelNotFound)
	store.On("Put", mock.Anything, path).Return(&domain.ArtifactInfo{Path: path}, nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(insertErr)
	store.On("Delete", mock.Anything, path).Return(errors.New("bucket unavailable"))

	_, err := svc.Register(context.Background(), registerReq("m", "1", "tensor-graph", "abc"))
	assert.ErrorIs(t, err, insertErr)
	assert.Contains(t, err.Error(), "rollback artifact")
}

func TestRegistryService_ExistingBlobIsDuplicate(t *testing.T) {
	repo := new(testutil.MockModelVersionRepo)
	store := new(testutil.MockArtifactStore)
	svc := NewRegistryService(repo, store, nil)

	repo.On("GetByNameVersion", mock.Anything, "m", "1").Return(nil, domain.ErrModelNotFound)
	store.On("Put", mock.Anything, mock.Anything).Return(nil, domain.ErrArtifactExists)

	_, err := svc.Register(context.Background(), registerReq("m", "1", "tensor-graph", "abc"))
	assert.ErrorIs(t, err, domain.ErrDuplicateVersion)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
