package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
	"model-serving-gateway/internal/testutil"
)

type countingMetrics struct {
	ports.NopMetrics
	hits, misses atomic.Int64
}

func (m *countingMetrics) ObserveHandleCache(hit bool) {
	if hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
}

func TestNewHandleCache_Disabled(t *testing.T) {
	cache, err := NewHandleCache(0, nil)
	require.NoError(t, err)
	assert.Nil(t, cache)

	var loads int
	mv := &domain.ModelVersion{ID: 1, ArtifactDigest: "sha256:aa"}
	for i := 0; i < 2; i++ {
		_, err := cache.Get(context.Background(), mv, "r1", func(context.Context) (ports.Handle, error) {
			loads++
			return &testutil.MockHandle{}, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, loads)
	cache.Invalidate(mv)
	assert.Equal(t, 0, cache.Len())
}

func TestHandleCache_SharesConcurrentLoads(t *testing.T) {
	metrics := &countingMetrics{}
	cache, err := NewHandleCache(2, metrics)
	require.NoError(t, err)

	mv := &domain.ModelVersion{ID: 1, Framework: domain.FrameworkTreeEnsemble, ArtifactPath: "m/1/artifact", ArtifactDigest: "sha256:aa"}
	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (ports.Handle, error) {
		loads.Add(1)
		<-release
		return &testutil.MockHandle{FW: domain.FrameworkTreeEnsemble}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := cache.Get(context.Background(), mv, "r1", load)
			assert.NoError(t, err)
			assert.NotNil(t, h)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, 1, cache.Len())

	_, err = cache.Get(context.Background(), mv, "r1", load)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())
	assert.GreaterOrEqual(t, metrics.hits.Load(), int64(1))

	cache.Invalidate(mv)
	assert.Equal(t, 0, cache.Len())
}

func TestHandleCache_FailedLoadIsNotCached(t *testing.T) {
	cache, err := NewHandleCache(2, nil)
	require.NoError(t, err)

	mv := &domain.ModelVersion{ID: 1, ArtifactDigest: "sha256:aa"}
	_, err = cache.Get(context.Background(), mv, "r1", func(context.Context) (ports.Handle, error) {
		return nil, domain.NewLoadError(domain.FrameworkTensorGraph, domain.ErrArtifactCorrupt)
	})
	assert.ErrorIs(t, err, domain.ErrLoad)
	assert.Equal(t, 0, cache.Len())
}

func TestHandleCache_KeyedByDigest(t *testing.T) {
	cache, err := NewHandleCache(4, nil)
	require.NoError(t, err)

	var loads int
	load := func(context.Context) (ports.Handle, error) {
		loads++
		return &testutil.MockHandle{}, nil
	}
	a := &domain.ModelVersion{ID: 1, ArtifactPath: "m/1/artifact", ArtifactDigest: "sha256:aa"}
	b := &domain.ModelVersion{ID: 2, ArtifactPath: "m/1/artifact", ArtifactDigest: "sha256:bb"}
	noDigest := &domain.ModelVersion{ID: 3, ArtifactPath: "m/3/artifact"}

	for _, mv := range []*domain.ModelVersion{a, a, b, noDigest, noDigest} {
		_, err := cache.Get(context.Background(), mv, "r1", load)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, loads)
	assert.Equal(t, 2, cache.Len())
}

func TestHandleCache_ReloadsOnRevisionChange(t *testing.T) {
	metrics := &countingMetrics{}
	cache, err := NewHandleCache(4, metrics)
	require.NoError(t, err)

	mv := &domain.ModelVersion{ID: 1, ArtifactPath: "m/1/artifact", ArtifactDigest: "sha256:aa"}
	first := &testutil.MockHandle{FW: domain.FrameworkTreeEnsemble}
	h, err := cache.Get(context.Background(), mv, "5-100", func(context.Context) (ports.Handle, error) {
		return first, nil
	})
	require.NoError(t, err)
	assert.Same(t, first, h)

	// Same row, different bytes in the store: the old handle must not be served.
	_, err = cache.Get(context.Background(), mv, "8-200", func(context.Context) (ports.Handle, error) {
		return nil, domain.NewLoadError(domain.FrameworkTreeEnsemble, domain.ErrArtifactCorrupt)
	})
	assert.ErrorIs(t, err, domain.ErrArtifactCorrupt)
	assert.Equal(t, 0, cache.Len())

	second := &testutil.MockHandle{FW: domain.FrameworkTreeEnsemble}
	h, err = cache.Get(context.Background(), mv, "9-300", func(context.Context) (ports.Handle, error) {
		return second, nil
	})
	require.NoError(t, err)
	assert.Same(t, second, h)

	h, err = cache.Get(context.Background(), mv, "9-300", func(context.Context) (ports.Handle, error) {
		t.Fatal("unexpected reload")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, second, h)
	assert.Equal(t, int64(1), metrics.hits.Load())
	assert.Equal(t, int64(3), metrics.misses.Load())
}
