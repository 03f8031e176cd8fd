package prometheus

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"model-serving-gateway/internal/core/domain"
)

func TestRecorder_Outcomes(t *testing.T) {
	r := NewRecorder(prom.NewRegistry())

	r.ObserveRegistration(domain.FrameworkTreeEnsemble, nil)
	r.ObserveRegistration(domain.FrameworkTreeEnsemble, domain.ErrDuplicateVersion)
	r.ObserveRegistration("onnx", domain.ErrUnsupportedFramework)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.registrations.WithLabelValues("tree-ensemble", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.registrations.WithLabelValues("tree-ensemble", "DuplicateVersion")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.registrations.WithLabelValues("other", "UnsupportedFramework")))

	r.ObserveLoad(domain.FrameworkTensorGraph, 10*time.Millisecond,
		domain.NewLoadError(domain.FrameworkTensorGraph, domain.ErrArtifactCorrupt))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.loads.WithLabelValues("tensor-graph", "LoadError")))

	r.ObservePredict(domain.FrameworkGenericScoring, time.Millisecond, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.predictions.WithLabelValues("generic-scoring", "ok")))
}

func TestRecorder_CacheAndHTTP(t *testing.T) {
	r := NewRecorder(prom.NewRegistry())

	r.ObserveHandleCache(true)
	r.ObserveHandleCache(true)
	r.ObserveHandleCache(false)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("miss")))

	done := r.TrackInflight("/api/v1/models/:id/predict")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.httpInflight.WithLabelValues("/api/v1/models/:id/predict")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(r.httpInflight.WithLabelValues("/api/v1/models/:id/predict")))

	r.ObserveHTTP("/api/v1/models/", "GET", 200, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("/api/v1/models/", "GET", "200")))
}

func TestNewRecorder_PanicsOnDoubleRegistration(t *testing.T) {
	reg := prom.NewRegistry()
	NewRecorder(reg)
	assert.Panics(t, func() { NewRecorder(reg) })
}
