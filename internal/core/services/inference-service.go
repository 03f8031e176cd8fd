package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

// InferenceService resolves a request to a registered model version and
// scores the input with the runtime matching its framework.
type InferenceService struct {
	registry *RegistryService
	loaders  ports.LoaderResolver
	cache    *HandleCache
	metrics  ports.Metrics
	timeout  time.Duration
}

func NewInferenceService(registry *RegistryService, loaders ports.LoaderResolver, cache *HandleCache, metrics ports.Metrics, timeout time.Duration) *InferenceService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &InferenceService{
		registry: registry,
		loaders:  loaders,
		cache:    cache,
		metrics:  metrics,
		timeout:  timeout,
	}
}

func (s *InferenceService) PredictByID(ctx context.Context, id int64, input any) (*domain.Prediction, error) {
	mv, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.predict(ctx, mv, input)
}

func (s *InferenceService) PredictByNameVersion(ctx context.Context, name, version string, input any) (*domain.Prediction, error) {
	mv, err := s.registry.GetByNameVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return s.predict(ctx, mv, input)
}

func (s *InferenceService) predict(ctx context.Context, mv *domain.ModelVersion, input any) (*domain.Prediction, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	artifact, err := s.registry.ResolveArtifact(ctx, mv)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactMissing) {
			s.cache.Invalidate(mv)
		}
		return nil, err
	}

	loader, err := s.loaders.Loader(mv.Framework)
	if err != nil {
		log.WithFields(log.Fields{"id": mv.ID, "framework": mv.Framework}).Error("registered model carries an unsupported framework")
		return nil, err
	}

	handle, err := s.cache.Get(ctx, mv, artifact.Revision, func(ctx context.Context) (ports.Handle, error) {
		return loadHandle(ctx, loader, mv.ArtifactPath, s.metrics)
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := handle.Predict(ctx, input)
	s.metrics.ObservePredict(mv.Framework, time.Since(start), err)
	if err != nil {
		var predictErr *domain.PredictError
		if !errors.As(err, &predictErr) {
			err = domain.NewPredictError(mv.Framework, err)
		}
		log.WithError(err).WithField("id", mv.ID).Debug("prediction rejected")
		return nil, err
	}

	return &domain.Prediction{Prediction: NormalizePrediction(out)}, nil
}

// loadHandle runs one Load and classifies anything the loader did not.
func loadHandle(ctx context.Context, loader ports.Loader, path string, metrics ports.Metrics) (ports.Handle, error) {
	start := time.Now()
	h, err := loader.Load(ctx, path)
	metrics.ObserveLoad(loader.Framework(), time.Since(start), err)
	if err == nil {
		return h, nil
	}

	var loadErr *domain.LoadError
	switch {
	case errors.Is(err, domain.ErrArtifactMissing), errors.As(err, &loadErr):
		return nil, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, domain.NewLoadError(loader.Framework(), err)
	default:
		return nil, domain.NewLoadError(loader.Framework(), fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err))
	}
}
