package services

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

// HealthService checks that a registered artifact still loads. It never
// predicts and never consults the handle cache.
type HealthService struct {
	registry *RegistryService
	loaders  ports.LoaderResolver
	metrics  ports.Metrics
	timeout  time.Duration
}

func NewHealthService(registry *RegistryService, loaders ports.LoaderResolver, metrics ports.Metrics, timeout time.Duration) *HealthService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &HealthService{registry: registry, loaders: loaders, metrics: metrics, timeout: timeout}
}

func (s *HealthService) CheckHealth(ctx context.Context, id int64) (*domain.HealthStatus, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	mv, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.registry.ResolveArtifact(ctx, mv); err != nil {
		return nil, err
	}

	loader, err := s.loaders.Loader(mv.Framework)
	if err != nil {
		return nil, err
	}

	if _, err := loadHandle(ctx, loader, mv.ArtifactPath, s.metrics); err != nil {
		log.WithError(err).WithFields(log.Fields{"id": mv.ID, "framework": mv.Framework}).Warn("model health check failed")
		return nil, err
	}

	return &domain.HealthStatus{Status: domain.HealthStatusHealthy, Message: "Model is ready"}, nil
}
