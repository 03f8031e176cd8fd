package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

type RegisterRequest struct {
	Name      string
	Version   string
	Accuracy  float64
	Framework string
	Artifact  io.Reader

	// FileName is the client's name for the upload, echoed on download.
	FileName string
}

type RegistryService struct {
	repo    ports.ModelVersionRepository
	store   ports.ArtifactStore
	metrics ports.Metrics

	// maxArtifactSize bounds a single upload; zero means unbounded.
	maxArtifactSize int64
}

type RegistryOption func(*RegistryService)

func WithMaxArtifactSize(n int64) RegistryOption {
	return func(s *RegistryService) { s.maxArtifactSize = n }
}

func NewRegistryService(repo ports.ModelVersionRepository, store ports.ArtifactStore, metrics ports.Metrics, opts ...RegistryOption) *RegistryService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	s := &RegistryService{repo: repo, store: store, metrics: metrics}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register stores the artifact and then the metadata row. The row insert is the
// commit point: if it fails, the blob written by this call is removed again.
func (s *RegistryService) Register(ctx context.Context, req RegisterRequest) (*domain.ModelVersion, error) {
	mv, err := s.register(ctx, req)
	s.metrics.ObserveRegistration(domain.Framework(req.Framework), err)
	return mv, err
}

func (s *RegistryService) register(ctx context.Context, req RegisterRequest) (*domain.ModelVersion, error) {
	if err := domain.ValidateRegistration(req.Name, req.Version, req.Accuracy); err != nil {
		return nil, err
	}
	fw, err := domain.ParseFramework(req.Framework)
	if err != nil {
		return nil, err
	}
	if req.Artifact == nil {
		return nil, domain.ErrMissingArtifact
	}

	// Cheap early rejection; the unique index below is what actually serializes.
	if _, err := s.repo.GetByNameVersion(ctx, req.Name, req.Version); err == nil {
		return nil, domain.ErrDuplicateVersion
	} else if !errors.Is(err, domain.ErrModelNotFound) {
		return nil, err
	}

	artifact := req.Artifact
	if s.maxArtifactSize > 0 {
		artifact = &sizeLimitedReader{r: artifact, remaining: s.maxArtifactSize}
	}

	path := domain.ArtifactPath(req.Name, req.Version)
	info, err := s.store.Put(ctx, path, artifact)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactExists) {
			return nil, domain.ErrDuplicateVersion
		}
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	mv := &domain.ModelVersion{
		Name:           req.Name,
		Version:        req.Version,
		Accuracy:       req.Accuracy,
		Framework:      fw,
		ArtifactPath:   info.Path,
		ArtifactDigest: info.Digest,
		ArtifactSize:   info.Size,
		FileName:       domain.SanitizeFileName(req.FileName),
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, mv); err != nil {
		return nil, s.rollback(info.Path, err)
	}

	log.WithFields(log.Fields{
		"id":        mv.ID,
		"name":      mv.Name,
		"version":   mv.Version,
		"framework": mv.Framework,
		"size":      mv.ArtifactSize,
	}).Info("model version registered")

	return mv, nil
}

// rollback deletes the blob of a registration whose row insert failed. The
// delete runs detached from the request context so a cancelled client cannot
// leave the blob behind.
func (s *RegistryService) rollback(path string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.store.Delete(ctx, path); err != nil {
		log.WithError(err).WithField("artifact_path", path).Error("rollback artifact after failed registration")
		return multierror.Append(cause, fmt.Errorf("rollback artifact: %w", err))
	}
	return cause
}

func (s *RegistryService) Get(ctx context.Context, id int64) (*domain.ModelVersion, error) {
	if id <= 0 {
		return nil, domain.ErrModelNotFound
	}
	return s.repo.GetByID(ctx, id)
}

func (s *RegistryService) GetByNameVersion(ctx context.Context, name, version string) (*domain.ModelVersion, error) {
	return s.repo.GetByNameVersion(ctx, name, version)
}

func (s *RegistryService) List(ctx context.Context) ([]*domain.ModelVersion, error) {
	return s.repo.List(ctx)
}

// ResolveArtifact confirms the entry's blob still exists and reports what the
// store currently holds for it.
func (s *RegistryService) ResolveArtifact(ctx context.Context, mv *domain.ModelVersion) (*domain.ArtifactInfo, error) {
	info, err := s.store.Stat(ctx, mv.ArtifactPath)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactMissing) {
			log.WithFields(log.Fields{
				"id":            mv.ID,
				"artifact_path": mv.ArtifactPath,
			}).Warn("registered model has no artifact")
			return nil, domain.ErrArtifactMissing
		}
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	return info, nil
}

// ResolveArtifactPath is ResolveArtifact for callers that only need the path.
func (s *RegistryService) ResolveArtifactPath(ctx context.Context, mv *domain.ModelVersion) (string, error) {
	if _, err := s.ResolveArtifact(ctx, mv); err != nil {
		return "", err
	}
	return mv.ArtifactPath, nil
}

// OpenArtifact returns the entry and a reader over its raw artifact bytes.
// The caller closes the reader.
func (s *RegistryService) OpenArtifact(ctx context.Context, id int64) (*domain.ModelVersion, io.ReadCloser, error) {
	mv, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Open(ctx, mv.ArtifactPath)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactMissing) {
			return nil, nil, domain.ErrArtifactMissing
		}
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	return mv, rc, nil
}

func (s *RegistryService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// sizeLimitedReader fails with domain.ErrArtifactTooLarge once more than the
// allowed number of bytes has been read.
type sizeLimitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *sizeLimitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, domain.ErrArtifactTooLarge
	}
	// Read one byte past the limit to tell "exactly at limit" from "over".
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return 0, domain.ErrArtifactTooLarge
	}
	return n, err
}
