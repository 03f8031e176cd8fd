package ports

import (
	"context"
	"io"

	"model-serving-gateway/internal/core/domain"
)

// ArtifactReader is the read side of the artifact store, all a loader needs.
type ArtifactReader interface {
	// Open returns domain.ErrArtifactMissing when no blob exists at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (*domain.ArtifactInfo, error)
}

// ArtifactStore holds immutable model blobs keyed by path.
type ArtifactStore interface {
	ArtifactReader

	// Put writes r to path, or to a fresh path derived from it, and reports
	// the path it published in the returned info. It never overwrites: an
	// existing blob returns domain.ErrArtifactExists and a partially written
	// blob is never visible.
	Put(ctx context.Context, path string, r io.Reader) (*domain.ArtifactInfo, error)

	// Delete removes a blob. Only used to roll back a failed registration,
	// always with the path that registration's Put returned.
	Delete(ctx context.Context, path string) error
}
