package ports

import (
	"context"

	"model-serving-gateway/internal/core/domain"
)

// ModelVersionRepository is the registry backing store. Rows are append-only.
type ModelVersionRepository interface {
	// Create inserts version and fills in its ID and CreatedAt. A (name, version)
	// collision returns domain.ErrDuplicateVersion.
	Create(ctx context.Context, version *domain.ModelVersion) error
	GetByID(ctx context.Context, id int64) (*domain.ModelVersion, error)
	GetByNameVersion(ctx context.Context, name, version string) (*domain.ModelVersion, error)
	// List returns every row in insertion order.
	List(ctx context.Context) ([]*domain.ModelVersion, error)
	Ping(ctx context.Context) error
}
