package ports

import (
	"context"

	"model-serving-gateway/internal/core/domain"
)

// Loader turns an artifact into a scorable handle for one framework.
type Loader interface {
	Framework() domain.Framework

	// Load returns domain.ErrArtifactMissing if the blob is gone and a
	// *domain.LoadError for anything else.
	Load(ctx context.Context, path string) (Handle, error)
}

// Handle is a loaded model. Handles are immutable after Load and safe for
// concurrent Predict calls.
type Handle interface {
	Framework() domain.Framework

	// Predict scores input, the decoded JSON request value. Inputs that do not
	// match the model's schema fail with a *domain.PredictError wrapping
	// domain.ErrShapeMismatch or domain.ErrTypeMismatch.
	Predict(ctx context.Context, input any) (any, error)
}

// LoaderResolver selects the loader registered for a framework tag.
type LoaderResolver interface {
	Loader(fw domain.Framework) (Loader, error)
}
