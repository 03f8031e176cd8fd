package domain

import (
	"errors"
	"fmt"
)

// ============================================================================
// Registry Errors
// ============================================================================

var (
	ErrModelNotFound        = errors.New("model not found")
	ErrDuplicateVersion     = errors.New("model version already exists")
	ErrUnsupportedFramework = errors.New("unsupported framework")
	ErrArtifactMissing      = errors.New("model file not found")
	ErrArtifactExists       = errors.New("artifact already exists")
	ErrArtifactTooLarge     = errors.New("artifact exceeds the maximum allowed size")
)

// Validation errors
var (
	ErrValidation       = errors.New("invalid request")
	ErrInvalidModelName = fmt.Errorf("%w: model name is required", ErrValidation)
	ErrInvalidVersion   = fmt.Errorf("%w: version is required", ErrValidation)
	ErrInvalidAccuracy  = fmt.Errorf("%w: accuracy must be a finite number", ErrValidation)
	ErrInvalidModelID   = fmt.Errorf("%w: model id must be a positive integer", ErrValidation)
	ErrMissingArtifact  = fmt.Errorf("%w: artifact file is required", ErrValidation)
)

// ============================================================================
// Runtime Errors
// ============================================================================

var (
	ErrLoad    = errors.New("model loading failed")
	ErrPredict = errors.New("prediction failed")
)

// Load causes
var (
	ErrArtifactCorrupt    = errors.New("artifact is corrupt")
	ErrIncompatibleSchema = errors.New("artifact schema is incompatible")
	ErrArtifactUnreadable = errors.New("artifact could not be read")
)

// Predict causes
var (
	ErrShapeMismatch = errors.New("input shape mismatch")
	ErrTypeMismatch  = errors.New("input type mismatch")
)

// LoadError reports that an artifact exists but could not be turned into a handle.
type LoadError struct {
	Framework Framework
	Cause     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrLoad, e.Framework, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// PredictError reports that a loaded handle rejected or failed to score an input.
type PredictError struct {
	Framework Framework
	Cause     error
}

func (e *PredictError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPredict, e.Cause)
}

func (e *PredictError) Unwrap() error { return e.Cause }

func (e *PredictError) Is(target error) bool { return target == ErrPredict }

// NewLoadError wraps cause, which should itself wrap one of the load causes.
func NewLoadError(fw Framework, cause error) error {
	return &LoadError{Framework: fw, Cause: cause}
}

func NewPredictError(fw Framework, cause error) error {
	return &PredictError{Framework: fw, Cause: cause}
}

// ============================================================================
// Error kinds
// ============================================================================

// ErrorKind is the stable, user-visible classification of an error.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "NotFound"
	KindDuplicateVersion     ErrorKind = "DuplicateVersion"
	KindUnsupportedFramework ErrorKind = "UnsupportedFramework"
	KindArtifactMissing      ErrorKind = "ArtifactMissing"
	KindArtifactTooLarge     ErrorKind = "ArtifactTooLarge"
	KindLoadError            ErrorKind = "LoadError"
	KindPredictError         ErrorKind = "PredictError"
	KindValidationError      ErrorKind = "ValidationError"
	KindInternal             ErrorKind = "Internal"
)

// KindOf classifies err. Order matters: a load failure caused by a missing
// artifact is reported as ArtifactMissing.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrModelNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateVersion), errors.Is(err, ErrArtifactExists):
		return KindDuplicateVersion
	case errors.Is(err, ErrUnsupportedFramework):
		return KindUnsupportedFramework
	case errors.Is(err, ErrArtifactMissing):
		return KindArtifactMissing
	case errors.Is(err, ErrArtifactTooLarge):
		return KindArtifactTooLarge
	case errors.Is(err, ErrLoad):
		return KindLoadError
	case errors.Is(err, ErrPredict):
		return KindPredictError
	case errors.Is(err, ErrValidation):
		return KindValidationError
	default:
		return KindInternal
	}
}
