package domain

import (
	"math"
	"strings"
	"time"
)

// Framework declares which runtime loader serves a model version.
type Framework string

const (
	FrameworkTensorGraph    Framework = "tensor-graph"
	FrameworkTreeEnsemble   Framework = "tree-ensemble"
	FrameworkGenericScoring Framework = "generic-scoring"
)

var SupportedFrameworks = map[Framework]bool{
	FrameworkTensorGraph:    true,
	FrameworkTreeEnsemble:   true,
	FrameworkGenericScoring: true,
}

// ParseFramework accepts exactly one of the supported tags.
func ParseFramework(s string) (Framework, error) {
	fw := Framework(s)
	if !SupportedFrameworks[fw] {
		return "", ErrUnsupportedFramework
	}
	return fw, nil
}

func (f Framework) IsValid() bool { return SupportedFrameworks[f] }

func (f Framework) String() string { return string(f) }

const maxIdentifierLen = 255

type ModelVersion struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	Accuracy       float64   `json:"accuracy"`
	Framework      Framework `json:"framework"`
	ArtifactPath   string    `json:"artifact_path"`
	ArtifactDigest string    `json:"artifact_digest"`
	ArtifactSize   int64     `json:"artifact_size"`
	FileName       string    `json:"file_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ValidateRegistration checks the user-supplied fields of a new version.
func ValidateRegistration(name, version string, accuracy float64) error {
	if strings.TrimSpace(name) == "" || len(name) > maxIdentifierLen {
		return ErrInvalidModelName
	}
	if strings.TrimSpace(version) == "" || len(version) > maxIdentifierLen {
		return ErrInvalidVersion
	}
	if math.IsNaN(accuracy) || math.IsInf(accuracy, 0) {
		return ErrInvalidAccuracy
	}
	return nil
}

// Prediction is the uniform envelope returned by the dispatcher. Prediction
// only holds float64, nil, []any and map[string]any values.
type Prediction struct {
	Prediction any `json:"prediction"`
}

type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const HealthStatusHealthy = "healthy"
