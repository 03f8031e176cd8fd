package dto

import (
	"time"

	"model-serving-gateway/internal/core/domain"
)

type ModelVersionResponse struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Version        string  `json:"version"`
	Accuracy       float64 `json:"accuracy"`
	Framework      string  `json:"framework"`
	ArtifactDigest string  `json:"artifact_digest,omitempty"`
	ArtifactSize   int64   `json:"artifact_size"`
	FileName       string  `json:"file_name,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

type RegisterModelResponse struct {
	Message  string `json:"message"`
	ID       int64  `json:"id"`
	FilePath string `json:"file_path"`
}

func ToModelVersionResponse(v *domain.ModelVersion) ModelVersionResponse {
	return ModelVersionResponse{
		ID:             v.ID,
		Name:           v.Name,
		Version:        v.Version,
		Accuracy:       v.Accuracy,
		Framework:      v.Framework.String(),
		ArtifactDigest: v.ArtifactDigest,
		ArtifactSize:   v.ArtifactSize,
		FileName:       v.FileName,
		CreatedAt:      v.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func ToRegisterModelResponse(v *domain.ModelVersion) RegisterModelResponse {
	return RegisterModelResponse{
		Message:  "Model version added",
		ID:       v.ID,
		FilePath: v.ArtifactPath,
	}
}
