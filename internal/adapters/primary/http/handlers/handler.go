package handlers

import (
	"model-serving-gateway/internal/core/services"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	registrySvc  *services.RegistryService
	inferenceSvc *services.InferenceService
	healthSvc    *services.HealthService

	// maxUploadSize bounds a registration request body; zero disables the check.
	maxUploadSize int64
}

type Option func(*Handler)

func WithMaxUploadSize(n int64) Option {
	return func(h *Handler) { h.maxUploadSize = n }
}

func New(
	registrySvc *services.RegistryService,
	inferenceSvc *services.InferenceService,
	healthSvc *services.HealthService,
	opts ...Option,
) *Handler {
	h := &Handler{
		registrySvc:  registrySvc,
		inferenceSvc: inferenceSvc,
		healthSvc:    healthSvc,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	// Registry
	r.POST("/models/", h.RegisterModelVersion)
	r.POST("/models", h.RegisterModelVersion)
	r.GET("/models/", h.ListModelVersions)
	r.GET("/models", h.ListModelVersions)
	r.GET("/models/:id", h.GetModelVersion)

	// Artifacts
	r.GET("/models/:id/download/", h.DownloadModelArtifact)
	r.GET("/models/:id/download", h.DownloadModelArtifact)

	// Runtime
	r.GET("/models/:id/health", h.CheckModelHealth)
	r.POST("/models/:id/predict", h.PredictByID)
	r.POST("/predict", h.PredictByNameVersion)
}
