package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"model-serving-gateway/internal/adapters/primary/http/dto"
	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// multipartOverhead leaves room for form fields and part headers on top of
// the artifact itself.
const multipartOverhead = 1 << 20

// RegisterModelVersion accepts a multipart form with name, version, accuracy,
// framework and the artifact under "file".
func (h *Handler) RegisterModelVersion(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}

	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			mapDomainError(c, domain.ErrArtifactTooLarge)
			return
		}
		badRequest(c, errors.New("request must be multipart/form-data"))
		return
	}
	defer func() {
		if c.Request.MultipartForm != nil {
			_ = c.Request.MultipartForm.RemoveAll()
		}
	}()

	accuracyField := strings.TrimSpace(c.Request.FormValue("accuracy"))
	if accuracyField == "" {
		badRequest(c, domain.ErrInvalidAccuracy)
		return
	}
	accuracy, err := strconv.ParseFloat(accuracyField, 64)
	if err != nil {
		badRequest(c, domain.ErrInvalidAccuracy)
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, domain.ErrMissingArtifact)
		return
	}
	defer file.Close()

	version, err := h.registrySvc.Register(c.Request.Context(), services.RegisterRequest{
		Name:      c.Request.FormValue("name"),
		Version:   c.Request.FormValue("version"),
		Accuracy:  accuracy,
		Framework: c.Request.FormValue("framework"),
		Artifact:  file,
		FileName:  header.Filename,
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			log.WithError(err).Error("register model version failed")
		}
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToRegisterModelResponse(version))
}

func (h *Handler) ListModelVersions(c *gin.Context) {
	versions, err := h.registrySvc.List(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("list model versions failed")
		mapDomainError(c, err)
		return
	}

	items := make([]dto.ModelVersionResponse, 0, len(versions))
	for _, v := range versions {
		items = append(items, dto.ToModelVersionResponse(v))
	}

	c.JSON(http.StatusOK, items)
}

func (h *Handler) GetModelVersion(c *gin.Context) {
	id, err := getModelID(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	version, err := h.registrySvc.Get(c.Request.Context(), id)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToModelVersionResponse(version))
}

func getModelID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidModelID
	}
	return id, nil
}
