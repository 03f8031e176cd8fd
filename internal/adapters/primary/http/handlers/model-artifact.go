package handlers

import (
	"mime"
	"net/http"

	"model-serving-gateway/internal/core/domain"

	"github.com/gin-gonic/gin"
)

func (h *Handler) DownloadModelArtifact(c *gin.Context) {
	id, err := getModelID(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	version, rc, err := h.registrySvc.OpenArtifact(c.Request.Context(), id)
	if err != nil {
		mapDomainErrorWith(c, err, http.StatusNotFound)
		return
	}
	defer rc.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{
		"filename": artifactFilename(version),
	})
	if disposition == "" {
		disposition = mime.FormatMediaType("attachment", map[string]string{
			"filename": fallbackFilename(version),
		})
	}
	// The row's size is what was uploaded, not necessarily what the store
	// holds now, so the length is left to the transport.
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", rc, map[string]string{
		"Content-Disposition": disposition,
	})
}

// artifactFilename prefers the name the artifact was uploaded under.
func artifactFilename(v *domain.ModelVersion) string {
	if v.FileName != "" {
		return v.FileName
	}
	return fallbackFilename(v)
}

func fallbackFilename(v *domain.ModelVersion) string {
	ext := ".json"
	if v.Framework == domain.FrameworkGenericScoring {
		ext = ".pmml"
	}
	return v.Name + "-" + v.Version + ext
}
