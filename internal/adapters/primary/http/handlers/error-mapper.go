package handlers

import (
	"errors"
	"net/http"

	"model-serving-gateway/internal/adapters/primary/http/dto"
	"model-serving-gateway/internal/core/domain"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// mapDomainError writes the error response for err. A missing artifact is a
// server-side fault everywhere except on download, which passes its own status.
func mapDomainError(c *gin.Context, err error) {
	mapDomainErrorWith(c, err, http.StatusInternalServerError)
}

func mapDomainErrorWith(c *gin.Context, err error, artifactMissingStatus int) {
	kind := domain.KindOf(err)
	message := err.Error()

	var status int
	switch kind {
	// Not found errors
	case domain.KindNotFound:
		status = http.StatusNotFound

	// Bad request / validation errors
	case domain.KindDuplicateVersion,
		domain.KindUnsupportedFramework,
		domain.KindValidationError:
		status = http.StatusBadRequest
	case domain.KindArtifactTooLarge:
		status = http.StatusRequestEntityTooLarge

	// Runtime errors
	case domain.KindArtifactMissing:
		status = artifactMissingStatus
		message = domain.ErrArtifactMissing.Error()
	case domain.KindLoadError:
		status = http.StatusInternalServerError
		if errors.Is(err, domain.ErrArtifactUnreadable) {
			// the underlying I/O error may name storage paths
			message = domain.ErrLoad.Error() + ": " + domain.ErrArtifactUnreadable.Error()
		}
	case domain.KindPredictError:
		status = http.StatusInternalServerError

	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("unhandled error")
		status = http.StatusInternalServerError
		message = "internal server error"
	}

	c.JSON(status, dto.ErrorResponse{Error: message, Kind: string(kind)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Kind: string(domain.KindValidationError)})
}
