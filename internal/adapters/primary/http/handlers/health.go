package handlers

import (
	"net/http"

	"model-serving-gateway/internal/adapters/primary/http/dto"

	"github.com/gin-gonic/gin"
)

// CheckModelHealth loads the model without predicting.
func (h *Handler) CheckModelHealth(c *gin.Context) {
	id, err := getModelID(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	status, err := h.healthSvc.CheckHealth(c.Request.Context(), id)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.HealthResponse{Status: status.Status, Message: status.Message})
}
