package handlers

import (
	"errors"
	"net/http"

	"model-serving-gateway/internal/adapters/primary/http/dto"

	"github.com/gin-gonic/gin"
)

var errPredictFields = errors.New("request must include 'model_name', 'version', and 'data'")

// PredictByID scores the request body, passed as-is to the model runtime.
func (h *Handler) PredictByID(c *gin.Context) {
	id, err := getModelID(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	var input any
	if err := c.ShouldBindJSON(&input); err != nil || input == nil {
		badRequest(c, errors.New("request body must be a JSON value"))
		return
	}

	prediction, err := h.inferenceSvc.PredictByID(c.Request.Context(), id, input)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.PredictResponse{Prediction: prediction.Prediction})
}

func (h *Handler) PredictByNameVersion(c *gin.Context) {
	var req dto.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errPredictFields)
		return
	}
	if req.ModelName == "" || req.Version == "" || req.Data == nil {
		badRequest(c, errPredictFields)
		return
	}

	prediction, err := h.inferenceSvc.PredictByNameVersion(c.Request.Context(), req.ModelName, req.Version, req.Data)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.PredictResponse{Prediction: prediction.Prediction})
}
