package dto

// PredictRequest addresses a model by name and version. Data is passed to the
// model runtime unchanged.
type PredictRequest struct {
	ModelName string `json:"model_name"`
	Version   string `json:"version"`
	Data      any    `json:"data"`
}

type PredictResponse struct {
	Prediction any `json:"prediction"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
