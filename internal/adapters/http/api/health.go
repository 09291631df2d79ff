package api

import (
	"net/http"

	service "github.com/okian/custseg/internal/app"
	"github.com/okian/custseg/internal/domain/segmentation"
)

// ModelProvider reports whether a pipeline is loaded.
type ModelProvider interface {
	Model() (*segmentation.FittedPipeline, service.ModelInfo, error)
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	models ModelProvider
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(models ModelProvider) *HealthHandler {
	return &HealthHandler{models: models}
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// HandleHealth handles GET /healthz requests. The process is healthy as long
// as it answers; model_loaded tells callers whether predictions will work.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	_, _, err := h.models.Model()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ModelLoaded: err == nil})
}
