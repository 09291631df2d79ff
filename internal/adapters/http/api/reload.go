package api

import (
	"context"
	"net/http"

	service "github.com/okian/custseg/internal/app"
)

// ReloadDependencies defines the interface for reloading the model.
type ReloadDependencies interface {
	Reload(ctx context.Context) (service.ModelInfo, error)
}

// ReloadHandler handles reload requests.
type ReloadHandler struct {
	deps ReloadDependencies
}

// NewReloadHandler creates a new reload handler.
func NewReloadHandler(deps ReloadDependencies) *ReloadHandler {
	return &ReloadHandler{deps: deps}
}

// HandleReload handles POST /reload requests. On failure the previously
// loaded pipeline keeps serving.
func (h *ReloadHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	info, err := h.deps.Reload(r.Context())
	if err != nil {
		status, code := statusOf(err)
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
