package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/custseg/internal/adapters/dataset"
	service "github.com/okian/custseg/internal/app"
	"github.com/okian/custseg/internal/domain/customer"
	"github.com/okian/custseg/internal/domain/segmentation"
)

// PredictDependencies defines the operations the predict handler needs.
type PredictDependencies interface {
	Predict(ctx context.Context, rows []customer.Row) ([]segmentation.Assignment, service.ModelInfo, error)
	PredictFeatures(ctx context.Context, records []customer.FeatureRecord) ([]int, service.ModelInfo, error)
}

// PredictHandler handles prediction requests.
type PredictHandler struct {
	deps    PredictDependencies
	maxBody int64
}

// NewPredictHandler creates a new predict handler. Bodies larger than
// maxBody bytes are rejected.
func NewPredictHandler(deps PredictDependencies, maxBody int64) *PredictHandler {
	return &PredictHandler{deps: deps, maxBody: maxBody}
}

// HandlePredict handles POST /predict requests. The body is either a JSON
// array of instances or {"instances": [...]}; ?featurized=true marks
// instances that already carry the derived feature columns.
func (h *PredictHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	const op = "api.predict"
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}

	featurized := false
	if v := r.URL.Query().Get("featurized"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, fmt.Errorf("featurized: %w", err)))
			return
		}
		featurized = b
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, WrapKind(op, ErrTooLarge, err))
			return
		}
		h.fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	instances, err := dataset.DecodeInstances(body)
	if err != nil {
		h.fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	if featurized {
		h.predictFeatures(r.Context(), w, instances)
		return
	}

	rows := make([]customer.Row, len(instances))
	for i, inst := range instances {
		rows[i] = customer.Row(inst)
	}
	assignments, info, err := h.deps.Predict(r.Context(), rows)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, service.NewPredictions(assignments, info))
}

func (h *PredictHandler) predictFeatures(ctx context.Context, w http.ResponseWriter, instances []map[string]any) {
	records := make([]customer.FeatureRecord, len(instances))
	for i, inst := range instances {
		records[i] = customer.FeatureRecord(inst)
	}
	labels, info, err := h.deps.PredictFeatures(ctx, records)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, service.NewFeaturePredictions(labels, info))
}

func (h *PredictHandler) fail(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	writeError(w, status, code, err)
}
