package api

import (
	"context"
	"net/http"
	"time"

	service "github.com/okian/custseg/internal/app"
	"github.com/okian/custseg/internal/domain/segmentation"
)

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	ModelProvider
	Stats(ctx context.Context) service.Stats
}

// StatsHandler handles stats requests.
type StatsHandler struct {
	statsProvider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider}
}

type pipelineStats struct {
	K          int                 `json:"k"`
	Columns    []string            `json:"columns"`
	Categories map[string][]string `json:"categories"`
	RunID      string              `json:"run_id"`
	TrainedAt  time.Time           `json:"trained_at"`
	Iterations int                 `json:"iterations"`
	Inertia    float64             `json:"inertia"`
	RowsSeen   int                 `json:"rows_seen"`
	RowsKept   int                 `json:"rows_kept"`
	Dropped    map[string]int      `json:"dropped"`
	AsOfYear   int                 `json:"as_of_year"`
	TenureDate time.Time           `json:"tenure_reference"`
}

type statsResponse struct {
	Service  service.Stats  `json:"service"`
	Pipeline *pipelineStats `json:"pipeline,omitempty"`
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	resp := statsResponse{Service: h.statsProvider.Stats(r.Context())}
	if p, _, err := h.statsProvider.Model(); err == nil {
		resp.Pipeline = describe(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func describe(p *segmentation.FittedPipeline) *pipelineStats {
	meta := p.Metadata()
	ref := p.Reference()
	ps := &pipelineStats{
		K:          p.K(),
		Columns:    p.Columns(),
		Categories: make(map[string][]string),
		RunID:      meta.RunID,
		TrainedAt:  meta.TrainedAt,
		Iterations: meta.Iterations,
		Inertia:    meta.Inertia,
		RowsSeen:   meta.RowsSeen,
		RowsKept:   meta.RowsKept,
		Dropped: map[string]int{
			"missing_field":   meta.Dropped.MissingField,
			"malformed_input": meta.Dropped.MalformedInput,
			"age_outlier":     meta.Dropped.AgeOutlier,
			"income_outlier":  meta.Dropped.IncomeOutlier,
		},
		AsOfYear:   ref.AsOfYear,
		TenureDate: ref.TenureDate,
	}
	for _, col := range ps.Columns {
		if cats := p.Categories(col); cats != nil {
			ps.Categories[col] = cats
		}
	}
	return ps
}
