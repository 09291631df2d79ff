package service

import (
	"github.com/okian/custseg/internal/domain/customer"
	"github.com/okian/custseg/internal/domain/segmentation"
)

// RowError describes one instance that could not be labelled.
type RowError struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ModelRef names the pipeline version that produced a prediction document.
type ModelRef struct {
	RunID   string `json:"run_id"`
	Version int    `json:"version"`
}

// Predictions is the prediction document shared by the HTTP API and the CLI.
// It is parallel to the request instances; a failed instance has a null
// prediction and an entry in Errors.
type Predictions struct {
	Predictions []*int     `json:"predictions"`
	Errors      []RowError `json:"errors,omitempty"`
	Model       ModelRef   `json:"model"`
}

// NewPredictions builds the document for raw-row assignments.
func NewPredictions(assignments []segmentation.Assignment, info ModelInfo) Predictions {
	out := Predictions{
		Predictions: make([]*int, len(assignments)),
		Model:       ModelRef{RunID: info.RunID, Version: info.Version},
	}
	for i, a := range assignments {
		if a.Err != nil {
			out.Errors = append(out.Errors, RowError{
				Index:   i,
				Code:    customer.ErrorKind(a.Err),
				Message: a.Err.Error(),
			})
			continue
		}
		label := a.Label
		out.Predictions[i] = &label
	}
	return out
}

// NewFeaturePredictions builds the document for featurized labels, which
// either all succeed or fail as a whole.
func NewFeaturePredictions(labels []int, info ModelInfo) Predictions {
	out := Predictions{
		Predictions: make([]*int, len(labels)),
		Model:       ModelRef{RunID: info.RunID, Version: info.Version},
	}
	for i := range labels {
		label := labels[i]
		out.Predictions[i] = &label
	}
	return out
}
