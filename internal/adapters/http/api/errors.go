package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/custseg/internal/adapters/repository"
	service "github.com/okian/custseg/internal/app"
	"github.com/okian/custseg/internal/domain/customer"
	"github.com/okian/custseg/internal/domain/segmentation"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrTooLarge   = errors.New("request body too large")
)

// KindError tags an error with the operation and kind that produced it.
type KindError struct {
	Op   string
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKind returns an error of kind raised by op.
func NewKind(op string, kind error) error {
	return &KindError{Op: op, Kind: kind}
}

// WrapKind wraps err as kind raised by op.
func WrapKind(op string, kind, err error) error {
	return &KindError{Op: op, Kind: kind, Err: err}
}

// statusOf maps a service error to an HTTP status and error code.
func statusOf(err error) (int, string) {
	var dm *segmentation.DimensionMismatchError
	switch {
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &dm):
		return http.StatusUnprocessableEntity, "dimension_mismatch"
	case errors.Is(err, customer.ErrMissingField), errors.Is(err, customer.ErrMalformedInput):
		return http.StatusBadRequest, customer.ErrorKind(err)
	case errors.Is(err, service.ErrModelNotLoaded):
		return http.StatusServiceUnavailable, "model_not_loaded"
	case errors.Is(err, service.ErrOverloaded):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrNoStore):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, segmentation.ErrArtifactCorrupt):
		return http.StatusInternalServerError, "artifact_corrupt"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
