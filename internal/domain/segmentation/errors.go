package segmentation

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrNoData            = errors.New("no usable training rows")
	ErrClustering        = errors.New("clustering failed")
	ErrArtifactCorrupt   = errors.New("artifact corrupt")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrUnknownCategory is never returned by Assign. Unseen categories are
	// mapped to UnknownOrdinal and counted instead.
	ErrUnknownCategory = errors.New("unknown category")
)

// ArtifactCorruptError reports an artifact that cannot be decoded or that
// does not match the runtime feature schema.
type ArtifactCorruptError struct {
	Reason string
	Err    error
}

func (e *ArtifactCorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("artifact corrupt: %s: %v", e.Reason, e.Err)
	}
	return "artifact corrupt: " + e.Reason
}

func (e *ArtifactCorruptError) Unwrap() error { return ErrArtifactCorrupt }

// DimensionMismatchError reports a featurized record whose columns differ
// from the fitted schema.
type DimensionMismatchError struct {
	Index   int
	Missing []string
	Extra   []string
}

func (e *DimensionMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dimension mismatch at record %d", e.Index)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ","))
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&b, ": unexpected %s", strings.Join(e.Extra, ","))
	}
	return b.String()
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// RecordError reports a featurized record whose values could not be read.
// Err wraps the customer error kind.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string { return fmt.Sprintf("record %d: %v", e.Index, e.Err) }

func (e *RecordError) Unwrap() error { return e.Err }

func corrupt(reason string, err error) error {
	return &ArtifactCorruptError{Reason: reason, Err: err}
}
