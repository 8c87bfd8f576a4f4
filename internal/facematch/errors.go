package facematch

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the matching core. Callers match them with
// errors.Is.
var (
	// ErrDegenerateVector is returned when a zero-norm vector meets a metric
	// that must normalize (cosine, euclidean_l2).
	ErrDegenerateVector = errors.New("zero-norm vector cannot be normalized")

	// ErrEmptyGallery is returned when a gallery yields no usable entries.
	ErrEmptyGallery = errors.New("gallery has no usable entries")

	// ErrInvalidTopK is returned when a ranking is requested with top_k < 1.
	ErrInvalidTopK = errors.New("top_k must be >= 1")

	// ErrUnknownMetric is returned for a metric name outside the supported set.
	ErrUnknownMetric = errors.New("unknown metric")
)

// DimensionMismatchError reports an attempt to compare embeddings of
// different dimensionality. Embeddings from different models never share a
// distance space, so the comparison is rejected instead of computed.
type DimensionMismatchError struct {
	A, B int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: %d vs %d", e.A, e.B)
}

// UnknownThresholdError reports a (model, metric) pair with no configured
// decision threshold. Thresholds are calibration data; an absent pair is a
// configuration error and is never silently defaulted.
type UnknownThresholdError struct {
	Model  string
	Metric Metric
}

func (e *UnknownThresholdError) Error() string {
	return fmt.Sprintf("no threshold configured for model %q with metric %q", e.Model, e.Metric)
}

// ModelMismatchError reports a query embedding attributed to a different
// model than the one the gallery was built with. Same-dimensional vectors
// from different models are numerically comparable but semantically
// meaningless, so the mismatch is rejected by name.
type ModelMismatchError struct {
	Want, Got string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("gallery built for model %q, query uses %q", e.Want, e.Got)
}
