// Package facematch implements the identity matching core: distance metrics
// over face embeddings, per-model decision thresholds, gallery ranking, and
// pairwise verification. The package never touches pixels; it consumes
// fixed-length vectors produced by an external embedding extractor.
package facematch

import (
	"fmt"
	"math"
)

// Metric identifies a distance function between two embeddings.
type Metric string

// Supported metrics.
const (
	MetricCosine      Metric = "cosine"
	MetricEuclidean   Metric = "euclidean"
	MetricEuclideanL2 Metric = "euclidean_l2"
)

// Metrics returns the supported metrics in canonical order.
func Metrics() []Metric {
	return []Metric{MetricCosine, MetricEuclidean, MetricEuclideanL2}
}

// ParseMetric validates a metric name coming from user input (flags, API
// request fields).
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case MetricCosine, MetricEuclidean, MetricEuclideanL2:
		return Metric(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}

func (m Metric) String() string {
	return string(m)
}

// Distance computes the dissimilarity of two embeddings under the given
// metric. Both vectors must have the same dimensionality. The computation is
// pure: no state is read beyond the arguments.
func Distance(a, b []float32, metric Metric) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{A: len(a), B: len(b)}
	}
	switch metric {
	case MetricCosine:
		return cosineDistance(a, b)
	case MetricEuclidean:
		return euclideanDistance(a, b), nil
	case MetricEuclideanL2:
		return euclideanL2Distance(a, b)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
}

// cosineDistance returns 1 - cos(a, b), a value in [0, 2].
func cosineDistance(a, b []float32) (float64, error) {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, ErrDegenerateVector
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to absorb floating point drift.
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return 1 - similarity, nil
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// euclideanL2Distance divides each vector by its own L2 norm before
// measuring euclidean distance between them.
func euclideanL2Distance(a, b []float32) (float64, error) {
	normA, ok := l2Norm(a)
	if !ok {
		return 0, ErrDegenerateVector
	}
	normB, ok := l2Norm(b)
	if !ok {
		return 0, ErrDegenerateVector
	}
	var sum float64
	for i := range a {
		d := float64(a[i])/normA - float64(b[i])/normB
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// l2Norm reports the euclidean norm of v and whether it is non-zero.
func l2Norm(v []float32) (float64, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return 0, false
	}
	return math.Sqrt(sum), true
}
