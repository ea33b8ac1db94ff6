package resolver

import (
	"fmt"
	"math"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"gonum.org/v1/gonum/floats"
)

// Metric is the distance measure used by the embedding extractor.
type Metric string

const (
	// Euclidean is the L2 distance; dlib-style 128-d descriptors use it.
	Euclidean Metric = "euclidean"
	// Cosine is 1 - cosine similarity.
	Cosine Metric = "cosine"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case Euclidean, Cosine:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown distance metric %q", s)
}

// Distance returns the distance between two embeddings. Mismatched or empty
// vectors are infinitely far apart.
func (m Metric) Distance(a, b attendance.Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	x, y := toFloat64(a), toFloat64(b)

	switch m {
	case Cosine:
		na, nb := floats.Norm(x, 2), floats.Norm(y, 2)
		if na == 0 || nb == 0 {
			return 2.0 // Maximum distance for zero vectors
		}
		sim := floats.Dot(x, y) / (na * nb)
		// Clamp to [-1, 1] to handle floating point errors
		return 1 - math.Max(-1, math.Min(1, sim))
	default:
		return floats.Distance(x, y, 2)
	}
}

// Similarity maps distance into a confidence in [0,1]: 1 - distance, clamped.
func (m Metric) Similarity(a, b attendance.Embedding) float64 {
	d := m.Distance(a, b)
	if math.IsInf(d, 1) || math.IsNaN(d) {
		return 0
	}
	return math.Max(0, math.Min(1, 1-d))
}

func toFloat64(v attendance.Embedding) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
