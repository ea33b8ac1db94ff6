package resolver

import (
	"math"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

func TestMetric_Similarity(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		a, b   attendance.Embedding
		want   float64
	}{
		{"euclidean identical", Euclidean, attendance.Embedding{1, 2, 3}, attendance.Embedding{1, 2, 3}, 1},
		{"euclidean distance 0.3", Euclidean, attendance.Embedding{0, 0}, attendance.Embedding{0.3, 0}, 0.7},
		{"euclidean clamped at zero", Euclidean, attendance.Embedding{0, 0}, attendance.Embedding{3, 4}, 0},
		{"cosine identical direction", Cosine, attendance.Embedding{1, 1}, attendance.Embedding{2, 2}, 1},
		{"cosine orthogonal", Cosine, attendance.Embedding{1, 0}, attendance.Embedding{0, 1}, 0},
		{"cosine opposite clamped", Cosine, attendance.Embedding{1, 0}, attendance.Embedding{-1, 0}, 0},
		{"cosine zero vector", Cosine, attendance.Embedding{0, 0}, attendance.Embedding{1, 0}, 0},
		{"dimension mismatch", Euclidean, attendance.Embedding{1, 0}, attendance.Embedding{1, 0, 0}, 0},
		{"empty", Euclidean, attendance.Embedding{}, attendance.Embedding{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.metric.Similarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("expected %.4f, got %.4f", tt.want, got)
			}
			if got < 0 || got > 1 {
				t.Errorf("similarity %.4f outside [0,1]", got)
			}
		})
	}
}

func TestMetric_SimilarityMonotonicInDistance(t *testing.T) {
	probe := attendance.Embedding{0, 0}
	prev := 2.0
	for _, x := range []float32{0, 0.1, 0.2, 0.4, 0.8} {
		s := Euclidean.Similarity(probe, attendance.Embedding{x, 0})
		if s > prev {
			t.Errorf("similarity increased with distance at %.1f: %.3f > %.3f", x, s, prev)
		}
		prev = s
	}
}

func TestParseMetric(t *testing.T) {
	if m, err := ParseMetric("cosine"); err != nil || m != Cosine {
		t.Errorf("expected cosine, got %q (%v)", m, err)
	}
	if _, err := ParseMetric("manhattan"); err == nil {
		t.Error("expected error for unknown metric")
	}
}
