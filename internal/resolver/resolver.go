// Package resolver ranks a probe embedding against the enrollment gallery.
package resolver

import (
	"context"
	"sort"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// Gallery is the subset of the enrollment gallery the resolver needs.
type Gallery interface {
	Enroll(ctx context.Context, identity string, emb attendance.Embedding, imagePath string) error
	Snapshot() []gallery.Entry
}

// Resolver matches probes against enrolled identities.
type Resolver struct {
	gallery Gallery
	metric  Metric
}

// New creates a resolver over a gallery.
func New(g Gallery, metric Metric) *Resolver {
	if metric == "" {
		metric = Euclidean
	}
	return &Resolver{gallery: g, metric: metric}
}

// Metric returns the distance metric in use.
func (r *Resolver) Metric() Metric {
	return r.metric
}

// Enroll appends an embedding to an identity.
func (r *Resolver) Enroll(ctx context.Context, identity string, emb attendance.Embedding, imagePath string) error {
	return r.gallery.Enroll(ctx, identity, emb, imagePath)
}

// Match ranks every enrolled identity by its best similarity to the probe.
// The result is sorted by descending confidence; ties keep gallery order.
// An empty gallery is attendance.ErrNoEnrolledIdentities, never an empty list.
func (r *Resolver) Match(probe attendance.Embedding, threshold float64) ([]attendance.MatchResult, error) {
	entries := r.gallery.Snapshot()
	if len(entries) == 0 {
		return nil, attendance.ErrNoEnrolledIdentities
	}

	results := make([]attendance.MatchResult, 0, len(entries))
	for _, e := range entries {
		conf := r.BestSimilarity(e.Embeddings, probe)
		results = append(results, attendance.MatchResult{
			Identity:        e.Identity,
			Confidence:      conf,
			PassesThreshold: conf >= threshold,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results, nil
}

// BestSimilarity is the maximum similarity between the probe and any of the
// embeddings, or 0 for none.
func (r *Resolver) BestSimilarity(embeddings []attendance.Embedding, probe attendance.Embedding) float64 {
	best := 0.0
	for _, e := range embeddings {
		if s := r.metric.Similarity(e, probe); s > best {
			best = s
		}
	}
	return best
}

// Top returns at most n results from a ranking.
func Top(results []attendance.MatchResult, n int) []attendance.MatchResult {
	if len(results) <= n {
		return results
	}
	return results[:n]
}
