package resolver

import (
	"sort"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// Lookalike is a pair of distinct identities whose closest embeddings are
// similar enough to be confused by the matcher.
type Lookalike struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	Similarity float64 `json:"similarity"`
}

type indexedEmbedding struct {
	identity  string
	embedding attendance.Embedding
}

// LookalikeIndex is an HNSW graph over every gallery embedding.
type LookalikeIndex struct {
	graph  *hnsw.Graph[int]
	nodes  []indexedEmbedding
	metric Metric
}

// BuildLookalikeIndex indexes the gallery snapshot. Embeddings whose dimension
// differs from the first one are skipped.
func BuildLookalikeIndex(entries []gallery.Entry, metric Metric) *LookalikeIndex {
	g := hnsw.NewGraph[int]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = constants.HNSWEfSearch
	if metric == Cosine {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}

	idx := &LookalikeIndex{graph: g, metric: metric}
	dim := 0
	for _, e := range entries {
		for _, emb := range e.Embeddings {
			if dim == 0 {
				dim = len(emb)
			}
			if len(emb) != dim || dim == 0 {
				continue
			}
			key := len(idx.nodes)
			idx.nodes = append(idx.nodes, indexedEmbedding{identity: e.Identity, embedding: emb})
			g.Add(hnsw.MakeNode(key, []float32(emb)))
		}
	}
	return idx
}

// Len returns the number of indexed embeddings.
func (l *LookalikeIndex) Len() int {
	return len(l.nodes)
}

// Pairs returns identity pairs whose nearest cross-identity similarity is at
// least threshold, strongest first. k neighbors are inspected per embedding.
func (l *LookalikeIndex) Pairs(threshold float64, k int) []Lookalike {
	if len(l.nodes) < 2 {
		return nil
	}
	if k <= 0 {
		k = constants.DefaultLookalikeNeighbors
	}

	best := make(map[[2]string]float64)
	for _, n := range l.nodes {
		for _, nb := range l.graph.Search([]float32(n.embedding), k+1) {
			other := l.nodes[nb.Key]
			if other.identity == n.identity {
				continue
			}
			sim := l.metric.Similarity(n.embedding, other.embedding)
			if sim < threshold {
				continue
			}
			key := [2]string{n.identity, other.identity}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}
			if sim > best[key] {
				best[key] = sim
			}
		}
	}

	pairs := make([]Lookalike, 0, len(best))
	for key, sim := range best {
		pairs = append(pairs, Lookalike{A: key[0], B: key[1], Similarity: sim})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Similarity != pairs[j].Similarity {
			return pairs[i].Similarity > pairs[j].Similarity
		}
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}
