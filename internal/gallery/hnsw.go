package gallery

import (
	"fmt"

	"github.com/coder/hnsw"
)

// HNSWIndex is an approximate index backed by an HNSW graph. Distances
// reported by Search are recomputed exactly, so only recall is approximate.
type HNSWIndex struct {
	dim     int
	graph   *hnsw.Graph[int]
	vectors [][]float32
}

// NewHNSWIndex builds a graph over vectors using squared Euclidean distance.
// m is the maximum neighbor count per node and efSearch the search beam width.
func NewHNSWIndex(dim int, vectors [][]float32, m, efSearch int) *HNSWIndex {
	h := &HNSWIndex{dim: dim, vectors: vectors}
	if len(vectors) == 0 {
		return h
	}

	g := hnsw.NewGraph[int]()
	if m > 1 {
		g.M = m
		g.Ml = levelFactor(m)
	}
	if efSearch > 0 {
		g.EfSearch = efSearch
	}
	g.Distance = squaredL2Distance

	for i, v := range vectors {
		g.Add(hnsw.MakeNode(i, v))
	}
	h.graph = g
	return h
}

// levelFactor is the per-layer promotion probability coder/hnsw expects in Ml.
// 1/M is the paper's mL = 1/ln(M) expressed as that probability.
func levelFactor(m int) float64 {
	return 1.0 / float64(m)
}

func squaredL2Distance(a, b []float32) float32 {
	return float32(SquaredL2(a, b))
}

func (h *HNSWIndex) Len() int { return len(h.vectors) }
func (h *HNSWIndex) Dim() int { return h.dim }

func (h *HNSWIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: query has %d components, index has %d", ErrDimensionMismatch, len(query), h.dim)
	}
	if k <= 0 || h.graph == nil {
		return nil, nil
	}

	nodes := h.graph.Search(query, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Neighbor{Position: n.Key, Distance: SquaredL2(query, h.vectors[n.Key])})
	}
	sortNeighbors(out)
	return out, nil
}
