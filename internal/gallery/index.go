package gallery

import (
	"fmt"
	"sort"
)

// Neighbor is a single search hit: the position of the stored vector and its
// squared Euclidean distance to the query.
type Neighbor struct {
	Position int
	Distance float64
}

// Index answers k-nearest-neighbor queries over the gallery's vectors.
// Positions refer to the order vectors were added in.
type Index interface {
	Search(query []float32, k int) ([]Neighbor, error)
	Len() int
	Dim() int
}

// SquaredL2 returns the sum of squared component differences of a and b.
// Accumulation is done in float64. Callers must pass equal-length vectors.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// FlatIndex is an exact brute-force index under squared Euclidean distance.
type FlatIndex struct {
	dim     int
	vectors [][]float32
}

// NewFlatIndex builds an exact index over vectors. The slice is retained, not copied.
func NewFlatIndex(dim int, vectors [][]float32) *FlatIndex {
	return &FlatIndex{dim: dim, vectors: vectors}
}

func (f *FlatIndex) Len() int { return len(f.vectors) }
func (f *FlatIndex) Dim() int { return f.dim }

// Search scans every stored vector. Ties are broken by position so results are deterministic.
func (f *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d components, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}

	all := make([]Neighbor, len(f.vectors))
	for i, v := range f.vectors {
		all[i] = Neighbor{Position: i, Distance: SquaredL2(query, v)}
	}
	sortNeighbors(all)

	if k > len(all) {
		k = len(all)
	}
	return all[:k], nil
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].Position < ns[j].Position
	})
}
