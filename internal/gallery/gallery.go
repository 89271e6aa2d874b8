// Package gallery holds the enrolled identities and the nearest-neighbor
// index built over their embeddings. A Gallery is immutable once built; a
// refresh is a full rebuild from the source followed by a swap at the caller.
package gallery

import (
	"context"
	"errors"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Record is one enrolled (identity, embedding) pair as produced by a Source.
type Record struct {
	Identity  string
	Embedding types.Embedding
}

// Source produces the enrollment records a gallery is built from.
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}

// IndexKind selects the index implementation.
type IndexKind string

const (
	IndexFlat IndexKind = "flat"
	IndexHNSW IndexKind = "hnsw"
)

// Options controls how a gallery is built.
type Options struct {
	Dim        int
	AllowEmpty bool
	Kind       IndexKind
	M          int
	EfSearch   int
}

// Gallery is the ordered identity list plus the index over the matching embeddings.
// Position i in the index corresponds to Identity(i).
type Gallery struct {
	dim        int
	identities []string
	index      Index
}

// Load scans src once and builds a gallery from its records.
func Load(ctx context.Context, src Source, opts Options) (*Gallery, error) {
	records, err := src.Records(ctx)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return nil, err
		}
		return nil, &LoadError{Err: err}
	}
	if len(records) == 0 && !opts.AllowEmpty {
		return nil, &LoadError{Err: ErrEmptyGallery}
	}
	return Build(records, opts)
}

// Build validates records and indexes them in order. Empty input is valid and
// yields a gallery that matches nothing.
func Build(records []Record, opts Options) (*Gallery, error) {
	if opts.Dim < 1 {
		return nil, &LoadError{Err: errors.New("gallery dimension must be positive")}
	}

	seen := make(map[string]struct{}, len(records))
	identities := make([]string, 0, len(records))
	vectors := make([][]float32, 0, len(records))

	for _, r := range records {
		if r.Identity == "" {
			return nil, &LoadError{Entry: r.Identity, Err: ErrMalformedRecord}
		}
		if len(r.Embedding) != opts.Dim {
			return nil, &LoadError{Entry: r.Identity, Err: ErrDimensionMismatch}
		}
		if _, dup := seen[r.Identity]; dup {
			return nil, &LoadError{Entry: r.Identity, Err: ErrDuplicateIdentity}
		}
		seen[r.Identity] = struct{}{}

		vec := make([]float32, opts.Dim)
		copy(vec, r.Embedding)
		identities = append(identities, r.Identity)
		vectors = append(vectors, vec)
	}

	var idx Index
	switch opts.Kind {
	case IndexHNSW:
		m := opts.M
		if m < 2 {
			m = 16
		}
		idx = NewHNSWIndex(opts.Dim, vectors, m, opts.EfSearch)
	default:
		idx = NewFlatIndex(opts.Dim, vectors)
	}

	return &Gallery{dim: opts.Dim, identities: identities, index: idx}, nil
}

// Len returns the number of enrolled identities.
func (g *Gallery) Len() int { return len(g.identities) }

// Dim returns the embedding length every query must have.
func (g *Gallery) Dim() int { return g.dim }

// Index returns the nearest-neighbor index over the gallery's embeddings.
func (g *Gallery) Index() Index { return g.index }

// Identity returns the identity stored at index position pos.
func (g *Gallery) Identity(pos int) string { return g.identities[pos] }

// Identities returns a copy of the identity sequence, in index position order.
func (g *Gallery) Identities() []string {
	out := make([]string, len(g.identities))
	copy(out, g.identities)
	return out
}
