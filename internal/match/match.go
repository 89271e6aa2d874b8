// Package match turns an embedding into an accept/reject decision against the
// current gallery.
package match

import (
	"errors"
	"sync/atomic"

	"github.com/andresmejia3/rollcall/internal/gallery"
	"github.com/andresmejia3/rollcall/internal/types"
)

// Decision is the outcome of matching one embedding. Identity and Distance are
// only set when Accepted is true.
type Decision struct {
	Identity string
	Distance float64
	Accepted bool
}

// Confidence is 1 - Distance. It is a display value only and is not clamped,
// so it goes negative for distances above 1.
func (d Decision) Confidence() float64 {
	return 1 - d.Distance
}

// Matcher performs 1-NN lookups with a strict distance threshold.
// The gallery can be swapped while matches are in flight.
type Matcher struct {
	gallery   atomic.Pointer[gallery.Gallery]
	threshold float64
}

// New returns a Matcher over g accepting distances strictly below threshold.
func New(g *gallery.Gallery, threshold float64) *Matcher {
	m := &Matcher{threshold: threshold}
	m.gallery.Store(g)
	return m
}

// Swap replaces the gallery used by subsequent matches.
func (m *Matcher) Swap(g *gallery.Gallery) {
	m.gallery.Store(g)
}

// Gallery returns the gallery currently in use.
func (m *Matcher) Gallery() *gallery.Gallery {
	return m.gallery.Load()
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match finds the nearest enrolled embedding and accepts it if its distance
// is strictly below the threshold. An empty gallery never matches.
func (m *Matcher) Match(emb types.Embedding) (Decision, error) {
	g := m.gallery.Load()
	if g == nil {
		return Decision{}, errors.New("matcher has no gallery")
	}

	ns, err := g.Index().Search(emb, 1)
	if err != nil {
		return Decision{}, err
	}
	if len(ns) == 0 {
		return Decision{}, nil
	}

	best := ns[0]
	if best.Distance < m.threshold {
		return Decision{Identity: g.Identity(best.Position), Distance: best.Distance, Accepted: true}, nil
	}
	return Decision{}, nil
}
