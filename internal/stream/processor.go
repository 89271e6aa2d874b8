package stream

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/types"
)

// Locator finds faces and their embeddings in a frame.
type Locator interface {
	LocateFromFrame(ctx context.Context, frame image.Image) ([]types.Face, error)
}

// Matcher decides whether an embedding belongs to an enrolled identity.
type Matcher interface {
	Match(emb types.Embedding) (match.Decision, error)
}

// Processor runs one frame through locate, match and debounce.
type Processor struct {
	locator  Locator
	matcher  Matcher
	interval time.Duration
}

// NewProcessor returns a Processor that suppresses repeat emissions within interval.
func NewProcessor(l Locator, m Matcher, interval time.Duration) *Processor {
	return &Processor{locator: l, matcher: m, interval: interval}
}

// Process handles one frame. Only the first located face is matched; the
// others are counted in Emission.Faces but otherwise ignored.
func (p *Processor) Process(ctx context.Context, frame image.Image, st State, now time.Time) (Emission, State, error) {
	faces, err := p.locator.LocateFromFrame(ctx, frame)
	if err != nil {
		return Emission{}, st, fmt.Errorf("locate faces: %w", err)
	}

	res := Result{Faces: len(faces)}
	if len(faces) > 0 {
		first := faces[0]
		d, err := p.matcher.Match(first.Embedding)
		if err != nil {
			return Emission{}, st, fmt.Errorf("match face: %w", err)
		}
		res.Region = first.Region
		res.Decision = d
	}

	em, next := Decide(res, st, now, p.interval)
	return em, next, nil
}
