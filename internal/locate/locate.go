// Package locate finds faces in a frame and computes their embeddings by
// driving an external detection/landmark/descriptor Engine.
package locate

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/andresmejia3/rollcall/internal/types"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Engine is the pretrained face capability. Implementations receive frames in
// RGBA channel order.
type Engine interface {
	// Detect returns face regions in img coordinates, in the engine's order.
	Detect(ctx context.Context, img *image.RGBA) ([]types.Region, error)
	// Landmarks locates the facial shape inside region r of img.
	Landmarks(ctx context.Context, img *image.RGBA, r types.Region) (types.Shape, error)
	// Descriptor computes the embedding for a located shape.
	Descriptor(ctx context.Context, img *image.RGBA, s types.Shape) (types.Embedding, error)
	Close() error
}

// Locator runs region -> landmarks -> descriptor for every face in a frame.
type Locator struct {
	engine      Engine
	detectWidth int
}

// Option configures a Locator.
type Option func(*Locator)

// WithDetectWidth downscales frames wider than w before detection. Regions are
// mapped back to full-frame coordinates and landmarks run on the full frame.
func WithDetectWidth(w int) Option {
	return func(l *Locator) { l.detectWidth = w }
}

// New returns a Locator backed by engine.
func New(engine Engine, opts ...Option) *Locator {
	l := &Locator{engine: engine}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LocateFromPath decodes the image at path (JPEG, PNG or WebP) and locates its faces.
func (l *Locator) LocateFromPath(ctx context.Context, path string) ([]types.Face, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return l.LocateFromFrame(ctx, img)
}

// LocateFromFrame returns one Face per detected region, in detection order.
// A frame without faces yields an empty slice and no error.
func (l *Locator) LocateFromFrame(ctx context.Context, frame image.Image) ([]types.Face, error) {
	rgba := ToRGBA(frame)

	detectImg, scale := rgba, 1.0
	if w := rgba.Bounds().Dx(); l.detectWidth > 0 && w > l.detectWidth {
		detectImg = Downscale(rgba, l.detectWidth)
		scale = float64(w) / float64(detectImg.Bounds().Dx())
	}

	regions, err := l.engine.Detect(ctx, detectImg)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	faces := make([]types.Face, 0, len(regions))
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r = r.Scale(scale)

		shape, err := l.engine.Landmarks(ctx, rgba, r)
		if err != nil {
			return nil, fmt.Errorf("landmarks for %s: %w", r, err)
		}
		emb, err := l.engine.Descriptor(ctx, rgba, shape)
		if err != nil {
			return nil, fmt.Errorf("descriptor for %s: %w", r, err)
		}
		faces = append(faces, types.Face{Region: r, Embedding: emb})
	}
	return faces, nil
}

// ToRGBA returns img as an *image.RGBA anchored at the origin, copying only when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Downscale resizes img to width w, keeping the aspect ratio.
func Downscale(img *image.RGBA, w int) *image.RGBA {
	b := img.Bounds()
	h := b.Dy() * w / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
