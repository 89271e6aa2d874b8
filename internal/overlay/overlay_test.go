package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andresmejia3/rollcall/internal/stream"
	"github.com/andresmejia3/rollcall/internal/types"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

var gray = color.RGBA{R: 100, G: 100, B: 100, A: 255}

func TestDrawBox(t *testing.T) {
	img := solid(20, 20, gray)
	DrawBox(img, image.Rect(5, 5, 15, 15), MatchColor, 2)

	assert.Equal(t, MatchColor, img.RGBAAt(5, 5), "corner")
	assert.Equal(t, MatchColor, img.RGBAAt(6, 10), "left edge, inner pixel of the stroke")
	assert.Equal(t, MatchColor, img.RGBAAt(14, 14), "bottom right")
	assert.Equal(t, gray, img.RGBAAt(10, 10), "interior untouched")
	assert.Equal(t, gray, img.RGBAAt(4, 4), "outside untouched")
}

func TestDrawBox_ClipsToImage(t *testing.T) {
	img := solid(10, 10, gray)
	assert.NotPanics(t, func() {
		DrawBox(img, image.Rect(-5, -5, 50, 50), RejectColor, 3)
	})
	assert.Equal(t, gray, img.RGBAAt(5, 5))
}

func TestPixelate(t *testing.T) {
	img := solid(4, 4, gray)
	img.SetRGBA(0, 0, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	img.SetRGBA(1, 1, color.RGBA{R: 0, G: 0, B: 0, A: 255})

	Pixelate(img, image.Rect(0, 0, 2, 2), 2)

	// (200 + 0 + 100 + 100) / 4 = 100
	for _, p := range []image.Point{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		assert.Equal(t, gray, img.RGBAAt(p.X, p.Y), "pixel %v", p)
	}
}

func TestAnnotate(t *testing.T) {
	frame := solid(120, 80, gray)
	region := types.Region{Left: 10, Top: 10, Right: 50, Bottom: 50}

	t.Run("no face is an unchanged copy", func(t *testing.T) {
		out := Annotate(frame, stream.Emission{Outcome: stream.NoFace}, DefaultOptions)
		assert.Equal(t, frame.Pix, out.Pix)
		out.Pix[0] = 0
		assert.Equal(t, uint8(100), frame.Pix[0], "source frame must not be modified")
	})

	t.Run("match draws green box and label", func(t *testing.T) {
		em := stream.Emission{Outcome: stream.Accepted, Faces: 1, Region: region, Identity: "alice", Distance: 0.2}
		out := Annotate(frame, em, DefaultOptions)
		assert.Equal(t, MatchColor, out.RGBAAt(10, 10))
		// The label banner hangs below the box.
		assert.NotEqual(t, gray, out.RGBAAt(12, 52))
		assert.Equal(t, gray, frame.RGBAAt(10, 10))
	})

	t.Run("reject draws red box without label", func(t *testing.T) {
		em := stream.Emission{Outcome: stream.Rejected, Faces: 1, Region: region}
		out := Annotate(frame, em, DefaultOptions)
		assert.Equal(t, RejectColor, out.RGBAAt(10, 10))
		assert.Equal(t, gray, out.RGBAAt(12, 52))
	})
}

func TestDrawLabel_EmptyText(t *testing.T) {
	img := solid(30, 30, gray)
	DrawLabel(img, image.Pt(0, 0), "", MatchColor)
	assert.Equal(t, gray, img.RGBAAt(0, 0))
}
