// Package overlay draws recognition results onto frames.
package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/andresmejia3/rollcall/internal/stream"
)

var (
	MatchColor  = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	RejectColor = color.RGBA{R: 220, G: 0, B: 0, A: 255}
	LabelColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Options controls Annotate.
type Options struct {
	Thickness int
	// PixelateUnknown hides faces that did not match anyone.
	PixelateUnknown bool
	BlockSize       int
}

// DefaultOptions draws 2px boxes and leaves unknown faces visible.
var DefaultOptions = Options{Thickness: 2, BlockSize: 12}

// Annotate returns a copy of frame with the emission's face box and label drawn on it.
// Frames without a face are copied unchanged.
func Annotate(frame image.Image, e stream.Emission, opts Options) *image.RGBA {
	b := frame.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, b.Min, draw.Src)

	if e.Outcome == stream.NoFace {
		return dst
	}

	rect := e.Region.Rect()
	if !e.Matched() {
		if opts.PixelateUnknown {
			Pixelate(dst, rect, opts.BlockSize)
		}
		DrawBox(dst, rect, RejectColor, opts.Thickness)
		return dst
	}

	DrawBox(dst, rect, MatchColor, opts.Thickness)
	DrawLabel(dst, image.Pt(rect.Min.X, rect.Max.Y), e.Label(), MatchColor)
	return dst
}

// DrawBox strokes the outline of rect with thickness pixels, clipped to img.
func DrawBox(img *image.RGBA, rect image.Rectangle, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	fill(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+thickness), c)
	fill(img, image.Rect(rect.Min.X, rect.Max.Y-thickness, rect.Max.X, rect.Max.Y), c)
	fill(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+thickness, rect.Max.Y), c)
	fill(img, image.Rect(rect.Max.X-thickness, rect.Min.Y, rect.Max.X, rect.Max.Y), c)
}

// DrawLabel writes text on a filled banner whose top-left corner is at.
func DrawLabel(img *image.RGBA, at image.Point, text string, bg color.RGBA) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(LabelColor), Face: face}
	width := d.MeasureString(text).Ceil()
	height := face.Metrics().Height.Ceil()

	banner := image.Rect(at.X, at.Y, at.X+width+4, at.Y+height+4)
	fill(img, banner, bg)

	d.Dot = fixed.P(at.X+2, at.Y+2+face.Metrics().Ascent.Ceil())
	d.DrawString(text)
}

// Pixelate replaces rect with blocks of their average color.
func Pixelate(img *image.RGBA, rect image.Rectangle, block int) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	if block < 1 {
		block = 1
	}

	stride := img.Stride
	pix := img.Pix
	imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y

	for by := rect.Min.Y; by < rect.Max.Y; by += block {
		for bx := rect.Min.X; bx < rect.Max.X; bx += block {
			cell := image.Rect(bx, by, bx+block, by+block).Intersect(rect)

			var r, g, b, count uint64
			for y := cell.Min.Y; y < cell.Max.Y; y++ {
				rowStart := (y-imgMinY)*stride + (cell.Min.X-imgMinX)*4
				for x := 0; x < cell.Dx(); x++ {
					off := rowStart + x*4
					r += uint64(pix[off])
					g += uint64(pix[off+1])
					b += uint64(pix[off+2])
					count++
				}
			}
			fill(img, cell, color.RGBA{R: uint8(r / count), G: uint8(g / count), B: uint8(b / count), A: 255})
		}
	}
}

// fill paints rect (clipped to img) with c by writing Pix directly.
func fill(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	stride := img.Stride
	pix := img.Pix
	imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := (y-imgMinY)*stride + (rect.Min.X-imgMinX)*4
		for x := 0; x < rect.Dx(); x++ {
			off := rowStart + x*4
			pix[off] = c.R
			pix[off+1] = c.G
			pix[off+2] = c.B
			pix[off+3] = c.A
		}
	}
}
