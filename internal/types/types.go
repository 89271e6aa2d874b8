package types

import (
	"fmt"
	"image"
	"math"
)

// Region is a face bounding box in frame pixel coordinates.
type Region struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// RegionFromRect converts an image.Rectangle into a Region.
func RegionFromRect(r image.Rectangle) Region {
	return Region{Left: r.Min.X, Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y}
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// Scale multiplies every coordinate by f, rounding to the nearest pixel.
// Used to map regions found on a downscaled frame back onto the original.
func (r Region) Scale(f float64) Region {
	if f == 1 {
		return r
	}
	return Region{
		Left:   int(math.Round(float64(r.Left) * f)),
		Top:    int(math.Round(float64(r.Top) * f)),
		Right:  int(math.Round(float64(r.Right) * f)),
		Bottom: int(math.Round(float64(r.Bottom) * f)),
	}
}

// Center returns the midpoint of the region.
func (r Region) Center() image.Point {
	return image.Pt((r.Left+r.Right)/2, (r.Top+r.Bottom)/2)
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.Left, r.Top, r.Right, r.Bottom)
}

// Embedding is a fixed-length facial descriptor (128-d for the dlib ResNet model).
type Embedding []float32

// Shape holds the landmark points located for a single face region.
type Shape struct {
	Region Region
	Points []image.Point
}

// Face pairs a located region with the embedding computed for it.
type Face struct {
	Region    Region
	Embedding Embedding
}
