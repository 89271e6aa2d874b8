//go:build dlib

package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	face "github.com/Kagami/go-face"

	"github.com/andresmejia3/rollcall/internal/locate"
	"github.com/andresmejia3/rollcall/internal/types"
)

// DlibEngine runs dlib in-process through cgo. go-face computes regions,
// shapes and descriptors in a single pass, so results are cached per frame
// and the Landmarks/Descriptor calls look them up.
type DlibEngine struct {
	rec *face.Recognizer
	cnn bool

	mu     sync.Mutex
	frame  *image.RGBA
	faces  []face.Face
	closed bool
}

// NewDlibEngine loads the dlib models from modelsDir. cnn selects the CNN
// face detector, which is slower but finds more off-angle faces.
func NewDlibEngine(modelsDir string, cnn bool) (*DlibEngine, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, &StartError{Err: err}
	}
	return &DlibEngine{rec: rec, cnn: cnn}, nil
}

func openDlib(ctx context.Context, modelsDir string, cnn bool) (locate.Engine, error) {
	return NewDlibEngine(modelsDir, cnn)
}

func (d *DlibEngine) recognize(img *image.RGBA) ([]face.Face, error) {
	if d.frame == img {
		return d.faces, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	var (
		faces []face.Face
		err   error
	)
	if d.cnn {
		faces, err = d.rec.RecognizeCNN(buf.Bytes())
	} else {
		faces, err = d.rec.Recognize(buf.Bytes())
	}
	if err != nil {
		return nil, err
	}
	d.frame, d.faces = img, faces
	return faces, nil
}

// lookup returns the cached face whose center is closest to r.
func (d *DlibEngine) lookup(img *image.RGBA, r types.Region) (face.Face, error) {
	faces, err := d.recognize(img)
	if err != nil {
		return face.Face{}, err
	}
	if len(faces) == 0 {
		return face.Face{}, fmt.Errorf("no face near %s", r)
	}

	c := r.Center()
	best, bestDist := 0, -1
	for i, f := range faces {
		fc := types.RegionFromRect(f.Rectangle).Center()
		dx, dy := fc.X-c.X, fc.Y-c.Y
		if dist := dx*dx + dy*dy; bestDist < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return faces[best], nil
}

func (d *DlibEngine) Detect(ctx context.Context, img *image.RGBA) ([]types.Region, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	faces, err := d.recognize(img)
	if err != nil {
		return nil, err
	}
	regions := make([]types.Region, len(faces))
	for i, f := range faces {
		regions[i] = types.RegionFromRect(f.Rectangle)
	}
	return regions, nil
}

func (d *DlibEngine) Landmarks(ctx context.Context, img *image.RGBA, r types.Region) (types.Shape, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := d.lookup(img, r)
	if err != nil {
		return types.Shape{}, err
	}
	return types.Shape{Region: r, Points: f.Shapes}, nil
}

func (d *DlibEngine) Descriptor(ctx context.Context, img *image.RGBA, s types.Shape) (types.Embedding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := d.lookup(img, s.Region)
	if err != nil {
		return nil, err
	}
	emb := make(types.Embedding, len(f.Descriptor))
	copy(emb, f.Descriptor[:])
	return emb, nil
}

func (d *DlibEngine) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.rec.Close()
	}
	return nil
}
