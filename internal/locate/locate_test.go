package locate

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine returns fixed regions and derives each embedding from its region
// so tests can tell faces apart.
type fakeEngine struct {
	regions     []types.Region
	detectErr   error
	landmarkErr error

	detectSizes  []image.Point
	landmarkArgs []types.Region
}

func (f *fakeEngine) Detect(ctx context.Context, img *image.RGBA) ([]types.Region, error) {
	f.detectSizes = append(f.detectSizes, img.Bounds().Size())
	return f.regions, f.detectErr
}

func (f *fakeEngine) Landmarks(ctx context.Context, img *image.RGBA, r types.Region) (types.Shape, error) {
	f.landmarkArgs = append(f.landmarkArgs, r)
	if f.landmarkErr != nil {
		return types.Shape{}, f.landmarkErr
	}
	return types.Shape{Region: r, Points: []image.Point{r.Center()}}, nil
}

func (f *fakeEngine) Descriptor(ctx context.Context, img *image.RGBA, s types.Shape) (types.Embedding, error) {
	return types.Embedding{float32(s.Region.Left), float32(s.Region.Top)}, nil
}

func (f *fakeEngine) Close() error { return nil }

func TestLocateFromFrame(t *testing.T) {
	eng := &fakeEngine{regions: []types.Region{
		{Left: 10, Top: 20, Right: 50, Bottom: 60},
		{Left: 70, Top: 5, Right: 90, Bottom: 30},
	}}
	l := New(eng)

	faces, err := l.LocateFromFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 80)))
	require.NoError(t, err)
	require.Len(t, faces, 2)

	assert.Equal(t, eng.regions[0], faces[0].Region)
	assert.Equal(t, types.Embedding{10, 20}, faces[0].Embedding)
	assert.Equal(t, eng.regions[1], faces[1].Region)
	assert.Equal(t, types.Embedding{70, 5}, faces[1].Embedding)
}

func TestLocateFromFrame_NoFaces(t *testing.T) {
	faces, err := New(&fakeEngine{}).LocateFromFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	require.NoError(t, err)
	assert.NotNil(t, faces)
	assert.Empty(t, faces)
}

func TestLocateFromFrame_EngineErrors(t *testing.T) {
	boom := errors.New("model crashed")

	_, err := New(&fakeEngine{detectErr: boom}).LocateFromFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	assert.ErrorIs(t, err, boom)

	eng := &fakeEngine{regions: []types.Region{{Right: 5, Bottom: 5}}, landmarkErr: boom}
	_, err = New(eng).LocateFromFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	assert.ErrorIs(t, err, boom)
}

func TestLocateFromFrame_DetectWidth(t *testing.T) {
	eng := &fakeEngine{regions: []types.Region{{Left: 10, Top: 10, Right: 20, Bottom: 20}}}
	l := New(eng, WithDetectWidth(200))

	faces, err := l.LocateFromFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 800, 600)))
	require.NoError(t, err)

	require.Len(t, eng.detectSizes, 1)
	assert.Equal(t, image.Pt(200, 150), eng.detectSizes[0])

	// Regions are mapped back to full resolution before landmarks run
	want := types.Region{Left: 40, Top: 40, Right: 80, Bottom: 80}
	assert.Equal(t, []types.Region{want}, eng.landmarkArgs)
	assert.Equal(t, want, faces[0].Region)
}

func TestLocateFromFrame_SmallFrameNotScaled(t *testing.T) {
	eng := &fakeEngine{}
	_, err := New(eng, WithDetectWidth(640)).LocateFromFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 320, 240)))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(320, 240), eng.detectSizes[0])
}

func TestLocateFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	img := image.NewNRGBA(image.Rect(0, 0, 16, 12))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	eng := &fakeEngine{regions: []types.Region{{Left: 1, Top: 2, Right: 3, Bottom: 4}}}
	faces, err := New(eng).LocateFromPath(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.Equal(t, image.Pt(16, 12), eng.detectSizes[0])

	_, err = New(eng).LocateFromPath(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestToRGBA(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	assert.Same(t, src, ToRGBA(src), "origin-anchored RGBA is used as-is")

	sub := src.SubImage(image.Rect(1, 1, 3, 3))
	out := ToRGBA(sub)
	assert.Equal(t, image.Rect(0, 0, 2, 2), out.Bounds())

	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.Set(0, 0, color.Gray{Y: 200})
	out = ToRGBA(gray)
	r, g, b, _ := out.At(0, 0).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
	assert.Equal(t, uint32(200*0x101), r)
}
