package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
)

// DirSource replays the images in a directory as a finite stream.
type DirSource struct {
	Dir string

	files []string
	next  int
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}

func (d *DirSource) Open(ctx context.Context) error {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return err
	}
	d.files = d.files[:0]
	for _, e := range entries {
		if !e.IsDir() && isImage(e.Name()) {
			d.files = append(d.files, filepath.Join(d.Dir, e.Name()))
		}
	}
	d.next = 0
	return nil
}

// Len returns the number of frames found by Open.
func (d *DirSource) Len() int { return len(d.files) }

func (d *DirSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.next >= len(d.files) {
		return nil, io.EOF
	}
	path := d.files[d.next]
	d.next++

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrFrameUnavailable, filepath.Base(path), err)
	}
	return img, nil
}

func (d *DirSource) Close() error {
	d.files = nil
	return nil
}
