// Package capture provides frame sources for the stream loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// ErrFrameUnavailable is returned when a source cannot produce the next frame
// (camera unplugged, decoder crashed). It ends the stream.
var ErrFrameUnavailable = errors.New("frame unavailable")

// Source yields decoded frames. Next returns io.EOF when a finite source is
// exhausted. Close must be safe to call more than once and without a prior Open.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Spec describes where frames come from:
//
//	camera:<n>  capture device n (gocv when built with -tags gocv, else ffmpeg/v4l2)
//	dir:<path>  every image in a directory, in name order
//	<path|url>  anything ffmpeg can decode
type Spec string

// Kind returns the source kind and its argument.
func (s Spec) Kind() (kind, arg string) {
	if k, a, ok := strings.Cut(string(s), ":"); ok {
		switch k {
		case "camera", "dir":
			return k, a
		}
	}
	return "file", string(s)
}

// IsFile reports whether the spec names a finite file that can be probed for a frame count.
func (s Spec) IsFile() bool {
	k, arg := s.Kind()
	return k == "file" && !strings.Contains(arg, "://")
}

// New builds the Source described by spec.
func New(spec Spec) (Source, error) {
	kind, arg := spec.Kind()
	switch kind {
	case "camera":
		id, err := strconv.Atoi(arg)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid camera index %q", arg)
		}
		return newCamera(id), nil
	case "dir":
		return &DirSource{Dir: arg}, nil
	}
	if arg == "" {
		return nil, errors.New("empty frame source")
	}
	return &FFmpegSource{Input: arg}, nil
}
