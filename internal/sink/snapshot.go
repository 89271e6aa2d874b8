package sink

import (
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/rollcall/internal/overlay"
	"github.com/andresmejia3/rollcall/internal/stream"
)

// Snapshots saves an annotated JPEG every time an identity is freshly accepted.
type Snapshots struct {
	Dir     string
	Options overlay.Options
	Quality int
	Logger  *slog.Logger
}

// NewSnapshots creates dir if needed.
func NewSnapshots(dir string, opts overlay.Options, logger *slog.Logger) (*Snapshots, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Snapshots{Dir: dir, Options: opts, Quality: 90, Logger: logger}, nil
}

func (s *Snapshots) Show(frame image.Image, e stream.Emission) {
	if !e.LogAttendance {
		return
	}
	path, err := s.write(frame, e)
	if err != nil {
		s.Logger.Warn("snapshot failed", "identity", e.Identity, "error", err)
		return
	}
	s.Logger.Debug("snapshot saved", "path", path)
}

// SnapshotName is the file name used for an accepted emission.
func SnapshotName(e stream.Emission) string {
	id := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, e.Identity)
	return fmt.Sprintf("%s_%s.jpg", id, e.At.UTC().Format("20060102T150405.000Z"))
}

func (s *Snapshots) write(frame image.Image, e stream.Emission) (string, error) {
	img := overlay.Annotate(frame, e, s.Options)
	path := filepath.Join(s.Dir, SnapshotName(e))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.Quality}); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
