package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSpecKind(t *testing.T) {
	tests := []struct {
		spec     Spec
		kind     string
		arg      string
		probable bool
	}{
		{"camera:0", "camera", "0", false},
		{"dir:/tmp/frames", "dir", "/tmp/frames", false},
		{"/videos/lobby.mp4", "file", "/videos/lobby.mp4", true},
		{"rtsp://cam.local/stream", "file", "rtsp://cam.local/stream", false},
		{"C:/videos/a.mp4", "file", "C:/videos/a.mp4", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.spec), func(t *testing.T) {
			kind, arg := tt.spec.Kind()
			if kind != tt.kind || arg != tt.arg {
				t.Errorf("Kind() = (%q, %q), want (%q, %q)", kind, arg, tt.kind, tt.arg)
			}
			if got := tt.spec.IsFile(); got != tt.probable {
				t.Errorf("IsFile() = %v, want %v", got, tt.probable)
			}
		})
	}
}

func TestNew_InvalidCamera(t *testing.T) {
	if _, err := New("camera:front"); err == nil {
		t.Error("Expected error for a non-numeric camera index")
	}
	if _, err := New(""); err == nil {
		t.Error("Expected error for an empty source")
	}
}

func TestFFmpegArgs(t *testing.T) {
	got := FFmpegArgs("/dev/video0", "v4l2")
	want := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2", "-i", "/dev/video0", "-f", "image2pipe", "-vcodec", "mjpeg", "-"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FFmpegArgs() = %v, want %v", got, want)
	}
}

func TestFFmpegSource_CloseWithoutOpen(t *testing.T) {
	s := &FFmpegSource{Input: "video.mp4"}
	if err := s.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrFrameUnavailable) {
		t.Errorf("Expected ErrFrameUnavailable from unopened source, got %v", err)
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "002.png"), 4, 4)
	writePNG(t, filepath.Join(dir, "001.png"), 2, 2)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644)

	src := &DirSource{Dir: dir}
	ctx := context.Background()
	if err := src.Open(ctx); err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if src.Len() != 2 {
		t.Fatalf("Expected 2 frames, got %d", src.Len())
	}

	first, err := src.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Bounds().Dx() != 2 {
		t.Errorf("Expected frames in name order, first frame width %d", first.Bounds().Dx())
	}
	if _, err := src.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(ctx); err != io.EOF {
		t.Errorf("Expected io.EOF after last frame, got %v", err)
	}
}

func TestDirSource_CorruptFrame(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not a jpeg"), 0o644)

	src := &DirSource{Dir: dir}
	if err := src.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, ErrFrameUnavailable) {
		t.Errorf("Expected ErrFrameUnavailable, got %v", err)
	}
}

func TestDirSource_MissingDir(t *testing.T) {
	src := &DirSource{Dir: filepath.Join(t.TempDir(), "missing")}
	if err := src.Open(context.Background()); err == nil {
		t.Error("Expected error opening a missing directory")
	}
}
