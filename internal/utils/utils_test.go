package utils

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestSafeCommand_CapturesStderr(t *testing.T) {
	s := NewSafeCommand(context.Background(), "sh", "-c", "echo model missing >&2; exit 3")
	if err := s.Run(); err == nil {
		t.Fatal("Expected non-zero exit, got nil")
	}
	if !strings.Contains(s.Stderr.String(), "model missing") {
		t.Errorf("Expected stderr to be captured, got %q", s.Stderr.String())
	}
}

func TestShowError(t *testing.T) {
	s := NewSafeCommand(context.Background(), "sh", "-c", "echo traceback >&2")
	_ = s.Run()

	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	ShowError("Engine failed", os.ErrNotExist, s)

	w.Close()
	os.Stderr = oldStderr
	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	r.Close()

	out := string(buf[:n])
	for _, want := range []string{"ROLLCALL ERROR: Engine failed", "file does not exist", "WORKER LOGS", "traceback"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got %q", want, out)
		}
	}
}

func TestGetTotalFrames_MissingFile(t *testing.T) {
	oldStderr := os.Stderr
	devNull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	os.Stderr = devNull
	defer func() {
		os.Stderr = oldStderr
		devNull.Close()
	}()

	if got := GetTotalFrames("/nonexistent/video.mp4"); got != 0 {
		t.Errorf("Expected 0 for a missing file, got %d", got)
	}
}
