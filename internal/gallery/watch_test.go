package gallery

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping filesystem watcher test in short mode")
	}

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, 50*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)), func(context.Context) error {
			reloads.Add(1)
			return nil
		})
	}()

	// Give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, WriteEmbeddingFile(filepath.Join(dir, "alice.npy"), []float32{1, 0}))
	require.NoError(t, WriteEmbeddingFile(filepath.Join(dir, "bob.npy"), []float32{0, 1}))

	require.Eventually(t, func() bool { return reloads.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
