package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long Watch waits for a burst of file events to go
// quiet before rebuilding.
const DefaultSettle = 500 * time.Millisecond

// Watch calls reload whenever enrollment files in dir change. Events are
// coalesced over settle. A failed reload is logged and the previous gallery
// stays in effect. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, dir string, settle time.Duration, logger *slog.Logger, reload func(context.Context) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	timer := time.NewTimer(settle)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isEnrollmentFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			logger.Debug("enrollment change", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(settle)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("enrollment watcher error", "error", err)

		case <-timer.C:
			if err := reload(ctx); err != nil {
				logger.Error("gallery reload failed, keeping previous gallery", "error", err)
				continue
			}
			logger.Info("gallery reloaded", "dir", dir)
		}
	}
}
