// Package watcher notices when the restart guard's marker file disappears,
// so a daemon blocked by a stale marker can check again as soon as an
// operator clears it.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mbvlabs/spinner/internal/guard"
)

const debounceDelay = 250 * time.Millisecond

// RunMarkerWatcher watches the directory holding markerPath and sends on
// cleared, without blocking, whenever the marker is removed or renamed away.
// Markers this process created are ignored when they go, since the daemon
// releases its own guard after every restart. It returns when ctx ends.
func RunMarkerWatcher(ctx context.Context, markerPath string, cleared chan<- struct{}, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watching the directory survives the marker being deleted and
	// recreated, which a watch on the file itself would not.
	dir := filepath.Dir(markerPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(markerPath)
	lock := guard.NewFile(target)
	holderPID := 0

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if h, err := lock.Holder(); err == nil && h.PID != 0 {
					holderPID = h.PID
				}
				continue
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if _, err := os.Stat(target); err == nil {
				continue
			} else if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("could not stat restart marker", "error", err)
				continue
			}

			own := holderPID == os.Getpid()
			holderPID = 0
			if own {
				logger.Debug("restart marker released by this process")
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				logger.Info("restart marker removed", "path", target)
				select {
				case cleared <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("marker watcher error", "error", err)
		}
	}
}
