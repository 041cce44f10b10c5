package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const playlistMagic = "#EXTM3U"

// hlsReady reports whether the session dir holds a playable rolling buffer:
// a playlist that begins with the magic marker and at least one segment.
func hlsReady(dir string) bool {
	raw, err := os.ReadFile(PlaylistPath(dir)) // #nosec G304 -- session-owned scratch dir
	if err != nil {
		return false
	}
	if !strings.HasPrefix(strings.TrimSpace(string(raw)), playlistMagic) {
		return false
	}
	segments, err := filepath.Glob(filepath.Join(dir, "*.ts"))
	if err != nil {
		return false
	}
	return len(segments) > 0
}

// VerifyHLS blocks until the rolling buffer in dir is ready or the timeout
// elapses. It prefers fsnotify events over polling but keeps a coarse ticker
// as a safety net for missed writes.
func VerifyHLS(ctx context.Context, dir string, timeout time.Duration) error {
	if hlsReady(dir) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch session dir %s: %w", dir, err)
	}

	// Re-check after adding the watch to close the startup race.
	if hlsReady(dir) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("hls buffer not ready within %s", timeout)
		case _, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for hls buffer")
			}
			if hlsReady(dir) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if ok && err != nil {
				continue // transient watch errors are not fatal; ticker covers us
			}
		case <-ticker.C:
			if hlsReady(dir) {
				return nil
			}
		}
	}
}
