package portal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// Chrome writes an in-progress suffix until the download finishes.
	downloadPollInterval = time.Second
	// Placeholder files are created before any content is flushed.
	minDownloadSize = 1024
)

var inProgressSuffixes = []string{".crdownload", ".tmp"}

// DownloadWatcher detects completion of an asynchronously triggered
// download by diffing directory snapshots taken before and after the
// click that starts it.
type DownloadWatcher struct {
	dir    string
	clock  Clock
	logger *zap.Logger
}

func NewDownloadWatcher(dir string, clock Clock, logger *zap.Logger) *DownloadWatcher {
	return &DownloadWatcher{dir: dir, clock: clock, logger: logger}
}

// Snapshot returns the set of filenames currently in the download
// directory. A missing directory yields an empty set.
func (w *DownloadWatcher) Snapshot() map[string]struct{} {
	files := make(map[string]struct{})
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return files
	}
	for _, e := range entries {
		files[e.Name()] = struct{}{}
	}
	return files
}

// AwaitNewFile polls once per second for a file that is new relative to
// prior, has no in-progress suffix, and exceeds the minimum size. A false
// result means the download did not materialize within the timeout; the
// caller logs and skips, it is not an error.
func (w *DownloadWatcher) AwaitNewFile(ctx context.Context, prior map[string]struct{}, timeout time.Duration) (string, bool) {
	name, ok := pollUntil(ctx, w.clock, downloadPollInterval, timeout, func() (string, bool) {
		for name := range w.Snapshot() {
			if _, seen := prior[name]; seen {
				continue
			}
			if hasInProgressSuffix(name) {
				continue
			}
			info, err := os.Stat(filepath.Join(w.dir, name))
			if err != nil {
				continue
			}
			if info.Size() > minDownloadSize {
				return name, true
			}
		}
		return "", false
	})
	if !ok {
		w.logger.Warn("download did not materialize", zap.Duration("timeout", timeout))
		return "", false
	}
	return name, true
}

func hasInProgressSuffix(name string) bool {
	for _, suffix := range inProgressSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
