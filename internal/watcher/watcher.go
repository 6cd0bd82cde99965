// Package watcher implements the memory watcher (C4): a single-purpose
// polling-with-debounce loop that keeps the memory index (C2) in sync with
// the on-disk memory tree. This is deliberately not built on OS filesystem
// notifications: every check_interval it rescans registered
// roots itself.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"ba-agent-core/internal/config"
	"ba-agent-core/internal/logging"
)

// Indexer is the collaborator the watcher feeds dirty files into - C2's
// Index.IndexFile, wrapped so this package does not import memoryindex
// directly and stays a leaf.
type Indexer interface {
	IndexFile(ctx context.Context, path, source, text string) error
}

type fileState struct {
	mtime time.Time
	size int64
	stableSince time.Time
	indexed bool
}

// Watcher polls a set of roots and reindexes files once they have been
// stable (unchanged mtime/size) for debounce_seconds.
type Watcher struct {
	cfg config.WatcherConfig
	indexer Indexer
	log logging.Logger

	known map[string]*fileState
}

// New builds a Watcher bound to the given indexer.
func New(cfg config.WatcherConfig, indexer Indexer, log logging.Logger) *Watcher {
	if log == nil {
		log = logging.NewLogger(logging.INFO)
	}
	return &Watcher{
		cfg: cfg,
		indexer: indexer,
		log: log.WithComponent("watcher"),
		known: make(map[string]*fileState),
	}
}

// Run blocks, scanning every check_interval_seconds until ctx is cancelled.
// It stops within one tick after cancellation. Per-file
// errors are logged and never stop the loop.
func (w *Watcher) Run(ctx context.Context) {
	if !w.cfg.Enabled {
		return
	}
	interval := time.Duration(w.cfg.CheckIntervalSecond * float64(time.Second))
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopping")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick performs one scan-and-reindex pass across all watched roots.
func (w *Watcher) tick(ctx context.Context) {
	debounce := time.Duration(w.cfg.DebounceSeconds * float64(time.Second))
	now := time.Now()

	for _, root := range w.cfg.WatchPaths {
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				w.log.Warn("watcher: error walking path", "path", path, "error", err.Error())
				return nil
			}
			if info.IsDir() {
				return nil
			}
			w.observe(ctx, path, info, now, debounce)
			return nil
		})
	}
}

// observe marks a file dirty when its (mtime,size) differ from what the
// watcher last saw, and reindexes it once it has been stable for
// debounce_seconds.
func (w *Watcher) observe(ctx context.Context, path string, info os.FileInfo, now time.Time, debounce time.Duration) {
	st, known := w.known[path]
	if !known {
		st = &fileState{stableSince: now}
		w.known[path] = st
	}

	if st.mtime != info.ModTime() || st.size != info.Size() {
		st.mtime = info.ModTime()
		st.size = info.Size()
		st.stableSince = now
		st.indexed = false
	}

	if st.indexed {
		return
	}
	if now.Sub(st.stableSince) < debounce {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn("watcher: failed to read dirty file", "path", path, "error", err.Error())
		return
	}
	if err := w.indexer.IndexFile(ctx, path, "watcher", string(data)); err != nil {
		w.log.Warn("watcher: failed to index file", "path", path, "error", err.Error())
		return
	}
	st.indexed = true
}
