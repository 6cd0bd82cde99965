package main

import (
	"context"

	"ba-agent-core/internal/logging"
	"ba-agent-core/internal/memoryindex"
)

// indexAdapter reconciles the Memory Watcher's Indexer interface, which
// reports only an error, with the Memory Index's IndexFile, which also
// reports whether the file actually changed. The watcher has no use for
// that extra signal - it already debounced the change before calling in -
// so the adapter logs it and drops it.
type indexAdapter struct {
	index *memoryindex.Index
	log   logging.Logger
}

func newIndexAdapter(index *memoryindex.Index, log logging.Logger) *indexAdapter {
	if log == nil {
		log = logging.NewLogger(logging.INFO)
	}
	return &indexAdapter{index: index, log: log.WithComponent("watcher-indexer")}
}

func (a *indexAdapter) IndexFile(ctx context.Context, path, source, text string) error {
	result, err := a.index.IndexFile(ctx, path, source, text)
	if err != nil {
		return err
	}
	if result.Updated {
		a.log.Debug("indexed watched file", "path", path, "chunks_added", result.ChunksAdded)
	}
	return nil
}
