package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ba-agent-core/internal/config"
	"ba-agent-core/internal/memoryindex"
)

func TestIndexAdapterIndexesFileAndDropsUpdatedSignal(t *testing.T) {
	dir := t.TempDir()
	searchCfg := config.SearchConfig{ChunkTokens: 200, ChunkOverlap: 20, MaxResults: 5}
	rotCfg := config.RotationConfig{MaxSizeMB: 10, IndexPrefix: "active", IndexDir: "index"}

	index, err := memoryindex.Open(searchCfg, rotCfg, dir, memoryindex.NullProvider{}, nil)
	require.NoError(t, err)
	defer index.Close()

	adapter := newIndexAdapter(index, nil)

	err = adapter.IndexFile(context.Background(), "notes.md", "watcher", "remember that tests matter")
	require.NoError(t, err)
}
