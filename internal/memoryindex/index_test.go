package memoryindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ba-agent-core/internal/config"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	cfg := config.DefaultConfig()
	idx, err := Open(cfg.Memory.Search, cfg.Memory.Rotation, t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexFileIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	res, err := idx.IndexFile(ctx, "memory/test.md", "memory", "Python decorator examples\n")
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.Equal(t, 1, res.ChunksAdded)

	res2, err := idx.IndexFile(ctx, "memory/test.md", "memory", "Python decorator examples\n")
	require.NoError(t, err)
	assert.False(t, res2.Updated)
	assert.Equal(t, 0, res2.ChunksAdded)
}

func TestIndexFileEmptyFile(t *testing.T) {
	idx := newTestIndex(t)
	res, err := idx.IndexFile(context.Background(), "memory/empty.md", "memory", "")
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.Equal(t, 0, res.ChunksAdded)
}

func TestSearchEmptyCorpusReturnsEmpty(t *testing.T) {
	idx := newTestIndex(t)
	results, err := idx.Search(context.Background(), "anything", SearchOptions{K: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchFindsIndexedText(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.IndexFile(ctx, "memory/test.md", "memory", "Python decorator examples and usage notes\n")
	require.NoError(t, err)

	results, err := idx.Search(ctx, "decorator", SearchOptions{K: 10, ContextLines: 2})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}
