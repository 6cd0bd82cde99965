package filestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ba-agent-core/internal/config"
	"ba-agent-core/pkg/types"
)

func TestSweepDeletesExpiredEntries(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FileStore.BaseDir = t.TempDir()
	cfg.FileStore.Categories["cache"] = config.CategoryPolicy{MaxSizeMB: 10, TTLHours: 1.0 / 3600, Indexed: true, Sessioned: false}
	s, err := New(&cfg.FileStore, nil)
	require.NoError(t, err)
	defer s.Close()

	ref, err := s.Store(types.CategoryCache, []byte("x"), StoreOptions{})
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	res := s.Sweep()
	assert.Equal(t, 1, res.DeletedByCategory[types.CategoryCache])

	exists, err := s.Exists(ref)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSweepLeavesUnexpiredAlone(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FileStore.BaseDir = t.TempDir()
	cfg.FileStore.Categories["cache"] = config.CategoryPolicy{MaxSizeMB: 10, TTLHours: 24, Indexed: true, Sessioned: false}
	s, err := New(&cfg.FileStore, nil)
	require.NoError(t, err)
	defer s.Close()

	ref, err := s.Store(types.CategoryCache, []byte("x"), StoreOptions{})
	require.NoError(t, err)

	res := s.Sweep()
	assert.Zero(t, res.DeletedByCategory[types.CategoryCache])

	exists, err := s.Exists(ref)
	require.NoError(t, err)
	assert.True(t, exists)
}
