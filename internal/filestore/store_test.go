package filestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ba-agent-core/internal/config"
	"ba-agent-core/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.FileStore.BaseDir = t.TempDir()
	cfg.FileStore.Categories["artifact"] = config.CategoryPolicy{MaxSizeMB: 1, TTLHours: 24, Indexed: true, Sessioned: false}
	s, err := New(&cfg.FileStore, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ref, err := s.Store(types.CategoryArtifact, []byte("hello world"), StoreOptions{Filename: "a.txt"})
	require.NoError(t, err)
	assert.NotEmpty(t, ref.FileID)

	got, err := s.Retrieve(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestStoreRejectsOversizedContent(t *testing.T) {
	s := newTestStore(t)
	big := make([]byte, 2*1024*1024)
	_, err := s.Store(types.CategoryArtifact, big, StoreOptions{})
	require.Error(t, err)
}

func TestStorePathTraversalRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Store(types.CategoryArtifact, []byte("x"), StoreOptions{FileID: "../etc/passwd"})
	require.Error(t, err)

	ref, err := s.Store(types.CategoryArtifact, []byte("x"), StoreOptions{})
	require.NoError(t, err)
	got, err := s.Retrieve(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ref, err := s.Store(types.CategoryArtifact, []byte("x"), StoreOptions{})
	require.NoError(t, err)

	ok, err := s.Delete(ref)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ref)
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := s.Exists(ref)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListFilesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	var last types.FileRef
	for i := 0; i < 3; i++ {
		ref, err := s.Store(types.CategoryArtifact, []byte("x"), StoreOptions{})
		require.NoError(t, err)
		last = ref
	}
	files, err := s.ListFiles(types.CategoryArtifact, "")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, last.FileID, files[0].FileRef.FileID)
}

func TestRetrieveMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Retrieve(types.FileRef{Category: types.CategoryArtifact, FileID: "does-not-exist"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCheckpointSessionHashedAndVerifiable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FileStore.BaseDir = t.TempDir()
	cfg.FileStore.Categories["checkpoint"] = config.CategoryPolicy{MaxSizeMB: 1, TTLHours: 24, Indexed: true, Sessioned: true}
	s, err := New(&cfg.FileStore, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ref, err := s.Store(types.CategoryCheckpoint, []byte("checkpoint data"), StoreOptions{SessionID: "sess-123"})
	require.NoError(t, err)
	assert.NotEmpty(t, ref.Metadata[sessionHashKey])

	ok, err := s.VerifyCheckpointSession(ref, "sess-123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.VerifyCheckpointSession(ref, "wrong-session")
	require.NoError(t, err)
	assert.False(t, ok)

	// the hash must also survive a round trip through the on-disk index, not
	// just live on the FileRef Store happened to return.
	files, err := s.ListFiles(types.CategoryCheckpoint, "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	ok, err = s.VerifyCheckpointSession(files[0].FileRef, "sess-123")
	require.NoError(t, err)
	assert.True(t, ok)
}
