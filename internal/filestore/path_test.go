package filestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePathRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	for _, bad := range []string{"../escape", "a/b", "a\\b", "bad\x00id"} {
		_, err := resolvePath(dir, bad)
		assert.Error(t, err, bad)
	}
}

func TestResolvePathAcceptsPlainID(t *testing.T) {
	dir := t.TempDir()
	p, err := resolvePath(dir, "plain-file-id")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "plain-file-id"), p)
}
