package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ba-agent-core/internal/config"
)

type fakeIndexer struct {
	mu sync.Mutex
	calls []string
	fail map[string]bool
}

func (f *fakeIndexer) IndexFile(_ context.Context, path, _source, _text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[path] {
		return assertErr
	}
	f.calls = append(f.calls, path)
	return nil
}

func (f *fakeIndexer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var assertErr = os.ErrInvalid

func TestWatcherIndexesAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	idx := &fakeIndexer{fail: map[string]bool{}}
	cfg := config.WatcherConfig{Enabled: true, WatchPaths: []string{dir}, DebounceSeconds: 0, CheckIntervalSecond: 1}
	w := New(cfg, idx, nil)

	w.tick(context.Background())
	assert.Equal(t, 1, idx.callCount())

	// a second tick with no changes must not re-index the same file.
	w.tick(context.Background())
	assert.Equal(t, 1, idx.callCount())
}

func TestWatcherRespectsDebounceWindow(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	idx := &fakeIndexer{fail: map[string]bool{}}
	cfg := config.WatcherConfig{Enabled: true, WatchPaths: []string{dir}, DebounceSeconds: 10, CheckIntervalSecond: 1}
	w := New(cfg, idx, nil)

	w.tick(context.Background())
	assert.Equal(t, 0, idx.callCount(), "must not index before debounce window elapses")
}

func TestWatcherStopsPromptlyOnCancel(t *testing.T) {
	idx := &fakeIndexer{fail: map[string]bool{}}
	cfg := config.WatcherConfig{Enabled: true, WatchPaths: nil, DebounceSeconds: 0, CheckIntervalSecond: 0.05}
	w := New(cfg, idx, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop promptly after cancellation")
	}
}
