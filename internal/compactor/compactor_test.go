package compactor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ba-agent-core/internal/config"
	"ba-agent-core/internal/filestore"
	"ba-agent-core/pkg/types"
)

func newTestCompactor(t *testing.T) (*Compactor, *filestore.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.FileStore.BaseDir = t.TempDir()
	fs, err := filestore.New(&cfg.FileStore, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	flushCfg := config.FlushConfig{
		Enabled:             true,
		SoftThresholdTokens: 100,
		ReserveTokensFloor:  50,
		MinMemoryCount:      1,
		MaxMemoryAgeHours:   48,
		ContextWindowTokens: 250,
	}
	return New(flushCfg, fs, NoopExtractor{}, nil), fs
}

func newState() *types.ConversationState {
	return &types.ConversationState{
		ConversationID: "c1",
		SessionStart:   time.Now(),
		MessageBuffer: []types.Message{
			{Role: types.RoleUser, Content: "remember that our warehouse uses PostgreSQL"},
		},
	}
}

func TestHardThresholdTriggersFlush(t *testing.T) {
	c, _ := newTestCompactor(t)
	state := newState()
	state.SessionTokens = 200 // >= W(250) - reserve(50) - soft(100) = 100

	res := c.CheckAndFlush(context.Background(), state, false)
	require.True(t, res.Flushed)
	assert.True(t, strings.HasPrefix(string(res.Reason), "硬"))
	assert.Empty(t, state.MessageBuffer)
	assert.Equal(t, 200, state.LastFlushTokens)
}

func TestSecondFlushSuppressed(t *testing.T) {
	c, _ := newTestCompactor(t)
	state := newState()
	state.SessionTokens = 200

	res := c.CheckAndFlush(context.Background(), state, false)
	require.True(t, res.Flushed)

	state.SessionTokens = 300
	state.MessageBuffer = []types.Message{{Role: types.RoleUser, Content: "remember that we also use Kafka"}}
	res2 := c.CheckAndFlush(context.Background(), state, false)
	assert.False(t, res2.Flushed)
}

func TestEmptyBufferNoFlush(t *testing.T) {
	c, _ := newTestCompactor(t)
	state := newState()
	state.MessageBuffer = nil
	state.SessionTokens = 200

	res := c.CheckAndFlush(context.Background(), state, false)
	assert.False(t, res.Flushed)
}

func TestSoftThresholdBelowReserveDoesNotFlush(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FileStore.BaseDir = t.TempDir()
	fs, err := filestore.New(&cfg.FileStore, nil)
	require.NoError(t, err)
	defer fs.Close()

	// A large context window decouples the hard trigger from this test's
	// soft-trigger scenario.
	flushCfg := config.FlushConfig{
		Enabled:             true,
		SoftThresholdTokens: 100,
		ReserveTokensFloor:  50,
		MinMemoryCount:      1,
		MaxMemoryAgeHours:   48,
		ContextWindowTokens: 10000,
	}
	c := New(flushCfg, fs, NoopExtractor{}, nil)
	state := newState()
	state.SessionTokens = 110 // >= soft(100)
	state.LastFlushTokens = 90 // delta 20 < reserve(50): soft trigger must not fire

	res := c.CheckAndFlush(context.Background(), state, false)
	assert.False(t, res.Flushed)
}

func TestForceBypassesEligibilityFilter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FileStore.BaseDir = t.TempDir()
	fs, err := filestore.New(&cfg.FileStore, nil)
	require.NoError(t, err)
	defer fs.Close()

	flushCfg := config.FlushConfig{
		Enabled:             true,
		SoftThresholdTokens: 100,
		ReserveTokensFloor:  50,
		MinMemoryCount:      5, // unreachable by one heuristic hit
		MaxMemoryAgeHours:   48,
		ContextWindowTokens: 250,
	}
	c := New(flushCfg, fs, NoopExtractor{}, nil)
	state := newState()
	state.SessionTokens = 10

	res := c.CheckAndFlush(context.Background(), state, true)
	require.True(t, res.Flushed)
	assert.Equal(t, TriggerForce, res.Reason)
}
