package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ba-agent-core/internal/config"
)

func TestNewDisabledLimiterAlwaysAllows(t *testing.T) {
	limiter := New(config.RateLimitConfig{Enabled: false})

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(context.Background(), "session-1")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
	assert.NoError(t, limiter.Close())
}

func TestNewEnabledLimiterBuildsRedisClient(t *testing.T) {
	limiter := New(config.RateLimitConfig{
		Enabled:     true,
		RedisAddr:   "localhost:6399", // deliberately unreachable in this test
		MaxRequests: 10,
		Window:      time.Minute,
	})

	require.NotNil(t, limiter.client)
	assert.Equal(t, 10, limiter.maxRequests)
	assert.Equal(t, time.Minute, limiter.window)
	assert.NoError(t, limiter.Close())
}

func TestAllowFailsClosedWhenRedisUnreachable(t *testing.T) {
	limiter := New(config.RateLimitConfig{
		Enabled:     true,
		RedisAddr:   "localhost:6399",
		MaxRequests: 10,
		Window:      time.Minute,
	})
	defer limiter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := limiter.Allow(ctx, "session-1")
	assert.Error(t, err)
}
