package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	limiter := NewRateLimiter(60, time.Minute, zap.NewNop().Sugar())

	for i := 0; i < 60; i++ {
		require.False(t, limiter.Exceeded("198.51.100.1"), "request %d should pass", i+1)
	}
	assert.True(t, limiter.Exceeded("198.51.100.1"))
	assert.True(t, limiter.Exceeded("198.51.100.1"))
}

func TestRateLimiterWindowIsFixedNotSliding(t *testing.T) {
	limiter := NewRateLimiter(5, time.Minute, zap.NewNop().Sugar())
	current := time.Now()
	limiter.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		limiter.Exceeded("198.51.100.2")
	}
	require.True(t, limiter.Exceeded("198.51.100.2"))

	// Past the reset boundary the counter starts over regardless of recent
	// request spacing.
	current = current.Add(time.Minute)
	assert.False(t, limiter.Exceeded("198.51.100.2"))
}

func TestRateLimiterCountsSourcesIndependently(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute, zap.NewNop().Sugar())

	limiter.Exceeded("198.51.100.3")
	limiter.Exceeded("198.51.100.3")
	assert.False(t, limiter.Exceeded("198.51.100.4"))
	assert.True(t, limiter.Exceeded("198.51.100.3"))
}

func TestRateLimiterNormalizesSource(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute, zap.NewNop().Sugar())

	limiter.Exceeded("LOCALHOST")
	limiter.Exceeded("::1")
	assert.True(t, limiter.Exceeded("127.0.0.1"))
}

func TestRateLimiterActiveWindowsAndPurge(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute, zap.NewNop().Sugar())
	current := time.Now()
	limiter.now = func() time.Time { return current }

	limiter.Exceeded("198.51.100.5")
	limiter.Exceeded("198.51.100.6")
	require.Equal(t, 2, limiter.ActiveWindows())

	current = current.Add(time.Minute + time.Second)
	limiter.Exceeded("198.51.100.7")

	assert.Equal(t, 1, limiter.ActiveWindows())
	assert.Equal(t, 2, limiter.Purge())
	assert.Equal(t, 1, limiter.ActiveWindows())
}
