package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowLimiterAllowsUpToLimit(t *testing.T) {
	rl := newFixedWindowLimiter(3, time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		ok, _ := rl.allow("1.2.3.4", now)
		require.True(t, ok, "request %d should be admitted", i+1)
	}
	ok, retryAfter := rl.allow("1.2.3.4", now)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestFixedWindowLimiterKeysAreIndependent(t *testing.T) {
	rl := newFixedWindowLimiter(1, time.Minute)
	now := time.Now()

	ok, _ := rl.allow("1.2.3.4", now)
	require.True(t, ok)
	ok, _ = rl.allow("1.2.3.4", now)
	require.False(t, ok)

	ok, _ = rl.allow("5.6.7.8", now)
	assert.True(t, ok, "a different client has its own budget")
}

func TestFixedWindowLimiterResetsOnNewWindow(t *testing.T) {
	rl := newFixedWindowLimiter(1, time.Minute)
	now := time.Now()

	ok, _ := rl.allow("1.2.3.4", now)
	require.True(t, ok)
	ok, _ = rl.allow("1.2.3.4", now.Add(30*time.Second))
	require.False(t, ok)

	ok, _ = rl.allow("1.2.3.4", now.Add(61*time.Second))
	assert.True(t, ok, "a fresh window restores the full budget")
}

func TestFixedWindowLimiterSweepDropsStaleBuckets(t *testing.T) {
	rl := newFixedWindowLimiter(5, time.Minute)
	now := time.Now()

	rl.allow("1.2.3.4", now)
	rl.allow("5.6.7.8", now)
	require.Len(t, rl.buckets, 2)

	rl.sweep(now.Add(3 * time.Minute))
	assert.Empty(t, rl.buckets)
}
