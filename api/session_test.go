package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStoreRoundTrip(t *testing.T) {
	s := newMemorySessionStore()
	defer s.Close()

	sess := newSession(time.Now())
	sess.State = statePendingMFA
	s.Put("tok", sess)

	got, ok := s.Get("tok")
	require.True(t, ok)
	assert.Equal(t, statePendingMFA, got.State)

	s.Delete("tok")
	_, ok = s.Get("tok")
	assert.False(t, ok)
}

func TestMemorySessionStoreExpiry(t *testing.T) {
	s := newMemorySessionStore()
	defer s.Close()

	sess := newSession(time.Now().Add(-sessionTTL - time.Minute))
	s.Put("stale", sess)

	_, ok := s.Get("stale")
	assert.False(t, ok, "an expired session reads as absent")
	assert.Empty(t, s.data, "the expired read also removes the record")
}

func TestSweepExpiredKeepsLiveSessions(t *testing.T) {
	s := newMemorySessionStore()
	defer s.Close()

	now := time.Now()
	s.Put("live", newSession(now))
	s.Put("stale", newSession(now.Add(-sessionTTL-time.Minute)))

	s.sweepExpired(now)

	_, ok := s.Get("live")
	assert.True(t, ok)
	s.mu.RLock()
	_, stale := s.data["stale"]
	s.mu.RUnlock()
	assert.False(t, stale)
}

func TestNewSessionLifetimeIsFixed(t *testing.T) {
	now := time.Now()
	sess := newSession(now)
	assert.Equal(t, stateAnonymous, sess.State)
	assert.Equal(t, now.Add(sessionTTL), sess.ExpiresAt)
}
