package mcpsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotificationRing_OverwritesOldestWhenFull(t *testing.T) {
	r := newNotificationRing()
	for i := 0; i < ringCapacity+10; i++ {
		r.push(i)
	}
	got := r.drain()
	assert.Len(t, got, ringCapacity)
	assert.Equal(t, 10, got[0], "oldest 10 entries should have been overwritten")
	assert.Equal(t, ringCapacity+9, got[len(got)-1])

	assert.Empty(t, r.drain(), "drain should empty the ring")
}

func TestSession_MarkInitializedTransitionsToActive(t *testing.T) {
	s := newSession("sess-1", time.Now())
	assert.Equal(t, StateInitializing, s.State())

	s.MarkInitialized("2025-06-18", map[string]any{"name": "client"}, nil, ServerCapabilities)
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, "2025-06-18", s.ProtocolVersion())
}

func TestSession_HasScope(t *testing.T) {
	s := newSession("sess-1", time.Now())
	s.SetAuth("user-1", []string{"skills:read", "skills:write"})
	assert.True(t, s.HasScope("skills:read"))
	assert.False(t, s.HasScope("skills:admin"))
}

func TestSession_CancelIsOneShot(t *testing.T) {
	s := newSession("sess-1", time.Now())
	assert.False(t, s.Cancelled())
	s.Cancel()
	assert.True(t, s.Cancelled())
	assert.False(t, s.Cancelled(), "Cancelled should clear the flag after reporting it")
}

func TestSession_NotifyAndDrain(t *testing.T) {
	s := newSession("sess-1", time.Now())
	s.Notify(map[string]any{"event": "skill.updated"})
	s.Notify(map[string]any{"event": "skill.removed"})

	got := s.DrainNotifications()
	assert.Len(t, got, 2)
	assert.Empty(t, s.DrainNotifications())
}

func TestSession_IdleAndExpiredSince(t *testing.T) {
	now := time.Now()
	s := newSession("sess-1", now)
	s.MarkInitialized("2025-06-18", nil, nil, ServerCapabilities)

	assert.False(t, s.idleSince(now, time.Minute))
	future := now.Add(2 * time.Minute)
	assert.True(t, s.idleSince(future, time.Minute))

	s.suspend()
	assert.False(t, s.expiredSince(future, time.Hour))
	assert.True(t, s.expiredSince(future.Add(2*time.Hour), time.Hour))
}
