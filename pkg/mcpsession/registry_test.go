package mcpsession

import (
	"testing"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateProtocolVersion(t *testing.T) {
	t.Run("picks highest mutually supported", func(t *testing.T) {
		v, ok := NegotiateProtocolVersion([]string{"2025-03-26", "2025-06-18"})
		require.True(t, ok)
		assert.Equal(t, "2025-06-18", v)
	})

	t.Run("no common version fails", func(t *testing.T) {
		_, ok := NegotiateProtocolVersion([]string{"2024-01-01"})
		assert.False(t, ok)
	})
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := New(Config{}, nil)
	s := r.Create()
	assert.Equal(t, StateInitializing, s.State())

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestRegistry_GetUnknownSessionFails(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.Get("does-not-exist")
	require.Error(t, err)
	assert.Equal(t, apierr.KindSessionNotFound, apierr.KindOf(err))
}

func TestRegistry_CloseRemovesAndRejectsFurtherGets(t *testing.T) {
	r := New(Config{}, nil)
	s := r.Create()
	r.Close(s.ID)

	_, err := r.Get(s.ID)
	require.Error(t, err)
	assert.Equal(t, apierr.KindSessionNotFound, apierr.KindOf(err))
	assert.Equal(t, StateClosed, s.State())
}

func TestRegistry_TouchResumesSuspendedSession(t *testing.T) {
	r := New(Config{}, nil)
	s := r.Create()
	s.MarkInitialized("2025-06-18", nil, nil, ServerCapabilities)

	s.suspend()
	assert.Equal(t, StateSuspended, s.State())

	_, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State())
}

func TestRegistry_SweepSuspendsIdleAndPurgesExpired(t *testing.T) {
	r := New(Config{IdleTimeout: time.Millisecond, ExpiryTimeout: 2 * time.Millisecond, SweepInterval: time.Millisecond}, nil)
	r.Start()
	t.Cleanup(r.Stop)
	s := r.Create()
	s.MarkInitialized("2025-06-18", nil, nil, ServerCapabilities)

	require.Eventually(t, func() bool {
		return s.State() == StateSuspended
	}, time.Second, time.Millisecond, "session should become suspended after idle timeout")

	// Poll Count rather than Get: Get touches the session, which would
	// keep resetting its idle/expiry clock.
	require.Eventually(t, func() bool {
		return r.Count() == 0
	}, time.Second, time.Millisecond, "session should be purged after expiry timeout")
}

func TestRegistry_Count(t *testing.T) {
	r := New(Config{}, nil)
	assert.Equal(t, 0, r.Count())
	r.Create()
	r.Create()
	assert.Equal(t, 2, r.Count())
}
