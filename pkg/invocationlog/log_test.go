package invocationlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestLog_AppendDrainsToStore(t *testing.T) {
	store := NewMemoryStore()
	log := New(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log.Start(ctx)
	defer log.Stop()

	ev := NewEvent(time.Now(), 30)
	ev.SkillID = "weather-lookup"
	ev.SessionID = "sess-1"
	ev.Method = "tools/call"
	ev.Status = StatusSuccess
	log.Append(ev)

	waitForCondition(t, 2*time.Second, func() bool { return store.Len() == 1 })

	events, err := log.Query(context.Background(), "weather-lookup", nil, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, StatusSuccess, events[0].Status)
}

func TestLog_StopFlushesBufferedEvents(t *testing.T) {
	store := NewMemoryStore()
	log := New(store, nil)

	// Append before the worker starts, then Start and immediately Stop:
	// Stop must still flush whatever Append buffered, exercising the
	// drain-on-shutdown path deterministically.
	ev := NewEvent(time.Now(), 30)
	ev.SkillID = "echo"
	log.Append(ev)

	log.Start(context.Background())
	log.Stop()

	assert.Equal(t, 1, store.Len())
}

func TestLog_OverflowDropsOldestAndCountsIt(t *testing.T) {
	store := NewMemoryStore()
	log := New(store, nil)
	// Don't start the drain worker, so the queue actually fills up.

	for i := 0; i < defaultQueueCapacity+5; i++ {
		ev := NewEvent(time.Now(), 30)
		ev.SkillID = "flood"
		log.Append(ev)
	}

	assert.Greater(t, log.DroppedEventsTotal(), int64(0))
}
