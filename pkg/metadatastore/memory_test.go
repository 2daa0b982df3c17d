package metadatastore

import (
	"context"
	"testing"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Put(ctx, Meta{SkillID: "weather-lookup", Version: 1, Status: StatusActive, ManifestJSON: "{}"})
	require.NoError(t, err)

	t.Run("get returns the stored row", func(t *testing.T) {
		m, err := store.Get(ctx, "weather-lookup")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, m.Status)
		assert.Equal(t, 1, m.Version)
	})

	t.Run("get on missing skill returns ErrNotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "does-not-exist")
		assert.ErrorIs(t, err, apierr.ErrNotFound)
	})

	t.Run("list filters by status", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, Meta{SkillID: "draft-skill", Status: StatusDraft, ManifestJSON: "{}"}))

		active, err := store.List(ctx, StatusActive)
		require.NoError(t, err)
		assert.Len(t, active, 1)
		assert.Equal(t, "weather-lookup", active[0].SkillID)

		all, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, Meta{SkillID: "echo", Status: StatusActive, ManifestJSON: "{}"}))

	require.NoError(t, store.Delete(ctx, "echo"))

	_, err := store.Get(ctx, "echo")
	assert.ErrorIs(t, err, apierr.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "echo"), apierr.ErrNotFound)
}

func TestMemoryStore_IncrementInvocation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, Meta{SkillID: "echo", Status: StatusActive, ManifestJSON: "{}"}))

	now := time.Now().UTC()
	require.NoError(t, store.IncrementInvocation(ctx, "echo", now))
	require.NoError(t, store.IncrementInvocation(ctx, "echo", now))

	m, err := store.Get(ctx, "echo")
	require.NoError(t, err)
	assert.EqualValues(t, 2, m.InvocationCount)
	require.NotNil(t, m.LastInvokedAt)
	assert.WithinDuration(t, now, *m.LastInvokedAt, time.Second)

	t.Run("increment on unknown skill is a no-op, not an error", func(t *testing.T) {
		assert.NoError(t, store.IncrementInvocation(ctx, "ghost", now))
	})
}
