package metadatastore

import (
	"context"
	"testing"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
	"github.com/comdaze/openmcpskills/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host: host, Port: port.Int(),
		User: "test", Password: "test", Database: "test", SSLMode: "disable",
		MaxOpenConns: 10, MaxIdleConns: 5,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewPostgresStore(client.DB(), nil)
}

func TestPostgresStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestPostgresStore(t)

	m := Meta{
		SkillID:      "weather-lookup",
		Version:      1,
		AllVersions:  []int{1},
		Status:       StatusActive,
		ManifestJSON: `{"name":"weather-lookup"}`,
	}
	require.NoError(t, store.Put(ctx, m))

	got, err := store.Get(ctx, "weather-lookup")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, []int{1}, got.AllVersions)

	require.NoError(t, store.Delete(ctx, "weather-lookup"))
	_, err = store.Get(ctx, "weather-lookup")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestPostgresStore_ListByStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestPostgresStore(t)

	require.NoError(t, store.Put(ctx, Meta{SkillID: "active-one", Status: StatusActive, ManifestJSON: "{}"}))
	require.NoError(t, store.Put(ctx, Meta{SkillID: "draft-one", Status: StatusDraft, ManifestJSON: "{}"}))

	active, err := store.List(ctx, StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "active-one", active[0].SkillID)
}

func TestPostgresStore_IncrementInvocationIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestPostgresStore(t)
	require.NoError(t, store.Put(ctx, Meta{SkillID: "echo", Status: StatusActive, ManifestJSON: "{}"}))

	const concurrency = 20
	done := make(chan error, concurrency)
	now := time.Now().UTC()
	for i := 0; i < concurrency; i++ {
		go func() {
			done <- store.IncrementInvocation(ctx, "echo", now)
		}()
	}
	for i := 0; i < concurrency; i++ {
		require.NoError(t, <-done)
	}

	got, err := store.Get(ctx, "echo")
	require.NoError(t, err)
	assert.EqualValues(t, concurrency, got.InvocationCount)
}
