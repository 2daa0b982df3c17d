package catalog

import (
	"context"
	"testing"

	"github.com/comdaze/openmcpskills/pkg/apierr"
	"github.com/comdaze/openmcpskills/pkg/metadatastore"
	"github.com/comdaze/openmcpskills/pkg/objectstore"
	"github.com/comdaze/openmcpskills/pkg/skill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSkillTree(description string) objectstore.FileTree {
	return objectstore.FileTree{
		"SKILL.md": []byte("---\nname: echo\ndescription: " + description + "\n---\n\nEcho: {{msg}}\n"),
		"references/foo.md": []byte("# foo\n"),
	}
}

func newTestCatalog(t *testing.T) *Catalog {
	objects := objectstore.NewMemoryStore()
	meta := metadatastore.NewMemoryStore()
	c := New(objects, meta, Config{}, nil)
	t.Cleanup(c.Stop)
	return c
}

func TestCatalog_PublishThenGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	s, err := c.Publish(ctx, "echo", echoSkillTree("echoes input to the caller"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, skill.StatusActive, s.Status)

	got, err := c.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
}

func TestCatalog_DoublePublishProducesDistinctVersions(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	first, err := c.Publish(ctx, "echo", echoSkillTree("echoes input to the caller"))
	require.NoError(t, err)
	second, err := c.Publish(ctx, "echo", echoSkillTree("echoes input to the caller"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)
}

func TestCatalog_RollbackThenPublishSkipsVersion(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	_, err := c.Publish(ctx, "echo", echoSkillTree("version one description"))
	require.NoError(t, err)
	_, err = c.Publish(ctx, "echo", echoSkillTree("version two description"))
	require.NoError(t, err)

	rolled, err := c.Rollback(ctx, "echo", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rolled.Version)

	third, err := c.Publish(ctx, "echo", echoSkillTree("version three description"))
	require.NoError(t, err)
	assert.Equal(t, 3, third.Version, "version numbers never decrease monotonicity for new publishes")
}

func TestCatalog_RollbackToUnpublishedVersionFails(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)
	_, err := c.Publish(ctx, "echo", echoSkillTree("a valid description here"))
	require.NoError(t, err)

	_, err = c.Rollback(ctx, "echo", 99)
	assert.Error(t, err)
}

func TestCatalog_UnloadRemovesFromMemoryButKeepsObjectStore(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)
	_, err := c.Publish(ctx, "echo", echoSkillTree("a valid description here"))
	require.NoError(t, err)

	require.NoError(t, c.Unload(ctx, "echo"))

	_, err = c.Get("echo")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestCatalog_BootLoadsActiveSkillsFromMetadataStore(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore()
	meta := metadatastore.NewMemoryStore()

	boot := New(objects, meta, Config{}, nil)
	_, err := boot.Publish(ctx, "echo", echoSkillTree("a valid description here"))
	require.NoError(t, err)

	// Simulate a fresh instance rebuilding its in-memory map from C1+C2.
	fresh := New(objects, meta, Config{}, nil)
	require.NoError(t, fresh.Boot(ctx))

	got, err := fresh.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
}

func TestCatalog_PublishInvalidManifestIsRejected(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	badTree := objectstore.FileTree{
		"SKILL.md": []byte("---\nname: echo\ndescription: short\n---\n\nbody\n"),
	}
	_, err := c.Publish(ctx, "echo", badTree)
	assert.Error(t, err)

	_, err = c.Get("echo")
	assert.ErrorIs(t, err, apierr.ErrNotFound, "a rejected publish must not flip the in-memory map")
}
