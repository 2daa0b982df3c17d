package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_DefaultsWithNoYAMLOrEnv(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultStorageBackend, cfg.StorageBackend)
	assert.Equal(t, DefaultSkillCacheDir, cfg.SkillCacheDir)
	assert.Equal(t, time.Duration(DefaultSessionIdleMinutes)*time.Minute, cfg.SessionIdleTimeout)
}

func TestInitialize_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
storage:
  backend: remote
  skill_cache_dir: /var/cache/skills
  object_store_bucket: my-bucket
session:
  idle_minutes: 30
  expiry_hours: 48
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openmcpskills.yaml"), []byte(yaml), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "remote", cfg.StorageBackend)
	assert.Equal(t, "/var/cache/skills", cfg.SkillCacheDir)
	assert.Equal(t, "my-bucket", cfg.ObjectStoreBucket)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, 48*time.Hour, cfg.SessionExpiryTimeout)
}

func TestInitialize_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
storage:
  backend: local
session:
  idle_minutes: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openmcpskills.yaml"), []byte(yaml), 0o644))
	t.Setenv("STORAGE_BACKEND", "remote")
	t.Setenv("SESSION_IDLE_MINUTES", "5")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "remote", cfg.StorageBackend)
	assert.Equal(t, 5*time.Minute, cfg.SessionIdleTimeout)
}

func TestInitialize_ExpandsEnvRefsInYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OMS_TEST_BUCKET", "expanded-bucket")
	yaml := "storage:\n  object_store_bucket: ${OMS_TEST_BUCKET}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openmcpskills.yaml"), []byte(yaml), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "expanded-bucket", cfg.ObjectStoreBucket)
}

func TestInitialize_InvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openmcpskills.yaml"), []byte("not: valid: yaml: :"), 0o644))

	_, err := Initialize(context.Background(), dir)
	assert.Error(t, err)
}

func TestInitialize_InvalidBackendFailsValidation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORAGE_BACKEND", "nonsense")

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrValidationFailed)
}
