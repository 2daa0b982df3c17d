package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := &Config{
		StorageBackend:         "local",
		SkillCacheDir:          "./data/skills",
		SessionIdleTimeout:     15 * time.Minute,
		SessionExpiryTimeout:   24 * time.Hour,
		CatalogRefreshInterval: 60 * time.Second,
		ToolCallTimeout:        30 * time.Second,
		InvocationLogTTLDays:   90,
	}
	return cfg
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.StorageBackend = "carrier-pigeon"
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsEmptyCacheDir(t *testing.T) {
	cfg := validConfig()
	cfg.SkillCacheDir = ""
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsExpiryNotExceedingIdle(t *testing.T) {
	cfg := validConfig()
	cfg.SessionExpiryTimeout = cfg.SessionIdleTimeout
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsNonPositiveDurations(t *testing.T) {
	t.Run("idle timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.SessionIdleTimeout = 0
		assert.Error(t, Validate(cfg))
	})
	t.Run("catalog refresh", func(t *testing.T) {
		cfg := validConfig()
		cfg.CatalogRefreshInterval = 0
		assert.Error(t, Validate(cfg))
	})
	t.Run("tool call timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.ToolCallTimeout = -1
		assert.Error(t, Validate(cfg))
	})
	t.Run("invocation log ttl", func(t *testing.T) {
		cfg := validConfig()
		cfg.InvocationLogTTLDays = 0
		assert.Error(t, Validate(cfg))
	})
}
