package config

import "time"

// Default values applied to any field left unset by both the YAML file
// and the environment (spec §6: "all optional with defaults").
const (
	DefaultAddr          = ":8080"
	DefaultServerName    = "openmcpskills"
	DefaultServerVersion = "dev"

	DefaultStorageBackend       = "local"
	DefaultSkillCacheDir        = "./data/skills"
	DefaultObjectStoreBucket    = "openmcpskills"
	DefaultObjectStorePrefix    = ""
	DefaultMetadataTable        = "skill_metadata"
	DefaultInvocationLogTable   = "invocation_log"
	DefaultInvocationLogTTLDays = 30

	DefaultCatalogRefreshSeconds  = 60
	DefaultToolCallTimeoutSeconds = 30

	DefaultSessionIdleMinutes = 15
	DefaultSessionExpiryHours = 24
)

// applyDefaults fills every still-zero field of cfg with its default.
func applyDefaults(cfg *Config) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ServerName == "" {
		cfg.ServerName = DefaultServerName
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = DefaultServerVersion
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = DefaultStorageBackend
	}
	if cfg.SkillCacheDir == "" {
		cfg.SkillCacheDir = DefaultSkillCacheDir
	}
	if cfg.ObjectStoreBucket == "" {
		cfg.ObjectStoreBucket = DefaultObjectStoreBucket
	}
	if cfg.MetadataTable == "" {
		cfg.MetadataTable = DefaultMetadataTable
	}
	if cfg.InvocationLogTable == "" {
		cfg.InvocationLogTable = DefaultInvocationLogTable
	}
	if cfg.InvocationLogTTLDays == 0 {
		cfg.InvocationLogTTLDays = DefaultInvocationLogTTLDays
	}
	if cfg.CatalogRefreshInterval == 0 {
		cfg.CatalogRefreshInterval = DefaultCatalogRefreshSeconds * time.Second
	}
	if cfg.ToolCallTimeout == 0 {
		cfg.ToolCallTimeout = DefaultToolCallTimeoutSeconds * time.Second
	}
	if cfg.SessionIdleTimeout == 0 {
		cfg.SessionIdleTimeout = DefaultSessionIdleMinutes * time.Minute
	}
	if cfg.SessionExpiryTimeout == 0 {
		cfg.SessionExpiryTimeout = DefaultSessionExpiryHours * time.Hour
	}
}
