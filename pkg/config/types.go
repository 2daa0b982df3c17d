package config

import "time"

// YAMLConfig is the shape of config/openmcpskills.yaml. Every field here
// can also be overridden by the environment variables listed in spec §6;
// the env vars always win (see Initialize).
type YAMLConfig struct {
	Server  *ServerYAMLConfig  `yaml:"server"`
	Storage *StorageYAMLConfig `yaml:"storage"`
	Catalog *CatalogYAMLConfig `yaml:"catalog"`
	Session *SessionYAMLConfig `yaml:"session"`
	Admin   *AdminYAMLConfig   `yaml:"admin"`
}

// ServerYAMLConfig groups HTTP listener settings.
type ServerYAMLConfig struct {
	Addr          string `yaml:"addr"`
	ServerName    string `yaml:"server_name"`
	ServerVersion string `yaml:"server_version"`
}

// StorageYAMLConfig groups C1/C2/C3 backend settings.
type StorageYAMLConfig struct {
	Backend              string `yaml:"backend"` // "local" or "remote"
	SkillCacheDir        string `yaml:"skill_cache_dir"`
	ObjectStoreBucket    string `yaml:"object_store_bucket"`
	ObjectStorePrefix    string `yaml:"object_store_prefix"`
	MetadataTable        string `yaml:"metadata_table"`
	InvocationLogTable   string `yaml:"invocation_log_table"`
	InvocationLogTTLDays int    `yaml:"invocation_log_ttl_days"`
}

// CatalogYAMLConfig groups C5 refresh settings.
type CatalogYAMLConfig struct {
	RefreshSeconds      int `yaml:"refresh_seconds"`
	ToolCallTimeoutSecs int `yaml:"tool_call_timeout_seconds"`
}

// SessionYAMLConfig groups C6 lifecycle settings.
type SessionYAMLConfig struct {
	IdleMinutes int `yaml:"idle_minutes"`
	ExpiryHours int `yaml:"expiry_hours"`
}

// AdminYAMLConfig groups the admin REST surface's auth settings.
type AdminYAMLConfig struct {
	AuthToken string `yaml:"auth_token"`
}

// Config is the fully resolved, validated configuration ready for wiring
// into cmd/openmcpskills/main.go.
type Config struct {
	ConfigDir string

	Addr          string
	ServerName    string
	ServerVersion string

	StorageBackend       string
	SkillCacheDir        string
	ObjectStoreBucket    string
	ObjectStorePrefix    string
	MetadataTable        string
	InvocationLogTable   string
	InvocationLogTTLDays int

	CatalogRefreshInterval time.Duration
	ToolCallTimeout        time.Duration

	SessionIdleTimeout   time.Duration
	SessionExpiryTimeout time.Duration

	AdminAuthToken string
}
