package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from
// CONFIG_DIR/openmcpskills.yaml plus environment overrides, exactly
// following the teacher's pipeline shape (load → merge → defaults →
// validate):
//
//  1. Load openmcpskills.yaml from configDir, if present.
//  2. Expand ${VAR}/$VAR references via os.ExpandEnv.
//  3. Unmarshal with yaml.v3.
//  4. Merge spec §6 environment variable overrides on top (these always
//     win, regardless of what the YAML says).
//  5. Apply defaults for anything still unset.
//  6. Validate.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	yamlCfg, err := loadYAML(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := fromYAML(configDir, yamlCfg)

	envCfg := fromEnv()
	if err := mergo.Merge(cfg, envCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"storage_backend", cfg.StorageBackend,
		"addr", cfg.Addr)
	return cfg, nil
}

func loadYAML(configDir string) (*YAMLConfig, error) {
	path := filepath.Join(configDir, "openmcpskills.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No YAML file is not fatal: env vars + defaults are enough.
			return &YAMLConfig{}, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return &cfg, nil
}

func fromYAML(configDir string, y *YAMLConfig) *Config {
	cfg := &Config{ConfigDir: configDir}

	if y.Server != nil {
		cfg.Addr = y.Server.Addr
		cfg.ServerName = y.Server.ServerName
		cfg.ServerVersion = y.Server.ServerVersion
	}
	if y.Storage != nil {
		cfg.StorageBackend = y.Storage.Backend
		cfg.SkillCacheDir = y.Storage.SkillCacheDir
		cfg.ObjectStoreBucket = y.Storage.ObjectStoreBucket
		cfg.ObjectStorePrefix = y.Storage.ObjectStorePrefix
		cfg.MetadataTable = y.Storage.MetadataTable
		cfg.InvocationLogTable = y.Storage.InvocationLogTable
		cfg.InvocationLogTTLDays = y.Storage.InvocationLogTTLDays
	}
	if y.Catalog != nil {
		if y.Catalog.RefreshSeconds > 0 {
			cfg.CatalogRefreshInterval = time.Duration(y.Catalog.RefreshSeconds) * time.Second
		}
		if y.Catalog.ToolCallTimeoutSecs > 0 {
			cfg.ToolCallTimeout = time.Duration(y.Catalog.ToolCallTimeoutSecs) * time.Second
		}
	}
	if y.Session != nil {
		if y.Session.IdleMinutes > 0 {
			cfg.SessionIdleTimeout = time.Duration(y.Session.IdleMinutes) * time.Minute
		}
		if y.Session.ExpiryHours > 0 {
			cfg.SessionExpiryTimeout = time.Duration(y.Session.ExpiryHours) * time.Hour
		}
	}
	if y.Admin != nil {
		cfg.AdminAuthToken = y.Admin.AuthToken
	}
	return cfg
}

// fromEnv reads the spec §6 environment variables into a partial Config
// suitable for merging over the YAML-derived one with mergo.WithOverride.
// Every field left at its zero value here is "not set" and will not
// override a YAML value.
func fromEnv() *Config {
	cfg := &Config{}

	cfg.StorageBackend = os.Getenv("STORAGE_BACKEND")
	cfg.SkillCacheDir = os.Getenv("SKILL_CACHE_DIR")
	cfg.ObjectStoreBucket = os.Getenv("OBJECT_STORE_BUCKET")
	cfg.ObjectStorePrefix = os.Getenv("OBJECT_STORE_PREFIX")
	cfg.MetadataTable = os.Getenv("METADATA_TABLE")
	cfg.InvocationLogTable = os.Getenv("INVOCATION_LOG_TABLE")
	cfg.AdminAuthToken = os.Getenv("ADMIN_AUTH_TOKEN")

	if v, err := strconv.Atoi(os.Getenv("INVOCATION_LOG_TTL_DAYS")); err == nil {
		cfg.InvocationLogTTLDays = v
	}
	if v, err := strconv.Atoi(os.Getenv("SESSION_IDLE_MINUTES")); err == nil && v > 0 {
		cfg.SessionIdleTimeout = time.Duration(v) * time.Minute
	}
	if v, err := strconv.Atoi(os.Getenv("SESSION_EXPIRY_HOURS")); err == nil && v > 0 {
		cfg.SessionExpiryTimeout = time.Duration(v) * time.Hour
	}
	if v, err := strconv.Atoi(os.Getenv("CATALOG_REFRESH_SECONDS")); err == nil && v > 0 {
		cfg.CatalogRefreshInterval = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("TOOL_CALL_TIMEOUT_SECONDS")); err == nil && v > 0 {
		cfg.ToolCallTimeout = time.Duration(v) * time.Second
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Addr = v
	}

	return cfg
}
