package config

import "fmt"

// Validator validates a resolved Config comprehensively, failing fast at
// the first error in declared order (teacher's validator.go pattern).
type Validator struct {
	cfg *Config
}

// NewValidator creates a Validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate runs every check against cfg.
func Validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

// ValidateAll performs every check in order, stopping at the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateStorage(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := v.validateDurations(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	return nil
}

func (v *Validator) validateStorage() error {
	switch v.cfg.StorageBackend {
	case "local", "remote":
	default:
		return NewValidationError("storage.backend",
			fmt.Errorf("%w: must be \"local\" or \"remote\", got %q", ErrInvalidValue, v.cfg.StorageBackend))
	}
	if v.cfg.SkillCacheDir == "" {
		return NewValidationError("storage.skill_cache_dir", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateDurations() error {
	if v.cfg.SessionIdleTimeout <= 0 {
		return NewValidationError("session.idle_minutes", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if v.cfg.SessionExpiryTimeout <= 0 {
		return NewValidationError("session.expiry_hours", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if v.cfg.SessionExpiryTimeout <= v.cfg.SessionIdleTimeout {
		return NewValidationError("session.expiry_hours",
			fmt.Errorf("%w: expiry timeout must exceed idle timeout", ErrInvalidValue))
	}
	if v.cfg.CatalogRefreshInterval <= 0 {
		return NewValidationError("catalog.refresh_seconds", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if v.cfg.ToolCallTimeout <= 0 {
		return NewValidationError("catalog.tool_call_timeout_seconds", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if v.cfg.InvocationLogTTLDays <= 0 {
		return NewValidationError("storage.invocation_log_ttl_days", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}
