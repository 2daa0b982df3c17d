// Package metadatastore implements C2: per-skill metadata, version index,
// and invocation counters, with an atomic counter update contract.
package metadatastore

import (
	"context"
	"time"
)

// Status mirrors skill.Status but is kept independent so this package has
// no import-time dependency on pkg/skill's validation rules.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// Meta is one skill's persisted metadata row (spec §3 Skill, §4.2).
type Meta struct {
	SkillID         string
	Version         int
	AllVersions     []int
	Status          Status
	LoadError       string
	ManifestJSON    string
	InvocationCount int64
	LastInvokedAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store is the C2 contract: Put, Get, List, Delete, IncrementInvocation.
type Store interface {
	Put(ctx context.Context, m Meta) error
	Get(ctx context.Context, skillID string) (*Meta, error)
	List(ctx context.Context, status Status) ([]Meta, error)
	Delete(ctx context.Context, skillID string) error

	// IncrementInvocation performs a single atomic add to invocation_count
	// and stamps last_invoked_at. PostgresStore retries with bounded
	// exponential backoff (up to 3 attempts) and then drops the update
	// silently; LocalStore and MemoryStore make a single attempt, and
	// LocalStore returns any write error to the caller. Invocation
	// correctness never depends on it.
	IncrementInvocation(ctx context.Context, skillID string, at time.Time) error

	// Ping performs a cheap reachability check (e.g. a connection/bucket
	// probe) used by the transport's /ready handler (spec §4.8).
	Ping(ctx context.Context) error
}
