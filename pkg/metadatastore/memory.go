package metadatastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
)

// MemoryStore is an in-memory Store used by unit tests that don't need a
// real Postgres or BoltDB backend.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Meta
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Meta)}
}

func (s *MemoryStore) Put(_ context.Context, m Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = time.Now().UTC()
	s.rows[m.SkillID] = m
	return nil
}

func (s *MemoryStore) Get(_ context.Context, skillID string) (*Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.rows[skillID]
	if !ok {
		return nil, apierr.ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) List(_ context.Context, status Status) ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Meta, 0, len(s.rows))
	for _, m := range s.rows {
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, skillID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[skillID]; !ok {
		return apierr.ErrNotFound
	}
	delete(s.rows, skillID)
	return nil
}

// Ping always succeeds: an in-memory map has no external dependency to
// become unreachable.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) IncrementInvocation(_ context.Context, skillID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[skillID]
	if !ok {
		return nil
	}
	m.InvocationCount++
	m.LastInvokedAt = &at
	m.UpdatedAt = time.Now().UTC()
	s.rows[skillID] = m
	return nil
}
