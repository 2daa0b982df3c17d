package mcpsession

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/comdaze/openmcpskills/pkg/apierr"
	"github.com/google/uuid"
)

// SupportedProtocolVersions lists the server's supported MCP revisions,
// newest first (spec §4.6 default priority).
var SupportedProtocolVersions = []string{"2025-11-25", "2025-06-18", "2025-03-26"}

// ServerCapabilities is the fixed capability set this server advertises
// (spec §4.6).
var ServerCapabilities = map[string]any{"tools": true, "prompts": true, "resources": true}

// Config bundles the timeouts governing session suspension and expiry.
type Config struct {
	IdleTimeout   time.Duration // SESSION_IDLE_MINUTES
	ExpiryTimeout time.Duration // SESSION_EXPIRY_HOURS
	SweepInterval time.Duration
}

// Registry is the C6 component: an in-memory map of session id to
// *Session with fine-grained per-session locking (lookups take only a
// read lock on the map; mutation happens on the Session itself).
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Registry. Call Start to begin the background sweeper
// that suspends idle sessions and purges expired ones.
func New(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	if cfg.ExpiryTimeout <= 0 {
		cfg.ExpiryTimeout = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
}

// NegotiateProtocolVersion picks the highest mutually-supported protocol
// version from the client's offered set (spec §4.6). Returns ok=false if
// no common version exists.
func NegotiateProtocolVersion(clientOffered []string) (string, bool) {
	offered := make(map[string]bool, len(clientOffered))
	for _, v := range clientOffered {
		offered[v] = true
	}
	for _, v := range SupportedProtocolVersions {
		if offered[v] {
			return v, true
		}
	}
	return "", false
}

// Create assigns a new session id in the initializing state (spec §4.6:
// issued when a client sends initialize without a session header).
func (r *Registry) Create() *Session {
	now := time.Now().UTC()
	s := newSession(uuid.New().String(), now)

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get resolves a session by id, touching its activity timestamp and
// resuming it from suspended if needed. Returns an
// apierr.KindSessionNotFound error for an unknown or previously-closed
// session id (spec §4.6).
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apierr.New(apierr.KindSessionNotFound, "unknown or expired session id")
	}
	if s.State() == StateClosed {
		return nil, apierr.New(apierr.KindSessionNotFound, "session is closed")
	}
	s.Touch(time.Now().UTC())
	return s, nil
}

// Close transitions a session to closed and removes it (DELETE /mcp,
// idempotent per spec §4.8).
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Count returns the number of tracked sessions, for /health metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Start begins the background sweeper that suspends idle sessions and
// purges expired ones.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop signals the sweeper to stop and waits for it to finish.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Registry) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := time.Now().UTC()

	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids) // deterministic sweep order, easier to reason about in logs

	var purged, suspended int
	for _, id := range ids {
		r.mu.RLock()
		s, ok := r.sessions[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}

		if s.expiredSince(now, r.cfg.ExpiryTimeout) {
			r.mu.Lock()
			delete(r.sessions, id)
			r.mu.Unlock()
			s.Close()
			purged++
			continue
		}
		if s.idleSince(now, r.cfg.IdleTimeout) {
			s.suspend()
			suspended++
		}
	}

	if purged > 0 || suspended > 0 {
		r.logger.Info("session sweep complete", "purged", purged, "suspended", suspended, "remaining", r.Count())
	}
}
