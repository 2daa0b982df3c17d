// Package mcpsession implements C6: per-connection MCP session state,
// capability negotiation, suspension, and expiry (spec §4.6).
package mcpsession

import (
	"sync"
	"time"
)

// State is one of the four session lifecycle states (spec §4.6).
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateSuspended    State = "suspended"
	StateClosed       State = "closed"
)

// ringCapacity bounds pending_notifications (spec §4.8: "256-entry ring
// per session").
const ringCapacity = 256

// notificationRing is a fixed-capacity FIFO that silently overwrites the
// oldest entry once full — consistent with the spec's "at-most-once
// delivery within the buffer window" contract for GET /mcp reconnects.
type notificationRing struct {
	items []any
	start int
	size  int
}

func newNotificationRing() *notificationRing {
	return &notificationRing{items: make([]any, ringCapacity)}
}

func (r *notificationRing) push(v any) {
	idx := (r.start + r.size) % ringCapacity
	r.items[idx] = v
	if r.size < ringCapacity {
		r.size++
	} else {
		r.start = (r.start + 1) % ringCapacity
	}
}

// drain returns every buffered notification in enqueue order and empties
// the ring.
func (r *notificationRing) drain() []any {
	out := make([]any, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.start+i)%ringCapacity])
	}
	r.start, r.size = 0, 0
	return out
}

// Session is the C6 per-connection record (spec §3).
type Session struct {
	ID string

	mu                 sync.Mutex
	state              State
	protocolVersion    string
	clientInfo         map[string]any
	clientCapabilities map[string]any
	serverCapabilities map[string]any
	authSubject        string
	scopes             []string
	createdAt          time.Time
	lastActivityAt     time.Time
	expiresAt          time.Time
	notifications      *notificationRing
	cancelled          bool
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:             id,
		state:          StateInitializing,
		createdAt:      now,
		lastActivityAt: now,
		notifications:  newNotificationRing(),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touch records traffic, resuming a suspended session to active (spec
// §4.6: "suspended --any-request--> active").
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = now
	if s.state == StateSuspended {
		s.state = StateActive
	}
}

// MarkInitialized transitions initializing -> active and records the
// negotiated protocol version and capabilities.
func (s *Session) MarkInitialized(protocolVersion string, clientInfo, clientCapabilities, serverCapabilities map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = protocolVersion
	s.clientInfo = clientInfo
	s.clientCapabilities = clientCapabilities
	s.serverCapabilities = serverCapabilities
	s.state = StateActive
}

// SetAuth records the auth verifier's result for this session.
func (s *Session) SetAuth(subject string, scopes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authSubject = subject
	s.scopes = scopes
}

// HasScope reports whether the session's verified scopes include scope.
func (s *Session) HasScope(scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

// ProtocolVersion returns the negotiated protocol version (empty until
// initialize completes).
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// Close transitions the session to closed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// Cancel marks any in-flight work for this session as cancelled (spec §5,
// triggered when an SSE stream disconnects mid tools/call).
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Cancelled reports and clears the cancellation flag.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cancelled
	s.cancelled = false
	return c
}

// Notify enqueues a server-initiated notification for delivery on the
// session's next GET /mcp read.
func (s *Session) Notify(payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications.push(payload)
}

// DrainNotifications returns and clears every buffered notification.
func (s *Session) DrainNotifications() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications.drain()
}

// idleSince/expiredSince compute whether this session has crossed the
// idle-suspend or suspend-expire thresholds, given now.
func (s *Session) idleSince(now time.Time, idleTimeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive && now.Sub(s.lastActivityAt) >= idleTimeout
}

func (s *Session) expiredSince(now time.Time, expiryTimeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateSuspended && now.Sub(s.lastActivityAt) >= expiryTimeout
}

func (s *Session) suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		s.state = StateSuspended
	}
}
