package session

import (
	"errors"
	"sync"
	"time"

	"github.com/llp-project/llp/internal/llpcrypto"
	"github.com/llp-project/llp/internal/wire"
)

// MaxSessions bounds the number of concurrently registered sessions.
const MaxSessions = 1000

// Session manager error taxonomy.
var (
	ErrSessionAlreadyExists = errors.New("session: already exists")
	ErrTooManySessions      = errors.New("session: too many sessions")
	ErrSessionNotFound      = errors.New("session: not found")
)

// Limits overrides the package-level session defaults for every session
// a Manager creates, normally sourced from internal/config.SessionConfig.
// A zero field retains the package default.
type Limits struct {
	Lifetime          time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	MaxTimestampDrift time.Duration
}

// EvictionReason identifies why CleanupExpired removed a session.
type EvictionReason string

const (
	EvictionLifetime         EvictionReason = "lifetime"
	EvictionKeepaliveTimeout EvictionReason = "keepalive_timeout"
)

// EvictedSession is one entry CleanupExpired removed from the registry.
type EvictedSession struct {
	SessionID uint64
	Reason    EvictionReason
}

// Manager is the session_id -> Session registry (C5). Add/Remove/
// CleanupExpired require exclusive access; Get and the keepalive/rekey
// snapshot queries only need a read lock, mirroring the teacher's
// peer.Manager RWMutex-guarded registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	limits   Limits
}

// NewManager constructs an empty session manager using the package's
// default session lifetime/keepalive/drift.
func NewManager() *Manager {
	return NewManagerWithLimits(Limits{})
}

// NewManagerWithLimits constructs an empty session manager that applies
// limits to every session it creates via Add.
func NewManagerWithLimits(limits Limits) *Manager {
	return &Manager{sessions: make(map[uint64]*Session), limits: limits}
}

// Add registers a newly-established session. Fails with
// ErrTooManySessions if the registry is already at MaxSessions, checked
// before the duplicate-id check so a full registry reports the capacity
// error even for an id collision.
func (m *Manager) Add(sessionID uint64, key llpcrypto.Key, profile wire.MimicryProfile) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= MaxSessions {
		return nil, ErrTooManySessions
	}
	if _, exists := m.sessions[sessionID]; exists {
		return nil, ErrSessionAlreadyExists
	}

	sess, err := New(sessionID, key, profile)
	if err != nil {
		return nil, err
	}
	if m.limits.Lifetime > 0 {
		sess.SetLifetime(m.limits.Lifetime)
	}
	if m.limits.KeepaliveInterval > 0 {
		sess.SetKeepaliveInterval(m.limits.KeepaliveInterval)
	}
	if m.limits.KeepaliveTimeout > 0 {
		sess.SetKeepaliveTimeout(m.limits.KeepaliveTimeout)
	}
	if m.limits.MaxTimestampDrift > 0 {
		sess.SetMaxTimestampDrift(m.limits.MaxTimestampDrift)
	}
	m.sessions[sessionID] = sess
	return sess, nil
}

// Get returns the session for sessionID, if any.
func (m *Manager) Get(sessionID uint64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// Remove evicts a session by id, returning whether it existed.
func (m *Manager) Remove(sessionID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	delete(m.sessions, sessionID)
	return true
}

// Has reports whether sessionID is currently registered.
func (m *Manager) Has(sessionID uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// Count returns the number of currently registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupExpired removes every session that has either outlived its
// lifetime or gone keepalive-timeout-silent, returning one EvictedSession
// per removal so the caller can tear down its own per-peer state (the
// transport connection, a routing-table entry) and report the reason
// through metrics.
func (m *Manager) CleanupExpired() []EvictedSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []EvictedSession
	for id, sess := range m.sessions {
		switch {
		case sess.IsExpired():
			delete(m.sessions, id)
			evicted = append(evicted, EvictedSession{SessionID: id, Reason: EvictionLifetime})
		case sess.IsKeepaliveTimeout():
			delete(m.sessions, id)
			evicted = append(evicted, EvictedSession{SessionID: id, Reason: EvictionKeepaliveTimeout})
		}
	}
	return evicted
}

// SessionsNeedingKeepalive returns a snapshot of sessions that have been
// idle past KeepaliveInterval and should have a keepalive packet sent.
func (m *Manager) SessionsNeedingKeepalive() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, sess := range m.sessions {
		if sess.NeedsKeepalive() {
			out = append(out, sess)
		}
	}
	return out
}

// SessionsNeedingRekey returns a snapshot of sessions whose TX sequence
// space has crossed the soft rekey threshold.
func (m *Manager) SessionsNeedingRekey() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, sess := range m.sessions {
		if sess.NeedsRekey() {
			out = append(out, sess)
		}
	}
	return out
}
