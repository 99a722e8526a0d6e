// Package session implements the per-peer encrypted data plane: AEAD
// encrypt/decrypt with a monotonic TX counter and an anti-replay RX
// window, timestamp validation, and keepalive/rekey bookkeeping. Manager
// implements the session registry (C5) on top of it.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/llp-project/llp/internal/llpcrypto"
	"github.com/llp-project/llp/internal/wire"
)

// Defaults matching the original implementation's constants.
const (
	DefaultSessionLifetime = 24 * time.Hour
	KeepaliveInterval      = 30 * time.Second
	KeepaliveTimeout       = 90 * time.Second
	MaxTimestampDrift      = 300 * time.Second

	// RekeySoftLimit is the TX counter value at which rekey_required is
	// raised without yet failing; MaxUint32 overflow beyond it is fatal.
	RekeySoftLimit uint32 = 1 << 31
)

// Session-level error taxonomy (spec §7 SessionError/CryptoError kinds
// surfaced through this package).
var (
	ErrDecryption          = errors.New("session: decryption failed")
	ErrDuplicateSequence   = errors.New("session: duplicate sequence number")
	ErrSequenceOutOfWindow = errors.New("session: sequence out of replay window")
	ErrInvalidTimestamp    = errors.New("session: timestamp outside allowed drift")
	ErrRekeyRequired       = errors.New("session: tx sequence space exhausted, rekey required")
)

// Session is a single peer's encrypted data-plane state, owned by one
// side of a session id. TX and RX directions are independent AEAD
// instances: this Session only ever encrypts with its own monotonic
// counter and decrypts traffic coming from the peer's own, separately
// incrementing counter.
type Session struct {
	mu sync.Mutex

	sessionID      uint64
	mimicryProfile wire.MimicryProfile

	tx *llpcrypto.AEAD
	rx *llpcrypto.AEAD

	txSequence      uint32
	rekeyRequired   bool
	rxReplayWindow  *ReplayWindow
	createdAt       time.Time
	lastActivity    time.Time
	lastKeepalive   time.Time
	sessionLifetime time.Duration

	// Per-session overrides of the package defaults, settable via
	// SetKeepaliveInterval/SetKeepaliveTimeout/SetMaxTimestampDrift (e.g.
	// from internal/config.SessionConfig).
	keepaliveInterval time.Duration
	keepaliveTimeout  time.Duration
	maxTimestampDrift time.Duration
}

// New constructs a Session from an already-derived, already-authenticated
// session key (i.e. only after a handshake has reached Completed).
func New(sessionID uint64, key llpcrypto.Key, profile wire.MimicryProfile) (*Session, error) {
	tx, err := llpcrypto.NewAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("new tx aead: %w", err)
	}
	rx, err := llpcrypto.NewAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("new rx aead: %w", err)
	}

	now := time.Now()
	return &Session{
		sessionID:         sessionID,
		mimicryProfile:    profile,
		tx:                tx,
		rx:                rx,
		rxReplayWindow:    NewReplayWindow(),
		createdAt:         now,
		lastActivity:      now,
		lastKeepalive:     now,
		sessionLifetime:   DefaultSessionLifetime,
		keepaliveInterval: KeepaliveInterval,
		keepaliveTimeout:  KeepaliveTimeout,
		maxTimestampDrift: MaxTimestampDrift,
	}, nil
}

// SessionID returns the id this session is keyed under.
func (s *Session) SessionID() uint64 { return s.sessionID }

// MimicryProfile returns the negotiated HTTP mimicry profile.
func (s *Session) MimicryProfile() wire.MimicryProfile { return s.mimicryProfile }

// Encrypt seals plaintext under the current TX counter and returns the
// ciphertext||tag along with the sequence number used (the counter's
// value before increment, per spec). The nonce is (sequence, sessionID).
func (s *Session) Encrypt(plaintext, aad []byte) (ciphertext []byte, sequence uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txSequence == ^uint32(0) {
		return nil, 0, ErrRekeyRequired
	}

	sequence = s.txSequence
	ciphertext = s.tx.Seal(uint64(sequence), s.sessionID, plaintext, aad)
	s.txSequence++
	if s.txSequence >= RekeySoftLimit {
		s.rekeyRequired = true
	}
	s.lastActivity = time.Now()
	return ciphertext, sequence, nil
}

// Decrypt authenticates and opens ciphertext at the given sequence
// number. The anti-replay window is checked (non-mutating) before AEAD
// so an already-seen or out-of-window sequence is rejected cheaply
// without spending a Poly1305 verification; the window is committed
// only once AEAD has actually succeeded, so a forged high-sequence
// packet that fails authentication can never poison the window.
func (s *Session) Decrypt(ciphertext, aad []byte, sequence uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accept, duplicate := s.rxReplayWindow.Test(sequence)
	if !accept {
		if duplicate {
			return nil, ErrDuplicateSequence
		}
		return nil, ErrSequenceOutOfWindow
	}

	plaintext, err := s.rx.Open(uint64(sequence), s.sessionID, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	s.rxReplayWindow.Commit(sequence)
	s.lastActivity = time.Now()
	s.lastKeepalive = s.lastActivity
	return plaintext, nil
}

// ValidateTimestamp rejects a packet timestamp further than maxDrift from
// now in either direction.
func ValidateTimestamp(packetTimestamp time.Time, now time.Time, maxDrift time.Duration) error {
	drift := now.Sub(packetTimestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > maxDrift {
		return fmt.Errorf("%w: drift %s exceeds %s", ErrInvalidTimestamp, drift, maxDrift)
	}
	return nil
}

// ValidateTimestamp rejects a packet timestamp further than this
// session's configured MaxTimestampDrift from now.
func (s *Session) ValidateTimestamp(packetTimestamp, now time.Time) error {
	s.mu.Lock()
	drift := s.maxTimestampDrift
	s.mu.Unlock()
	return ValidateTimestamp(packetTimestamp, now, drift)
}

// NeedsKeepalive reports whether this session has been idle longer than
// its configured keepalive interval and should emit a keepalive packet.
func (s *Session) NeedsKeepalive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity) > s.keepaliveInterval
}

// IsKeepaliveTimeout reports whether no traffic (data or keepalive) has
// been seen for this session's configured keepalive timeout, meaning the
// session should be evicted.
func (s *Session) IsKeepaliveTimeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastKeepalive) > s.keepaliveTimeout
}

// MarkKeepaliveReceived resets the keepalive timeout clock.
func (s *Session) MarkKeepaliveReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastKeepalive = time.Now()
	s.lastActivity = time.Now()
}

// NeedsRekey reports whether the TX sequence space has crossed the soft
// limit and a rekey should be initiated.
func (s *Session) NeedsRekey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rekeyRequired
}

// IsExpired reports whether the session has outlived its configured
// lifetime since creation.
func (s *Session) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.createdAt) > s.sessionLifetime
}

// SetLifetime overrides the default session lifetime (used by tests and
// by configuration overrides).
func (s *Session) SetLifetime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLifetime = d
}

// SetKeepaliveInterval overrides the default idle interval after which
// NeedsKeepalive reports true.
func (s *Session) SetKeepaliveInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepaliveInterval = d
}

// SetKeepaliveTimeout overrides the default silence duration after which
// IsKeepaliveTimeout reports true.
func (s *Session) SetKeepaliveTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepaliveTimeout = d
}

// SetMaxTimestampDrift overrides the default allowed clock drift used by
// ValidateTimestamp.
func (s *Session) SetMaxTimestampDrift(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxTimestampDrift = d
}

// CurrentTXSequence returns the next sequence number that will be used
// by Encrypt, so a caller can build the packet header (the AAD) before
// encrypting.
func (s *Session) CurrentTXSequence() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txSequence
}

// IdleTime returns how long it has been since the last activity.
func (s *Session) IdleTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}
