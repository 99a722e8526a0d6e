package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/llp-project/llp/internal/llpcrypto"
	"github.com/llp-project/llp/internal/wire"
)

func TestManagerAddGetRemove(t *testing.T) {
	m := NewManager()
	key := testKey()

	sess, err := m.Add(1, key, wire.ProfileNone)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if sess.SessionID() != 1 {
		t.Errorf("SessionID() = %d, want 1", sess.SessionID())
	}

	got, ok := m.Get(1)
	if !ok || got != sess {
		t.Error("Get() did not return the added session")
	}

	if !m.Remove(1) {
		t.Error("Remove() reported false for an existing session")
	}
	if m.Remove(1) {
		t.Error("Remove() reported true for an already-removed session")
	}
}

func TestManagerRejectsDuplicateID(t *testing.T) {
	m := NewManager()
	key := testKey()

	if _, err := m.Add(1, key, wire.ProfileNone); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Add(1, key, wire.ProfileNone); !errors.Is(err, ErrSessionAlreadyExists) {
		t.Errorf("expected ErrSessionAlreadyExists, got %v", err)
	}
}

func TestManagerEnforcesMaxSessions(t *testing.T) {
	m := NewManager()
	var k llpcrypto.Key
	for i := uint64(0); i < MaxSessions; i++ {
		copy(k[:], bytes.Repeat([]byte{byte(i)}, llpcrypto.KeySize))
		if _, err := m.Add(i, k, wire.ProfileNone); err != nil {
			t.Fatalf("Add() #%d error = %v", i, err)
		}
	}
	if _, err := m.Add(MaxSessions, k, wire.ProfileNone); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("expected ErrTooManySessions, got %v", err)
	}
}

func TestManagerCleanupExpired(t *testing.T) {
	m := NewManager()
	sess, err := m.Add(1, testKey(), wire.ProfileNone)
	if err != nil {
		t.Fatal(err)
	}
	sess.SetLifetime(-time.Second) // already expired

	evicted := m.CleanupExpired()
	if len(evicted) != 1 {
		t.Fatalf("CleanupExpired() removed %d, want 1", len(evicted))
	}
	if evicted[0].SessionID != 1 || evicted[0].Reason != EvictionLifetime {
		t.Errorf("CleanupExpired() = %+v, want {SessionID:1 Reason:lifetime}", evicted[0])
	}
	if m.Has(1) {
		t.Error("expired session still present after cleanup")
	}
}

func TestManagerCleanupExpiredKeepaliveTimeout(t *testing.T) {
	m := NewManager()
	sess, err := m.Add(1, testKey(), wire.ProfileNone)
	if err != nil {
		t.Fatal(err)
	}
	sess.SetKeepaliveTimeout(-time.Second) // already timed out

	evicted := m.CleanupExpired()
	if len(evicted) != 1 || evicted[0].Reason != EvictionKeepaliveTimeout {
		t.Fatalf("CleanupExpired() = %+v, want one EvictionKeepaliveTimeout entry", evicted)
	}
}

func TestManagerWithLimitsAppliesToNewSessions(t *testing.T) {
	m := NewManagerWithLimits(Limits{KeepaliveInterval: 10 * time.Millisecond})
	sess, err := m.Add(1, testKey(), wire.ProfileNone)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(15 * time.Millisecond)
	if !sess.NeedsKeepalive() {
		t.Error("session should have inherited the manager's configured keepalive interval")
	}
}

func TestManagerSessionsNeedingKeepaliveEmptyWhenFresh(t *testing.T) {
	m := NewManager()
	if _, err := m.Add(1, testKey(), wire.ProfileNone); err != nil {
		t.Fatal(err)
	}

	if needing := m.SessionsNeedingKeepalive(); len(needing) != 0 {
		t.Errorf("fresh session should not need keepalive, got %d", len(needing))
	}
	if needing := m.SessionsNeedingRekey(); len(needing) != 0 {
		t.Errorf("fresh session should not need rekey, got %d", len(needing))
	}
}
