package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/llp-project/llp/internal/llpcrypto"
	"github.com/llp-project/llp/internal/wire"
)

func testKey() llpcrypto.Key {
	var k llpcrypto.Key
	copy(k[:], bytes.Repeat([]byte{0x5A}, llpcrypto.KeySize))
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tx, err := New(12345, testKey(), wire.ProfileNone)
	if err != nil {
		t.Fatal(err)
	}
	rx, err := New(12345, testKey(), wire.ProfileNone)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("Hello, LLP!")
	aad := []byte("header-bytes")

	ciphertext, seq, err := tx.Encrypt(plaintext, aad)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if seq != 0 {
		t.Fatalf("first sequence = %d, want 0", seq)
	}
	if len(ciphertext) != len(plaintext)+llpcrypto.TagSize {
		t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+llpcrypto.TagSize)
	}

	got, err := rx.Decrypt(ciphertext, aad, seq)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptRejectsFlippedAAD(t *testing.T) {
	tx, _ := New(1, testKey(), wire.ProfileNone)
	rx, _ := New(1, testKey(), wire.ProfileNone)

	ciphertext, seq, err := tx.Encrypt([]byte("data"), []byte("aad"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := rx.Decrypt(ciphertext, []byte("ada"), seq); !errors.Is(err, ErrDecryption) {
		t.Errorf("expected ErrDecryption, got %v", err)
	}
}

func TestSequenceMonotonic(t *testing.T) {
	tx, _ := New(1, testKey(), wire.ProfileNone)
	for i := uint32(0); i < 10; i++ {
		_, seq, err := tx.Encrypt([]byte("x"), nil)
		if err != nil {
			t.Fatal(err)
		}
		if seq != i {
			t.Fatalf("sequence[%d] = %d, want %d", i, seq, i)
		}
	}
}

func TestReplayRejectsExactDuplicate(t *testing.T) {
	tx, _ := New(1, testKey(), wire.ProfileNone)
	rx, _ := New(1, testKey(), wire.ProfileNone)

	ciphertext, seq, err := tx.Encrypt([]byte("data"), nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := rx.Decrypt(ciphertext, nil, seq); err != nil {
		t.Fatalf("first decrypt failed: %v", err)
	}
	if _, err := rx.Decrypt(ciphertext, nil, seq); !errors.Is(err, ErrDuplicateSequence) {
		t.Errorf("expected ErrDuplicateSequence, got %v", err)
	}
}

func TestOutOfOrderWithinWindowAccepted(t *testing.T) {
	tx, _ := New(1, testKey(), wire.ProfileNone)
	rx, _ := New(1, testKey(), wire.ProfileNone)

	var ciphertexts [10][]byte
	for i := range ciphertexts {
		ct, seq, err := tx.Encrypt([]byte("payload"), nil)
		if err != nil {
			t.Fatal(err)
		}
		ciphertexts[seq] = ct
	}

	order := []uint32{0, 5, 3, 2, 1, 4, 6, 7, 8, 9}
	for _, seq := range order {
		if _, err := rx.Decrypt(ciphertexts[seq], nil, seq); err != nil {
			t.Fatalf("decrypt seq %d failed: %v", seq, err)
		}
	}

	if _, err := rx.Decrypt(ciphertexts[3], nil, 3); !errors.Is(err, ErrDuplicateSequence) {
		t.Errorf("redelivering seq 3 expected ErrDuplicateSequence, got %v", err)
	}
}

func TestReplayWindowDoesNotCommitOnAEADFailure(t *testing.T) {
	tx, _ := New(1, testKey(), wire.ProfileNone)
	rx, _ := New(1, testKey(), wire.ProfileNone)

	ciphertext, seq, err := tx.Encrypt([]byte("data"), []byte("aad"))
	if err != nil {
		t.Fatal(err)
	}

	// Forge with wrong AAD: AEAD must fail and the window must NOT commit,
	// so the legitimate packet at the same sequence can still be accepted
	// afterwards.
	if _, err := rx.Decrypt(ciphertext, []byte("forged"), seq); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for forged AAD, got %v", err)
	}

	if _, err := rx.Decrypt(ciphertext, []byte("aad"), seq); err != nil {
		t.Fatalf("legitimate packet should still be accepted after a forged attempt failed AEAD: %v", err)
	}
}

func TestTimestampBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	if err := ValidateTimestamp(now.Add(-MaxTimestampDrift), now, MaxTimestampDrift); err != nil {
		t.Errorf("exactly -MaxTimestampDrift should be accepted, got %v", err)
	}
	if err := ValidateTimestamp(now.Add(MaxTimestampDrift), now, MaxTimestampDrift); err != nil {
		t.Errorf("exactly +MaxTimestampDrift should be accepted, got %v", err)
	}
	if err := ValidateTimestamp(now.Add(-MaxTimestampDrift-time.Second), now, MaxTimestampDrift); err == nil {
		t.Error("drift beyond -MaxTimestampDrift should be rejected")
	}
	if err := ValidateTimestamp(now.Add(MaxTimestampDrift+time.Second), now, MaxTimestampDrift); err == nil {
		t.Error("drift beyond +MaxTimestampDrift should be rejected")
	}
}

func TestSessionValidateTimestampUsesConfiguredDrift(t *testing.T) {
	sess, _ := New(1, testKey(), wire.ProfileNone)
	sess.SetMaxTimestampDrift(5 * time.Second)

	now := time.Unix(1_700_000_000, 0)
	if err := sess.ValidateTimestamp(now.Add(-5*time.Second), now); err != nil {
		t.Errorf("drift within the configured 5s should be accepted, got %v", err)
	}
	if err := sess.ValidateTimestamp(now.Add(-6*time.Second), now); err == nil {
		t.Error("drift beyond the configured 5s should be rejected")
	}
}

func TestKeepaliveTracking(t *testing.T) {
	sess, _ := New(1, testKey(), wire.ProfileNone)
	if sess.NeedsKeepalive() {
		t.Error("freshly created session should not need a keepalive yet")
	}
	if sess.IsKeepaliveTimeout() {
		t.Error("freshly created session should not be keepalive-timed-out")
	}
	sess.MarkKeepaliveReceived()
	if sess.IsKeepaliveTimeout() {
		t.Error("session should not be timed out immediately after a keepalive")
	}
}

func TestKeepaliveIntervalOverride(t *testing.T) {
	sess, _ := New(1, testKey(), wire.ProfileNone)
	sess.SetKeepaliveInterval(10 * time.Millisecond)
	sess.SetKeepaliveTimeout(20 * time.Millisecond)

	time.Sleep(15 * time.Millisecond)
	if !sess.NeedsKeepalive() {
		t.Error("NeedsKeepalive() should honor the overridden interval")
	}
	if sess.IsKeepaliveTimeout() {
		t.Error("IsKeepaliveTimeout() should not yet trip before the overridden timeout")
	}

	time.Sleep(10 * time.Millisecond)
	if !sess.IsKeepaliveTimeout() {
		t.Error("IsKeepaliveTimeout() should honor the overridden timeout")
	}
}

func TestReplayWindowBoundaries(t *testing.T) {
	w := NewReplayWindow()
	w.Commit(1000)

	if accept, _ := w.Test(1000); accept {
		t.Error("sequence == highest should be rejected")
	}

	// highest - W + 1 is the oldest in-window sequence: accept once, reject twice.
	oldest := uint32(1000 - replayWindowSize + 1)
	if accept, _ := w.Test(oldest); !accept {
		t.Errorf("sequence highest-W+1 (%d) should be accepted on first sight", oldest)
	}
	w.Commit(oldest)
	if accept, dup := w.Test(oldest); accept || !dup {
		t.Errorf("redelivering sequence highest-W+1 should be rejected as duplicate")
	}

	tooOld := uint32(1000 - replayWindowSize)
	if accept, _ := w.Test(tooOld); accept {
		t.Errorf("sequence highest-W (%d) should be rejected as out of window", tooOld)
	}
}
