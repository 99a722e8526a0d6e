// Package llpcrypto provides the cryptographic primitives used to
// establish and run an encrypted session: X25519 key exchange, HKDF-SHA256
// key derivation, ChaCha20-Poly1305 AEAD, and HMAC-SHA256 transcript
// confirmation.
package llpcrypto

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of an X25519 key or a derived session key, in bytes.
	KeySize = 32

	// NonceSize is the ChaCha20-Poly1305 nonce size in bytes.
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the Poly1305 authentication tag size in bytes.
	TagSize = 16

	// HMACSize is the size of a transcript confirmation tag.
	HMACSize = sha256.Size

	// SessionKeyInfo is the HKDF info string binding derived keys to this protocol.
	SessionKeyInfo = "llp-session-key-v1"
)

// Key is a fixed-size key or public value that must be zeroed after use
// when it carries secret material.
type Key [KeySize]byte

// Zero overwrites k with zeroes. Call this on every exit path once a
// private key or derived session key is no longer needed.
func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// IsZero reports whether k is the all-zero value.
func (k Key) IsZero() bool {
	var zero Key
	return k == zero
}

// ZeroBytes overwrites b with zeroes in place.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateKeypair produces a fresh ephemeral X25519 keypair using
// crypto/rand. The caller must Zero() the private key once the shared
// secret has been computed.
func GenerateKeypair() (private, public Key, err error) {
	if _, err = io.ReadFull(rand.Reader, private[:]); err != nil {
		return Key{}, Key{}, fmt.Errorf("generate private key: %w", err)
	}

	private[0] &= 248
	private[31] &= 127
	private[31] |= 64

	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		private.Zero()
		return Key{}, Key{}, fmt.Errorf("derive public key: %w", err)
	}
	copy(public[:], pub)
	return private, public, nil
}

// ECDH performs the X25519 Diffie-Hellman exchange, rejecting the
// contributory-behavior failure case (an all-zero result), which would
// indicate a low-order remote public key.
func ECDH(private, remotePublic Key) (Key, error) {
	var zero Key
	if remotePublic == zero {
		return Key{}, fmt.Errorf("remote public key is zero")
	}

	shared, err := curve25519.X25519(private[:], remotePublic[:])
	if err != nil {
		return Key{}, fmt.Errorf("x25519: %w", err)
	}

	var sharedKey Key
	copy(sharedKey[:], shared)
	if sharedKey == zero {
		return Key{}, fmt.Errorf("ecdh result is a low-order point")
	}
	return sharedKey, nil
}

// DeriveSessionKey runs HKDF-SHA256 over the ECDH shared secret with the
// supplied salt (client_random || server_random, per the handshake) and
// the fixed SessionKeyInfo context string.
func DeriveSessionKey(sharedSecret Key, salt []byte) (Key, error) {
	reader := hkdf.New(sha256.New, sharedSecret[:], salt, []byte(SessionKeyInfo))
	var out Key
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		return Key{}, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// Nonce builds the 12-byte ChaCha20-Poly1305 nonce bound to a packet's
// (counter, session_id) pair: counter_le(8) || (session_id & 0xFFFFFFFF)_le(4).
// Reusing a (session_key, nonce) pair is catastrophic for AEAD, which is
// why a session key must never be shared across two session_ids and a
// sequence counter must never be reused within one session's lifetime.
func Nonce(counter uint64, sessionID uint64) [NonceSize]byte {
	var n [NonceSize]byte
	binary.LittleEndian.PutUint64(n[0:8], counter)
	binary.LittleEndian.PutUint32(n[8:12], uint32(sessionID))
	return n
}

// AEAD wraps a single ChaCha20-Poly1305 cipher instance bound to one key.
type AEAD struct {
	aead cipher.AEAD
	key  Key
}

// NewAEAD constructs a ChaCha20-Poly1305 AEAD over key.
func NewAEAD(key Key) (*AEAD, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("new chacha20poly1305: %w", err)
	}
	return &AEAD{aead: aead, key: key}, nil
}

// Seal encrypts plaintext under the nonce derived from (counter, sessionID),
// authenticating aad alongside it. The result has TagSize bytes of overhead.
func (a *AEAD) Seal(counter, sessionID uint64, plaintext, aad []byte) []byte {
	nonce := Nonce(counter, sessionID)
	return a.aead.Seal(nil, nonce[:], plaintext, aad)
}

// Open decrypts and authenticates ciphertext produced by Seal with the same
// counter, sessionID and aad.
func (a *AEAD) Open(counter, sessionID uint64, ciphertext, aad []byte) ([]byte, error) {
	nonce := Nonce(counter, sessionID)
	plaintext, err := a.aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("aead open: %w", err)
	}
	return plaintext, nil
}

// Overhead returns the per-message AEAD tag overhead in bytes.
func (a *AEAD) Overhead() int {
	return a.aead.Overhead()
}

// HMACTranscript computes an HMAC-SHA256 tag over transcript, keyed by
// the session key, used for ClientVerify/ServerVerify confirmation.
func HMACTranscript(key Key, transcript []byte) [HMACSize]byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(transcript)
	var out [HMACSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyTranscript performs a constant-time comparison of an HMAC tag
// against the expected value for transcript under key.
func VerifyTranscript(key Key, transcript []byte, tag [HMACSize]byte) bool {
	expected := HMACTranscript(key, transcript)
	return hmac.Equal(expected[:], tag[:])
}

// RandomBytes fills and returns a byte slice of n cryptographically
// random bytes, used for client_random/server_random and similar fields.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}
