package endpoint

import (
	"bytes"
	"testing"

	"github.com/llp-project/llp/internal/llpcrypto"
	"github.com/llp-project/llp/internal/session"
	"github.com/llp-project/llp/internal/wire"
)

func testSessionPair(t *testing.T) (*session.Session, *session.Session) {
	t.Helper()
	var key llpcrypto.Key
	copy(key[:], bytes.Repeat([]byte{0x11}, llpcrypto.KeySize))

	tx, err := session.New(7, key, wire.ProfileNone)
	if err != nil {
		t.Fatal(err)
	}
	rx, err := session.New(7, key, wire.ProfileNone)
	if err != nil {
		t.Fatal(err)
	}
	return tx, rx
}

func TestEncodeDecodePacketRoundTrip(t *testing.T) {
	tx, rx := testSessionPair(t)

	plaintext := []byte("tunnel-packet-bytes")
	wireBytes, err := encodePacket(tx, wire.FlagData, wire.ProfileNone, plaintext)
	if err != nil {
		t.Fatalf("encodePacket() error = %v", err)
	}

	_, got, err := decodePacket(rx, wireBytes)
	if err != nil {
		t.Fatalf("decodePacket() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestEncodeDecodeKeepaliveEmptyPayload(t *testing.T) {
	tx, rx := testSessionPair(t)

	wireBytes, err := encodePacket(tx, wire.FlagKeepalive, wire.ProfileNone, nil)
	if err != nil {
		t.Fatalf("encodePacket() error = %v", err)
	}
	if len(wireBytes) != wire.MinPacketSize {
		t.Errorf("empty-payload packet size = %d, want %d", len(wireBytes), wire.MinPacketSize)
	}

	pkt, got, err := decodePacket(rx, wireBytes)
	if err != nil {
		t.Fatalf("decodePacket() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("keepalive payload should be empty, got %q", got)
	}
	if !pkt.Header.Flags.Has(wire.FlagKeepalive) {
		t.Error("decoded header should retain the KEEPALIVE flag")
	}
}

func TestDecodePacketRejectsTamperedCiphertext(t *testing.T) {
	tx, rx := testSessionPair(t)

	wireBytes, err := encodePacket(tx, wire.FlagData, wire.ProfileNone, []byte("data"))
	if err != nil {
		t.Fatal(err)
	}
	wireBytes[wire.HeaderSize] ^= 0xFF

	if _, _, err := decodePacket(rx, wireBytes); err == nil {
		t.Error("expected decodePacket to fail on tampered ciphertext")
	}
}
