package wire

import (
	"bytes"
	"errors"
	"testing"
)

func sampleHeader() Header {
	return Header{
		Version:        ProtocolVersion,
		Flags:          FlagData,
		SessionID:      12345,
		SequenceNumber: 0,
		Timestamp:      1700000000,
		MimicryProfile: ProfileVkVideo,
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := sampleHeader()
	h.PayloadLength = 11
	h.PaddingLength = 5

	encoded := EncodeHeader(h)
	if len(encoded) != HeaderSize {
		t.Fatalf("encoded header length = %d, want %d", len(encoded), HeaderSize)
	}

	decoded, err := DecodeHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}
	if decoded != h {
		t.Errorf("round trip mismatch: got %+v want %+v", decoded, h)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	p := Packet{
		Header:           sampleHeader(),
		EncryptedPayload: bytes.Repeat([]byte{0xAB}, 11),
		Padding:          bytes.Repeat([]byte{0x00}, 5),
	}
	copy(p.AuthTag[:], bytes.Repeat([]byte{0xCD}, AuthTagSize))

	buf, err := Serialize(p)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got.Header.PayloadLength != 11 || got.Header.PaddingLength != 5 {
		t.Fatalf("header lengths not recomputed: %+v", got.Header)
	}
	if !bytes.Equal(got.EncryptedPayload, p.EncryptedPayload) {
		t.Error("payload mismatch after round trip")
	}
	if !bytes.Equal(got.Padding, p.Padding) {
		t.Error("padding mismatch after round trip")
	}
	if got.AuthTag != p.AuthTag {
		t.Error("auth tag mismatch after round trip")
	}
}

func TestEmptyPayloadAndPaddingIsValid(t *testing.T) {
	p := Packet{
		Header: Header{
			Version:        ProtocolVersion,
			Flags:          FlagKeepalive,
			SessionID:      1,
			MimicryProfile: ProfileNone,
		},
	}
	buf, err := Serialize(p)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if len(buf) != MinPacketSize {
		t.Fatalf("expected minimum packet size %d, got %d", MinPacketSize, len(buf))
	}
	if _, err := Parse(buf); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestPaddingBoundary(t *testing.T) {
	p := Packet{
		Header:           sampleHeader(),
		EncryptedPayload: bytes.Repeat([]byte{0x01}, 10),
		Padding:          bytes.Repeat([]byte{0x00}, MaxPaddingSize),
	}
	buf, err := Serialize(p)
	if err != nil {
		t.Fatalf("Serialize() at max padding error = %v", err)
	}
	if _, err := Parse(buf); err != nil {
		t.Fatalf("Parse() at max padding error = %v", err)
	}

	// Flip padding_length on the wire to 1025 and re-parse.
	buf[22] = 0x04
	buf[23] = 0x01
	if _, err := Parse(buf); !errors.Is(err, ErrInvalidPaddingSize) {
		t.Errorf("expected ErrInvalidPaddingSize, got %v", err)
	}
}

func TestRejectsUnsupportedVersion(t *testing.T) {
	h := sampleHeader()
	h.Version = 2
	encoded := EncodeHeader(h)
	if _, err := DecodeHeader(encoded); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestRejectsReservedFlag(t *testing.T) {
	h := sampleHeader()
	h.Flags |= flagReserved
	encoded := EncodeHeader(h)
	if _, err := DecodeHeader(encoded); !errors.Is(err, ErrInvalidFlags) {
		t.Errorf("expected ErrInvalidFlags, got %v", err)
	}
}

func TestRejectsUnsupportedMimicryProfile(t *testing.T) {
	h := sampleHeader()
	h.MimicryProfile = MimicryProfile(99)
	encoded := EncodeHeader(h)
	if _, err := DecodeHeader(encoded); !errors.Is(err, ErrUnsupportedMimicryProf) {
		t.Errorf("expected ErrUnsupportedMimicryProf, got %v", err)
	}
}

func TestParseRejectsLengthMismatch(t *testing.T) {
	p := Packet{
		Header:           sampleHeader(),
		EncryptedPayload: bytes.Repeat([]byte{0x01}, 10),
	}
	buf, err := Serialize(p)
	if err != nil {
		t.Fatal(err)
	}
	truncated := buf[:len(buf)-1]
	if _, err := Parse(truncated); !errors.Is(err, ErrInvalidPacketSize) {
		t.Errorf("expected ErrInvalidPacketSize, got %v", err)
	}
}

func TestParseRejectsTooShort(t *testing.T) {
	if _, err := Parse(make([]byte, MinPacketSize-1)); !errors.Is(err, ErrInvalidPacketSize) {
		t.Errorf("expected ErrInvalidPacketSize, got %v", err)
	}
}

func TestFlagsString(t *testing.T) {
	f := FlagData | FlagKeepalive
	s := f.String()
	if s != "DATA|KEEPALIVE" {
		t.Errorf("Flags.String() = %q", s)
	}
	if Flags(0).String() != "NONE" {
		t.Errorf("zero Flags.String() = %q, want NONE", Flags(0).String())
	}
}

func TestAADIsSerializedHeader(t *testing.T) {
	p := Packet{Header: sampleHeader()}
	p.Header.PayloadLength = 11
	if !bytes.Equal(p.AAD(), EncodeHeader(p.Header)) {
		t.Error("AAD() must equal the serialized header")
	}
}
