// Package wire implements the LLP wire packet format: a fixed 24-byte
// header followed by an encrypted payload, padding, and a Poly1305
// authentication tag. Encoding follows the teacher's manual
// encoding/binary offset-packing style rather than reflection-based
// marshaling.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// ProtocolVersion is the only version this implementation accepts.
	ProtocolVersion uint8 = 1

	// HeaderSize is the fixed wire header size in bytes.
	HeaderSize = 24

	// AuthTagSize is the Poly1305 authentication tag size in bytes.
	AuthTagSize = 16

	// MinPacketSize is the smallest legal packet: header + tag, no payload/padding.
	MinPacketSize = HeaderSize + AuthTagSize

	// MaxPacketSize bounds the total wire size of a packet.
	MaxPacketSize = 65536

	// MaxPaddingSize is the largest legal padding_length value.
	MaxPaddingSize = 1024

	// MaxPayloadSize is the largest payload that still fits within MaxPacketSize
	// once the header, maximum padding, and tag are accounted for.
	MaxPayloadSize = MaxPacketSize - MinPacketSize - MaxPaddingSize
)

// Flags is the packet header bitfield.
type Flags uint8

const (
	FlagData      Flags = 0x01
	FlagControl   Flags = 0x02
	FlagFragment  Flags = 0x04
	FlagLastFrag  Flags = 0x08
	FlagAck       Flags = 0x10
	FlagKeepalive Flags = 0x20
	FlagRekey     Flags = 0x40
	flagReserved  Flags = 0x80
)

// Has reports whether f includes the bit in other.
func (f Flags) Has(other Flags) bool { return f&other != 0 }

// String renders the set flags joined by "|", e.g. "DATA|KEEPALIVE".
func (f Flags) String() string {
	if f == 0 {
		return "NONE"
	}
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagData, "DATA"},
		{FlagControl, "CONTROL"},
		{FlagFragment, "FRAGMENT"},
		{FlagLastFrag, "LAST_FRAG"},
		{FlagAck, "ACK"},
		{FlagKeepalive, "KEEPALIVE"},
		{FlagRekey, "REKEY"},
	}
	out := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "NONE"
	}
	return out
}

// MimicryProfile identifies which HTTP mimicry profile a session negotiated.
type MimicryProfile uint16

const (
	ProfileNone         MimicryProfile = 0
	ProfileVkVideo      MimicryProfile = 1
	ProfileYandexMusic  MimicryProfile = 2
	ProfileRuTube       MimicryProfile = 3
)

// Valid reports whether p is a recognized profile identifier.
func (p MimicryProfile) Valid() bool {
	switch p {
	case ProfileNone, ProfileVkVideo, ProfileYandexMusic, ProfileRuTube:
		return true
	default:
		return false
	}
}

func (p MimicryProfile) String() string {
	switch p {
	case ProfileNone:
		return "None"
	case ProfileVkVideo:
		return "VkVideo"
	case ProfileYandexMusic:
		return "YandexMusic"
	case ProfileRuTube:
		return "RuTube"
	default:
		return fmt.Sprintf("MimicryProfile(%d)", uint16(p))
	}
}

// Packet-level error taxonomy (spec §7 PacketError kind).
var (
	ErrUnsupportedVersion     = errors.New("wire: unsupported version")
	ErrInvalidPacketSize      = errors.New("wire: invalid packet size")
	ErrInvalidPayloadSize     = errors.New("wire: invalid payload size")
	ErrPacketTooLarge         = errors.New("wire: packet exceeds maximum size")
	ErrInvalidFlags           = errors.New("wire: invalid flags (reserved bit set)")
	ErrInvalidPaddingSize     = errors.New("wire: invalid padding size")
	ErrHeaderParseError       = errors.New("wire: header parse error")
	ErrInsufficientData       = errors.New("wire: insufficient data")
	ErrUnsupportedMimicryProf = errors.New("wire: unsupported mimicry profile")
)

// Header is the 24-byte fixed packet header.
type Header struct {
	Version        uint8
	Flags          Flags
	PayloadLength  uint16
	SessionID      uint64
	SequenceNumber uint32
	Timestamp      uint32
	MimicryProfile MimicryProfile
	PaddingLength  uint16
}

// Packet is a fully decoded LLP wire packet: header plus the raw
// ciphertext-bearing sections. EncryptedPayload and Padding lengths
// MUST agree with the header's PayloadLength/PaddingLength; Serialize
// recomputes the header fields from these slices to guarantee that
// agreement rather than trusting caller-supplied lengths.
type Packet struct {
	Header           Header
	EncryptedPayload []byte
	Padding          []byte
	AuthTag          [AuthTagSize]byte
}

// EncodeHeader serializes h into exactly HeaderSize bytes, big-endian.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	buf[1] = uint8(h.Flags)
	binary.BigEndian.PutUint16(buf[2:4], h.PayloadLength)
	binary.BigEndian.PutUint64(buf[4:12], h.SessionID)
	binary.BigEndian.PutUint32(buf[12:16], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[16:20], h.Timestamp)
	binary.BigEndian.PutUint16(buf[20:22], uint16(h.MimicryProfile))
	binary.BigEndian.PutUint16(buf[22:24], h.PaddingLength)
	return buf
}

// DecodeHeader parses and validates a HeaderSize-byte header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrHeaderParseError, HeaderSize, len(buf))
	}

	h := Header{
		Version:        buf[0],
		Flags:          Flags(buf[1]),
		PayloadLength:  binary.BigEndian.Uint16(buf[2:4]),
		SessionID:      binary.BigEndian.Uint64(buf[4:12]),
		SequenceNumber: binary.BigEndian.Uint32(buf[12:16]),
		Timestamp:      binary.BigEndian.Uint32(buf[16:20]),
		MimicryProfile: MimicryProfile(binary.BigEndian.Uint16(buf[20:22])),
		PaddingLength:  binary.BigEndian.Uint16(buf[22:24]),
	}

	if h.Version != ProtocolVersion {
		return Header{}, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Flags&flagReserved != 0 {
		return Header{}, fmt.Errorf("%w: reserved bit set", ErrInvalidFlags)
	}
	if h.PaddingLength > MaxPaddingSize {
		return Header{}, fmt.Errorf("%w: %d exceeds %d", ErrInvalidPaddingSize, h.PaddingLength, MaxPaddingSize)
	}
	if int(h.PayloadLength) > MaxPayloadSize {
		return Header{}, fmt.Errorf("%w: %d exceeds %d", ErrInvalidPayloadSize, h.PayloadLength, MaxPayloadSize)
	}
	if !h.MimicryProfile.Valid() {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedMimicryProf, h.MimicryProfile)
	}

	return h, nil
}

// Serialize encodes p into its wire representation, recomputing
// payload_length and padding_length from the actual slice lengths so the
// header and body can never disagree.
func Serialize(p Packet) ([]byte, error) {
	if len(p.EncryptedPayload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPayloadSize, len(p.EncryptedPayload))
	}
	if len(p.Padding) > MaxPaddingSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPaddingSize, len(p.Padding))
	}

	h := p.Header
	h.PayloadLength = uint16(len(p.EncryptedPayload))
	h.PaddingLength = uint16(len(p.Padding))

	total := HeaderSize + len(p.EncryptedPayload) + len(p.Padding) + AuthTagSize
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrPacketTooLarge, total, MaxPacketSize)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, p.EncryptedPayload...)
	buf = append(buf, p.Padding...)
	buf = append(buf, p.AuthTag[:]...)
	return buf, nil
}

// Parse decodes a full wire packet, rejecting any total-length mismatch
// between the header's declared lengths and the actual buffer size.
func Parse(buf []byte) (Packet, error) {
	if len(buf) < MinPacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, minimum %d", ErrInvalidPacketSize, len(buf), MinPacketSize)
	}
	if len(buf) > MaxPacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(buf))
	}

	h, err := DecodeHeader(buf[:HeaderSize])
	if err != nil {
		return Packet{}, err
	}

	expected := HeaderSize + int(h.PayloadLength) + int(h.PaddingLength) + AuthTagSize
	if expected != len(buf) {
		return Packet{}, fmt.Errorf("%w: header declares %d bytes, buffer has %d", ErrInvalidPacketSize, expected, len(buf))
	}

	payloadStart := HeaderSize
	payloadEnd := payloadStart + int(h.PayloadLength)
	paddingEnd := payloadEnd + int(h.PaddingLength)

	p := Packet{Header: h}
	if h.PayloadLength > 0 {
		p.EncryptedPayload = append([]byte(nil), buf[payloadStart:payloadEnd]...)
	}
	if h.PaddingLength > 0 {
		p.Padding = append([]byte(nil), buf[payloadEnd:paddingEnd]...)
	}
	copy(p.AuthTag[:], buf[paddingEnd:paddingEnd+AuthTagSize])

	return p, nil
}

// AAD returns the bytes authenticated (but not encrypted) alongside the
// payload: the serialized header, exactly as spec §8 scenario 2 requires
// ("AAD = the serialized DATA header").
func (p Packet) AAD() []byte {
	return EncodeHeader(p.Header)
}
