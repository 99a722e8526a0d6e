package endpoint

import (
	"fmt"
	"time"

	"github.com/llp-project/llp/internal/session"
	"github.com/llp-project/llp/internal/wire"
)

// encodePacket builds and seals one wire packet carrying plaintext under
// sess's current TX sequence. The header's SequenceNumber is read from
// CurrentTXSequence before encrypting, since the AAD (the serialized
// header) must be fixed before sess.Encrypt can be called, and
// Encrypt's own return value only confirms it afterward.
func encodePacket(sess *session.Session, flags wire.Flags, profile wire.MimicryProfile, plaintext []byte) ([]byte, error) {
	seq := sess.CurrentTXSequence()
	header := wire.Header{
		Version:        wire.ProtocolVersion,
		Flags:          flags,
		PayloadLength:  uint16(len(plaintext)),
		SessionID:      sess.SessionID(),
		SequenceNumber: seq,
		Timestamp:      uint32(time.Now().Unix()),
		MimicryProfile: profile,
	}
	aad := wire.EncodeHeader(header)

	combined, usedSeq, err := sess.Encrypt(plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("endpoint: encrypt: %w", err)
	}
	if usedSeq != seq {
		return nil, fmt.Errorf("endpoint: tx sequence raced: expected %d, used %d", seq, usedSeq)
	}

	tagStart := len(combined) - wire.AuthTagSize
	pkt := wire.Packet{Header: header, EncryptedPayload: combined[:tagStart]}
	copy(pkt.AuthTag[:], combined[tagStart:])

	return wire.Serialize(pkt)
}

// decodePacket parses and opens one wire packet, validating its
// timestamp and anti-replay sequence via sess before returning the
// plaintext payload.
func decodePacket(sess *session.Session, raw []byte) (*wire.Packet, []byte, error) {
	pkt, err := wire.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("endpoint: parse: %w", err)
	}

	packetTime := time.Unix(int64(pkt.Header.Timestamp), 0)
	if err := sess.ValidateTimestamp(packetTime, time.Now()); err != nil {
		return nil, nil, err
	}

	combined := make([]byte, 0, len(pkt.EncryptedPayload)+wire.AuthTagSize)
	combined = append(combined, pkt.EncryptedPayload...)
	combined = append(combined, pkt.AuthTag[:]...)

	plaintext, err := sess.Decrypt(combined, pkt.AAD(), pkt.Header.SequenceNumber)
	if err != nil {
		return nil, nil, err
	}
	return &pkt, plaintext, nil
}
