// Package handshake implements the four-message ClientHello/ServerHello/
// ClientVerify/ServerVerify key exchange that establishes a session key
// between an initiator and a responder over X25519 + HKDF-SHA256, with
// HMAC-SHA256 transcript confirmation.
package handshake

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/llp-project/llp/internal/llpcrypto"
	"github.com/llp-project/llp/internal/wire"
)

// Message type tags, one byte, prefixed to every serialized message.
const (
	TypeClientHello  uint8 = 1
	TypeServerHello  uint8 = 2
	TypeClientVerify uint8 = 3
	TypeServerVerify uint8 = 4
)

// Size caps bound server memory before authentication succeeds.
const (
	MaxHelloSize  = 4096
	MaxVerifySize = 1024
)

// Sentinel errors this package wraps into the errors it returns; match
// them with errors.Is.
var (
	ErrUnexpectedMessage  = errors.New("handshake: unexpected message type")
	ErrInvalidMessageSize = errors.New("handshake: invalid message size")
	ErrInvalidState       = errors.New("handshake: invalid state for operation")
	ErrVerificationFailed = errors.New("handshake: transcript verification failed")
	ErrAlreadyCompleted   = errors.New("handshake: already completed")
)

// ClientHello is the initiator's first message.
type ClientHello struct {
	ClientPublicKey llpcrypto.Key
	ClientRandom    [32]byte
	MimicryProfile  wire.MimicryProfile
}

// Serialize renders the ClientHello as type(1) || pubkey(32) || random(32) || profile(2).
func (m ClientHello) Serialize() []byte {
	buf := make([]byte, 0, 1+32+32+2)
	buf = append(buf, TypeClientHello)
	buf = append(buf, m.ClientPublicKey[:]...)
	buf = append(buf, m.ClientRandom[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(m.MimicryProfile))
	return buf
}

// DecodeClientHello parses and validates a ClientHello.
func DecodeClientHello(buf []byte) (ClientHello, error) {
	if len(buf) > MaxHelloSize {
		return ClientHello{}, fmt.Errorf("%w: %d exceeds %d", ErrInvalidMessageSize, len(buf), MaxHelloSize)
	}
	if len(buf) != 1+32+32+2 {
		return ClientHello{}, fmt.Errorf("%w: got %d bytes", ErrInvalidMessageSize, len(buf))
	}
	if buf[0] != TypeClientHello {
		return ClientHello{}, fmt.Errorf("%w: expected ClientHello, got tag %d", ErrUnexpectedMessage, buf[0])
	}

	var m ClientHello
	copy(m.ClientPublicKey[:], buf[1:33])
	copy(m.ClientRandom[:], buf[33:65])
	profile := wire.MimicryProfile(binary.BigEndian.Uint16(buf[65:67]))
	if !profile.Valid() {
		return ClientHello{}, fmt.Errorf("%w: profile %d", wire.ErrUnsupportedMimicryProf, profile)
	}
	m.MimicryProfile = profile
	return m, nil
}

// ServerHello is the responder's reply.
type ServerHello struct {
	ServerPublicKey llpcrypto.Key
	ServerRandom    [32]byte
	SessionID       uint64
}

// Serialize renders the ServerHello as type(1) || pubkey(32) || random(32) || session_id(8).
func (m ServerHello) Serialize() []byte {
	buf := make([]byte, 0, 1+32+32+8)
	buf = append(buf, TypeServerHello)
	buf = append(buf, m.ServerPublicKey[:]...)
	buf = append(buf, m.ServerRandom[:]...)
	buf = binary.BigEndian.AppendUint64(buf, m.SessionID)
	return buf
}

// DecodeServerHello parses and validates a ServerHello.
func DecodeServerHello(buf []byte) (ServerHello, error) {
	if len(buf) > MaxHelloSize {
		return ServerHello{}, fmt.Errorf("%w: %d exceeds %d", ErrInvalidMessageSize, len(buf), MaxHelloSize)
	}
	if len(buf) != 1+32+32+8 {
		return ServerHello{}, fmt.Errorf("%w: got %d bytes", ErrInvalidMessageSize, len(buf))
	}
	if buf[0] != TypeServerHello {
		return ServerHello{}, fmt.Errorf("%w: expected ServerHello, got tag %d", ErrUnexpectedMessage, buf[0])
	}

	var m ServerHello
	copy(m.ServerPublicKey[:], buf[1:33])
	copy(m.ServerRandom[:], buf[33:65])
	m.SessionID = binary.BigEndian.Uint64(buf[65:73])
	return m, nil
}

// ClientVerify confirms the transcript from the initiator's side.
type ClientVerify struct {
	HMACTag [llpcrypto.HMACSize]byte
}

func (m ClientVerify) Serialize() []byte {
	buf := make([]byte, 0, 1+llpcrypto.HMACSize)
	buf = append(buf, TypeClientVerify)
	buf = append(buf, m.HMACTag[:]...)
	return buf
}

func decodeVerify(buf []byte, wantType uint8) ([llpcrypto.HMACSize]byte, error) {
	var tag [llpcrypto.HMACSize]byte
	if len(buf) > MaxVerifySize {
		return tag, fmt.Errorf("%w: %d exceeds %d", ErrInvalidMessageSize, len(buf), MaxVerifySize)
	}
	if len(buf) != 1+llpcrypto.HMACSize {
		return tag, fmt.Errorf("%w: got %d bytes", ErrInvalidMessageSize, len(buf))
	}
	if buf[0] != wantType {
		return tag, fmt.Errorf("%w: expected tag %d, got %d", ErrUnexpectedMessage, wantType, buf[0])
	}
	copy(tag[:], buf[1:])
	return tag, nil
}

// DecodeClientVerify parses and validates a ClientVerify.
func DecodeClientVerify(buf []byte) (ClientVerify, error) {
	tag, err := decodeVerify(buf, TypeClientVerify)
	if err != nil {
		return ClientVerify{}, err
	}
	return ClientVerify{HMACTag: tag}, nil
}

// ServerVerify confirms the transcript from the responder's side.
type ServerVerify struct {
	HMACTag [llpcrypto.HMACSize]byte
}

func (m ServerVerify) Serialize() []byte {
	buf := make([]byte, 0, 1+llpcrypto.HMACSize)
	buf = append(buf, TypeServerVerify)
	buf = append(buf, m.HMACTag[:]...)
	return buf
}

// DecodeServerVerify parses and validates a ServerVerify.
func DecodeServerVerify(buf []byte) (ServerVerify, error) {
	tag, err := decodeVerify(buf, TypeServerVerify)
	if err != nil {
		return ServerVerify{}, err
	}
	return ServerVerify{HMACTag: tag}, nil
}
