package handshake

import (
	"fmt"

	"github.com/llp-project/llp/internal/llpcrypto"
	"github.com/llp-project/llp/internal/wire"
)

// ServerState is the responder's position in the handshake state machine.
type ServerState int

const (
	ServerInitial ServerState = iota
	ServerHelloSent
	ServerVerifyRcvd
	ServerCompleted
)

func (s ServerState) String() string {
	switch s {
	case ServerInitial:
		return "Initial"
	case ServerHelloSent:
		return "HelloSent"
	case ServerVerifyRcvd:
		return "VerifyRcvd"
	case ServerCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Server drives the responder side of the handshake for a single peer.
// The caller assigns SessionID up front (e.g. via a random u64 allocator)
// since the responder's ServerHello must carry it.
type Server struct {
	state     ServerState
	sessionID uint64

	privateKey llpcrypto.Key
	publicKey  llpcrypto.Key

	clientHello ClientHello
	serverHello ServerHello
	sessionKey  llpcrypto.Key
}

// NewServer generates a fresh ephemeral keypair for one handshake
// attempt, bound to the given session id.
func NewServer(sessionID uint64) (*Server, error) {
	priv, pub, err := llpcrypto.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral keypair: %w", err)
	}
	return &Server{
		state:      ServerInitial,
		sessionID:  sessionID,
		privateKey: priv,
		publicKey:  pub,
	}, nil
}

// ProcessClientHello consumes the initiator's ClientHello, derives the
// session key, and returns the serialized ServerHello to send back along
// with the client's requested mimicry profile. Transitions to HelloSent.
//
// A responder MUST NOT commit a session entry (e.g. into a session
// manager) before receiving a valid ClientVerify — this method only
// derives key material, it does not register anything.
func (s *Server) ProcessClientHello(buf []byte) ([]byte, wire.MimicryProfile, error) {
	if s.state != ServerInitial {
		return nil, 0, fmt.Errorf("%w: ProcessClientHello from state %s", ErrInvalidState, s.state)
	}

	hello, err := DecodeClientHello(buf)
	if err != nil {
		return nil, 0, err
	}

	shared, err := llpcrypto.ECDH(s.privateKey, hello.ClientPublicKey)
	if err != nil {
		return nil, 0, fmt.Errorf("ecdh: %w", err)
	}
	s.privateKey.Zero()

	random, err := llpcrypto.RandomBytes(32)
	if err != nil {
		return nil, 0, fmt.Errorf("generate server_random: %w", err)
	}

	serverHello := ServerHello{ServerPublicKey: s.publicKey, SessionID: s.sessionID}
	copy(serverHello.ServerRandom[:], random)

	salt := append(append([]byte{}, hello.ClientRandom[:]...), serverHello.ServerRandom[:]...)
	sessionKey, err := llpcrypto.DeriveSessionKey(shared, salt)
	shared.Zero()
	if err != nil {
		return nil, 0, fmt.Errorf("derive session key: %w", err)
	}

	s.clientHello = hello
	s.serverHello = serverHello
	s.sessionKey = sessionKey
	s.state = ServerHelloSent

	return serverHello.Serialize(), hello.MimicryProfile, nil
}

// ProcessClientVerify validates the initiator's confirmation tag and
// transitions to VerifyRcvd on success. This is the point at which the
// caller may safely commit a session manager entry.
func (s *Server) ProcessClientVerify(buf []byte) error {
	if s.state != ServerHelloSent {
		return fmt.Errorf("%w: ProcessClientVerify from state %s", ErrInvalidState, s.state)
	}

	msg, err := DecodeClientVerify(buf)
	if err != nil {
		return err
	}

	if !llpcrypto.VerifyTranscript(s.sessionKey, s.transcript(), msg.HMACTag) {
		return ErrVerificationFailed
	}

	s.state = ServerVerifyRcvd
	return nil
}

// SendServerVerify builds and serializes the ServerVerify over the
// transcript, transitioning to Completed.
func (s *Server) SendServerVerify() ([]byte, error) {
	if s.state != ServerVerifyRcvd {
		return nil, fmt.Errorf("%w: SendServerVerify from state %s", ErrInvalidState, s.state)
	}

	tag := llpcrypto.HMACTranscript(s.sessionKey, s.transcript())
	msg := ServerVerify{HMACTag: tag}
	s.state = ServerCompleted
	return msg.Serialize(), nil
}

// SessionKey returns the derived session key, available from HelloSent
// onward (needed to commit a session once ClientVerify has been validated).
func (s *Server) SessionKey() (llpcrypto.Key, bool) {
	if s.state < ServerHelloSent {
		return llpcrypto.Key{}, false
	}
	return s.sessionKey, true
}

// SessionID returns the session id this responder was constructed with.
func (s *Server) SessionID() uint64 { return s.sessionID }

// MimicryProfile returns the client's requested profile, available from
// HelloSent onward.
func (s *Server) MimicryProfile() (wire.MimicryProfile, bool) {
	if s.state < ServerHelloSent {
		return 0, false
	}
	return s.clientHello.MimicryProfile, true
}

// State returns the responder's current position in the handshake.
func (s *Server) State() ServerState { return s.state }

// IsCompleted reports whether the handshake finished successfully.
func (s *Server) IsCompleted() bool { return s.state == ServerCompleted }

func (s *Server) transcript() []byte {
	t := s.clientHello.Serialize()
	t = append(t, s.serverHello.Serialize()...)
	return t
}
