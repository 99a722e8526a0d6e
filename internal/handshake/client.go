package handshake

import (
	"fmt"

	"github.com/llp-project/llp/internal/llpcrypto"
	"github.com/llp-project/llp/internal/wire"
)

// ClientState is the initiator's position in the handshake state machine.
type ClientState int

const (
	ClientInitial ClientState = iota
	ClientHelloSent
	ClientHelloRcvd
	ClientVerifySent
	ClientCompleted
)

func (s ClientState) String() string {
	switch s {
	case ClientInitial:
		return "Initial"
	case ClientHelloSent:
		return "HelloSent"
	case ClientHelloRcvd:
		return "HelloRcvd"
	case ClientVerifySent:
		return "VerifySent"
	case ClientCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Client drives the initiator side of the handshake. A Client must not
// be reused across more than one handshake attempt.
type Client struct {
	state ClientState

	privateKey llpcrypto.Key
	publicKey  llpcrypto.Key
	profile    wire.MimicryProfile

	clientHello ClientHello
	serverHello ServerHello
	sessionKey  llpcrypto.Key
}

// NewClient generates a fresh ephemeral keypair for one handshake attempt.
func NewClient(profile wire.MimicryProfile) (*Client, error) {
	priv, pub, err := llpcrypto.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral keypair: %w", err)
	}
	return &Client{
		state:      ClientInitial,
		privateKey: priv,
		publicKey:  pub,
		profile:    profile,
	}, nil
}

// Start emits the ClientHello and transitions to HelloSent. Must be
// called exactly once, from Initial.
func (c *Client) Start() ([]byte, error) {
	if c.state != ClientInitial {
		return nil, fmt.Errorf("%w: Start from state %s", ErrInvalidState, c.state)
	}

	random, err := llpcrypto.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generate client_random: %w", err)
	}

	hello := ClientHello{ClientPublicKey: c.publicKey, MimicryProfile: c.profile}
	copy(hello.ClientRandom[:], random)

	c.clientHello = hello
	c.state = ClientHelloSent
	return hello.Serialize(), nil
}

// ProcessServerHello consumes the responder's ServerHello, derives the
// session key, and transitions to HelloRcvd. Returns the assigned
// session id.
func (c *Client) ProcessServerHello(buf []byte) (uint64, error) {
	if c.state != ClientHelloSent {
		return 0, fmt.Errorf("%w: ProcessServerHello from state %s", ErrInvalidState, c.state)
	}

	hello, err := DecodeServerHello(buf)
	if err != nil {
		return 0, err
	}

	shared, err := llpcrypto.ECDH(c.privateKey, hello.ServerPublicKey)
	if err != nil {
		return 0, fmt.Errorf("ecdh: %w", err)
	}
	c.privateKey.Zero()

	salt := append(append([]byte{}, c.clientHello.ClientRandom[:]...), hello.ServerRandom[:]...)
	sessionKey, err := llpcrypto.DeriveSessionKey(shared, salt)
	shared.Zero()
	if err != nil {
		return 0, fmt.Errorf("derive session key: %w", err)
	}

	c.serverHello = hello
	c.sessionKey = sessionKey
	c.state = ClientHelloRcvd
	return hello.SessionID, nil
}

// SendClientVerify builds and serializes the ClientVerify over the
// transcript, transitioning to VerifySent.
func (c *Client) SendClientVerify() ([]byte, error) {
	if c.state != ClientHelloRcvd {
		return nil, fmt.Errorf("%w: SendClientVerify from state %s", ErrInvalidState, c.state)
	}

	tag := llpcrypto.HMACTranscript(c.sessionKey, c.transcript())
	msg := ClientVerify{HMACTag: tag}
	c.state = ClientVerifySent
	return msg.Serialize(), nil
}

// ProcessServerVerify validates the responder's confirmation tag and, on
// success, transitions to Completed — the only state from which
// SessionKey() returns a usable key.
func (c *Client) ProcessServerVerify(buf []byte) error {
	if c.state != ClientVerifySent {
		return fmt.Errorf("%w: ProcessServerVerify from state %s", ErrInvalidState, c.state)
	}

	msg, err := DecodeServerVerify(buf)
	if err != nil {
		return err
	}

	if !llpcrypto.VerifyTranscript(c.sessionKey, c.transcript(), msg.HMACTag) {
		return ErrVerificationFailed
	}

	c.state = ClientCompleted
	return nil
}

// SessionKey returns the derived session key. It is only populated once
// the handshake has reached Completed; a well-behaved client must not
// consider the session usable before that point.
func (c *Client) SessionKey() (llpcrypto.Key, bool) {
	if c.state != ClientCompleted {
		return llpcrypto.Key{}, false
	}
	return c.sessionKey, true
}

// SessionID returns the session id assigned by the responder, available
// once ServerHello has been processed.
func (c *Client) SessionID() (uint64, bool) {
	if c.state < ClientHelloRcvd {
		return 0, false
	}
	return c.serverHello.SessionID, true
}

// State returns the client's current position in the handshake.
func (c *Client) State() ClientState { return c.state }

// IsCompleted reports whether the handshake finished successfully.
func (c *Client) IsCompleted() bool { return c.state == ClientCompleted }

func (c *Client) transcript() []byte {
	t := c.clientHello.Serialize()
	t = append(t, c.serverHello.Serialize()...)
	return t
}
