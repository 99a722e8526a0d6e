// Package transport provides the network transport implementations a
// session's wire packets travel over: QUIC (unreliable datagrams,
// matching the protocol's own per-packet framing) and WebSocket
// (reliable, one binary message per packet, for paths where QUIC is
// blocked). Both are wrapped behind the same PeerConn so the endpoint
// package never needs to know which one it is talking to.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// ALPNProtocol is the ALPN identifier negotiated by both transports so a
// middlebox sniffing the handshake sees an ordinary-looking protocol tag.
const ALPNProtocol = "llp/1"

// TransportType identifies which concrete transport backs a PeerConn.
type TransportType string

const (
	TransportQUIC      TransportType = "quic"
	TransportWebSocket TransportType = "ws"
)

// Transport dials and accepts connections to peers, exchanging whole
// wire packets (see internal/wire) rather than arbitrary byte streams.
type Transport interface {
	Dial(ctx context.Context, addr string, opts DialOptions) (PeerConn, error)
	Listen(addr string, opts ListenOptions) (Listener, error)
	Type() TransportType
	Close() error
}

// Listener accepts incoming peer connections.
type Listener interface {
	Accept(ctx context.Context) (PeerConn, error)
	Addr() net.Addr
	Close() error
}

// PeerConn is a connection to a single peer over which whole LLP wire
// packets (handshake messages or encrypted data packets) are exchanged
// as opaque byte slices — framing and ordering are the transport's
// concern, packet semantics are the caller's.
type PeerConn interface {
	// SendPacket transmits one complete wire packet.
	SendPacket(ctx context.Context, packet []byte) error

	// ReceivePacket blocks for the next complete wire packet.
	ReceivePacket(ctx context.Context) ([]byte, error)

	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	IsDialer() bool
	TransportType() TransportType
}

// DialOptions configures an outgoing connection.
type DialOptions struct {
	TLSConfig *tls.Config

	// InsecureSkipVerify allows skipping certificate verification.
	// Only use for development/testing.
	InsecureSkipVerify bool

	Timeout time.Duration

	// FingerprintPreset selects a uTLS ClientHello fingerprint for the
	// TLS handshake underlying the WebSocket transport. Ignored by QUIC,
	// whose TLS 1.3 handshake is generated by quic-go itself.
	FingerprintPreset string
}

// ListenOptions configures a listener.
type ListenOptions struct {
	TLSConfig *tls.Config

	// Path is the HTTP upgrade path used by the WebSocket transport.
	Path string

	MaxStreams int
}

// DefaultDialOptions returns DialOptions with sensible defaults.
func DefaultDialOptions() DialOptions {
	return DialOptions{Timeout: 30 * time.Second}
}

// DefaultListenOptions returns ListenOptions with sensible defaults.
func DefaultListenOptions() ListenOptions {
	return ListenOptions{Path: "/ws", MaxStreams: 10000}
}
