// Package endpoint wires the handshake, session, mimicry, and transport
// packages together into the client and server data-plane loops: read
// plaintext from the local tunnel device, encrypt and mimicry-wrap it
// onto the transport; and the reverse on the way in.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/llp-project/llp/internal/handshake"
	"github.com/llp-project/llp/internal/logging"
	"github.com/llp-project/llp/internal/metrics"
	"github.com/llp-project/llp/internal/mimicry"
	"github.com/llp-project/llp/internal/recovery"
	"github.com/llp-project/llp/internal/session"
	"github.com/llp-project/llp/internal/transport"
	"github.com/llp-project/llp/internal/wire"
)

// TunDevice is the local tunnel interface a Client or Server reads
// plaintext IP packets from and writes decrypted IP packets to.
type TunDevice interface {
	io.ReadWriteCloser
}

// keepaliveCheckInterval is how often Run polls the session for whether
// it needs to emit a keepalive or has gone keepalive-timeout-silent.
const keepaliveCheckInterval = 5 * time.Second

// Client drives one client-side session: Handshake runs the initiator
// side through internal/handshake.Client, and once completed, Run moves
// packets between the local tun device and the remote peer.
type Client struct {
	conn    transport.PeerConn
	tun     TunDevice
	profile wire.MimicryProfile
	logger  *slog.Logger
	metrics *metrics.Registry

	wrapper *mimicry.Wrapper
	sess    *session.Session

	bytesSent uint64
	bytesRecv uint64
}

// NewClient constructs a Client ready to Handshake over conn.
func NewClient(conn transport.PeerConn, tun TunDevice, profile wire.MimicryProfile, logger *slog.Logger, m *metrics.Registry) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Client{conn: conn, tun: tun, profile: profile, logger: logger, metrics: m}
}

// Handshake runs the four-message key exchange and, on success,
// constructs the data-plane Session used by Run.
func (c *Client) Handshake(ctx context.Context) error {
	if c.metrics != nil {
		c.metrics.HandshakesStarted.Inc()
	}

	hs, err := handshake.NewClient(c.profile)
	if err != nil {
		return fmt.Errorf("endpoint: new client handshake: %w", err)
	}

	// Handshake messages travel unwrapped: the mimicry profile they
	// negotiate is only known to the peer after ClientHello is decoded,
	// so wrapping the handshake itself in that same profile's framing
	// would be circular. Mimicry wrapping begins with the first data
	// packet, once both sides share a profile and a session id.
	clientHello, err := hs.Start()
	if err != nil {
		return c.failHandshake("start", err)
	}
	if err := c.conn.SendPacket(ctx, clientHello); err != nil {
		return c.failHandshake("send_client_hello", err)
	}

	serverHelloBytes, err := c.conn.ReceivePacket(ctx)
	if err != nil {
		return c.failHandshake("recv_server_hello", err)
	}
	sessionID, err := hs.ProcessServerHello(serverHelloBytes)
	if err != nil {
		return c.failHandshake("process_server_hello", err)
	}

	clientVerify, err := hs.SendClientVerify()
	if err != nil {
		return c.failHandshake("send_client_verify", err)
	}
	if err := c.conn.SendPacket(ctx, clientVerify); err != nil {
		return c.failHandshake("send_client_verify", err)
	}

	serverVerifyBytes, err := c.conn.ReceivePacket(ctx)
	if err != nil {
		return c.failHandshake("recv_server_verify", err)
	}
	if err := hs.ProcessServerVerify(serverVerifyBytes); err != nil {
		return c.failHandshake("process_server_verify", err)
	}

	key, ok := hs.SessionKey()
	if !ok {
		return c.failHandshake("session_key", errors.New("handshake completed without a usable session key"))
	}

	sess, err := session.New(sessionID, key, c.profile)
	key.Zero()
	if err != nil {
		return c.failHandshake("new_session", err)
	}

	wrapper, err := mimicry.NewWrapper(c.profile, sessionID)
	if err != nil {
		return c.failHandshake("new_data_wrapper", err)
	}

	c.sess = sess
	c.wrapper = wrapper
	if c.metrics != nil {
		c.metrics.HandshakesCompleted.Inc()
		c.metrics.SessionsActive.Inc()
	}
	c.logger.Info("handshake completed",
		logging.KeySessionID, sessionID,
		logging.KeyMimicryProfile, c.profile.String(),
	)
	return nil
}

func (c *Client) failHandshake(reason string, err error) error {
	if c.metrics != nil {
		c.metrics.HandshakesFailed.WithLabelValues(reason).Inc()
	}
	return fmt.Errorf("endpoint: handshake failed at %s: %w", reason, err)
}

// Run moves packets between the tun device and the remote peer until
// ctx is canceled or either direction fails.
func (c *Client) Run(ctx context.Context) error {
	if c.sess == nil {
		return errors.New("endpoint: Run called before a successful Handshake")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		defer recovery.RecoverWithLog(c.logger, "endpoint.client.tunToNet")
		errCh <- c.tunToNet(ctx)
	}()
	go func() {
		defer wg.Done()
		defer recovery.RecoverWithLog(c.logger, "endpoint.client.netToTun")
		errCh <- c.netToTun(ctx)
	}()
	go func() {
		defer wg.Done()
		defer recovery.RecoverWithLog(c.logger, "endpoint.client.keepalive")
		errCh <- c.keepaliveLoop(ctx)
	}()

	go func() {
		wg.Wait()
		close(errCh)
	}()

	var firstErr error
	for err := range errCh {
		if err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	if c.metrics != nil {
		c.metrics.SessionsActive.Dec()
	}
	return firstErr
}

// keepaliveLoop emits a keepalive packet whenever the session has been
// idle past its keepalive interval, and terminates the session if the
// peer has gone silent past the keepalive timeout (spec §4.7).
func (c *Client) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(keepaliveCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.sess.IsKeepaliveTimeout() {
				return errors.New("endpoint: keepalive timeout, peer unresponsive")
			}
			if !c.sess.NeedsKeepalive() {
				continue
			}
			wirePacket, err := encodePacket(c.sess, wire.FlagKeepalive, c.profile, nil)
			if err != nil {
				c.logger.Warn("building keepalive failed", logging.KeyError, err)
				continue
			}
			if err := c.conn.SendPacket(ctx, c.wrapper.WrapRequest(wirePacket)); err != nil {
				return fmt.Errorf("send keepalive: %w", err)
			}
		}
	}
}

func (c *Client) tunToNet(ctx context.Context) error {
	buf := make([]byte, wire.MaxPayloadSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := c.tun.Read(buf)
		if err != nil {
			return fmt.Errorf("tun read: %w", err)
		}

		wirePacket, err := encodePacket(c.sess, wire.FlagData, c.profile, buf[:n])
		if err != nil {
			c.logger.Warn("dropping outbound packet", logging.KeyError, err)
			continue
		}

		if err := c.conn.SendPacket(ctx, c.wrapper.WrapRequest(wirePacket)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		c.bytesSent += uint64(n)
		if c.metrics != nil {
			c.metrics.PacketsSent.Inc()
			c.metrics.BytesSent.Add(float64(n))
		}

		if delay := c.wrapper.NextPacketTiming(); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
}

func (c *Client) netToTun(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := c.conn.ReceivePacket(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		wirePacket, err := c.wrapper.Unwrap(raw)
		if err != nil {
			c.logger.Warn("dropping unparsable inbound message", logging.KeyError, err)
			continue
		}

		pkt, plaintext, err := decodePacket(c.sess, wirePacket)
		if err != nil {
			reason := dropReason(err)
			c.logger.Warn("dropping inbound packet", logging.KeyError, err)
			if c.metrics != nil {
				c.metrics.PacketsDropped.WithLabelValues(reason).Inc()
				if reason == "duplicate_sequence" || reason == "sequence_out_of_window" {
					c.metrics.ReplayRejected.Inc()
				}
			}
			continue
		}
		if pkt.Header.Flags.Has(wire.FlagKeepalive) {
			c.sess.MarkKeepaliveReceived()
			continue
		}

		if len(plaintext) == 0 {
			continue
		}
		if _, err := c.tun.Write(plaintext); err != nil {
			return fmt.Errorf("tun write: %w", err)
		}
		c.bytesRecv += uint64(len(plaintext))
		if c.metrics != nil {
			c.metrics.PacketsReceived.Inc()
			c.metrics.BytesReceived.Add(float64(len(plaintext)))
		}
	}
}

// Stats returns a human-readable summary of this session's transfer, for
// periodic status logging.
func (c *Client) Stats() string {
	return fmt.Sprintf("sent %s, received %s", humanize.Bytes(c.bytesSent), humanize.Bytes(c.bytesRecv))
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, session.ErrDuplicateSequence):
		return "duplicate_sequence"
	case errors.Is(err, session.ErrSequenceOutOfWindow):
		return "sequence_out_of_window"
	case errors.Is(err, session.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, session.ErrDecryption):
		return "decryption"
	default:
		return "other"
	}
}
