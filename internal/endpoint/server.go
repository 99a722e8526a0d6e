package endpoint

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/llp-project/llp/internal/handshake"
	"github.com/llp-project/llp/internal/logging"
	"github.com/llp-project/llp/internal/metrics"
	"github.com/llp-project/llp/internal/mimicry"
	"github.com/llp-project/llp/internal/recovery"
	"github.com/llp-project/llp/internal/session"
	"github.com/llp-project/llp/internal/transport"
	"github.com/llp-project/llp/internal/wire"
)

// sessionCleanupInterval is how often Serve sweeps the session manager
// for lifetime/keepalive-timeout eviction and checks for sessions that
// need a keepalive sent.
const sessionCleanupInterval = 10 * time.Second

// DefaultHandshakeTimeout bounds how long servePeer waits for a peer to
// complete ClientHello through ClientVerify before giving up.
const DefaultHandshakeTimeout = 30 * time.Second

// Server accepts peer connections, performs the responder side of the
// handshake, and relays decrypted tunnel traffic through a shared
// Registry keyed by each peer's assigned VPN address.
type Server struct {
	listener         transport.Listener
	tun              TunDevice
	manager          *session.Manager
	registry         *Registry
	logger           *slog.Logger
	metrics          *metrics.Registry
	handshakeTimeout time.Duration

	// acceptLimiter bounds how fast unauthenticated handshake attempts
	// are admitted, independent of how fast the transport itself can
	// accept raw connections.
	acceptLimiter *rate.Limiter

	peersMu sync.Mutex
	peers   map[uint64]*peerHandle
}

// peerHandle is the server-side state the cleanup loop needs to emit a
// keepalive to, or forcibly disconnect, a peer it doesn't otherwise hold
// a reference to (relayPeer runs in its own goroutine per connection).
type peerHandle struct {
	conn    transport.PeerConn
	wrapper *mimicry.Wrapper
	profile wire.MimicryProfile
	vpnIP   net.IP
	cancel  context.CancelFunc
}

// NewServer constructs a Server that reads/writes decrypted tunnel
// traffic through tun and admits up to maxHandshakesPerSecond new
// handshake attempts per second, using session.Limits{} (the package
// defaults). Use NewServerWithLimits to apply a SessionConfig.
func NewServer(listener transport.Listener, tun TunDevice, logger *slog.Logger, m *metrics.Registry, maxHandshakesPerSecond float64) *Server {
	return NewServerWithLimits(listener, tun, logger, m, maxHandshakesPerSecond, session.Limits{}, DefaultHandshakeTimeout)
}

// NewServerWithLimits is NewServer plus per-session limits (lifetime,
// keepalive interval/timeout, timestamp drift) and a handshake deadline,
// both normally sourced from internal/config.SessionConfig.
func NewServerWithLimits(listener transport.Listener, tun TunDevice, logger *slog.Logger, m *metrics.Registry, maxHandshakesPerSecond float64, limits session.Limits, handshakeTimeout time.Duration) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &Server{
		listener:         listener,
		tun:              tun,
		manager:          session.NewManagerWithLimits(limits),
		registry:         NewRegistry(),
		logger:           logger,
		metrics:          m,
		handshakeTimeout: handshakeTimeout,
		acceptLimiter:    rate.NewLimiter(rate.Limit(maxHandshakesPerSecond), 1),
		peers:            make(map[uint64]*peerHandle),
	}
}

// Serve accepts connections until ctx is canceled, spawning one
// goroutine per peer to run its responder handshake and data loop.
func (s *Server) Serve(ctx context.Context) error {
	go s.tunToClients(ctx)
	go s.cleanupLoop(ctx)

	for {
		if err := s.acceptLimiter.Wait(ctx); err != nil {
			return err
		}

		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Warn("accept failed", logging.KeyError, err)
			continue
		}

		go func() {
			defer recovery.RecoverWithLog(s.logger, "endpoint.server.peer")
			if err := s.servePeer(ctx, conn); err != nil {
				s.logger.Warn("peer session ended", logging.KeyError, err)
			}
		}()
	}
}

// cleanupLoop periodically sweeps the session manager for lifetime and
// keepalive-timeout eviction (C5), emits due keepalives, and flags
// sessions that have crossed the rekey soft limit.
func (s *Server) cleanupLoop(ctx context.Context) {
	defer recovery.RecoverWithLog(s.logger, "endpoint.server.cleanup")

	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Server) runCleanup(ctx context.Context) {
	for _, ev := range s.manager.CleanupExpired() {
		if s.metrics != nil {
			s.metrics.SessionsEvicted.WithLabelValues(string(ev.Reason)).Inc()
		}
		s.logger.Info("session evicted", logging.KeySessionID, ev.SessionID, "reason", ev.Reason)
		s.disconnectPeer(ev.SessionID)
	}

	for _, sess := range s.manager.SessionsNeedingKeepalive() {
		s.sendKeepalive(ctx, sess)
	}

	if needRekey := s.manager.SessionsNeedingRekey(); len(needRekey) > 0 {
		s.logger.Warn("sessions need rekey", "count", len(needRekey))
	}
}

// disconnectPeer cancels the per-connection context for sessionID, if
// still registered, unblocking its relayPeer goroutines so servePeer's
// deferred cleanup runs.
func (s *Server) disconnectPeer(sessionID uint64) {
	s.peersMu.Lock()
	handle, ok := s.peers[sessionID]
	s.peersMu.Unlock()
	if ok {
		handle.cancel()
	}
}

func (s *Server) sendKeepalive(ctx context.Context, sess *session.Session) {
	s.peersMu.Lock()
	handle, ok := s.peers[sess.SessionID()]
	s.peersMu.Unlock()
	if !ok {
		return
	}

	wirePacket, err := encodePacket(sess, wire.FlagKeepalive, handle.profile, nil)
	if err != nil {
		s.logger.Warn("building keepalive failed", logging.KeyError, err)
		return
	}
	if err := handle.conn.SendPacket(ctx, handle.wrapper.Wrap(wirePacket)); err != nil {
		s.logger.Warn("sending keepalive failed", logging.KeyError, err)
	}
}

// tunToClients reads decrypted-direction packets destined for peers off
// the shared tun device and routes each to the right peer's outbound
// channel by VPN IP.
func (s *Server) tunToClients(ctx context.Context) {
	defer recovery.RecoverWithLog(s.logger, "endpoint.server.tunToClients")

	buf := make([]byte, wire.MaxPayloadSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := s.tun.Read(buf)
		if err != nil {
			s.logger.Error("tun read failed", logging.KeyError, err)
			return
		}
		if !s.registry.RouteToClient(append([]byte(nil), buf[:n]...)) {
			s.logger.Debug("no registered peer for destination, dropping")
		}
	}
}

// servePeer runs the responder handshake for one incoming connection
// and, on success, the per-peer relay loop until the connection ends.
func (s *Server) servePeer(ctx context.Context, conn transport.PeerConn) error {
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.HandshakesStarted.Inc()
	}

	// A peer that never completes ClientHello through ClientVerify must
	// not hold this goroutine (and the underlying transport connection)
	// open forever.
	handshakeCtx, handshakeCancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer handshakeCancel()

	sessionID, err := randomSessionID()
	if err != nil {
		return s.failHandshake("session_id", err)
	}

	hs, err := handshake.NewServer(sessionID)
	if err != nil {
		return s.failHandshake("new_server_handshake", err)
	}

	// See the matching comment in Client.Handshake: handshake messages
	// are never mimicry-wrapped, since the profile they negotiate isn't
	// known until ClientHello itself has been decoded.
	clientHelloBytes, err := conn.ReceivePacket(handshakeCtx)
	if err != nil {
		return s.failHandshake("recv_client_hello", err)
	}

	// ProcessClientHello only derives key material; it must not and does
	// not touch the session registry yet (see internal/handshake.Server).
	serverHello, profile, err := hs.ProcessClientHello(clientHelloBytes)
	if err != nil {
		return s.failHandshake("process_client_hello", err)
	}

	wrapper, err := mimicry.NewWrapper(profile, sessionID)
	if err != nil {
		return s.failHandshake("new_profile_wrapper", err)
	}
	if err := conn.SendPacket(handshakeCtx, serverHello); err != nil {
		return s.failHandshake("send_server_hello", err)
	}

	clientVerifyBytes, err := conn.ReceivePacket(handshakeCtx)
	if err != nil {
		return s.failHandshake("recv_client_verify", err)
	}
	if err := hs.ProcessClientVerify(clientVerifyBytes); err != nil {
		return s.failHandshake("process_client_verify", err)
	}

	// This is the point at which a session entry may safely be committed:
	// the peer has just proven possession of the shared secret.
	key, ok := hs.SessionKey()
	if !ok {
		return s.failHandshake("session_key", errors.New("handshake completed without a usable session key"))
	}
	sess, err := s.manager.Add(sessionID, key, profile)
	key.Zero()
	if err != nil {
		return s.failHandshake("register_session", err)
	}
	defer s.manager.Remove(sessionID)

	serverVerify, err := hs.SendServerVerify()
	if err != nil {
		return s.failHandshake("send_server_verify", err)
	}
	if err := conn.SendPacket(handshakeCtx, serverVerify); err != nil {
		return s.failHandshake("send_server_verify", err)
	}

	vpnIP := VPNAddressForSession(sessionID)
	outCh := make(chan []byte, 64)
	s.registry.Register(vpnIP, outCh)
	defer s.registry.Unregister(vpnIP)

	peerCtx, peerCancel := context.WithCancel(ctx)
	defer peerCancel()
	s.registerPeer(sessionID, &peerHandle{conn: conn, wrapper: wrapper, profile: profile, vpnIP: vpnIP, cancel: peerCancel})
	defer s.unregisterPeer(sessionID)

	if s.metrics != nil {
		s.metrics.HandshakesCompleted.Inc()
		s.metrics.SessionsActive.Inc()
		defer s.metrics.SessionsActive.Dec()
	}
	s.logger.Info("peer session established",
		logging.KeySessionID, sessionID,
		logging.KeyVPNIP, vpnIP.String(),
		logging.KeyMimicryProfile, profile.String(),
	)

	return s.relayPeer(peerCtx, conn, sess, wrapper, profile, outCh)
}

func (s *Server) registerPeer(sessionID uint64, handle *peerHandle) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.peers[sessionID] = handle
}

func (s *Server) unregisterPeer(sessionID uint64) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	delete(s.peers, sessionID)
}

// relayPeer moves packets between conn and the server's tun device for
// one established session until either direction fails.
func (s *Server) relayPeer(ctx context.Context, conn transport.PeerConn, sess *session.Session, wrapper *mimicry.Wrapper, profile wire.MimicryProfile, outCh <-chan []byte) error {
	errCh := make(chan error, 2)

	go func() {
		defer recovery.RecoverWithLog(s.logger, "endpoint.server.netToTun")
		for {
			raw, err := conn.ReceivePacket(ctx)
			if err != nil {
				errCh <- err
				return
			}
			wirePacket, err := wrapper.Unwrap(raw)
			if err != nil {
				s.logger.Warn("dropping unparsable inbound message", logging.KeyError, err)
				continue
			}
			pkt, plaintext, err := decodePacket(sess, wirePacket)
			if err != nil {
				reason := dropReason(err)
				if s.metrics != nil {
					s.metrics.PacketsDropped.WithLabelValues(reason).Inc()
					if reason == "duplicate_sequence" || reason == "sequence_out_of_window" {
						s.metrics.ReplayRejected.Inc()
					}
				}
				continue
			}
			if pkt.Header.Flags.Has(wire.FlagKeepalive) {
				sess.MarkKeepaliveReceived()
				continue
			}
			if len(plaintext) == 0 {
				continue
			}
			if _, err := s.tun.Write(plaintext); err != nil {
				errCh <- err
				return
			}
			if s.metrics != nil {
				s.metrics.PacketsReceived.Inc()
				s.metrics.BytesReceived.Add(float64(len(plaintext)))
			}
		}
	}()

	go func() {
		defer recovery.RecoverWithLog(s.logger, "endpoint.server.tunToNet")
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case plaintext, ok := <-outCh:
				if !ok {
					errCh <- nil
					return
				}
				wirePacket, err := encodePacket(sess, wire.FlagData, profile, plaintext)
				if err != nil {
					s.logger.Warn("dropping outbound packet", logging.KeyError, err)
					continue
				}
				if err := conn.SendPacket(ctx, wrapper.Wrap(wirePacket)); err != nil {
					errCh <- err
					return
				}
				if s.metrics != nil {
					s.metrics.PacketsSent.Inc()
					s.metrics.BytesSent.Add(float64(len(plaintext)))
				}
			}
		}
	}()

	return <-errCh
}

func (s *Server) failHandshake(reason string, err error) error {
	if s.metrics != nil {
		s.metrics.HandshakesFailed.WithLabelValues(reason).Inc()
	}
	return fmt.Errorf("endpoint: handshake failed at %s: %w", reason, err)
}

// randomSessionID allocates a session id before the handshake object is
// constructed, matching the responder invariant that a session id
// exists up front and only the registry entry is deferred until
// ClientVerify succeeds.
func randomSessionID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
