package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	wsDefaultReadLimit = 16 * 1024 * 1024
	wsSubprotocol      = "llp.v1"
)

// WebSocketTransport implements Transport using WebSocket: each wire
// packet is sent as one binary WebSocket message, so WebSocket's own
// message framing delimits each packet and no additional length prefix
// is added.
type WebSocketTransport struct {
	mu        sync.Mutex
	listeners []*WebSocketListener
	closed    bool
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

func (t *WebSocketTransport) Type() TransportType { return TransportWebSocket }

func (t *WebSocketTransport) Dial(ctx context.Context, addr string, opts DialOptions) (PeerConn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	wsURL := parseWebSocketURL(addr)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	httpClient, err := buildHTTPClient(opts)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient:   httpClient,
		Subprotocols: []string{wsSubprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial failed: %w", err)
	}
	conn.SetReadLimit(wsDefaultReadLimit)

	return &WebSocketPeerConn{conn: conn, isDialer: true}, nil
}

func (t *WebSocketTransport) Listen(addr string, opts ListenOptions) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}

	path := opts.Path
	if path == "" {
		path = "/ws"
	}

	listener := &WebSocketListener{
		addr:      addr,
		path:      path,
		tlsConfig: opts.TLSConfig,
		connCh:    make(chan *WebSocketPeerConn, 16),
		closeCh:   make(chan struct{}),
	}
	if err := listener.start(); err != nil {
		return nil, err
	}

	t.listeners = append(t.listeners, listener)
	return listener, nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var lastErr error
	for _, l := range t.listeners {
		if err := l.Close(); err != nil {
			lastErr = err
		}
	}
	t.listeners = nil
	return lastErr
}

// WebSocketListener accepts incoming WebSocket upgrades on an HTTP server.
type WebSocketListener struct {
	addr      string
	path      string
	tlsConfig *tls.Config

	server *http.Server
	netLn  net.Listener

	connCh  chan *WebSocketPeerConn
	closeCh chan struct{}
	closed  atomic.Bool
}

func (l *WebSocketListener) start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(l.path, l.handleUpgrade)

	l.server = &http.Server{Addr: l.addr, Handler: mux, TLSConfig: l.tlsConfig}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}
	l.netLn = ln

	go func() {
		if l.tlsConfig != nil {
			l.server.ServeTLS(ln, "", "")
		} else {
			l.server.Serve(ln)
		}
	}()
	return nil
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if l.closed.Load() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	if err != nil {
		return
	}
	conn.SetReadLimit(wsDefaultReadLimit)

	peerConn := &WebSocketPeerConn{conn: conn, isDialer: false}

	select {
	case l.connCh <- peerConn:
	case <-l.closeCh:
		conn.Close(websocket.StatusGoingAway, "server closed")
	}
}

func (l *WebSocketListener) Accept(ctx context.Context) (PeerConn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, fmt.Errorf("listener closed")
	}
}

func (l *WebSocketListener) Addr() net.Addr {
	if l.netLn != nil {
		return l.netLn.Addr()
	}
	return nil
}

func (l *WebSocketListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.closeCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if l.server != nil {
		return l.server.Shutdown(ctx)
	}
	return nil
}

// WebSocketPeerConn implements PeerConn over a single WebSocket connection.
type WebSocketPeerConn struct {
	conn     *websocket.Conn
	isDialer bool
}

func (c *WebSocketPeerConn) SendPacket(ctx context.Context, packet []byte) error {
	return c.conn.Write(ctx, websocket.MessageBinary, packet)
}

func (c *WebSocketPeerConn) ReceivePacket(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *WebSocketPeerConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *WebSocketPeerConn) LocalAddr() net.Addr  { return wsAddr{} }
func (c *WebSocketPeerConn) RemoteAddr() net.Addr { return wsAddr{} }
func (c *WebSocketPeerConn) IsDialer() bool       { return c.isDialer }

func (c *WebSocketPeerConn) TransportType() TransportType { return TransportWebSocket }

// wsAddr is a placeholder net.Addr: nhooyr.io/websocket does not expose
// the underlying connection's addresses once upgraded.
type wsAddr struct{}

func (wsAddr) Network() string { return "ws" }
func (wsAddr) String() string  { return "websocket" }

func parseWebSocketURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "wss://" + addr + "/ws"
}

// buildHTTPClient builds the HTTP client used for the WebSocket upgrade
// dial, routing it through a uTLS fingerprinted connection when a
// fingerprint preset is requested.
func buildHTTPClient(opts DialOptions) (*http.Client, error) {
	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}
	}

	if !IsFingerprintEnabled(opts.FingerprintPreset) {
		return &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}, nil
	}

	preset := opts.FingerprintPreset
	dialTLSContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		cfg := tlsConfig.Clone()
		if cfg.ServerName == "" {
			host, _, splitErr := net.SplitHostPort(addr)
			if splitErr == nil {
				cfg.ServerName = host
			}
		}
		return DialUTLSWithALPN(ctx, network, addr, cfg, preset, []string{"http/1.1"})
	}

	return &http.Client{Transport: &http.Transport{DialTLSContext: dialTLSContext}}, nil
}
