package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

// FingerprintPreset names a uTLS ClientHello fingerprint. Since the
// WebSocket transport's upgrade request is a plain HTTPS request, an
// unmodified Go TLS ClientHello is one of the few remaining signals
// that distinguishes this traffic from a real browser's; presets let
// the dial mimic one instead.
type FingerprintPreset string

const (
	FingerprintDisabled FingerprintPreset = ""
	FingerprintChrome   FingerprintPreset = "chrome"
	FingerprintFirefox  FingerprintPreset = "firefox"
	FingerprintSafari   FingerprintPreset = "safari"
	FingerprintAndroid  FingerprintPreset = "android"
	FingerprintRandom   FingerprintPreset = "random"
)

var fingerprintClientHelloIDs = map[FingerprintPreset]utls.ClientHelloID{
	FingerprintChrome:  utls.HelloChrome_Auto,
	FingerprintFirefox: utls.HelloFirefox_Auto,
	FingerprintSafari:  utls.HelloSafari_Auto,
	FingerprintAndroid: utls.HelloAndroid_11_OkHttp,
	FingerprintRandom:  utls.HelloRandomized,
}

// GetClientHelloID returns the uTLS ClientHelloID for preset, or
// HelloGolang (standard Go TLS) if preset is empty or unrecognized.
func GetClientHelloID(preset string) utls.ClientHelloID {
	if id, ok := fingerprintClientHelloIDs[FingerprintPreset(preset)]; ok {
		return id
	}
	return utls.HelloGolang
}

// IsFingerprintEnabled reports whether preset selects anything other
// than standard Go TLS.
func IsFingerprintEnabled(preset string) bool {
	return preset != "" && preset != string(FingerprintDisabled)
}

// utlsConn adapts a uTLS connection to net.Conn so it can be returned
// from a net/http DialTLSContext hook.
type utlsConn struct {
	*utls.UConn
	rawConn net.Conn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	state := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:            state.Version,
		HandshakeComplete:  state.HandshakeComplete,
		CipherSuite:        state.CipherSuite,
		NegotiatedProtocol: state.NegotiatedProtocol,
		ServerName:         state.ServerName,
		PeerCertificates:   state.PeerCertificates,
	}
}

// DialUTLSWithALPN dials a raw TCP connection and performs a uTLS
// handshake using the ClientHello fingerprint named by preset,
// explicitly setting alpn since not every preset's stock ClientHello
// advertises the protocol list the caller needs.
func DialUTLSWithALPN(ctx context.Context, network, addr string, tlsConfig *tls.Config, preset string, alpn []string) (net.Conn, error) {
	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	utlsConfig := &utls.Config{
		ServerName:         tlsConfig.ServerName,
		InsecureSkipVerify: tlsConfig.InsecureSkipVerify,
		RootCAs:            tlsConfig.RootCAs,
		MinVersion:         tlsConfig.MinVersion,
		MaxVersion:         tlsConfig.MaxVersion,
	}

	uconn := utls.UClient(rawConn, utlsConfig, GetClientHelloID(preset))

	if len(alpn) > 0 {
		if err := uconn.BuildHandshakeState(); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("build handshake state: %w", err)
		}
		found := false
		for _, ext := range uconn.Extensions {
			if alpnExt, ok := ext.(*utls.ALPNExtension); ok {
				alpnExt.AlpnProtocols = alpn
				found = true
				break
			}
		}
		if !found {
			uconn.Extensions = append(uconn.Extensions, &utls.ALPNExtension{AlpnProtocols: alpn})
		}
	}

	if err := uconn.Handshake(); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("uTLS handshake failed: %w", err)
	}

	return &utlsConn{UConn: uconn, rawConn: rawConn}, nil
}
