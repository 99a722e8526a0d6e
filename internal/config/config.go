// Package config loads the YAML configuration shared by the llp-client
// and llp-server binaries.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/llp-project/llp/internal/session"
	"github.com/llp-project/llp/internal/wire"
)

// Config is the top-level configuration document.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Listen  ListenConfig  `yaml:"listen"`
	Peer    PeerConfig    `yaml:"peer"`
	Session SessionConfig `yaml:"session"`
	Mimicry MimicryConfig `yaml:"mimicry"`
	Metrics MetricsConfig `yaml:"metrics"`
	Auth    AuthConfig    `yaml:"auth"`
}

// AuthConfig gates the local administration surface (e.g. a future
// management socket) behind a bcrypt-hashed token rather than a
// plaintext secret in the config file. Generate a hash with
// `llp-server hash`.
type AuthConfig struct {
	TokenHash string `yaml:"token_hash"`
}

// HashToken bcrypt-hashes token at the default cost, for writing into
// AuthConfig.TokenHash.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("config: hash token: %w", err)
	}
	return string(hash), nil
}

// VerifyToken reports whether token matches the configured hash. A
// Config with no TokenHash set never verifies, closing the
// administration surface by default.
func (c AuthConfig) VerifyToken(token string) bool {
	if c.TokenHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.TokenHash), []byte(token)) == nil
}

// LoggingConfig controls internal/logging.NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ListenConfig configures the server's listener.
type ListenConfig struct {
	Address     string `yaml:"address"`
	Transport   string `yaml:"transport"` // "quic" or "ws"
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
	WSPath      string `yaml:"ws_path"`
}

// PeerConfig configures the client's outbound connection to a server.
type PeerConfig struct {
	Address            string        `yaml:"address"`
	Transport          string        `yaml:"transport"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	FingerprintPreset  string        `yaml:"fingerprint_preset"`
	ServerName         string        `yaml:"server_name"`
	ReconnectAttempts  int           `yaml:"reconnect_attempts"`
	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
}

// SessionConfig overrides the session package's defaults. Lifetime,
// KeepaliveInterval, KeepaliveTimeout and MaxTimestampDrift are applied
// to every session a Manager creates via Limits; HandshakeTimeout bounds
// how long a side waits for the peer to complete the handshake before
// giving up.
type SessionConfig struct {
	Lifetime          time.Duration `yaml:"lifetime"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	KeepaliveTimeout  time.Duration `yaml:"keepalive_timeout"`
	MaxTimestampDrift time.Duration `yaml:"max_timestamp_drift"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
}

// Limits converts SessionConfig to a session.Limits for use with
// session.NewManagerWithLimits.
func (s SessionConfig) Limits() session.Limits {
	return session.Limits{
		Lifetime:          s.Lifetime,
		KeepaliveInterval: s.KeepaliveInterval,
		KeepaliveTimeout:  s.KeepaliveTimeout,
		MaxTimestampDrift: s.MaxTimestampDrift,
	}
}

// MimicryConfig selects the HTTP mimicry profile used for this peer.
type MimicryConfig struct {
	Profile string `yaml:"profile"` // "none", "vkvideo", "yandexmusic", "rutube"
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DefaultConfig returns a Config with the same defaults the session and
// logging packages otherwise fall back to implicitly.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Listen:  ListenConfig{Address: ":4433", Transport: "quic"},
		Peer: PeerConfig{
			Transport:         "quic",
			ReconnectAttempts: 5,
			ReconnectDelay:    5 * time.Second,
		},
		Session: SessionConfig{
			Lifetime:          24 * time.Hour,
			KeepaliveInterval: 30 * time.Second,
			KeepaliveTimeout:  90 * time.Second,
			MaxTimestampDrift: 300 * time.Second,
			HandshakeTimeout:  30 * time.Second,
		},
		Mimicry: MimicryConfig{Profile: "none"},
		Metrics: MetricsConfig{Enabled: false, Address: ":9090"},
	}
}

// Load reads and parses a YAML config file, filling unset fields from
// DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// MimicryProfile resolves the configured profile name to a
// wire.MimicryProfile, defaulting to ProfileNone for an empty or
// unrecognized name.
func (c MimicryConfig) MimicryProfile() wire.MimicryProfile {
	switch c.Profile {
	case "vkvideo":
		return wire.ProfileVkVideo
	case "yandexmusic":
		return wire.ProfileYandexMusic
	case "rutube":
		return wire.ProfileRuTube
	default:
		return wire.ProfileNone
	}
}

// LoadTLSCertificate loads the listener's certificate/key pair.
func (l ListenConfig) LoadTLSCertificate() (tls.Certificate, error) {
	return tls.LoadX509KeyPair(l.TLSCertFile, l.TLSKeyFile)
}
