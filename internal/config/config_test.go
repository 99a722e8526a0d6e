package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/llp-project/llp/internal/wire"
)

func TestLoadMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  address: \"0.0.0.0:9999\"\nmimicry:\n  profile: vkvideo\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen.Address != "0.0.0.0:9999" {
		t.Errorf("Listen.Address = %q, want 0.0.0.0:9999", cfg.Listen.Address)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level should retain default, got %q", cfg.Logging.Level)
	}
	if cfg.Session.KeepaliveInterval.Seconds() != 30 {
		t.Errorf("Session.KeepaliveInterval should retain default, got %v", cfg.Session.KeepaliveInterval)
	}
	if cfg.Session.HandshakeTimeout.Seconds() != 30 {
		t.Errorf("Session.HandshakeTimeout should retain default, got %v", cfg.Session.HandshakeTimeout)
	}
	if cfg.Peer.ReconnectAttempts != 5 {
		t.Errorf("Peer.ReconnectAttempts should retain default, got %d", cfg.Peer.ReconnectAttempts)
	}
	if cfg.Peer.ReconnectDelay.Seconds() != 5 {
		t.Errorf("Peer.ReconnectDelay should retain default, got %v", cfg.Peer.ReconnectDelay)
	}
}

func TestSessionConfigLimits(t *testing.T) {
	sc := SessionConfig{
		Lifetime:          time.Hour,
		KeepaliveInterval: 15 * time.Second,
		KeepaliveTimeout:  45 * time.Second,
		MaxTimestampDrift: 60 * time.Second,
	}
	limits := sc.Limits()
	if limits.Lifetime != sc.Lifetime || limits.KeepaliveInterval != sc.KeepaliveInterval ||
		limits.KeepaliveTimeout != sc.KeepaliveTimeout || limits.MaxTimestampDrift != sc.MaxTimestampDrift {
		t.Errorf("Limits() = %+v, want a field-for-field copy of %+v", limits, sc)
	}
}

func TestHashTokenRoundTrip(t *testing.T) {
	hash, err := HashToken("correct-horse")
	if err != nil {
		t.Fatalf("HashToken() error = %v", err)
	}
	auth := AuthConfig{TokenHash: hash}
	if !auth.VerifyToken("correct-horse") {
		t.Error("VerifyToken() = false for the correct token")
	}
	if auth.VerifyToken("wrong-token") {
		t.Error("VerifyToken() = true for an incorrect token")
	}
}

func TestVerifyTokenRejectsWhenUnset(t *testing.T) {
	var auth AuthConfig
	if auth.VerifyToken("anything") {
		t.Error("VerifyToken() should reject every token when TokenHash is unset")
	}
}

func TestMimicryProfileMapping(t *testing.T) {
	cases := map[string]wire.MimicryProfile{
		"":            wire.ProfileNone,
		"none":        wire.ProfileNone,
		"vkvideo":     wire.ProfileVkVideo,
		"yandexmusic": wire.ProfileYandexMusic,
		"rutube":      wire.ProfileRuTube,
		"bogus":       wire.ProfileNone,
	}
	for name, want := range cases {
		got := MimicryConfig{Profile: name}.MimicryProfile()
		if got != want {
			t.Errorf("MimicryProfile(%q) = %v, want %v", name, got, want)
		}
	}
}
