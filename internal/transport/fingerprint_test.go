package transport

import (
	"testing"

	utls "github.com/refraction-networking/utls"
)

func TestGetClientHelloIDKnownPresets(t *testing.T) {
	if id := GetClientHelloID("chrome"); id != fingerprintClientHelloIDs[FingerprintChrome] {
		t.Errorf("chrome preset did not map to the expected ClientHelloID, got %+v", id)
	}
	if id := GetClientHelloID("unknown-preset"); id != utls.HelloGolang {
		t.Errorf("unknown preset should fall back to HelloGolang, got %+v", id)
	}
}

func TestIsFingerprintEnabled(t *testing.T) {
	if IsFingerprintEnabled("") {
		t.Error("empty preset should not enable fingerprinting")
	}
	if !IsFingerprintEnabled("firefox") {
		t.Error("firefox preset should enable fingerprinting")
	}
}
