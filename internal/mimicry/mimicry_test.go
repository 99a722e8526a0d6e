package mimicry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/llp-project/llp/internal/wire"
)

var profiles = []wire.MimicryProfile{
	wire.ProfileVkVideo,
	wire.ProfileYandexMusic,
	wire.ProfileRuTube,
}

func TestWrapUnwrapResponseRoundTrip(t *testing.T) {
	payload := []byte("encrypted-session-bytes-would-go-here")
	for _, profile := range profiles {
		w, err := NewWrapper(profile, 7)
		if err != nil {
			t.Fatalf("%v: NewWrapper error = %v", profile, err)
		}
		wrapped := w.Wrap(payload)
		if !bytes.HasPrefix(wrapped, []byte("HTTP/1.1 ")) {
			t.Errorf("%v: wrapped response missing HTTP/1.1 status line prefix", profile)
		}
		got, err := w.Unwrap(wrapped)
		if err != nil {
			t.Fatalf("%v: Unwrap error = %v", profile, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("%v: round trip mismatch: got %q want %q", profile, got, payload)
		}
	}
}

func TestWrapUnwrapRequestRoundTrip(t *testing.T) {
	payload := []byte("client-to-server-encrypted-bytes")
	for _, profile := range profiles {
		w, err := NewWrapper(profile, 99)
		if err != nil {
			t.Fatal(err)
		}
		wrapped := w.WrapRequest(payload)
		if !strings.HasPrefix(string(wrapped), "GET ") {
			t.Errorf("%v: wrapped request missing GET request line", profile)
		}
		got, err := w.Unwrap(wrapped)
		if err != nil {
			t.Fatalf("%v: Unwrap error = %v", profile, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("%v: round trip mismatch: got %q want %q", profile, got, payload)
		}
	}
}

func TestChunkSizeWithinRecommendedRange(t *testing.T) {
	for _, profile := range profiles {
		w, err := NewWrapper(profile, 1)
		if err != nil {
			t.Fatal(err)
		}
		gen, err := NewGenerator(profile)
		if err != nil {
			t.Fatal(err)
		}
		min, max := gen.ChunkSizeRange()
		for i := 0; i < 20; i++ {
			size := w.RecommendedChunkSize()
			if size < min || size >= max {
				t.Fatalf("%v: chunk size %d outside [%d, %d)", profile, size, min, max)
			}
		}
	}
}

func TestNoneProfileIsPassthrough(t *testing.T) {
	w, err := NewWrapper(wire.ProfileNone, 1)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("unwrapped")
	if got := w.Wrap(payload); !bytes.Equal(got, payload) {
		t.Errorf("None profile Wrap() should be a passthrough, got %q", got)
	}
	if d := w.NextPacketTiming(); d != 0 {
		t.Errorf("None profile NextPacketTiming() = %v, want 0", d)
	}
}

func TestQuickWrapUnwrap(t *testing.T) {
	payload := []byte("quick-path-payload")
	wrapped, err := QuickWrap(wire.ProfileVkVideo, 42, payload)
	if err != nil {
		t.Fatal(err)
	}
	got, err := QuickUnwrap(wire.ProfileVkVideo, wrapped)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("QuickWrap/QuickUnwrap mismatch: got %q want %q", got, payload)
	}
}

func TestNewGeneratorRejectsUnsupportedProfile(t *testing.T) {
	if _, err := NewGenerator(wire.ProfileNone); err == nil {
		t.Error("expected error for ProfileNone, got nil")
	}
}
