package mimicry

import (
	"math/rand"
	"time"

	"github.com/llp-project/llp/internal/wire"
)

// Wrapper applies one profile's HTTP framing to a stream of outgoing
// packets and strips it from incoming ones. It keeps a per-session
// stream counter so each wrapped chunk gets a distinct, profile-shaped
// path/identifier, and a seeded RNG so timing/chunk-size sampling is
// reproducible per session.
type Wrapper struct {
	profile      wire.MimicryProfile
	generator    Generator
	chunkCounter uint64
	rng          *rand.Rand
}

// NewWrapper builds a Wrapper for profile, seeded from sessionID so two
// Wrappers for the same session (client and server ends) do not need to
// exchange RNG state to independently reason about each other's timing.
func NewWrapper(profile wire.MimicryProfile, sessionID uint64) (*Wrapper, error) {
	if profile == wire.ProfileNone {
		return &Wrapper{profile: profile}, nil
	}
	gen, err := NewGenerator(profile)
	if err != nil {
		return nil, err
	}
	return &Wrapper{
		profile:   profile,
		generator: gen,
		rng:       rand.New(rand.NewSource(int64(sessionID))),
	}, nil
}

// Wrap frames payload as a server->client HTTP response. With profile
// None it returns payload unchanged.
func (w *Wrapper) Wrap(payload []byte) []byte {
	if w.generator == nil {
		return payload
	}
	w.chunkCounter++
	return w.generator.GenerateResponse(w.chunkCounter, payload)
}

// WrapRequest frames payload as a client->server HTTP request, for the
// direction of a session that should look like the request side of the
// mimicked service rather than the response side. With profile None it
// returns payload unchanged.
func (w *Wrapper) WrapRequest(payload []byte) []byte {
	if w.generator == nil {
		return payload
	}
	w.chunkCounter++
	return w.generator.GenerateRequest(w.chunkCounter, payload)
}

// Unwrap strips HTTP framing (request or response, whichever was used)
// and returns the original payload. With profile None it returns data
// unchanged.
func (w *Wrapper) Unwrap(data []byte) ([]byte, error) {
	if w.generator == nil {
		return data, nil
	}
	return UnwrapBody(data)
}

// NextPacketTiming samples the delay before the next wrapped packet
// should be sent, per the profile's timing model. With profile None it
// returns zero, i.e. no artificial delay.
func (w *Wrapper) NextPacketTiming() time.Duration {
	if w.generator == nil {
		return 0
	}
	return w.generator.Timing().NextDelay(w.rng)
}

// RecommendedChunkSize samples a payload chunk size from the profile's
// recommended range. With profile None it returns 0 (no recommendation).
func (w *Wrapper) RecommendedChunkSize() int {
	if w.generator == nil {
		return 0
	}
	min, max := w.generator.ChunkSizeRange()
	return recommendedChunkSize(w.rng, min, max)
}

// QuickWrap performs a one-shot wrap without retaining any wrapper
// state, for callers that do not need per-session chunk numbering (e.g.
// tests or a single control-plane message).
func QuickWrap(profile wire.MimicryProfile, streamID uint64, payload []byte) ([]byte, error) {
	if profile == wire.ProfileNone {
		return payload, nil
	}
	gen, err := NewGenerator(profile)
	if err != nil {
		return nil, err
	}
	return gen.GenerateResponse(streamID, payload), nil
}

// QuickUnwrap performs a one-shot unwrap of data produced by QuickWrap
// or Wrapper.Wrap/WrapRequest. profile is accepted for symmetry with
// QuickWrap but unwrapping itself is profile-agnostic HTTP parsing.
func QuickUnwrap(profile wire.MimicryProfile, data []byte) ([]byte, error) {
	if profile == wire.ProfileNone {
		return data, nil
	}
	return UnwrapBody(data)
}
