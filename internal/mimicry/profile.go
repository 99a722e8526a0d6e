// Package mimicry wraps and unwraps encrypted session packets inside
// HTTP request/response framing that resembles one of a small set of
// real streaming services, so a passive observer sees what looks like
// ordinary video or audio traffic rather than a VPN protocol.
package mimicry

import (
	"errors"
	"math/rand"

	"github.com/llp-project/llp/internal/wire"
)

// ErrUnsupportedProfile is returned by NewGenerator for an unknown or
// None profile, which has no HTTP framing to generate.
var ErrUnsupportedProfile = errors.New("mimicry: unsupported profile")

// Generator produces profile-specific HTTP request/response framing
// around an opaque encrypted payload, plus the timing and chunk-size
// characteristics that go with the chosen service.
type Generator interface {
	// GenerateRequest builds a client->server HTTP request carrying
	// payload as its body.
	GenerateRequest(streamID uint64, payload []byte) []byte
	// GenerateResponse builds a server->client HTTP response carrying
	// payload as its body.
	GenerateResponse(streamID uint64, payload []byte) []byte
	// Timing returns the inter-packet delay model for this profile.
	Timing() TimingProfile
	// ChunkSizeRange returns the [min, max) byte range recommended for
	// a single wrapped chunk under this profile.
	ChunkSizeRange() (min, max int)
}

// NewGenerator returns the Generator for a negotiated mimicry profile.
func NewGenerator(profile wire.MimicryProfile) (Generator, error) {
	switch profile {
	case wire.ProfileVkVideo:
		return vkVideoGenerator{}, nil
	case wire.ProfileYandexMusic:
		return yandexMusicGenerator{}, nil
	case wire.ProfileRuTube:
		return ruTubeGenerator{}, nil
	default:
		return nil, ErrUnsupportedProfile
	}
}

// recommendedChunkSize samples a chunk size uniformly from [min, max).
func recommendedChunkSize(rng *rand.Rand, min, max int) int {
	if max <= min {
		return min
	}
	return min + rng.Intn(max-min)
}

func randomFrom(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}
