package mimicry

import (
	"fmt"
	"math/rand"
	"time"
)

var ruTubeUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
}

var ruTubeQualities = []string{"240p", "360p", "480p", "720p"}

// ruTubeGenerator mimics RuTube's video segment delivery. No reference
// implementation for this profile exists in the ported original source
// (only vkvideo.rs and yandex_music.rs were carried over), so its
// request/response shape is extrapolated from the same video-streaming
// pattern vkVideoGenerator follows, with RuTube-specific headers and a
// plain 200 OK instead of VK Video's range-style 206.
type ruTubeGenerator struct{}

func (ruTubeGenerator) GenerateRequest(streamID uint64, payload []byte) []byte {
	rng := rand.New(rand.NewSource(int64(streamID)))
	quality := randomFrom(rng, ruTubeQualities)
	path := fmt.Sprintf("/video/%d/%s/chunk-%d.mp4", streamID, quality, streamID)
	headers := [][2]string{
		{"Host", "rutube.ru"},
		{"User-Agent", randomFrom(rng, ruTubeUserAgents)},
		{"Accept", "*/*"},
		{"Referer", "https://rutube.ru/"},
		{"X-RuTube-Session", fmt.Sprintf("%016x", streamID)},
	}
	return buildMessage(fmt.Sprintf("GET %s HTTP/1.1", path), headers, payload)
}

func (ruTubeGenerator) GenerateResponse(streamID uint64, payload []byte) []byte {
	headers := [][2]string{
		{"Content-Type", "video/mp4"},
		{"Date", currentHTTPDate(time.Now())},
		{"X-RuTube-Session", fmt.Sprintf("%016x", streamID)},
		{"Cache-Control", "public, max-age=3600"},
		{"Access-Control-Allow-Origin", "*"},
	}
	return buildMessage("HTTP/1.1 200 OK", headers, payload)
}

func (ruTubeGenerator) Timing() TimingProfile { return VideoStreamingTiming() }

func (ruTubeGenerator) ChunkSizeRange() (int, int) { return 32 * 1024, 128 * 1024 }
