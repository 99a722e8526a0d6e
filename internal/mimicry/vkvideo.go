package mimicry

import (
	"fmt"
	"math/rand"
	"time"
)

var vkUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

var vkResolutions = []string{"240", "360", "480", "720", "1080"}

// vkVideoGenerator mimics VK Video's chunked HLS-like delivery: the
// client requests a numbered video segment and the server answers with
// a 206 Partial Content carrying the (encrypted) segment bytes.
type vkVideoGenerator struct{}

func (vkVideoGenerator) GenerateRequest(streamID uint64, payload []byte) []byte {
	rng := rand.New(rand.NewSource(int64(streamID)))
	res := randomFrom(rng, vkResolutions)
	path := fmt.Sprintf("/video_hls/%d/%s/seg-%d.ts", streamID, res, streamID)
	headers := [][2]string{
		{"Host", "vkvideo.ru"},
		{"User-Agent", randomFrom(rng, vkUserAgents)},
		{"Accept", "*/*"},
		{"Referer", "https://vkvideo.ru/"},
		{"X-VK-Video-Session", fmt.Sprintf("%016x", streamID)},
	}
	return buildMessage(fmt.Sprintf("GET %s HTTP/1.1", path), headers, payload)
}

func (vkVideoGenerator) GenerateResponse(streamID uint64, payload []byte) []byte {
	headers := [][2]string{
		{"Content-Type", "video/mp2t"},
		{"Date", currentHTTPDate(time.Now())},
		{"Accept-Ranges", "bytes"},
		{"X-VK-Video-Session", fmt.Sprintf("%016x", streamID)},
		{"Cache-Control", "public, max-age=31536000, immutable"},
		{"Access-Control-Allow-Origin", "*"},
	}
	return buildMessage("HTTP/1.1 206 Partial Content", headers, payload)
}

func (vkVideoGenerator) Timing() TimingProfile { return VideoStreamingTiming() }

func (vkVideoGenerator) ChunkSizeRange() (int, int) { return 16 * 1024, 256 * 1024 }
