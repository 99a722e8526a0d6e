package mimicry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"
)

var yandexUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) YaBrowser/24.1.0 Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"YandexMusic/2024.1 (iPhone; iOS 17.1; Scale/3.00)",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

var yandexAudioFormats = []string{"mp3", "aac", "m4a"}
var yandexBitrates = []string{"128", "192", "256", "320"}

var yandexContentTypes = map[string]string{
	"mp3": "audio/mpeg",
	"aac": "audio/aac",
	"m4a": "audio/mp4",
}

// yandexMusicGenerator mimics Yandex Music's track-segment delivery: a
// GET for a numbered track at a sampled bitrate/format, answered with a
// plain 200 OK (Yandex Music does not range-serve tracks the way VK
// Video range-serves HLS segments).
type yandexMusicGenerator struct{}

func yandexRequestID(rng *rand.Rand) string {
	var b [8]byte
	rng.Read(b[:])
	return hex.EncodeToString(b[:])
}

func yandexSessionToken(streamID uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("llp-yandex-session-%d", streamID)))
	return hex.EncodeToString(sum[:16])
}

func (yandexMusicGenerator) GenerateRequest(streamID uint64, payload []byte) []byte {
	rng := rand.New(rand.NewSource(int64(streamID)))
	format := randomFrom(rng, yandexAudioFormats)
	bitrate := randomFrom(rng, yandexBitrates)
	path := fmt.Sprintf("/get-%s/%d_%s.%s", format, streamID, bitrate, format)
	headers := [][2]string{
		{"Host", "music.yandex.ru"},
		{"User-Agent", randomFrom(rng, yandexUserAgents)},
		{"Accept", "*/*"},
		{"X-Yandex-Music-Session", yandexSessionToken(streamID)},
		{"X-Yandex-Req-Id", yandexRequestID(rng)},
	}
	return buildMessage(fmt.Sprintf("GET %s HTTP/1.1", path), headers, payload)
}

func (yandexMusicGenerator) GenerateResponse(streamID uint64, payload []byte) []byte {
	rng := rand.New(rand.NewSource(int64(streamID)))
	format := randomFrom(rng, yandexAudioFormats)
	headers := [][2]string{
		{"Content-Type", yandexContentTypes[format]},
		{"Date", currentHTTPDate(time.Now())},
		{"X-Yandex-Music-Session", yandexSessionToken(streamID)},
		{"X-Yandex-Req-Id", yandexRequestID(rng)},
		{"Accept-Ranges", "bytes"},
		{"Cache-Control", "public, max-age=86400"},
		{"Access-Control-Allow-Origin", "*"},
		{"Timing-Allow-Origin", "*"},
	}
	return buildMessage("HTTP/1.1 200 OK", headers, payload)
}

func (yandexMusicGenerator) Timing() TimingProfile { return AudioStreamingTiming() }

func (yandexMusicGenerator) ChunkSizeRange() (int, int) { return 16 * 1024, 64 * 1024 }
