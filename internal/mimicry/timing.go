package mimicry

import (
	"math/rand"
	"time"
)

// TimingProfile models a traffic shape: steady inter-packet delays with
// occasional bursts, so the session's packet cadence resembles the
// chosen class of real traffic rather than a uniform stream.
type TimingProfile struct {
	MinDelay        time.Duration
	MaxDelay        time.Duration
	BurstProbability float64
	BurstSize       int
}

// VideoStreamingTiming models bursty video-chunk delivery.
func VideoStreamingTiming() TimingProfile {
	return TimingProfile{MinDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BurstProbability: 0.7, BurstSize: 5}
}

// AudioStreamingTiming models steadier audio-chunk delivery.
func AudioStreamingTiming() TimingProfile {
	return TimingProfile{MinDelay: 50 * time.Millisecond, MaxDelay: 200 * time.Millisecond, BurstProbability: 0.3, BurstSize: 2}
}

// WebBrowsingTiming models a mixed request/response cadence. Not named
// explicitly in the distilled spec's profile table, carried forward from
// the original implementation as a supplemental timing profile usable by
// a future "generic web" mimicry profile or as a fallback shape.
func WebBrowsingTiming() TimingProfile {
	return TimingProfile{MinDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond, BurstProbability: 0.5, BurstSize: 3}
}

// NextDelay samples the delay before the next packet, using burst timing
// with probability BurstProbability and steady timing otherwise.
func (p TimingProfile) NextDelay(rng *rand.Rand) time.Duration {
	if rng.Float64() < p.BurstProbability {
		span := 20 * time.Millisecond
		return p.MinDelay + time.Duration(rng.Int63n(int64(span)+1))
	}
	span := p.MaxDelay - p.MinDelay
	if span <= 0 {
		return p.MinDelay
	}
	return p.MinDelay + time.Duration(rng.Int63n(int64(span)+1))
}
