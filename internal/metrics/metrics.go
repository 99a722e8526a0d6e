// Package metrics exposes Prometheus counters and gauges for the
// session, handshake, and packet-processing paths.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every metric the client and server publish. Callers
// construct one with NewRegistry and wire it into prometheus' default
// registerer (or their own) via Register.
type Registry struct {
	HandshakesStarted   prometheus.Counter
	HandshakesCompleted prometheus.Counter
	HandshakesFailed    *prometheus.CounterVec

	SessionsActive  prometheus.Gauge
	SessionsEvicted *prometheus.CounterVec

	PacketsSent        prometheus.Counter
	PacketsReceived    prometheus.Counter
	PacketsDropped     *prometheus.CounterVec
	BytesSent          prometheus.Counter
	BytesReceived      prometheus.Counter

	ReplayRejected prometheus.Counter
}

// NewRegistry constructs every metric, unregistered.
func NewRegistry() *Registry {
	return &Registry{
		HandshakesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "handshake",
			Name:      "started_total",
			Help:      "Handshakes initiated, either side.",
		}),
		HandshakesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "handshake",
			Name:      "completed_total",
			Help:      "Handshakes that reached Completed.",
		}),
		HandshakesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "handshake",
			Name:      "failed_total",
			Help:      "Handshakes that failed, labeled by reason.",
		}, []string{"reason"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llp",
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently registered sessions.",
		}),
		SessionsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "session",
			Name:      "evicted_total",
			Help:      "Sessions removed from the registry, labeled by reason.",
		}, []string{"reason"}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "packet",
			Name:      "sent_total",
			Help:      "Data packets sent (keepalives not counted).",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "packet",
			Name:      "received_total",
			Help:      "Data packets received and written to the tun device.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "packet",
			Name:      "dropped_total",
			Help:      "Wire packets dropped, labeled by error kind.",
		}, []string{"reason"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "packet",
			Name:      "bytes_sent_total",
			Help:      "Plaintext tunnel bytes sent.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "packet",
			Name:      "bytes_received_total",
			Help:      "Plaintext tunnel bytes received.",
		}),
		ReplayRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "session",
			Name:      "replay_rejected_total",
			Help:      "Packets rejected by the anti-replay window.",
		}),
	}
}

// Register adds every metric to reg.
func (m *Registry) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HandshakesStarted,
		m.HandshakesCompleted,
		m.HandshakesFailed,
		m.SessionsActive,
		m.SessionsEvicted,
		m.PacketsSent,
		m.PacketsReceived,
		m.PacketsDropped,
		m.BytesSent,
		m.BytesReceived,
		m.ReplayRejected,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
