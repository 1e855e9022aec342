package relay

import (
	"time"

	"github.com/lukasbauer/voicerelay/internal/wsconn"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	sessionsActive  prometheus.Gauge
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	messages        *prometheus.CounterVec
	bytes           *prometheus.CounterVec
	synthesized     prometheus.Counter
	malformed       prometheus.Counter
	connectSeconds  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Sessions currently registered with the relay engine.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_started_total",
			Help: "Downstream connections accepted as sessions.",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_ended_total",
			Help: "Sessions that reached Closed, by terminal error kind.",
		}, []string{"kind", "side"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Frames forwarded, by direction and frame type.",
		}, []string{"direction", "frame"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_bytes_total",
			Help: "Payload bytes forwarded, by direction.",
		}, []string{"direction"}),
		synthesized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_synthesized_messages_total",
			Help: "Messages generated by the interceptor and sent upstream.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_malformed_messages_total",
			Help: "Downstream text frames the interceptor could not parse.",
		}),
		connectSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_upstream_connect_seconds",
			Help:    "Upstream connect latency, by result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.sessionsActive,
			m.sessionsStarted,
			m.sessionsEnded,
			m.messages,
			m.bytes,
			m.synthesized,
			m.malformed,
			m.connectSeconds,
		)
	}
	return m
}

const (
	directionUp   = "upstream"
	directionDown = "downstream"
)

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionEnded(cause error) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	kind, side := string(KindOf(cause)), ""
	if re, ok := cause.(*Error); ok {
		side = string(re.Side)
	}
	m.sessionsEnded.WithLabelValues(kind, side).Inc()
}

func (m *Metrics) forwarded(direction string, msg wsconn.Message) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction, msg.Type.String()).Inc()
	m.bytes.WithLabelValues(direction).Add(float64(len(msg.Data)))
}

func (m *Metrics) synthesizedMessage() {
	if m == nil {
		return
	}
	m.synthesized.Inc()
}

func (m *Metrics) malformedMessage() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

// Connect results. A dial the session no longer waits for is abandoned, not
// failed.
const (
	connectOK        = "ok"
	connectFailed    = "failed"
	connectAbandoned = "abandoned"
)

func (m *Metrics) connectDone(started time.Time, result string) {
	if m == nil {
		return
	}
	m.connectSeconds.WithLabelValues(result).Observe(time.Since(started).Seconds())
}
