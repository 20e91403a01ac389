package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the collectors shared by discovery, session, and call
// signaling. All methods are nil-receiver safe so wiring stays optional.
type Metrics struct {
	probesTotal     *prometheus.CounterVec
	candidatesLive  prometheus.Gauge
	reconnectsTotal prometheus.Counter
	sessionState    *prometheus.GaugeVec
	messagesTotal   *prometheus.CounterVec
	callsTotal      *prometheus.CounterVec
	heartbeatMissed prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		probesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tvlink_probes_total",
			Help: "Active discovery probes by outcome (match, miss, error)",
		}, []string{"outcome"}),

		candidatesLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tvlink_candidates_live",
			Help: "Current size of the live candidate set",
		}),

		reconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tvlink_session_reconnects_total",
			Help: "Total reconnect attempts made by the session manager",
		}),

		sessionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tvlink_session_state",
			Help: "Session state as a one-hot gauge",
		}, []string{"state"}),

		messagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tvlink_messages_total",
			Help: "Wire messages by kind and direction",
		}, []string{"kind", "direction"}),

		callsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tvlink_calls_total",
			Help: "Call lifecycle outcomes by terminal status",
		}, []string{"status"}),

		heartbeatMissed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tvlink_heartbeat_missed_total",
			Help: "Heartbeats that timed out waiting for a pong",
		}),
	}
}

func (m *Metrics) ProbeResult(outcome string) {
	if m == nil {
		return
	}
	m.probesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetCandidates(n int) {
	if m == nil {
		return
	}
	m.candidatesLive.Set(float64(n))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

func (m *Metrics) SetSessionState(state string) {
	if m == nil {
		return
	}
	m.sessionState.Reset()
	m.sessionState.WithLabelValues(state).Set(1)
}

func (m *Metrics) Message(kind, direction string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(kind, direction).Inc()
}

func (m *Metrics) CallFinished(status string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) HeartbeatMissed() {
	if m == nil {
		return
	}
	m.heartbeatMissed.Inc()
}
