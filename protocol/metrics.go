package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts protocol traffic. A nil *Metrics records nothing.
type Metrics struct {
	received    *prometheus.CounterVec
	sent        *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	integrity   prometheus.Counter
	transitions *prometheus.CounterVec
}

// NewMetrics registers the protocol collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policyd",
			Name:      "messages_received_total",
			Help:      "Messages received, by opcode.",
		}, []string{"opcode"}),
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policyd",
			Name:      "messages_sent_total",
			Help:      "Messages sent, by opcode.",
		}, []string{"opcode"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policyd",
			Name:      "admission_rejections_total",
			Help:      "Inbound messages rejected by admission control, by opcode.",
		}, []string{"opcode"}),
		integrity: f.NewCounter(prometheus.CounterOpts{
			Namespace: "policyd",
			Name:      "integrity_failures_total",
			Help:      "Inbound messages failing the length or CRC check.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policyd",
			Name:      "state_transitions_total",
			Help:      "Connection state transitions, by role and new state.",
		}, []string{"role", "state"}),
	}
}

func (m *Metrics) messageReceived(op Opcode) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) messageSent(op Opcode) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) messageRejected(op Opcode) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) integrityFailure() {
	if m == nil {
		return
	}
	m.integrity.Inc()
}

func (m *Metrics) transition(role string, s State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(role, s.String()).Inc()
}
