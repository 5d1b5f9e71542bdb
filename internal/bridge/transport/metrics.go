package transport

import (
	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 记录桥接收发与丢弃情况。
type Metrics struct {
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	dropped  *prometheus.CounterVec
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "transport",
			Name:      "sent_total",
			Help:      "Envelopes posted to the host bus",
		}, []string{"type"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "transport",
			Name:      "received_total",
			Help:      "Inbound envelopes accepted by the codec",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "transport",
			Name:      "dropped_total",
			Help:      "Inbound messages discarded before delivery",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.sent, m.received, m.dropped)
	return m
}

func (m *Metrics) incSent(typ envelope.Type) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(typ.String()).Inc()
}

func (m *Metrics) incReceived(typ envelope.Type) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(typ.String()).Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}
