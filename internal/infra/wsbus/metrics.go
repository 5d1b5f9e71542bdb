package wsbus

import "github.com/prometheus/client_golang/prometheus"

// Metrics 记录总线连接与转发情况。
type Metrics struct {
	peers      *prometheus.GaugeVec
	relayed    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	reconnects prometheus.Counter
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "walletbridge",
			Subsystem: "wsbus",
			Name:      "connected_peers",
			Help:      "Websocket peers attached to the bus per origin",
		}, []string{"origin"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletbridge",
			Subsystem: "wsbus",
			Name:      "messages_relayed_total",
			Help:      "Messages relayed by the bus",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletbridge",
			Subsystem: "wsbus",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped by the bus",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletbridge",
			Subsystem: "wsbus",
			Name:      "reconnects_total",
			Help:      "Client reconnect attempts",
		}),
	}
	reg.MustRegister(m.peers, m.relayed, m.dropped, m.reconnects)
	return m
}

func (m *Metrics) setPeers(origin string, n int) {
	if m == nil {
		return
	}
	m.peers.WithLabelValues(origin).Set(float64(n))
}

func (m *Metrics) incRelayed(direction string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(direction).Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) incReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
