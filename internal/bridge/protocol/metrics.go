package protocol

import "github.com/prometheus/client_golang/prometheus"

// Metrics 记录能力调用的结果、决策耗时与在途数量。
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inflight *prometheus.GaugeVec
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_requests_total",
			Help: "Capability calls by terminal outcome",
		}, []string{"capability", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_decision_latency_ms",
			Help:    "Time from submit to terminal outcome in milliseconds",
			Buckets: []float64{10, 100, 1000, 5000, 15000, 30000, 60000, 180000, 360000, 600000, 660000},
		}, []string{"capability"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_inflight_requests",
			Help: "Capability calls awaiting a terminal outcome",
		}, []string{"capability"}),
	}
	reg.MustRegister(m.requests, m.latency, m.inflight)
	return m
}

func (m *Metrics) incRequest(kind Kind, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) observeLatency(kind Kind, durMs float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(string(kind)).Observe(durMs)
}

func (m *Metrics) incInflight(kind Kind) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) decInflight(kind Kind) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(string(kind)).Dec()
}
