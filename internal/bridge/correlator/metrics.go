package correlator

import "github.com/prometheus/client_golang/prometheus"

// Metrics 暴露等待者数量与命中情况。
type Metrics struct {
	listeners prometheus.Gauge
	matched   prometheus.Counter
	unmatched prometheus.Counter
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "correlator",
			Name:      "listeners",
			Help:      "Registered one-shot waiters",
		}),
		matched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "correlator",
			Name:      "matched_total",
			Help:      "Deliveries to waiters",
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "correlator",
			Name:      "unmatched_total",
			Help:      "Inbound envelopes no waiter accepted",
		}),
	}
	reg.MustRegister(m.listeners, m.matched, m.unmatched)
	return m
}

func (m *Metrics) setListeners(n int) {
	if m == nil {
		return
	}
	m.listeners.Set(float64(n))
}

func (m *Metrics) incMatched() {
	if m == nil {
		return
	}
	m.matched.Inc()
}

func (m *Metrics) incUnmatched() {
	if m == nil {
		return
	}
	m.unmatched.Inc()
}
