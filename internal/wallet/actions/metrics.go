package actions

import "github.com/prometheus/client_golang/prometheus"

// Metrics 记录待审批队列与执行情况。
type Metrics struct {
	pending    prometheus.Gauge
	queueDepth prometheus.Gauge
	actions    *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	retryTotal *prometheus.CounterVec
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_actions_pending",
			Help: "Actions awaiting a user decision",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_execute_queue_depth",
			Help: "Approved actions waiting for or under execution",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_actions_total",
			Help: "Actions accepted from pages",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_action_outcomes_total",
			Help: "Actions by final outcome",
		}, []string{"kind", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_actions_dropped_total",
			Help: "Page requests dropped without acknowledgment",
		}, []string{"reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_execute_latency_ms",
			Help:    "Latency of executor calls in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000},
		}, []string{"kind"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_execute_retry_total",
			Help: "Executor retries scheduled",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.pending, m.queueDepth, m.actions, m.outcomes, m.dropped, m.latency, m.retryTotal)
	return m
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) incQueueDepth() {
	if m == nil {
		return
	}
	m.queueDepth.Inc()
}

func (m *Metrics) decQueueDepth() {
	if m == nil {
		return
	}
	m.queueDepth.Dec()
}

func (m *Metrics) incAction(kind Kind) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) incOutcome(kind Kind, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(kind), labelOrUnknown(outcome)).Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func (m *Metrics) observeLatency(kind Kind, durMs float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(string(kind)).Observe(durMs)
}

func (m *Metrics) incRetry(kind Kind) {
	if m == nil {
		return
	}
	m.retryTotal.WithLabelValues(string(kind)).Inc()
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
