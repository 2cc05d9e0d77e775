package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for the decision engine.
type EngineMetrics struct {
	decisionsTotal      *prometheus.CounterVec
	duplicatesTotal     *prometheus.CounterVec
	cascadeLatency      *prometheus.HistogramVec
	inferenceCostUSD    *prometheus.CounterVec
	outcomesTotal       *prometheus.CounterVec
	lockTimeoutsTotal   *prometheus.CounterVec
	clarificationsTotal *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conversa",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Total decisions emitted, by resolution method and intent",
		}, []string{"method", "intent"}),
		duplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conversa",
			Subsystem: "engine",
			Name:      "duplicates_suppressed_total",
			Help:      "Inbound messages suppressed by the idempotency guard",
		}, []string{"channel"}),
		cascadeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conversa",
			Subsystem: "engine",
			Name:      "cascade_latency_seconds",
			Help:      "Latency of the intent cascade per resolution method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		inferenceCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conversa",
			Subsystem: "engine",
			Name:      "inference_cost_usd_total",
			Help:      "Accumulated LLM inference spend in USD per model",
		}, []string{"model"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conversa",
			Subsystem: "engine",
			Name:      "outcomes_total",
			Help:      "Session outcomes derived, by value and terminality",
		}, []string{"outcome", "terminal"}),
		lockTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conversa",
			Subsystem: "engine",
			Name:      "flow_lock_timeouts_total",
			Help:      "Flow-lock acquisitions abandoned after the wait timeout",
		}, []string{"channel"}),
		clarificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conversa",
			Subsystem: "engine",
			Name:      "clarifications_total",
			Help:      "Disambiguation prompts sent, by attempt number",
		}, []string{"attempt"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.decisionsTotal,
		m.duplicatesTotal,
		m.cascadeLatency,
		m.inferenceCostUSD,
		m.outcomesTotal,
		m.lockTimeoutsTotal,
		m.clarificationsTotal,
	)
	return m
}

func (m *EngineMetrics) ObserveDecision(method, intent string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(method, intent).Inc()
}

func (m *EngineMetrics) ObserveDuplicate(channel string) {
	if m == nil {
		return
	}
	m.duplicatesTotal.WithLabelValues(channel).Inc()
}

func (m *EngineMetrics) ObserveCascadeLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.cascadeLatency.WithLabelValues(method).Observe(seconds)
}

func (m *EngineMetrics) ObserveInferenceCost(model string, usd float64) {
	if m == nil {
		return
	}
	if usd <= 0 {
		return
	}
	m.inferenceCostUSD.WithLabelValues(model).Add(usd)
}

func (m *EngineMetrics) ObserveOutcome(outcome string, terminal bool) {
	if m == nil {
		return
	}
	label := "false"
	if terminal {
		label = "true"
	}
	m.outcomesTotal.WithLabelValues(outcome, label).Inc()
}

func (m *EngineMetrics) ObserveLockTimeout(channel string) {
	if m == nil {
		return
	}
	m.lockTimeoutsTotal.WithLabelValues(channel).Inc()
}

func (m *EngineMetrics) ObserveClarification(attempt string) {
	if m == nil {
		return
	}
	m.clarificationsTotal.WithLabelValues(attempt).Inc()
}
