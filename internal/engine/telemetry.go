package engine

import (
	"strconv"
	"time"

	"github.com/conversahq/conversa-platform/internal/observability/metrics"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

// TurnEvent describes one processed inbound turn for telemetry sinks.
type TurnEvent struct {
	TenantID       string
	SessionKey     string
	Channel        Channel
	Intent         IntentKey
	Method         DecisionMethod
	Confidence     float64
	Duplicate      bool
	ContentHash    string
	ClarifyAttempt int
	TokensUsed     int
	CostUSD        float64
	Model          string
	Latency        time.Duration
}

// OutcomeEvent describes a derived session outcome.
type OutcomeEvent struct {
	TenantID   string
	SessionKey string
	Outcome    OutcomeValue
	Terminal   bool
	Reason     string
}

// Telemetry receives engine events. Implementations must never block the
// decision path and must never propagate failures back into it.
type Telemetry interface {
	TurnProcessed(ev TurnEvent)
	OutcomeDerived(ev OutcomeEvent)
}

// LogTelemetry writes events as structured log lines.
type LogTelemetry struct {
	logger *logging.Logger
}

func NewLogTelemetry(logger *logging.Logger) *LogTelemetry {
	return &LogTelemetry{logger: logger}
}

func (t *LogTelemetry) TurnProcessed(ev TurnEvent) {
	if t == nil || t.logger == nil {
		return
	}
	t.logger.Info("turn processed",
		"tenant_id", ev.TenantID,
		"session_key", ev.SessionKey,
		"channel", string(ev.Channel),
		"intent", string(ev.Intent),
		"method", string(ev.Method),
		"confidence", ev.Confidence,
		"duplicate", ev.Duplicate,
		"tokens_used", ev.TokensUsed,
		"cost_usd", ev.CostUSD,
		"model", ev.Model,
		"latency_ms", ev.Latency.Milliseconds(),
	)
}

func (t *LogTelemetry) OutcomeDerived(ev OutcomeEvent) {
	if t == nil || t.logger == nil {
		return
	}
	t.logger.Info("outcome derived",
		"tenant_id", ev.TenantID,
		"session_key", ev.SessionKey,
		"outcome", string(ev.Outcome),
		"terminal", ev.Terminal,
		"reason", ev.Reason,
	)
}

// MetricsTelemetry feeds prometheus counters.
type MetricsTelemetry struct {
	metrics *metrics.EngineMetrics
}

func NewMetricsTelemetry(m *metrics.EngineMetrics) *MetricsTelemetry {
	return &MetricsTelemetry{metrics: m}
}

func (t *MetricsTelemetry) TurnProcessed(ev TurnEvent) {
	if t == nil || t.metrics == nil {
		return
	}
	if ev.Duplicate {
		t.metrics.ObserveDuplicate(string(ev.Channel))
		return
	}
	t.metrics.ObserveDecision(string(ev.Method), string(ev.Intent))
	t.metrics.ObserveCascadeLatency(string(ev.Method), ev.Latency.Seconds())
	t.metrics.ObserveInferenceCost(ev.Model, ev.CostUSD)
	if ev.ClarifyAttempt > 0 {
		t.metrics.ObserveClarification(strconv.Itoa(ev.ClarifyAttempt))
	}
}

func (t *MetricsTelemetry) OutcomeDerived(ev OutcomeEvent) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.ObserveOutcome(string(ev.Outcome), ev.Terminal)
}

// MultiTelemetry fans out to several sinks. A panicking sink is isolated
// so the others still receive the event.
type MultiTelemetry struct {
	sinks  []Telemetry
	logger *logging.Logger
}

func NewMultiTelemetry(logger *logging.Logger, sinks ...Telemetry) *MultiTelemetry {
	kept := make([]Telemetry, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiTelemetry{sinks: kept, logger: logger}
}

func (t *MultiTelemetry) TurnProcessed(ev TurnEvent) {
	if t == nil {
		return
	}
	for _, s := range t.sinks {
		t.dispatch(func() { s.TurnProcessed(ev) })
	}
}

func (t *MultiTelemetry) OutcomeDerived(ev OutcomeEvent) {
	if t == nil {
		return
	}
	for _, s := range t.sinks {
		t.dispatch(func() { s.OutcomeDerived(ev) })
	}
}

func (t *MultiTelemetry) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil && t.logger != nil {
			t.logger.Error("telemetry sink panicked", "panic", r)
		}
	}()
	fn()
}
