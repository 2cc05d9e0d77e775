package engine

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conversahq/conversa-platform/internal/observability/metrics"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

type recordingTelemetry struct {
	turns    []TurnEvent
	outcomes []OutcomeEvent
}

func (r *recordingTelemetry) TurnProcessed(ev TurnEvent) { r.turns = append(r.turns, ev) }

func (r *recordingTelemetry) OutcomeDerived(ev OutcomeEvent) { r.outcomes = append(r.outcomes, ev) }

type panickingTelemetry struct{}

func (panickingTelemetry) TurnProcessed(TurnEvent)     { panic("sink down") }
func (panickingTelemetry) OutcomeDerived(OutcomeEvent) { panic("sink down") }

func TestMultiTelemetryFanOut(t *testing.T) {
	a := &recordingTelemetry{}
	b := &recordingTelemetry{}
	multi := NewMultiTelemetry(logging.New("error"), a, b)

	multi.TurnProcessed(TurnEvent{TenantID: "tnt_1", Intent: IntentHello, Method: MethodRegex})
	multi.OutcomeDerived(OutcomeEvent{TenantID: "tnt_1", Outcome: OutcomeConversationEnded})

	for _, sink := range []*recordingTelemetry{a, b} {
		if len(sink.turns) != 1 || len(sink.outcomes) != 1 {
			t.Fatalf("sink missed events: turns=%d outcomes=%d", len(sink.turns), len(sink.outcomes))
		}
	}
}

func TestMultiTelemetryIsolatesPanickingSink(t *testing.T) {
	healthy := &recordingTelemetry{}
	multi := NewMultiTelemetry(logging.New("error"), panickingTelemetry{}, healthy)

	multi.TurnProcessed(TurnEvent{TenantID: "tnt_1"})
	multi.OutcomeDerived(OutcomeEvent{TenantID: "tnt_1"})

	if len(healthy.turns) != 1 || len(healthy.outcomes) != 1 {
		t.Fatalf("healthy sink starved by panicking sibling: %+v", healthy)
	}
}

func TestMultiTelemetrySkipsNilSinks(t *testing.T) {
	multi := NewMultiTelemetry(nil, nil, nil)
	multi.TurnProcessed(TurnEvent{})
	multi.OutcomeDerived(OutcomeEvent{})
}

func TestMetricsTelemetryRoutesDuplicates(t *testing.T) {
	m := metrics.NewEngineMetrics(prometheus.NewRegistry())
	sink := NewMetricsTelemetry(m)

	sink.TurnProcessed(TurnEvent{Channel: ChannelWhatsApp, Duplicate: true})
	sink.TurnProcessed(TurnEvent{
		Channel: ChannelWhatsApp,
		Intent:  IntentPricing,
		Method:  MethodLLM,
		Model:   "gemini-2.0-flash",
		CostUSD: 0.0002,
		Latency: 120 * time.Millisecond,
	})
	sink.OutcomeDerived(OutcomeEvent{Outcome: OutcomeBookingConfirmed, Terminal: true})
}

func TestMetricsTelemetryCountsClarifications(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewMetricsTelemetry(metrics.NewEngineMetrics(reg))

	sink.TurnProcessed(TurnEvent{Method: MethodDisambiguation, ClarifyAttempt: 1})
	sink.TurnProcessed(TurnEvent{Method: MethodDisambiguation, ClarifyAttempt: 1})
	sink.TurnProcessed(TurnEvent{Intent: IntentHello, Method: MethodRegex})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var got float64
	for _, mf := range families {
		if mf.GetName() != "conversa_engine_clarifications_total" {
			continue
		}
		for _, sample := range mf.GetMetric() {
			got += sample.GetCounter().GetValue()
		}
	}
	if got != 2 {
		t.Fatalf("expected 2 clarification prompts counted, got %v", got)
	}
}

func TestLogTelemetryNilSafe(t *testing.T) {
	var sink *LogTelemetry
	sink.TurnProcessed(TurnEvent{})
	sink.OutcomeDerived(OutcomeEvent{})

	NewLogTelemetry(nil).TurnProcessed(TurnEvent{})
}
