package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

type recordedInsert struct {
	tenantID  string
	eventType string
	payload   any
}

type fakeInserter struct {
	inserts []recordedInsert
	err     error
}

func (f *fakeInserter) Insert(_ context.Context, tenantID string, eventType string, payload any) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.inserts = append(f.inserts, recordedInsert{tenantID: tenantID, eventType: eventType, payload: payload})
	return uuid.New(), nil
}

func newTestTelemetry(inserter *fakeInserter) *OutboxTelemetry {
	return &OutboxTelemetry{
		outbox: inserter,
		logger: logging.New("error"),
		now:    func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestOutboxTelemetryTurnProcessed(t *testing.T) {
	inserter := &fakeInserter{}
	sink := newTestTelemetry(inserter)

	sink.TurnProcessed(engine.TurnEvent{
		TenantID:   "tnt_1",
		SessionKey: "whatsapp:+5511999990000",
		Channel:    engine.ChannelWhatsApp,
		Intent:     engine.IntentPricing,
		Method:     engine.MethodRegex,
		Confidence: 1,
	})

	if len(inserter.inserts) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(inserter.inserts))
	}
	rec := inserter.inserts[0]
	if rec.eventType != "engine.turn.processed.v1" {
		t.Fatalf("unexpected event type %q", rec.eventType)
	}
	payload, ok := rec.payload.(TurnProcessedV1)
	if !ok {
		t.Fatalf("unexpected payload type %T", rec.payload)
	}
	if payload.Intent != "pricing" || payload.Method != "regex" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.EventID == "" {
		t.Fatal("expected generated event id")
	}
}

func TestOutboxTelemetryDuplicate(t *testing.T) {
	inserter := &fakeInserter{}
	sink := newTestTelemetry(inserter)

	sink.TurnProcessed(engine.TurnEvent{
		TenantID:    "tnt_1",
		SessionKey:  "whatsapp:+5511999990000",
		Duplicate:   true,
		ContentHash: "abc123",
	})

	if len(inserter.inserts) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(inserter.inserts))
	}
	payload, ok := inserter.inserts[0].payload.(DuplicateSuppressedV1)
	if !ok {
		t.Fatalf("unexpected payload type %T", inserter.inserts[0].payload)
	}
	if payload.ContentHash != "abc123" {
		t.Fatalf("unexpected content hash %q", payload.ContentHash)
	}
}

func TestOutboxTelemetryClarificationEmitsBothEvents(t *testing.T) {
	inserter := &fakeInserter{}
	sink := newTestTelemetry(inserter)

	sink.TurnProcessed(engine.TurnEvent{
		TenantID:       "tnt_1",
		SessionKey:     "whatsapp:+5511999990000",
		Method:         engine.MethodDisambiguation,
		ClarifyAttempt: 1,
	})

	if len(inserter.inserts) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(inserter.inserts))
	}
	if inserter.inserts[0].eventType != "engine.clarification.asked.v1" {
		t.Fatalf("unexpected first event %q", inserter.inserts[0].eventType)
	}
	ask, ok := inserter.inserts[0].payload.(ClarificationAskedV1)
	if !ok || ask.Attempt != 1 {
		t.Fatalf("unexpected clarification payload %+v", inserter.inserts[0].payload)
	}
	if inserter.inserts[1].eventType != "engine.turn.processed.v1" {
		t.Fatalf("unexpected second event %q", inserter.inserts[1].eventType)
	}
}

func TestOutboxTelemetryOutcomeDerived(t *testing.T) {
	inserter := &fakeInserter{}
	sink := newTestTelemetry(inserter)

	sink.OutcomeDerived(engine.OutcomeEvent{
		TenantID:   "tnt_1",
		SessionKey: "whatsapp:+5511999990000",
		Outcome:    engine.OutcomeAppointmentCancelled,
		Terminal:   true,
		Reason:     "explicit cancellation",
	})

	if len(inserter.inserts) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(inserter.inserts))
	}
	payload, ok := inserter.inserts[0].payload.(OutcomeDerivedV1)
	if !ok {
		t.Fatalf("unexpected payload type %T", inserter.inserts[0].payload)
	}
	if payload.Outcome != "appointment_cancelled" || !payload.Terminal {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestOutboxTelemetrySwallowsInsertFailures(t *testing.T) {
	inserter := &fakeInserter{err: errors.New("pool exhausted")}
	sink := newTestTelemetry(inserter)

	sink.TurnProcessed(engine.TurnEvent{TenantID: "tnt_1", SessionKey: "whatsapp:+1"})
	sink.OutcomeDerived(engine.OutcomeEvent{TenantID: "tnt_1", SessionKey: "whatsapp:+1"})

	if len(inserter.inserts) != 0 {
		t.Fatalf("expected no recorded inserts, got %d", len(inserter.inserts))
	}
}
