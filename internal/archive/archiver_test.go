package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/internal/events"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

type stubTurnLister struct {
	turns []engine.Turn
	err   error
}

func (s *stubTurnLister) ListBySession(_ context.Context, _, _ string, _ int) ([]engine.Turn, error) {
	return s.turns, s.err
}

func sampleTurns() []engine.Turn {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return []engine.Turn{
		{MessageText: "quero cancelar, meu email é ana@example.com", IsFromUser: true, Intent: engine.IntentCancel, DecisionMethod: engine.MethodRegex, CreatedAt: base},
		{MessageText: "cancelado", IsFromUser: false, CreatedAt: base.Add(30 * time.Second)},
	}
}

func TestSessionArchiverScrubsAndStores(t *testing.T) {
	s3c := newFakeS3()
	store := NewStore(s3c, "archive-bucket", logging.New("error"))
	archiver := NewSessionArchiver(store, &stubTurnLister{turns: sampleTurns()}, logging.New("error"))
	if archiver == nil {
		t.Fatal("expected archiver")
	}

	archiver.Archive(context.Background(), "tnt_1", "whatsapp:+5511999990000", "appointment_cancelled", "explicit cancellation")

	var record SessionRecord
	found := false
	for key, data := range s3c.objects {
		if strings.Contains(key, "by-date") {
			if err := json.Unmarshal(data, &record); err != nil {
				t.Fatalf("decode record: %v", err)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("no record archived")
	}
	if record.Outcome != "appointment_cancelled" || record.OutcomeReason != "explicit cancellation" {
		t.Fatalf("unexpected outcome fields: %+v", record)
	}
	if record.TurnCount != 2 || record.DurationSeconds != 30 {
		t.Fatalf("unexpected counters: %+v", record)
	}
	if strings.Contains(record.Turns[0].Text, "ana@") {
		t.Fatalf("PII not scrubbed: %q", record.Turns[0].Text)
	}
	if record.Turns[0].Intent != string(engine.IntentCancel) {
		t.Fatalf("unexpected intent %q", record.Turns[0].Intent)
	}
	if record.AddressHash != HashAddress("+5511999990000") {
		t.Fatal("address hash mismatch")
	}
}

func TestSessionArchiverSkipsEmptySessions(t *testing.T) {
	s3c := newFakeS3()
	store := NewStore(s3c, "archive-bucket", logging.New("error"))
	archiver := NewSessionArchiver(store, &stubTurnLister{}, logging.New("error"))

	archiver.Archive(context.Background(), "tnt_1", "web:s1", "conversation_ended", "")

	if len(s3c.objects) != 0 {
		t.Fatalf("expected no objects, got %v", keysOf(s3c.objects))
	}
}

func TestSessionArchiverSwallowsListerErrors(t *testing.T) {
	s3c := newFakeS3()
	store := NewStore(s3c, "archive-bucket", logging.New("error"))
	archiver := NewSessionArchiver(store, &stubTurnLister{err: errors.New("db down")}, logging.New("error"))

	archiver.Archive(context.Background(), "tnt_1", "web:s1", "conversation_ended", "")

	if len(s3c.objects) != 0 {
		t.Fatalf("expected no objects, got %v", keysOf(s3c.objects))
	}
}

func TestNewSessionArchiverRequiresEnabledStore(t *testing.T) {
	disabled := NewStore(nil, "", logging.New("error"))
	if NewSessionArchiver(disabled, &stubTurnLister{}, nil) != nil {
		t.Fatal("expected nil archiver for disabled store")
	}
}

func TestOutcomeHandlerArchivesTerminalOutcomes(t *testing.T) {
	s3c := newFakeS3()
	store := NewStore(s3c, "archive-bucket", logging.New("error"))
	archiver := NewSessionArchiver(store, &stubTurnLister{turns: sampleTurns()}, logging.New("error"))

	next := &recordingHandler{}
	handler := NewOutcomeHandler(archiver, next)

	payload, _ := json.Marshal(events.OutcomeDerivedV1{
		TenantID:   "tnt_1",
		SessionKey: "whatsapp:+5511999990000",
		Outcome:    "appointment_cancelled",
		Terminal:   true,
	})
	entry := events.OutboxEntry{Type: "engine.outcome.derived.v1", TenantID: "tnt_1", Payload: payload}

	if err := handler.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(s3c.objects) == 0 {
		t.Fatal("expected archived objects")
	}
	if len(next.entries) != 1 {
		t.Fatalf("expected entry forwarded, got %d", len(next.entries))
	}
}

func TestOutcomeHandlerIgnoresNonTerminal(t *testing.T) {
	s3c := newFakeS3()
	store := NewStore(s3c, "archive-bucket", logging.New("error"))
	archiver := NewSessionArchiver(store, &stubTurnLister{turns: sampleTurns()}, logging.New("error"))
	handler := NewOutcomeHandler(archiver, nil)

	payload, _ := json.Marshal(events.OutcomeDerivedV1{
		TenantID:   "tnt_1",
		SessionKey: "whatsapp:+5511999990000",
		Outcome:    "conversation_abandoned",
		Terminal:   false,
	})
	entry := events.OutboxEntry{Type: "engine.outcome.derived.v1", Payload: payload}

	if err := handler.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(s3c.objects) != 0 {
		t.Fatalf("expected no archive, got %v", keysOf(s3c.objects))
	}
}

type recordingHandler struct {
	entries []events.OutboxEntry
}

func (r *recordingHandler) Handle(_ context.Context, entry events.OutboxEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}
