package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type captureSender struct {
	bodies []string
	err    error
}

func (s *captureSender) Send(_ context.Context, body string) error {
	if s.err != nil {
		return s.err
	}
	s.bodies = append(s.bodies, body)
	return nil
}

func TestQueueDeliveryHandlerForwardsEnvelope(t *testing.T) {
	sender := &captureSender{}
	handler := NewQueueDeliveryHandler(sender)

	id := uuid.New()
	entry := OutboxEntry{
		ID:       id,
		TenantID: "tnt_1",
		Type:     "engine.turn.processed.v1",
		Payload:  json.RawMessage(`{"intent":"pricing"}`),
	}
	if err := handler.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(sender.bodies) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.bodies))
	}
	var env queueEnvelope
	if err := json.Unmarshal([]byte(sender.bodies[0]), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.ID != id.String() || env.Type != "engine.turn.processed.v1" || env.TenantID != "tnt_1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if string(env.Payload) != `{"intent":"pricing"}` {
		t.Fatalf("unexpected payload %s", env.Payload)
	}
}

func TestQueueDeliveryHandlerPropagatesSendError(t *testing.T) {
	sender := &captureSender{err: errors.New("queue unavailable")}
	handler := NewQueueDeliveryHandler(sender)

	err := handler.Handle(context.Background(), OutboxEntry{ID: uuid.New(), Type: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}
