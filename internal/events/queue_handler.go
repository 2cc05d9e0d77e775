package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conversahq/conversa-platform/pkg/logging"
)

// bodySender matches the engine queue clients' send surface.
type bodySender interface {
	Send(ctx context.Context, body string) error
}

// QueueDeliveryHandler forwards outbox entries to a message queue as JSON
// envelopes keyed by event type.
type QueueDeliveryHandler struct {
	queue bodySender
}

var _ DeliveryHandler = (*QueueDeliveryHandler)(nil)

func NewQueueDeliveryHandler(queue bodySender) *QueueDeliveryHandler {
	if queue == nil {
		panic("events: queue sender required")
	}
	return &QueueDeliveryHandler{queue: queue}
}

type queueEnvelope struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenant_id,omitempty"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

func (h *QueueDeliveryHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	body, err := json.Marshal(queueEnvelope{
		ID:       entry.ID.String(),
		TenantID: entry.TenantID,
		Type:     entry.Type,
		Payload:  entry.Payload,
	})
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	if err := h.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("events: send envelope: %w", err)
	}
	return nil
}

// LoggingDeliveryHandler writes entries to the log instead of a transport.
// Used when no downstream queue is configured.
type LoggingDeliveryHandler struct {
	logger *logging.Logger
}

var _ DeliveryHandler = (*LoggingDeliveryHandler)(nil)

func NewLoggingDeliveryHandler(logger *logging.Logger) *LoggingDeliveryHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LoggingDeliveryHandler{logger: logger}
}

func (h *LoggingDeliveryHandler) Handle(_ context.Context, entry OutboxEntry) error {
	h.logger.Info("event delivered",
		"event_id", entry.ID.String(),
		"tenant_id", entry.TenantID,
		"type", entry.Type,
	)
	return nil
}
