package archive

import (
	"context"
	"encoding/json"

	"github.com/conversahq/conversa-platform/internal/events"
)

// OutcomeHandler decorates an outbox delivery handler. Terminal outcome
// events trigger transcript archival before the entry is forwarded.
type OutcomeHandler struct {
	archiver *SessionArchiver
	next     events.DeliveryHandler
}

var _ events.DeliveryHandler = (*OutcomeHandler)(nil)

func NewOutcomeHandler(archiver *SessionArchiver, next events.DeliveryHandler) *OutcomeHandler {
	return &OutcomeHandler{archiver: archiver, next: next}
}

func (h *OutcomeHandler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if h.archiver != nil && entry.Type == (events.OutcomeDerivedV1{}).EventType() {
		var ev events.OutcomeDerivedV1
		if err := json.Unmarshal(entry.Payload, &ev); err == nil && ev.Terminal {
			h.archiver.Archive(ctx, ev.TenantID, ev.SessionKey, ev.Outcome, ev.Reason)
		}
	}
	if h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, entry)
}
