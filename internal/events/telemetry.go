package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

// entryInserter is the slice of OutboxStore the telemetry sink needs.
type entryInserter interface {
	Insert(ctx context.Context, tenantID string, eventType string, payload any) (uuid.UUID, error)
}

const insertTimeout = 3 * time.Second

// OutboxTelemetry persists engine telemetry as outbox rows so a deliverer
// can ship them downstream with at-least-once guarantees. Insert failures
// are logged and swallowed; telemetry must never fail a decision.
type OutboxTelemetry struct {
	outbox entryInserter
	logger *logging.Logger
	now    func() time.Time
}

var _ engine.Telemetry = (*OutboxTelemetry)(nil)

func NewOutboxTelemetry(outbox *OutboxStore, logger *logging.Logger) *OutboxTelemetry {
	if outbox == nil {
		panic("events: outbox store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OutboxTelemetry{outbox: outbox, logger: logger, now: time.Now}
}

func (t *OutboxTelemetry) TurnProcessed(ev engine.TurnEvent) {
	if ev.Duplicate {
		t.insert(ev.TenantID, DuplicateSuppressedV1{
			EventID:      uuid.NewString(),
			TenantID:     ev.TenantID,
			SessionKey:   ev.SessionKey,
			ContentHash:  ev.ContentHash,
			SuppressedAt: t.now().UTC(),
		})
		return
	}

	if ev.ClarifyAttempt > 0 {
		t.insert(ev.TenantID, ClarificationAskedV1{
			EventID:    uuid.NewString(),
			TenantID:   ev.TenantID,
			SessionKey: ev.SessionKey,
			Attempt:    ev.ClarifyAttempt,
			AskedAt:    t.now().UTC(),
		})
	}

	t.insert(ev.TenantID, TurnProcessedV1{
		EventID:     uuid.NewString(),
		TenantID:    ev.TenantID,
		SessionKey:  ev.SessionKey,
		Channel:     string(ev.Channel),
		Intent:      string(ev.Intent),
		Method:      string(ev.Method),
		Confidence:  ev.Confidence,
		TokensUsed:  ev.TokensUsed,
		CostUSD:     ev.CostUSD,
		Model:       ev.Model,
		ProcessedAt: t.now().UTC(),
	})
}

func (t *OutboxTelemetry) OutcomeDerived(ev engine.OutcomeEvent) {
	t.insert(ev.TenantID, OutcomeDerivedV1{
		EventID:    uuid.NewString(),
		TenantID:   ev.TenantID,
		SessionKey: ev.SessionKey,
		Outcome:    string(ev.Outcome),
		Terminal:   ev.Terminal,
		Reason:     ev.Reason,
		DerivedAt:  t.now().UTC(),
	})
}

type eventPayload interface {
	EventType() string
}

func (t *OutboxTelemetry) insert(tenantID string, payload eventPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if _, err := t.outbox.Insert(ctx, tenantID, payload.EventType(), payload); err != nil {
		t.logger.Error("outbox telemetry insert failed",
			"event_type", payload.EventType(),
			"tenant_id", tenantID,
			"error", err,
		)
	}
}
