package archive

import (
	"context"
	"strings"
	"time"

	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

// TurnLister reads the session's persisted turns.
type TurnLister interface {
	ListBySession(ctx context.Context, tenantID, sessionKey string, limit int) ([]engine.Turn, error)
}

// SessionArchiver snapshots a session's transcript into the S3 store once a
// terminal outcome is derived. Failures are logged and swallowed; archival
// must never block outcome delivery.
type SessionArchiver struct {
	store  *Store
	turns  TurnLister
	logger *logging.Logger
}

// NewSessionArchiver creates a SessionArchiver. Returns nil if the store is
// not enabled, so callers can chain it conditionally.
func NewSessionArchiver(store *Store, turns TurnLister, logger *logging.Logger) *SessionArchiver {
	if store == nil || !store.Enabled() || turns == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionArchiver{store: store, turns: turns, logger: logger}
}

// Archive fetches, scrubs and stores the session transcript.
func (a *SessionArchiver) Archive(ctx context.Context, tenantID, sessionKey, outcome, reason string) {
	if a == nil {
		return
	}

	turns, err := a.turns.ListBySession(ctx, tenantID, sessionKey, 0)
	if err != nil {
		a.logger.Error("session archive: failed to load turns",
			"error", err, "tenant_id", tenantID, "session_key", sessionKey)
		return
	}
	if len(turns) == 0 {
		return
	}

	records := make([]TurnRecord, 0, len(turns))
	for _, turn := range turns {
		role := "assistant"
		if turn.IsFromUser {
			role = "user"
		}
		records = append(records, TurnRecord{
			Role:      role,
			Text:      turn.MessageText,
			Intent:    string(turn.Intent),
			Method:    string(turn.DecisionMethod),
			Timestamp: turn.CreatedAt.UTC(),
		})
	}
	ScrubTurns(records)

	var durationSec int
	if len(records) >= 2 {
		durationSec = int(records[len(records)-1].Timestamp.Sub(records[0].Timestamp).Seconds())
	}

	record := &SessionRecord{
		Version:         "1.0",
		TenantID:        tenantID,
		SessionKey:      sessionKey,
		AddressHash:     HashAddress(addressFromSessionKey(sessionKey)),
		ArchivedAt:      time.Now().UTC(),
		DurationSeconds: durationSec,
		TurnCount:       len(records),
		Outcome:         outcome,
		OutcomeReason:   reason,
		Turns:           records,
	}

	if err := a.store.ArchiveSession(ctx, record); err != nil {
		a.logger.Error("session archive: failed to archive",
			"error", err, "tenant_id", tenantID, "session_key", sessionKey)
		return
	}

	a.logger.Info("session archive: completed",
		"tenant_id", tenantID, "session_key", sessionKey, "outcome", outcome)
}

// addressFromSessionKey strips the channel prefix from "channel:address".
func addressFromSessionKey(sessionKey string) string {
	if _, addr, ok := strings.Cut(sessionKey, ":"); ok {
		return addr
	}
	return sessionKey
}
