package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PostgresOutcomeStore persists the derived outcome per session. A session
// has at most one row; re-derivation replaces the row only while the stored
// outcome is non-terminal. Once a terminal outcome lands it sticks.
type PostgresOutcomeStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewPostgresOutcomeStore(db *sql.DB) *PostgresOutcomeStore {
	return &PostgresOutcomeStore{
		db:     db,
		tracer: otel.Tracer("conversa.internal.engine.outcomes"),
	}
}

// StoredOutcome is a session_outcomes row.
type StoredOutcome struct {
	TenantID   string
	SessionKey string
	Value      OutcomeValue
	Reason     string
	Terminal   bool
	DerivedAt  time.Time
	UpdatedAt  time.Time
}

// Upsert records the outcome for a session. Returns false when an existing
// terminal outcome blocked the write.
func (s *PostgresOutcomeStore) Upsert(ctx context.Context, tenantID, sessionKey string, res OutcomeResult) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}

	ctx, span := s.tracer.Start(ctx, "outcomes.upsert",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("outcome.value", string(res.Value)),
		))
	defer span.End()

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO session_outcomes (tenant_id, session_key, outcome, reason, terminal, derived_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (tenant_id, session_key) DO UPDATE SET
            outcome = EXCLUDED.outcome,
            reason = EXCLUDED.reason,
            terminal = EXCLUDED.terminal,
            updated_at = EXCLUDED.updated_at
        WHERE session_outcomes.terminal = FALSE
    `, tenantID, sessionKey, string(res.Value), res.Reason, res.Terminal, now)
	if err != nil {
		return false, fmt.Errorf("engine: upsert outcome: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("engine: upsert outcome rows: %w", err)
	}
	return n > 0, nil
}

// Get loads the stored outcome for a session, nil when none exists.
func (s *PostgresOutcomeStore) Get(ctx context.Context, tenantID, sessionKey string) (*StoredOutcome, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	ctx, span := s.tracer.Start(ctx, "outcomes.get",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	row := s.db.QueryRowContext(ctx, `
        SELECT tenant_id, session_key, outcome, reason, terminal, derived_at, updated_at
        FROM session_outcomes
        WHERE tenant_id = $1 AND session_key = $2
    `, tenantID, sessionKey)

	var out StoredOutcome
	var value string
	err := row.Scan(&out.TenantID, &out.SessionKey, &value, &out.Reason, &out.Terminal, &out.DerivedAt, &out.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: get outcome: %w", err)
	}
	out.Value = OutcomeValue(value)
	return &out, nil
}
