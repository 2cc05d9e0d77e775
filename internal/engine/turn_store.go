package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// PostgresTurnStore persists turns for long-term history, duplicate
// detection, and intent backfill.
type PostgresTurnStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewPostgresTurnStore(db *sql.DB) *PostgresTurnStore {
	if db == nil {
		return nil
	}
	return &PostgresTurnStore{
		db:     db,
		tracer: otel.Tracer("conversa.internal.engine.turns"),
	}
}

// InsertTurn persists one turn. Inserts are idempotent on id so a retried
// pipeline step cannot double-write.
func (s *PostgresTurnStore) InsertTurn(ctx context.Context, turn *Turn) error {
	if s == nil || s.db == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "engine.insert_turn")
	defer span.End()

	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if turn.ContentHash == "" {
		turn.ContentHash = ContentHash(turn.MessageText)
	}

	var intent sql.NullString
	if turn.Intent != "" {
		intent = sql.NullString{String: string(turn.Intent), Valid: true}
	}
	var confidence sql.NullFloat64
	if turn.Confidence > 0 {
		confidence = sql.NullFloat64{Float64: turn.Confidence, Valid: true}
	}
	var model sql.NullString
	if turn.ModelUsed != "" {
		model = sql.NullString{String: turn.ModelUsed, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (
			id, tenant_id, session_key, message_text, content_hash, is_from_user,
			intent, confidence, decision_method, tokens_used,
			inference_cost_usd, processing_cost_usd, model_used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`, turn.ID, turn.TenantID, turn.SessionKey, turn.MessageText, turn.ContentHash,
		turn.IsFromUser, intent, confidence, string(turn.DecisionMethod),
		turn.TokensUsed, turn.InferenceCostUSD, turn.ProcessingCostUSD,
		model, turn.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("engine: failed to insert turn: %w", err)
	}
	return nil
}

// RecentDuplicateExists reports whether the session already has a persisted
// user turn with identical content inside the dedup window.
func (s *PostgresTurnStore) RecentDuplicateExists(ctx context.Context, tenantID, sessionKey, contentHash string, window time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	ctx, span := s.tracer.Start(ctx, "engine.recent_duplicate")
	defer span.End()

	cutoff := time.Now().Add(-window)
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM turns
		WHERE tenant_id = $1 AND session_key = $2 AND content_hash = $3
		  AND is_from_user = TRUE AND created_at >= $4
		LIMIT 1
	`, tenantID, sessionKey, contentHash, cutoff).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("engine: failed to check duplicates: %w", err)
	}
	return true, nil
}

// BackfillIntent retroactively resolves prior NULL-intent user turns in the
// session, oldest first semantics via a single set-based update. Returns the
// number of turns updated.
func (s *PostgresTurnStore) BackfillIntent(ctx context.Context, tenantID, sessionKey string, intent IntentKey) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	ctx, span := s.tracer.Start(ctx, "engine.backfill_intent")
	defer span.End()

	result, err := s.db.ExecContext(ctx, `
		UPDATE turns SET intent = $1
		WHERE tenant_id = $2 AND session_key = $3
		  AND is_from_user = TRUE AND intent IS NULL
	`, string(intent), tenantID, sessionKey)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("engine: failed to backfill intent: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("engine: failed to read backfill result: %w", err)
	}
	return updated, nil
}

// ListBySession returns the session's turns, oldest first.
func (s *PostgresTurnStore) ListBySession(ctx context.Context, tenantID, sessionKey string, limit int) ([]Turn, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "engine.list_turns")
	defer span.End()

	query := `
		SELECT id, tenant_id, session_key, message_text, content_hash, is_from_user,
		       intent, confidence, decision_method, tokens_used,
		       inference_cost_usd, processing_cost_usd, model_used, created_at
		FROM turns
		WHERE tenant_id = $1 AND session_key = $2
		ORDER BY created_at ASC
	`
	args := []any{tenantID, sessionKey}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("engine: failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var intent, model sql.NullString
		var confidence sql.NullFloat64
		var method string
		if err := rows.Scan(
			&turn.ID, &turn.TenantID, &turn.SessionKey, &turn.MessageText,
			&turn.ContentHash, &turn.IsFromUser, &intent, &confidence,
			&method, &turn.TokensUsed, &turn.InferenceCostUSD,
			&turn.ProcessingCostUSD, &model, &turn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("engine: failed to scan turn: %w", err)
		}
		if intent.Valid {
			turn.Intent = IntentKey(intent.String)
		}
		if confidence.Valid {
			turn.Confidence = confidence.Float64
		}
		if model.Valid {
			turn.ModelUsed = model.String
		}
		turn.DecisionMethod = DecisionMethod(method)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
