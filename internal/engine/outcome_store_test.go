package engine

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestOutcomeStoreUpsertInsert(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO session_outcomes`).
		WithArgs("tnt_1", "whatsapp:+5511999990000", "appointment_cancelled", "user asked to cancel", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresOutcomeStore(db)
	written, err := store.Upsert(context.Background(), "tnt_1", "whatsapp:+5511999990000", OutcomeResult{
		Value:    OutcomeAppointmentCancelled,
		Reason:   "user asked to cancel",
		Terminal: true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !written {
		t.Error("expected write to land")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestOutcomeStoreTerminalBlocksSupersede(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// The conditional update touches zero rows when the stored outcome
	// is already terminal.
	mock.ExpectExec(`INSERT INTO session_outcomes`).
		WithArgs("tnt_1", "whatsapp:+5511999990000", "conversation_abandoned", "turn threshold exceeded with no active flow", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPostgresOutcomeStore(db)
	written, err := store.Upsert(context.Background(), "tnt_1", "whatsapp:+5511999990000", OutcomeResult{
		Value:  OutcomeConversationAbandoned,
		Reason: "turn threshold exceeded with no active flow",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if written {
		t.Error("terminal outcome must not be superseded")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestOutcomeStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	derived := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"tenant_id", "session_key", "outcome", "reason", "terminal", "derived_at", "updated_at"}).
		AddRow("tnt_1", "whatsapp:+5511999990000", "booking_confirmed", "booking flow completed", true, derived, derived)

	mock.ExpectQuery(`SELECT tenant_id, session_key, outcome`).
		WithArgs("tnt_1", "whatsapp:+5511999990000").
		WillReturnRows(rows)

	store := NewPostgresOutcomeStore(db)
	got, err := store.Get(context.Background(), "tnt_1", "whatsapp:+5511999990000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Value != OutcomeBookingConfirmed || !got.Terminal {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestOutcomeStoreGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT tenant_id, session_key, outcome`).
		WithArgs("tnt_1", "sms:+15550001111").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "session_key", "outcome", "reason", "terminal", "derived_at", "updated_at"}))

	store := NewPostgresOutcomeStore(db)
	got, err := store.Get(context.Background(), "tnt_1", "sms:+15550001111")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing row, got %+v", got)
	}
}

func TestOutcomeStoreNilSafe(t *testing.T) {
	var store *PostgresOutcomeStore
	if written, err := store.Upsert(context.Background(), "t", "s", OutcomeResult{Value: OutcomeConversationEnded}); err != nil || written {
		t.Fatalf("nil store should no-op, got written=%v err=%v", written, err)
	}
	if got, err := store.Get(context.Background(), "t", "s"); err != nil || got != nil {
		t.Fatalf("nil store should no-op, got %+v err=%v", got, err)
	}
}
