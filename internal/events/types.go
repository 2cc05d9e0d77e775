package events

import "time"

// TurnProcessedV1 is emitted after the engine has decided on an inbound
// message and persisted the turn pair.
type TurnProcessedV1 struct {
	EventID     string    `json:"event_id"`
	TenantID    string    `json:"tenant_id"`
	SessionKey  string    `json:"session_key"`
	Channel     string    `json:"channel"`
	Intent      string    `json:"intent,omitempty"`
	Method      string    `json:"method"`
	Confidence  float64   `json:"confidence,omitempty"`
	TokensUsed  int       `json:"tokens_used,omitempty"`
	CostUSD     float64   `json:"cost_usd,omitempty"`
	Model       string    `json:"model,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

func (TurnProcessedV1) EventType() string { return "engine.turn.processed.v1" }

// OutcomeDerivedV1 is emitted when the analyzer classifies a session.
type OutcomeDerivedV1 struct {
	EventID    string    `json:"event_id"`
	TenantID   string    `json:"tenant_id"`
	SessionKey string    `json:"session_key"`
	Outcome    string    `json:"outcome"`
	Terminal   bool      `json:"terminal"`
	Reason     string    `json:"reason,omitempty"`
	DerivedAt  time.Time `json:"derived_at"`
}

func (OutcomeDerivedV1) EventType() string { return "engine.outcome.derived.v1" }

// ClarificationAskedV1 is emitted when the cascade bottoms out and the
// engine sends the disambiguation menu.
type ClarificationAskedV1 struct {
	EventID    string    `json:"event_id"`
	TenantID   string    `json:"tenant_id"`
	SessionKey string    `json:"session_key"`
	Attempt    int       `json:"attempt"`
	AskedAt    time.Time `json:"asked_at"`
}

func (ClarificationAskedV1) EventType() string { return "engine.clarification.asked.v1" }

// DuplicateSuppressedV1 is emitted when the idempotency guard drops a
// redelivered message.
type DuplicateSuppressedV1 struct {
	EventID      string    `json:"event_id"`
	TenantID     string    `json:"tenant_id"`
	SessionKey   string    `json:"session_key"`
	ContentHash  string    `json:"content_hash"`
	SuppressedAt time.Time `json:"suppressed_at"`
}

func (DuplicateSuppressedV1) EventType() string { return "engine.duplicate.suppressed.v1" }
