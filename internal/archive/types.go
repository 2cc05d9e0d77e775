package archive

import "time"

// SessionRecord is the top-level structure archived to S3 when a session
// reaches a terminal outcome.
type SessionRecord struct {
	Version         string       `json:"version"` // "1.0"
	TenantID        string       `json:"tenant_id"`
	SessionKey      string       `json:"session_key"`
	AddressHash     string       `json:"address_hash"` // sha256 of the channel address
	ArchivedAt      time.Time    `json:"archived_at"`
	DurationSeconds int          `json:"duration_seconds"`
	TurnCount       int          `json:"turn_count"`
	Outcome         string       `json:"outcome"`
	OutcomeReason   string       `json:"outcome_reason,omitempty"`
	Turns           []TurnRecord `json:"turns"`
}

// TurnRecord is one scrubbed turn inside an archived session.
type TurnRecord struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Intent    string    `json:"intent,omitempty"`
	Method    string    `json:"method,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ManifestEntry is one JSONL line in the monthly manifest.
type ManifestEntry struct {
	TenantID   string `json:"tenant_id"`
	SessionKey string `json:"session_key"`
	S3Key      string `json:"s3_key"`
	Outcome    string `json:"outcome"`
	ArchivedAt string `json:"archived_at"`
	TurnCount  int    `json:"turn_count"`
}
