package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IntentKey identifies what the user is asking for.
type IntentKey string

const (
	IntentHello          IntentKey = "hello"
	IntentThanks         IntentKey = "thanks"
	IntentIdentity       IntentKey = "identity"
	IntentServices       IntentKey = "services"
	IntentPricing        IntentKey = "pricing"
	IntentAvailability   IntentKey = "availability"
	IntentBooking        IntentKey = "booking"
	IntentCancel         IntentKey = "cancel"
	IntentConfirm        IntentKey = "confirm"
	IntentReschedule     IntentKey = "reschedule"
	IntentMyAppointments IntentKey = "my_appointments"
	IntentAddress        IntentKey = "address"
	IntentPayments       IntentKey = "payments"
	IntentHours          IntentKey = "hours"
	IntentPolicies       IntentKey = "policies"
	IntentHumanHandoff   IntentKey = "human_handoff"
	IntentGoodbye        IntentKey = "goodbye"
)

// DecisionMethod records which cascade layer produced the final intent.
type DecisionMethod string

const (
	MethodFlowLock       DecisionMethod = "flow_lock"
	MethodRegex          DecisionMethod = "regex"
	MethodLLM            DecisionMethod = "llm"
	MethodDisambiguation DecisionMethod = "disambiguation"
)

// FlowType identifies a multi-turn guided interaction.
type FlowType string

const (
	FlowNone       FlowType = ""
	FlowBooking    FlowType = "appointment_booking"
	FlowCancel     FlowType = "appointment_cancel"
	FlowReschedule FlowType = "appointment_reschedule"
)

// Channel identifies which transport the conversation is happening on.
type Channel string

const (
	ChannelUnknown   Channel = ""
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelWeb       Channel = "web"
)

// BusinessDomain selects tenant-specific decision rules.
type BusinessDomain string

const (
	DomainGeneral    BusinessDomain = "general"
	DomainHealthcare BusinessDomain = "healthcare"
	DomainBeauty     BusinessDomain = "beauty"
	DomainLegal      BusinessDomain = "legal"
	DomainEducation  BusinessDomain = "education"
)

// FlowDefinition describes one active flow for a tenant.
type FlowDefinition struct {
	Type  FlowType `json:"type"`
	Steps []string `json:"steps"`
}

// TenantConfig carries the per-tenant knobs the engine needs to decide.
type TenantConfig struct {
	TenantID    string
	DisplayName string
	Domain      BusinessDomain
	Flows       []FlowDefinition
}

// FlowDefinitionFor returns the tenant's definition for a flow type, if any.
func (c TenantConfig) FlowDefinitionFor(flow FlowType) (FlowDefinition, bool) {
	for _, def := range c.Flows {
		if def.Type == flow {
			return def, true
		}
	}
	return FlowDefinition{}, false
}

// InboundMessage is one webhook delivery from a channel transport.
// Deliveries are at-least-once; MessageID and content may repeat.
type InboundMessage struct {
	TenantID    string  `json:"tenant_id"`
	FromAddress string  `json:"from_address"`
	Text        string  `json:"text"`
	Channel     Channel `json:"channel"`
	MessageID   string  `json:"message_id"`
}

// Validate rejects messages the engine cannot act on.
func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("engine: tenant_id is required")
	}
	if strings.TrimSpace(m.FromAddress) == "" {
		return fmt.Errorf("engine: from_address is required")
	}
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("engine: text is required")
	}
	return nil
}

// SessionKeyFor derives the session key from channel and user address.
func SessionKeyFor(channel Channel, fromAddress string) string {
	ch := channel
	if ch == ChannelUnknown {
		ch = ChannelWhatsApp
	}
	return fmt.Sprintf("%s:%s", ch, strings.TrimSpace(fromAddress))
}

// Session is the per-conversation mutable state. It is owned by the flow-lock
// Manager and must only be mutated while the session's lock is held.
type Session struct {
	TenantID            string    `json:"tenant_id"`
	SessionKey          string    `json:"session_key"`
	CurrentFlow         FlowType  `json:"current_flow,omitempty"`
	FlowStep            int       `json:"flow_step"`
	FlowCompleted       bool      `json:"flow_completed"`
	AwaitingIntent      bool      `json:"awaiting_intent"`
	AwaitingIntentSince time.Time `json:"awaiting_intent_since,omitzero"`
	ClarifyAttempts     int       `json:"clarify_attempts"`
	TurnCount           int       `json:"turn_count"`
	LastActivityAt      time.Time `json:"last_activity_at"`
}

// Turn is one inbound-message/outbound-decision pair. Immutable once
// persisted except for Intent, which the disambiguator may backfill.
type Turn struct {
	ID                uuid.UUID
	TenantID          string
	SessionKey        string
	MessageText       string
	ContentHash       string
	IsFromUser        bool
	Intent            IntentKey // empty means unresolved (NULL in the store)
	Confidence        float64
	DecisionMethod    DecisionMethod
	TokensUsed        int
	InferenceCostUSD  float64
	ProcessingCostUSD float64
	ModelUsed         string
	CreatedAt         time.Time
}

// OutcomeValue is a terminal classification of a session's business result.
type OutcomeValue string

const (
	OutcomeBookingConfirmed      OutcomeValue = "booking_confirmed"
	OutcomeAppointmentCancelled  OutcomeValue = "appointment_cancelled"
	OutcomeAppointmentRebooked   OutcomeValue = "appointment_rescheduled"
	OutcomeConversationEnded     OutcomeValue = "conversation_ended"
	OutcomeConversationAbandoned OutcomeValue = "conversation_abandoned"
	OutcomeEscalatedToHuman      OutcomeValue = "escalated_to_human"
	OutcomeConsultationRequested OutcomeValue = "consultation_requested"
)

// OutcomeResult is the analyzer's verdict for a session. Non-terminal
// outcomes (abandonment) may later be superseded by a terminal one.
type OutcomeResult struct {
	Value    OutcomeValue `json:"value"`
	Reason   string       `json:"reason"`
	Terminal bool         `json:"terminal"`
}

// TurnSummary is the telemetry attached to a returned decision.
type TurnSummary struct {
	TokensUsed       int     `json:"tokens_used"`
	InferenceCostUSD float64 `json:"inference_cost_usd"`
	LatencyMS        int64   `json:"latency_ms"`
	Model            string  `json:"model,omitempty"`
}

// Decision is the single outbound result for one inbound message.
type Decision struct {
	Reply               string         `json:"reply"`
	Intent              IntentKey      `json:"intent,omitempty"`
	Method              DecisionMethod `json:"method"`
	Confidence          float64        `json:"confidence,omitempty"`
	Outcome             *OutcomeResult `json:"outcome,omitempty"`
	SuppressedDuplicate bool           `json:"suppressed_duplicate,omitempty"`
	Telemetry           TurnSummary    `json:"telemetry"`
}

// DecisionContext is the typed bundle passed between cascade layers.
type DecisionContext struct {
	TenantID       string
	SessionKey     string
	Channel        Channel
	RawText        string
	NormalizedText string
	Session        *Session
	RecentTurns    []Turn
	Tenant         TenantConfig
}
