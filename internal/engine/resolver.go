package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conversahq/conversa-platform/pkg/logging"
)

// Resolution is the inference layer's verdict. A zero Resolution with
// Resolved=false means no intent from this layer, never an error, so the
// cascade can fall through to disambiguation. Usage fields are populated
// even on failure because the call is billable either way.
type Resolution struct {
	Intent     IntentKey
	Confidence float64
	Resolved   bool

	TokensUsed int
	CostUSD    float64
	Latency    time.Duration
	Model      string
}

const intentClassifierPrompt = `You classify one chat message from a customer of a %s business into ONE intent. Respond with JSON only.

Intents:
- hello: greetings
- thanks: gratitude
- identity: asking who/what the assistant is
- services: asking what services or treatments are offered
- pricing: asking about prices or costs
- availability: asking for open slots or free times
- booking: asking to book an appointment
- cancel: asking to cancel an appointment
- confirm: confirming a proposed appointment
- reschedule: asking to move an existing appointment
- my_appointments: asking about their own upcoming appointments
- address: asking for the location
- payments: asking about payment methods
- hours: asking about opening hours
- policies: asking about cancellation/refund policies
- human_handoff: asking for a human
- goodbye: ending the conversation
- unknown: none of the above

Recent conversation:
%s

Message: %s

Respond with: {"intent": "<intent>", "confidence": <0.0-1.0>}`

var knownIntents = map[IntentKey]bool{
	IntentHello: true, IntentThanks: true, IntentIdentity: true,
	IntentServices: true, IntentPricing: true, IntentAvailability: true,
	IntentBooking: true, IntentCancel: true, IntentConfirm: true,
	IntentReschedule: true, IntentMyAppointments: true, IntentAddress: true,
	IntentPayments: true, IntentHours: true, IntentPolicies: true,
	IntentHumanHandoff: true, IntentGoodbye: true,
}

// InferenceResolver classifies intent with an external language model when
// patterns are inconclusive. It owns no state; every call is stateless given
// its inputs.
type InferenceResolver struct {
	client  LLMClient
	model   string
	floor   float64
	timeout time.Duration
	logger  *logging.Logger
}

func NewInferenceResolver(client LLMClient, model string, floor float64, timeout time.Duration, logger *logging.Logger) *InferenceResolver {
	if client == nil {
		panic("engine: llm client cannot be nil")
	}
	if floor <= 0 {
		floor = 0.65
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &InferenceResolver{
		client:  client,
		model:   model,
		floor:   floor,
		timeout: timeout,
		logger:  logger,
	}
}

// Resolve asks the model to classify the message. Timeouts, malformed
// responses, and low-confidence output all degrade to an unresolved result.
func (r *InferenceResolver) Resolve(ctx context.Context, dc DecisionContext) Resolution {
	start := time.Now()
	res := Resolution{Model: r.model}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt := fmt.Sprintf(intentClassifierPrompt,
		domainLabel(dc.Tenant.Domain),
		transcriptSnippet(dc.RecentTurns, 6),
		dc.RawText,
	)

	resp, err := r.client.Complete(ctx, LLMRequest{
		Model:       r.model,
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
		MaxTokens:   60,
		Temperature: 0,
	})

	res.Latency = time.Since(start)
	res.TokensUsed = int(resp.Usage.TotalTokens)
	res.CostUSD = InferenceCostUSD(r.model, resp.Usage)

	if err != nil {
		r.logger.Warn("inference classification failed",
			"error", err,
			"tenant_id", dc.TenantID,
			"latency_ms", res.Latency.Milliseconds(),
		)
		return res
	}

	intent, confidence, ok := parseIntentJSON(resp.Text)
	if !ok {
		r.logger.Warn("inference returned unparseable classification",
			"tenant_id", dc.TenantID,
			"raw", truncate(resp.Text, 120),
		)
		return res
	}

	res.Confidence = confidence
	if !knownIntents[intent] || confidence < r.floor {
		return res
	}

	res.Intent = intent
	res.Resolved = true
	return res
}

// parseIntentJSON extracts the classification object, tolerating extra prose
// around the JSON the way models sometimes produce it.
func parseIntentJSON(text string) (IntentKey, float64, bool) {
	content := strings.TrimSpace(text)
	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx < 0 || endIdx <= startIdx {
		return "", 0, false
	}
	content = content[startIdx : endIdx+1]

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", 0, false
	}
	return IntentKey(strings.TrimSpace(parsed.Intent)), parsed.Confidence, true
}

func domainLabel(domain BusinessDomain) string {
	if domain == "" {
		return string(DomainGeneral)
	}
	return string(domain)
}

func transcriptSnippet(turns []Turn, max int) string {
	if len(turns) == 0 {
		return "(none)"
	}
	if len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	var b strings.Builder
	for _, turn := range turns {
		role := "assistant"
		if turn.IsFromUser {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, truncate(turn.MessageText, 160))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
