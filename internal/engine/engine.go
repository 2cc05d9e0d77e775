package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/conversahq/conversa-platform/pkg/logging"
)

// TenantConfigProvider resolves per-tenant decision settings.
type TenantConfigProvider interface {
	TenantConfig(ctx context.Context, tenantID string) (TenantConfig, error)
}

// TurnStore is the durable turn log the engine writes and reads.
type TurnStore interface {
	InsertTurn(ctx context.Context, turn *Turn) error
	BackfillIntent(ctx context.Context, tenantID, sessionKey string, intent IntentKey) (int64, error)
	ListBySession(ctx context.Context, tenantID, sessionKey string, limit int) ([]Turn, error)
}

// OutcomeStore persists derived session outcomes.
type OutcomeStore interface {
	Upsert(ctx context.Context, tenantID, sessionKey string, res OutcomeResult) (bool, error)
}

const (
	defaultMaxClarifyAttempts = 2
	recentTurnWindow          = 12
	processingCostPerTurnUSD  = 0.0001
)

// Deps bundles the engine's collaborators. Matcher, Locks and Turns are
// required; everything else degrades gracefully when absent.
type Deps struct {
	Matcher       *PatternMatcher
	Resolver      *InferenceResolver
	Disambiguator *Disambiguator
	Locks         *Manager
	Guard         *IdempotencyGuard
	Tenants       TenantConfigProvider
	Turns         TurnStore
	Outcomes      OutcomeStore
	Telemetry     Telemetry
	Logger        *logging.Logger
}

// Engine turns one inbound message into exactly one outbound decision.
type Engine struct {
	matcher       *PatternMatcher
	resolver      *InferenceResolver
	disambiguator *Disambiguator
	locks         *Manager
	guard         *IdempotencyGuard
	tenants       TenantConfigProvider
	turns         TurnStore
	outcomes      OutcomeStore
	telemetry     Telemetry
	logger        *logging.Logger

	abandonThreshold   int
	maxClarifyAttempts int
	now                func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithAbandonThreshold overrides the turn count past which a flowless
// session is classified as abandoned.
func WithAbandonThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.abandonThreshold = n
		}
	}
}

// WithMaxClarifyAttempts caps how many clarification prompts are sent
// before the engine hands the session to a human.
func WithMaxClarifyAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxClarifyAttempts = n
		}
	}
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(deps Deps, opts ...Option) *Engine {
	if deps.Matcher == nil {
		panic("engine: matcher cannot be nil")
	}
	if deps.Locks == nil {
		panic("engine: lock manager cannot be nil")
	}
	if deps.Turns == nil {
		panic("engine: turn store cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Disambiguator == nil {
		deps.Disambiguator = NewDisambiguator(deps.Matcher)
	}

	e := &Engine{
		matcher:            deps.Matcher,
		resolver:           deps.Resolver,
		disambiguator:      deps.Disambiguator,
		locks:              deps.Locks,
		guard:              deps.Guard,
		tenants:            deps.Tenants,
		turns:              deps.Turns,
		outcomes:           deps.Outcomes,
		telemetry:          deps.Telemetry,
		logger:             deps.Logger,
		abandonThreshold:   defaultAbandonThreshold,
		maxClarifyAttempts: defaultMaxClarifyAttempts,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolution is the cascade's intermediate verdict before replies, flow
// transitions and outcome derivation.
type resolution struct {
	intent     IntentKey
	method     DecisionMethod
	confidence float64
	clarifying bool
	backfilled bool

	tokensUsed int
	costUSD    float64
	model      string
}

// Orchestrate processes one inbound message and returns the single
// outbound decision for it. Redeliveries inside the dedup window come back
// with SuppressedDuplicate set and no reply text.
func (e *Engine) Orchestrate(ctx context.Context, msg InboundMessage) (*Decision, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	started := e.now()
	sessionKey := SessionKeyFor(msg.Channel, msg.FromAddress)

	if e.guard != nil && e.guard.IsDuplicate(ctx, msg.TenantID, sessionKey, msg.Text) {
		e.logger.Info("duplicate suppressed",
			"tenant_id", msg.TenantID,
			"session_key", sessionKey,
		)
		e.emitTurn(TurnEvent{
			TenantID:    msg.TenantID,
			SessionKey:  sessionKey,
			Channel:     msg.Channel,
			Duplicate:   true,
			ContentHash: ContentHash(msg.Text),
			Latency:     e.now().Sub(started),
		})
		return &Decision{
			SuppressedDuplicate: true,
			Telemetry:           TurnSummary{LatencyMS: e.now().Sub(started).Milliseconds()},
		}, nil
	}

	lease, err := e.locks.Acquire(ctx, msg.TenantID, sessionKey)
	if err != nil {
		// The dedup claim must not outlive a failed turn: the channel
		// retries retryable errors, and the retry has to be processed.
		if e.guard != nil {
			e.guard.Release(msg.TenantID, sessionKey, msg.Text)
		}
		return nil, fmt.Errorf("engine: acquire session lock: %w", err)
	}
	defer lease.Release()

	tenant := e.tenantConfig(ctx, msg.TenantID)
	session := lease.Session
	session.TurnCount++

	dc := DecisionContext{
		TenantID:       msg.TenantID,
		SessionKey:     sessionKey,
		Channel:        msg.Channel,
		RawText:        msg.Text,
		NormalizedText: Normalize(msg.Text),
		Session:        session,
		RecentTurns:    e.recentTurns(ctx, msg.TenantID, sessionKey),
		Tenant:         tenant,
	}

	res := e.cascade(ctx, dc)
	e.applyFlowTransition(session, tenant, res)

	reply := e.replyFor(res, tenant, session)
	outcome := e.safeDeriveOutcome(OutcomeInput{
		Intent:           res.intent,
		Method:           res.method,
		Session:          *session,
		TurnCount:        session.TurnCount,
		Domain:           tenant.Domain,
		AbandonThreshold: e.abandonThreshold,
	})

	// The completed flow has produced its outcome; the session returns to
	// idle so the next turn can start a fresh flow.
	if session.FlowCompleted {
		session.ResetFlow()
	}

	e.persistTurns(ctx, msg, sessionKey, reply, res)

	if outcome != nil {
		if _, err := e.upsertOutcome(ctx, msg.TenantID, sessionKey, *outcome); err != nil {
			e.logger.Error("outcome upsert failed",
				"error", err,
				"tenant_id", msg.TenantID,
				"session_key", sessionKey,
			)
		}
		e.emitOutcome(OutcomeEvent{
			TenantID:   msg.TenantID,
			SessionKey: sessionKey,
			Outcome:    outcome.Value,
			Terminal:   outcome.Terminal,
			Reason:     outcome.Reason,
		})
	}

	if err := lease.Commit(ctx); err != nil {
		e.logger.Error("session commit failed",
			"error", err,
			"tenant_id", msg.TenantID,
			"session_key", sessionKey,
		)
	}
	lease.Release()

	latency := e.now().Sub(started)
	turnEvent := TurnEvent{
		TenantID:    msg.TenantID,
		SessionKey:  sessionKey,
		Channel:     msg.Channel,
		Intent:      res.intent,
		Method:      res.method,
		Confidence:  res.confidence,
		ContentHash: ContentHash(msg.Text),
		TokensUsed:  res.tokensUsed,
		CostUSD:     res.costUSD,
		Model:       res.model,
		Latency:     latency,
	}
	if res.clarifying {
		turnEvent.ClarifyAttempt = session.ClarifyAttempts
	}
	e.emitTurn(turnEvent)

	return &Decision{
		Reply:      reply,
		Intent:     res.intent,
		Method:     res.method,
		Confidence: res.confidence,
		Outcome:    outcome,
		Telemetry: TurnSummary{
			TokensUsed:       res.tokensUsed,
			InferenceCostUSD: res.costUSD,
			LatencyMS:        latency.Milliseconds(),
			Model:            res.model,
		},
	}, nil
}

// cascade resolves the intent: disambiguation answer first when one is
// pending, then regex patterns, then LLM inference, then a clarification
// prompt as the floor.
func (e *Engine) cascade(ctx context.Context, dc DecisionContext) resolution {
	session := dc.Session

	if session.AwaitingIntent {
		if intent, ok := e.disambiguator.ResolveAnswer(dc.RawText); ok {
			session.ClearAwaitingIntent()
			n, err := e.turns.BackfillIntent(ctx, dc.TenantID, dc.SessionKey, intent)
			if err != nil {
				e.logger.Warn("intent backfill failed",
					"error", err,
					"tenant_id", dc.TenantID,
				)
			} else if n > 0 {
				e.logger.Debug("backfilled unresolved turns",
					"tenant_id", dc.TenantID,
					"intent", string(intent),
					"rows", n,
				)
			}
			return resolution{intent: intent, method: MethodDisambiguation, confidence: 1.0, backfilled: n > 0}
		}

		if session.ClarifyAttempts >= e.maxClarifyAttempts {
			session.ClearAwaitingIntent()
			return resolution{intent: IntentHumanHandoff, method: MethodDisambiguation, confidence: 1.0}
		}
		session.ClarifyAttempts++
		return resolution{method: MethodDisambiguation, clarifying: true}
	}

	if intent, ok := e.matcher.Best(dc.NormalizedText); ok {
		return resolution{intent: intent, method: MethodRegex, confidence: 1.0}
	}

	if e.resolver != nil {
		r := e.resolver.Resolve(ctx, dc)
		if r.Resolved {
			return resolution{
				intent:     r.Intent,
				method:     MethodLLM,
				confidence: r.Confidence,
				tokensUsed: r.TokensUsed,
				costUSD:    r.CostUSD,
				model:      r.Model,
			}
		}
		// The inference attempt is billable even when it fell through.
		session.MarkAwaitingIntent(e.now())
		session.ClarifyAttempts++
		return resolution{
			method:     MethodDisambiguation,
			clarifying: true,
			tokensUsed: r.TokensUsed,
			costUSD:    r.CostUSD,
			model:      r.Model,
		}
	}

	session.MarkAwaitingIntent(e.now())
	session.ClarifyAttempts++
	return resolution{method: MethodDisambiguation, clarifying: true}
}

// applyFlowTransition moves the session's flow state machine in response
// to the resolved intent. Transition rejections are expected (for example
// asking to book while already booking) and only logged.
func (e *Engine) applyFlowTransition(session *Session, tenant TenantConfig, res resolution) {
	if res.clarifying {
		return
	}

	var err error
	switch res.intent {
	case IntentBooking:
		if session.CurrentFlow == FlowNone {
			err = session.BeginFlow(FlowBooking)
		}
	case IntentReschedule:
		if session.CurrentFlow == FlowNone {
			err = session.BeginFlow(FlowReschedule)
		}
	case IntentCancel:
		// Cancelling mid-flow aborts the flow rather than completing it.
		session.ResetFlow()
	case IntentConfirm:
		if session.CurrentFlow != FlowNone {
			err = session.CompleteFlow()
		}
	case IntentAvailability:
		if session.CurrentFlow != FlowNone {
			if def, ok := tenant.FlowDefinitionFor(session.CurrentFlow); ok {
				err = session.AdvanceStep(len(def.Steps))
			}
		}
	}
	if err != nil {
		e.logger.Debug("flow transition rejected",
			"tenant_id", session.TenantID,
			"flow", string(session.CurrentFlow),
			"intent", string(res.intent),
			"error", err,
		)
	}
}

func (e *Engine) replyFor(res resolution, tenant TenantConfig, session *Session) string {
	if res.clarifying {
		attempt := session.ClarifyAttempts - 1
		if attempt < 0 {
			attempt = 0
		}
		return e.disambiguator.AskClarification(attempt)
	}
	return ReplyFor(res.intent, tenant)
}

// safeDeriveOutcome isolates the analyzer: a panic there must not take
// down the decision path.
func (e *Engine) safeDeriveOutcome(in OutcomeInput) (out *OutcomeResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("outcome analyzer panicked",
				"panic", r,
				"tenant_id", in.Session.TenantID,
			)
			out = nil
		}
	}()
	return DeriveOutcome(in)
}

func (e *Engine) tenantConfig(ctx context.Context, tenantID string) TenantConfig {
	if e.tenants == nil {
		return DefaultTenantConfig(tenantID)
	}
	cfg, err := e.tenants.TenantConfig(ctx, tenantID)
	if err != nil {
		e.logger.Warn("tenant config lookup failed, using defaults",
			"error", err,
			"tenant_id", tenantID,
		)
		return DefaultTenantConfig(tenantID)
	}
	return cfg
}

func (e *Engine) recentTurns(ctx context.Context, tenantID, sessionKey string) []Turn {
	turns, err := e.turns.ListBySession(ctx, tenantID, sessionKey, recentTurnWindow)
	if err != nil {
		e.logger.Warn("recent turn lookup failed",
			"error", err,
			"tenant_id", tenantID,
		)
		return nil
	}
	return turns
}

func (e *Engine) persistTurns(ctx context.Context, msg InboundMessage, sessionKey, reply string, res resolution) {
	now := e.now()
	userTurn := &Turn{
		TenantID:          msg.TenantID,
		SessionKey:        sessionKey,
		MessageText:       msg.Text,
		IsFromUser:        true,
		Intent:            res.intent,
		Confidence:        res.confidence,
		DecisionMethod:    res.method,
		TokensUsed:        res.tokensUsed,
		InferenceCostUSD:  res.costUSD,
		ProcessingCostUSD: processingCostPerTurnUSD,
		ModelUsed:         res.model,
		CreatedAt:         now,
	}
	if err := e.turns.InsertTurn(ctx, userTurn); err != nil {
		e.logger.Error("user turn insert failed",
			"error", err,
			"tenant_id", msg.TenantID,
			"session_key", sessionKey,
		)
	}

	assistantTurn := &Turn{
		TenantID:       msg.TenantID,
		SessionKey:     sessionKey,
		MessageText:    reply,
		IsFromUser:     false,
		Intent:         res.intent,
		DecisionMethod: res.method,
		CreatedAt:      now,
	}
	if err := e.turns.InsertTurn(ctx, assistantTurn); err != nil {
		e.logger.Error("assistant turn insert failed",
			"error", err,
			"tenant_id", msg.TenantID,
			"session_key", sessionKey,
		)
	}
}

func (e *Engine) upsertOutcome(ctx context.Context, tenantID, sessionKey string, res OutcomeResult) (bool, error) {
	if e.outcomes == nil {
		return false, nil
	}
	return e.outcomes.Upsert(ctx, tenantID, sessionKey, res)
}

func (e *Engine) emitTurn(ev TurnEvent) {
	if e.telemetry == nil {
		return
	}
	e.telemetry.TurnProcessed(ev)
}

func (e *Engine) emitOutcome(ev OutcomeEvent) {
	if e.telemetry == nil {
		return
	}
	e.telemetry.OutcomeDerived(ev)
}

// DefaultTenantConfig is the fallback when the tenant directory is
// unavailable. General-domain rules, standard flows.
func DefaultTenantConfig(tenantID string) TenantConfig {
	return TenantConfig{
		TenantID: tenantID,
		Domain:   DomainGeneral,
		Flows: []FlowDefinition{
			{Type: FlowBooking, Steps: []string{"service", "slot", "confirm"}},
			{Type: FlowCancel, Steps: []string{"lookup", "confirm"}},
			{Type: FlowReschedule, Steps: []string{"lookup", "slot", "confirm"}},
		},
	}
}
