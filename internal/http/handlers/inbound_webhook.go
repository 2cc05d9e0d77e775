package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conversahq/conversa-platform/internal/engine"
	observemetrics "github.com/conversahq/conversa-platform/internal/observability/metrics"
	"github.com/conversahq/conversa-platform/internal/tenancy"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, channel, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, channel, messageID string) (bool, error)
}

// InboundWebhookHandler receives channel webhook deliveries and hands them
// to the decision engine. Channel transports deliver at-least-once, so the
// handler drops redeliveries by provider message ID before the engine ever
// sees them.
type InboundWebhookHandler struct {
	engine    engine.Processor
	processed processedTracker
	logger    *logging.Logger
	metrics   *observemetrics.EngineMetrics
}

type InboundWebhookConfig struct {
	Engine    engine.Processor
	Processed processedTracker
	Logger    *logging.Logger
	Metrics   *observemetrics.EngineMetrics
}

func NewInboundWebhookHandler(cfg InboundWebhookConfig) *InboundWebhookHandler {
	if cfg.Engine == nil {
		panic("handlers: engine cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &InboundWebhookHandler{
		engine:    cfg.Engine,
		processed: cfg.Processed,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

type inboundRequest struct {
	TenantID  string `json:"tenant_id"`
	From      string `json:"from"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

type inboundResponse struct {
	Status   string           `json:"status"`
	Decision *engine.Decision `json:"decision,omitempty"`
}

// Handle processes POST /webhooks/inbound/{channel}.
func (h *InboundWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	channel := engine.Channel(strings.ToLower(chi.URLParam(r, "channel")))

	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.From) == "" {
		http.Error(w, "tenant_id and from are required", http.StatusBadRequest)
		return
	}

	ctx := tenancy.WithTenantID(r.Context(), req.TenantID)

	if h.processed != nil && req.MessageID != "" {
		fresh, err := h.processed.MarkProcessed(ctx, string(channel), req.MessageID)
		if err != nil {
			h.logger.Error("processed lookup failed",
				"error", err,
				"tenant_id", req.TenantID,
			)
		} else if !fresh {
			writeJSON(w, http.StatusOK, inboundResponse{Status: "duplicate"})
			return
		}
	}

	decision, err := h.engine.Orchestrate(ctx, engine.InboundMessage{
		TenantID:    req.TenantID,
		FromAddress: req.From,
		Text:        req.Text,
		Channel:     channel,
		MessageID:   req.MessageID,
	})
	if err != nil {
		if errors.Is(err, engine.ErrLockTimeout) {
			h.metrics.ObserveLockTimeout(string(channel))
			h.logger.Warn("session lock contention",
				"tenant_id", req.TenantID,
				"channel", string(channel),
			)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "session busy, retry", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("decision failed",
			"error", err,
			"tenant_id", req.TenantID,
			"channel", string(channel),
		)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	status := "processed"
	if decision.SuppressedDuplicate {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, inboundResponse{Status: status, Decision: decision})
}

// HealthCheck reports liveness.
func (h *InboundWebhookHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
