package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

// TurnLister reads persisted conversation history.
type TurnLister interface {
	ListBySession(ctx context.Context, tenantID, sessionKey string, limit int) ([]engine.Turn, error)
}

// Handler serves the embedded web chat channel: WebSocket for real-time
// messaging plus HTTP fallbacks. Decisions are synchronous, so the reply is
// pushed back on the same connection that delivered the message.
type Handler struct {
	engine engine.Processor
	turns  TurnLister
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*wsConn // session key -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	done chan struct{}
}

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type      string `json:"type"` // "message", "ping"
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type      string           `json:"type"` // "message", "session", "history", "pong", "error"
	Text      string           `json:"text,omitempty"`
	Role      string           `json:"role,omitempty"` // "assistant" or "user"
	Intent    string           `json:"intent,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Messages  []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is a simplified turn for history responses.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// NewHandler creates a web chat handler.
func NewHandler(processor engine.Processor, turns TurnLister, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine:   processor,
		turns:    turns,
		logger:   logger,
		sessions: make(map[string]*wsConn),
	}
}

// SessionKey builds the canonical session key for a webchat visitor.
func SessionKey(sessionID string) string {
	return engine.SessionKeyFor(engine.ChannelWeb, sessionID)
}

// generateSessionID creates a random visitor identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "missing tenant parameter"})
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	sessionKey := SessionKey(sessionID)

	_ = websocket.JSON.Send(conn, OutboundMessage{
		Type:      "session",
		SessionID: sessionID,
	})

	if history := h.loadHistory(r.Context(), tenantID, sessionKey, 50); len(history) > 0 {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", Messages: history})
	}

	wsc := &wsConn{conn: conn, done: make(chan struct{})}
	h.mu.Lock()
	h.sessions[sessionKey] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[sessionKey] == wsc {
			delete(h.sessions, sessionKey)
		}
		h.mu.Unlock()
		close(wsc.done)
	}()

	h.logger.Info("webchat: connection opened", "tenant_id", tenantID, "session_id", sessionID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "tenant_id", tenantID, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}

		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		decision, err := h.decide(r.Context(), tenantID, sessionID, msg.Text)
		if err != nil {
			h.logger.Error("webchat: decision failed", "error", err, "tenant_id", tenantID)
			h.SendToSession(sessionKey, OutboundMessage{
				Type: "error",
				Text: "Desculpe, algo deu errado. Tente novamente.",
			})
			continue
		}
		if decision.SuppressedDuplicate {
			continue
		}
		h.SendToSession(sessionKey, OutboundMessage{
			Type:      "message",
			Role:      "assistant",
			Text:      decision.Reply,
			Intent:    string(decision.Intent),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (h *Handler) decide(ctx context.Context, tenantID, sessionID, text string) (*engine.Decision, error) {
	return h.engine.Orchestrate(ctx, engine.InboundMessage{
		TenantID:    tenantID,
		FromAddress: sessionID,
		Text:        text,
		Channel:     engine.ChannelWeb,
		MessageID:   uuid.New().String(),
	})
}

func (h *Handler) loadHistory(ctx context.Context, tenantID, sessionKey string, limit int) []HistoryMessage {
	if h.turns == nil {
		return nil
	}
	turns, err := h.turns.ListBySession(ctx, tenantID, sessionKey, limit)
	if err != nil {
		h.logger.Error("webchat: failed to load history", "error", err)
		return nil
	}
	history := make([]HistoryMessage, 0, len(turns))
	for _, turn := range turns {
		role := "assistant"
		if turn.IsFromUser {
			role = "user"
		}
		history = append(history, HistoryMessage{
			Role:      role,
			Text:      turn.MessageText,
			Timestamp: turn.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return history
}

// SendToSession sends a message to an active WebSocket session.
func (h *Handler) SendToSession(sessionKey string, msg OutboundMessage) {
	h.mu.RLock()
	wsc, ok := h.sessions[sessionKey]
	h.mu.RUnlock()
	if !ok {
		return
	}
	_ = websocket.JSON.Send(wsc.conn, msg)
}

// HandleMessage is the HTTP fallback for sending messages. The decision is
// returned synchronously in the response body.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID  string `json:"tenant_id"`
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "tenant_id and text are required", http.StatusBadRequest)
		return
	}
	if h.engine == nil {
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	}

	decision, err := h.decide(r.Context(), req.TenantID, req.SessionID, req.Text)
	if err != nil {
		h.logger.Error("webchat: decision failed", "error", err, "tenant_id", req.TenantID)
		http.Error(w, "failed to process message", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "processed",
		"session_id": req.SessionID,
		"reply":      decision.Reply,
		"intent":     string(decision.Intent),
	})
}

// HandleHistory returns chat history for a session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	sessionID := r.URL.Query().Get("session")
	if tenantID == "" || sessionID == "" {
		http.Error(w, "tenant and session parameters required", http.StatusBadRequest)
		return
	}

	history := h.loadHistory(r.Context(), tenantID, SessionKey(sessionID), 100)
	if history == nil {
		history = []HistoryMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": history})
}
