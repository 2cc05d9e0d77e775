package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

type tenantDirectory interface {
	Get(ctx context.Context, tenantID string) (engine.TenantConfig, error)
	Upsert(ctx context.Context, cfg engine.TenantConfig) error
	List(ctx context.Context) ([]engine.TenantConfig, error)
}

type tenantCacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID string)
}

// TenantAdminHandler manages tenant directory records.
type TenantAdminHandler struct {
	store  tenantDirectory
	cache  tenantCacheInvalidator
	logger *logging.Logger
}

func NewTenantAdminHandler(store tenantDirectory, cache tenantCacheInvalidator, logger *logging.Logger) *TenantAdminHandler {
	if store == nil {
		panic("handlers: tenant store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TenantAdminHandler{store: store, cache: cache, logger: logger}
}

type tenantPayload struct {
	DisplayName string                  `json:"display_name"`
	Domain      string                  `json:"domain"`
	Flows       []engine.FlowDefinition `json:"flows,omitempty"`
}

// List returns every registered tenant.
func (h *TenantAdminHandler) List(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("tenant list failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

// Get returns one tenant record.
func (h *TenantAdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	cfg, err := h.store.Get(r.Context(), tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "tenant not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("tenant get failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Upsert creates or replaces a tenant record and invalidates the cache.
func (h *TenantAdminHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
	if tenantID == "" {
		http.Error(w, "tenant id required", http.StatusBadRequest)
		return
	}

	var payload tenantPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	cfg := engine.TenantConfig{
		TenantID:    tenantID,
		DisplayName: payload.DisplayName,
		Domain:      engine.BusinessDomain(payload.Domain),
		Flows:       payload.Flows,
	}
	if cfg.Domain == "" {
		cfg.Domain = engine.DomainGeneral
	}

	if err := h.store.Upsert(r.Context(), cfg); err != nil {
		h.logger.Error("tenant upsert failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), tenantID)
	}
	writeJSON(w, http.StatusOK, cfg)
}
