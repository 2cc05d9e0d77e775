package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/conversahq/conversa-platform/internal/engine"
)

type memDirectory struct {
	tenants map[string]engine.TenantConfig
}

func (d *memDirectory) Get(_ context.Context, tenantID string) (engine.TenantConfig, error) {
	cfg, ok := d.tenants[tenantID]
	if !ok {
		return engine.TenantConfig{}, sql.ErrNoRows
	}
	return cfg, nil
}

func (d *memDirectory) Upsert(_ context.Context, cfg engine.TenantConfig) error {
	if d.tenants == nil {
		d.tenants = map[string]engine.TenantConfig{}
	}
	d.tenants[cfg.TenantID] = cfg
	return nil
}

func (d *memDirectory) List(context.Context) ([]engine.TenantConfig, error) {
	var out []engine.TenantConfig
	for _, cfg := range d.tenants {
		out = append(out, cfg)
	}
	return out, nil
}

type recordingInvalidator struct {
	invalidated []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, tenantID string) {
	r.invalidated = append(r.invalidated, tenantID)
}

func newAdminRouter(h *TenantAdminHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/tenants/", h.List)
	r.Put("/admin/tenants/{tenantID}", h.Upsert)
	r.Get("/admin/tenants/{tenantID}", h.Get)
	return r
}

func TestTenantAdminUpsertAndGet(t *testing.T) {
	dir := &memDirectory{}
	cache := &recordingInvalidator{}
	router := newAdminRouter(NewTenantAdminHandler(dir, cache, nil))

	body := `{"display_name":"Advocacia Moreira","domain":"legal"}`
	req := httptest.NewRequest(http.MethodPut, "/admin/tenants/tnt_legal", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: %d %s", rec.Code, rec.Body.String())
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "tnt_legal" {
		t.Errorf("expected cache invalidation, got %v", cache.invalidated)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/tenants/tnt_legal", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	var cfg engine.TenantConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Domain != engine.DomainLegal {
		t.Fatalf("unexpected tenant: %+v", cfg)
	}
}

func TestTenantAdminGetMissing(t *testing.T) {
	router := newAdminRouter(NewTenantAdminHandler(&memDirectory{}, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants/tnt_ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTenantAdminUpsertDefaultsDomain(t *testing.T) {
	dir := &memDirectory{}
	router := newAdminRouter(NewTenantAdminHandler(dir, nil, nil))

	req := httptest.NewRequest(http.MethodPut, "/admin/tenants/tnt_1", strings.NewReader(`{"display_name":"Studio Bela"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: %d", rec.Code)
	}
	if dir.tenants["tnt_1"].Domain != engine.DomainGeneral {
		t.Fatalf("expected general domain default, got %+v", dir.tenants["tnt_1"])
	}
}
