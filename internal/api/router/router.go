// Package router assembles the HTTP surface: webhook ingress, health and
// metrics.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conversahq/conversa-platform/internal/http/handlers"
	httpmiddleware "github.com/conversahq/conversa-platform/internal/http/middleware"
	"github.com/conversahq/conversa-platform/internal/webchat"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	InboundWebhook *handlers.InboundWebhookHandler
	TenantAdmin    *handlers.TenantAdminHandler
	WebChat        *webchat.Handler
	MetricsHandler http.Handler
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		if cfg.InboundWebhook != nil {
			public.Get("/health", cfg.InboundWebhook.HealthCheck)
			public.Post("/webhooks/inbound/{channel}", cfg.InboundWebhook.Handle)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.WebChat != nil {
		r.Route("/webchat", func(wc chi.Router) {
			wc.Get("/ws", cfg.WebChat.HandleWebSocket)
			wc.Post("/message", cfg.WebChat.HandleMessage)
			wc.Get("/history", cfg.WebChat.HandleHistory)
		})
	}

	if cfg.TenantAdmin != nil {
		r.Route("/admin/tenants", func(admin chi.Router) {
			admin.Get("/", cfg.TenantAdmin.List)
			admin.Put("/{tenantID}", cfg.TenantAdmin.Upsert)
			admin.Get("/{tenantID}", cfg.TenantAdmin.Get)
		})
	}

	return r
}
