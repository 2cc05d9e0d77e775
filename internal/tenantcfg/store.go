// Package tenantcfg is the tenant directory: which business a tenant ID
// belongs to, which decision domain applies and which guided flows are
// enabled for it.
package tenantcfg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conversahq/conversa-platform/internal/engine"
)

// PostgresStore reads and writes tenant records in the tenants table.
// Flows are stored as a JSONB column so new flow types do not need a
// schema migration.
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("conversa.internal.tenantcfg"),
	}
}

// Get loads one tenant. Returns sql.ErrNoRows wrapped when absent.
func (s *PostgresStore) Get(ctx context.Context, tenantID string) (engine.TenantConfig, error) {
	var cfg engine.TenantConfig
	if s == nil || s.db == nil {
		return cfg, fmt.Errorf("tenantcfg: store not configured")
	}

	ctx, span := s.tracer.Start(ctx, "tenantcfg.get",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	row := s.db.QueryRowContext(ctx, `
        SELECT tenant_id, display_name, domain, flows
        FROM tenants
        WHERE tenant_id = $1
    `, tenantID)

	var domain string
	var flowsJSON []byte
	if err := row.Scan(&cfg.TenantID, &cfg.DisplayName, &domain, &flowsJSON); err != nil {
		return engine.TenantConfig{}, fmt.Errorf("tenantcfg: get %s: %w", tenantID, err)
	}
	cfg.Domain = engine.BusinessDomain(domain)

	if len(flowsJSON) > 0 {
		if err := json.Unmarshal(flowsJSON, &cfg.Flows); err != nil {
			return engine.TenantConfig{}, fmt.Errorf("tenantcfg: decode flows for %s: %w", tenantID, err)
		}
	}
	return cfg, nil
}

// Upsert creates or replaces a tenant record.
func (s *PostgresStore) Upsert(ctx context.Context, cfg engine.TenantConfig) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("tenantcfg: store not configured")
	}

	ctx, span := s.tracer.Start(ctx, "tenantcfg.upsert",
		trace.WithAttributes(attribute.String("tenant.id", cfg.TenantID)))
	defer span.End()

	flowsJSON, err := json.Marshal(cfg.Flows)
	if err != nil {
		return fmt.Errorf("tenantcfg: encode flows: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO tenants (tenant_id, display_name, domain, flows, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (tenant_id) DO UPDATE SET
            display_name = EXCLUDED.display_name,
            domain = EXCLUDED.domain,
            flows = EXCLUDED.flows,
            updated_at = EXCLUDED.updated_at
    `, cfg.TenantID, cfg.DisplayName, string(cfg.Domain), flowsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("tenantcfg: upsert %s: %w", cfg.TenantID, err)
	}
	return nil
}

// List returns every registered tenant, ordered by ID.
func (s *PostgresStore) List(ctx context.Context) ([]engine.TenantConfig, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("tenantcfg: store not configured")
	}

	ctx, span := s.tracer.Start(ctx, "tenantcfg.list")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
        SELECT tenant_id, display_name, domain, flows
        FROM tenants
        ORDER BY tenant_id
    `)
	if err != nil {
		return nil, fmt.Errorf("tenantcfg: list: %w", err)
	}
	defer rows.Close()

	var out []engine.TenantConfig
	for rows.Next() {
		var cfg engine.TenantConfig
		var domain string
		var flowsJSON []byte
		if err := rows.Scan(&cfg.TenantID, &cfg.DisplayName, &domain, &flowsJSON); err != nil {
			return nil, fmt.Errorf("tenantcfg: scan tenant: %w", err)
		}
		cfg.Domain = engine.BusinessDomain(domain)
		if len(flowsJSON) > 0 {
			if err := json.Unmarshal(flowsJSON, &cfg.Flows); err != nil {
				return nil, fmt.Errorf("tenantcfg: decode flows for %s: %w", cfg.TenantID, err)
			}
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenantcfg: iterate tenants: %w", err)
	}
	return out, nil
}
