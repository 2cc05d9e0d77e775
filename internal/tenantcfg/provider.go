package tenantcfg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

const defaultCacheTTL = 5 * time.Minute

// Source is the durable tenant directory behind the cached provider.
type Source interface {
	Get(ctx context.Context, tenantID string) (engine.TenantConfig, error)
}

// CachedProvider serves tenant configs from Redis, falling back to the
// durable source and filling the cache on a miss. Unknown tenants get the
// default config so a missing directory row never blocks a decision.
type CachedProvider struct {
	source Source
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedProvider(source Source, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedProvider {
	if source == nil {
		panic("tenantcfg: source cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedProvider{
		source: source,
		redis:  client,
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(tenantID string) string {
	return fmt.Sprintf("tenant:config:%s", tenantID)
}

// TenantConfig implements engine.TenantConfigProvider.
func (p *CachedProvider) TenantConfig(ctx context.Context, tenantID string) (engine.TenantConfig, error) {
	if p.redis != nil {
		data, err := p.redis.Get(ctx, cacheKey(tenantID)).Bytes()
		if err == nil {
			var cfg engine.TenantConfig
			if err := json.Unmarshal(data, &cfg); err == nil {
				return cfg, nil
			}
			p.logger.Warn("corrupt tenant config cache entry, reloading",
				"tenant_id", tenantID,
			)
		} else if err != redis.Nil {
			p.logger.Warn("tenant config cache read failed",
				"error", err,
				"tenant_id", tenantID,
			)
		}
	}

	cfg, err := p.source.Get(ctx, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.DefaultTenantConfig(tenantID), nil
	}
	if err != nil {
		return engine.TenantConfig{}, err
	}

	p.fillCache(ctx, cfg)
	return cfg, nil
}

// Invalidate drops the cached entry so the next read hits the source.
func (p *CachedProvider) Invalidate(ctx context.Context, tenantID string) {
	if p.redis == nil {
		return
	}
	if err := p.redis.Del(ctx, cacheKey(tenantID)).Err(); err != nil {
		p.logger.Warn("tenant config cache invalidation failed",
			"error", err,
			"tenant_id", tenantID,
		)
	}
}

func (p *CachedProvider) fillCache(ctx context.Context, cfg engine.TenantConfig) {
	if p.redis == nil {
		return
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := p.redis.Set(ctx, cacheKey(cfg.TenantID), data, p.ttl).Err(); err != nil {
		p.logger.Warn("tenant config cache write failed",
			"error", err,
			"tenant_id", cfg.TenantID,
		)
	}
}

// StaticProvider serves a fixed set of tenants. Used in development and
// tests where no directory database exists.
type StaticProvider struct {
	tenants map[string]engine.TenantConfig
}

func NewStaticProvider(tenants ...engine.TenantConfig) *StaticProvider {
	m := make(map[string]engine.TenantConfig, len(tenants))
	for _, t := range tenants {
		m[t.TenantID] = t
	}
	return &StaticProvider{tenants: m}
}

func (p *StaticProvider) TenantConfig(_ context.Context, tenantID string) (engine.TenantConfig, error) {
	if cfg, ok := p.tenants[tenantID]; ok {
		return cfg, nil
	}
	return engine.DefaultTenantConfig(tenantID), nil
}
