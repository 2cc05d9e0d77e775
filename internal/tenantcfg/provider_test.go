package tenantcfg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/conversahq/conversa-platform/internal/engine"
)

type stubSource struct {
	cfg   engine.TenantConfig
	err   error
	calls int
}

func (s *stubSource) Get(context.Context, string) (engine.TenantConfig, error) {
	s.calls++
	return s.cfg, s.err
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCachedProviderFillsAndServesFromCache(t *testing.T) {
	_, client := newTestRedis(t)
	source := &stubSource{cfg: engine.TenantConfig{
		TenantID:    "tnt_1",
		DisplayName: "Studio Bela",
		Domain:      engine.DomainBeauty,
	}}
	p := NewCachedProvider(source, client, time.Minute, nil)
	ctx := context.Background()

	first, err := p.TenantConfig(ctx, "tnt_1")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := p.TenantConfig(ctx, "tnt_1")
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if first.DisplayName != second.DisplayName || second.Domain != engine.DomainBeauty {
		t.Fatalf("cache returned a different config: %+v vs %+v", first, second)
	}
	if source.calls != 1 {
		t.Errorf("expected one source hit, got %d", source.calls)
	}
}

func TestCachedProviderCacheExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	source := &stubSource{cfg: engine.TenantConfig{TenantID: "tnt_1", Domain: engine.DomainGeneral}}
	p := NewCachedProvider(source, client, time.Minute, nil)
	ctx := context.Background()

	if _, err := p.TenantConfig(ctx, "tnt_1"); err != nil {
		t.Fatalf("read: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := p.TenantConfig(ctx, "tnt_1"); err != nil {
		t.Fatalf("read after expiry: %v", err)
	}
	if source.calls != 2 {
		t.Errorf("expected reload after ttl, got %d source hits", source.calls)
	}
}

func TestCachedProviderUnknownTenantGetsDefaults(t *testing.T) {
	_, client := newTestRedis(t)
	source := &stubSource{err: sql.ErrNoRows}
	p := NewCachedProvider(source, client, time.Minute, nil)

	cfg, err := p.TenantConfig(context.Background(), "tnt_new")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cfg.TenantID != "tnt_new" || cfg.Domain != engine.DomainGeneral {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestCachedProviderSourceErrorPropagates(t *testing.T) {
	_, client := newTestRedis(t)
	source := &stubSource{err: errors.New("directory down")}
	p := NewCachedProvider(source, client, time.Minute, nil)

	if _, err := p.TenantConfig(context.Background(), "tnt_1"); err == nil {
		t.Fatal("expected source error to propagate")
	}
}

func TestCachedProviderWorksWithoutRedis(t *testing.T) {
	source := &stubSource{cfg: engine.TenantConfig{TenantID: "tnt_1", Domain: engine.DomainLegal}}
	p := NewCachedProvider(source, nil, time.Minute, nil)

	cfg, err := p.TenantConfig(context.Background(), "tnt_1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cfg.Domain != engine.DomainLegal {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestCachedProviderInvalidate(t *testing.T) {
	_, client := newTestRedis(t)
	source := &stubSource{cfg: engine.TenantConfig{TenantID: "tnt_1"}}
	p := NewCachedProvider(source, client, time.Minute, nil)
	ctx := context.Background()

	if _, err := p.TenantConfig(ctx, "tnt_1"); err != nil {
		t.Fatalf("read: %v", err)
	}
	p.Invalidate(ctx, "tnt_1")
	if _, err := p.TenantConfig(ctx, "tnt_1"); err != nil {
		t.Fatalf("read after invalidate: %v", err)
	}
	if source.calls != 2 {
		t.Errorf("invalidate should force a source reload, got %d hits", source.calls)
	}
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(engine.TenantConfig{TenantID: "tnt_1", Domain: engine.DomainHealthcare})

	cfg, err := p.TenantConfig(context.Background(), "tnt_1")
	if err != nil || cfg.Domain != engine.DomainHealthcare {
		t.Fatalf("unexpected: %+v err=%v", cfg, err)
	}

	fallback, err := p.TenantConfig(context.Background(), "tnt_other")
	if err != nil || fallback.Domain != engine.DomainGeneral {
		t.Fatalf("expected defaults for unknown tenant: %+v err=%v", fallback, err)
	}
}
