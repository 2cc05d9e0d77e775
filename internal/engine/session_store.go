package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultSessionTTL = 30 * 24 * time.Hour

// RedisSessionStore keeps live session state in Redis. Sessions are never
// deleted explicitly; the TTL archives them after inactivity.
type RedisSessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration, tracer trace.Tracer) *RedisSessionStore {
	if client == nil {
		panic("engine: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if tracer == nil {
		tracer = otel.Tracer("conversa.internal.engine.sessions")
	}
	return &RedisSessionStore{
		redis:  client,
		ttl:    ttl,
		tracer: tracer,
	}
}

func sessionRedisKey(tenantID, sessionKey string) string {
	return fmt.Sprintf("session:%s:%s", tenantID, sessionKey)
}

func (s *RedisSessionStore) Load(ctx context.Context, tenantID, sessionKey string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "engine.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionRedisKey(tenantID, sessionKey)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("engine: failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("engine: failed to decode session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, session *Session) error {
	ctx, span := s.tracer.Start(ctx, "engine.save_session")
	defer span.End()

	if session == nil {
		return fmt.Errorf("engine: cannot save nil session")
	}

	data, err := json.Marshal(session)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("engine: failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionRedisKey(session.TenantID, session.SessionKey), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("engine: failed to persist session: %w", err)
	}
	return nil
}
