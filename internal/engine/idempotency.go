package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conversahq/conversa-platform/pkg/logging"
)

// recentTurnQuerier is the slice of the turn store the guard depends on.
type recentTurnQuerier interface {
	RecentDuplicateExists(ctx context.Context, tenantID, sessionKey, contentHash string, window time.Duration) (bool, error)
}

// IdempotencyGuard suppresses redelivered messages. Channel webhooks are
// at-least-once, so the same text can arrive twice within milliseconds; the
// guard claims a (session, content-hash, window) slot in Redis and backs it
// with a durable recent-turn query for the window where Redis state is lost.
type IdempotencyGuard struct {
	redis  *redis.Client
	turns  recentTurnQuerier
	window time.Duration
	logger *logging.Logger
}

func NewIdempotencyGuard(client *redis.Client, turns recentTurnQuerier, window time.Duration, logger *logging.Logger) *IdempotencyGuard {
	if window <= 0 {
		window = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IdempotencyGuard{
		redis:  client,
		turns:  turns,
		window: window,
		logger: logger,
	}
}

// Window exposes the configured dedup window.
func (g *IdempotencyGuard) Window() time.Duration {
	return g.window
}

func dedupKey(tenantID, sessionKey, contentHash string) string {
	return fmt.Sprintf("dedup:%s:%s:%s", tenantID, sessionKey, contentHash)
}

// IsDuplicate reports whether an identical message for the session was
// already seen inside the window. Guard failures degrade to "not a
// duplicate": processing a message twice beats silently dropping one.
func (g *IdempotencyGuard) IsDuplicate(ctx context.Context, tenantID, sessionKey, text string) bool {
	hash := ContentHash(text)

	if g.redis != nil {
		claimed, err := g.redis.SetNX(ctx, dedupKey(tenantID, sessionKey, hash), 1, g.window).Result()
		if err == nil {
			if !claimed {
				return true
			}
		} else {
			g.logger.Warn("idempotency redis check failed, falling back to store",
				"error", err,
				"tenant_id", tenantID,
			)
		}
	}

	if g.turns == nil {
		return false
	}
	dup, err := g.turns.RecentDuplicateExists(ctx, tenantID, sessionKey, hash, g.window)
	if err != nil {
		g.logger.Warn("idempotency store check failed, treating as new message",
			"error", err,
			"tenant_id", tenantID,
		)
		return false
	}
	return dup
}

// Release gives back a claimed slot. Called when the pipeline fails after
// the claim, so the channel's retry is processed instead of suppressed. The
// durable fallback needs no release: it only ever sees persisted turns.
func (g *IdempotencyGuard) Release(tenantID, sessionKey, text string) {
	if g.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.redis.Del(ctx, dedupKey(tenantID, sessionKey, ContentHash(text))).Err(); err != nil {
		g.logger.Warn("idempotency claim release failed",
			"error", err,
			"tenant_id", tenantID,
		)
	}
}
