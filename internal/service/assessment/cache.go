package assessment

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// UnlockCache is the in-memory unlock projection consulted by CanApply. The
// store stays the source of truth; a miss falls back to an attempt query.
type UnlockCache interface {
	Get(ctx context.Context, userID, templateID string) (int, bool)
	Set(ctx context.Context, userID, templateID string, score int)
}

// RedisUnlockCache keeps passed scores in Redis keyed by (user, template).
type RedisUnlockCache struct {
	client *redis.Client
}

// NewRedisUnlockCache creates an unlock cache on the given Redis client.
func NewRedisUnlockCache(client *redis.Client) *RedisUnlockCache {
	return &RedisUnlockCache{client: client}
}

func unlockKey(userID, templateID string) string {
	return "unlock:" + userID + ":" + templateID
}

// Get returns the cached best passed score for (user, template).
func (c *RedisUnlockCache) Get(ctx context.Context, userID, templateID string) (int, bool) {
	val, err := c.client.Get(ctx, unlockKey(userID, templateID)).Result()
	if err != nil {
		return 0, false
	}
	score, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return score, true
}

// Set records a passed score, keeping the best one.
func (c *RedisUnlockCache) Set(ctx context.Context, userID, templateID string, score int) {
	if cached, ok := c.Get(ctx, userID, templateID); ok && cached >= score {
		return
	}
	// Best-effort; the store remains authoritative.
	_ = c.client.Set(ctx, unlockKey(userID, templateID), strconv.Itoa(score), 0).Err()
}

// NopUnlockCache always misses. Used when Redis is disabled and in tests.
type NopUnlockCache struct{}

// Get always reports a miss.
func (NopUnlockCache) Get(context.Context, string, string) (int, bool) { return 0, false }

// Set does nothing.
func (NopUnlockCache) Set(context.Context, string, string, int) {}
