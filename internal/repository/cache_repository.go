package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

// CacheRepository wraps Redis for the rule-set cache and the one-time
// rollback confirmation tokens.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository. A nil client degrades to
// cache misses so the pipeline keeps working without Redis.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}

	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys, logging rather than failing on errors.
func (r *CacheRepository) Delete(ctx context.Context, keys ...string) {
	if r.client == nil || len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warn("failed to invalidate cache", zap.Strings("keys", keys), zap.Error(err))
	}
}

// SetToken stores a raw one-time token with the given TTL.
func (r *CacheRepository) SetToken(ctx context.Context, key, token string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("token store unavailable")
	}
	if err := r.client.Set(ctx, key, token, ttl).Err(); err != nil {
		return fmt.Errorf("redis set token %s: %w", key, err)
	}
	return nil
}

// TakeToken atomically consumes a one-time token. Returns false when the
// token is absent, expired, or does not match.
func (r *CacheRepository) TakeToken(ctx context.Context, key, token string) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	// Compare-and-delete so a token can be spent exactly once.
	const script = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
	res, err := r.client.Eval(ctx, script, []string{key}, token).Int()
	if err != nil {
		return false, fmt.Errorf("redis take token %s: %w", key, err)
	}
	return res == 1, nil
}
