package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	tokenKeyPrefix       = "token:"
)

// swapTokenScript drops the old token mapping and writes the new one in a
// single step so a rotated token never resolves after the new one is cached.
var swapTokenScript = redis.NewScript(`
local old = KEYS[1]
local new = KEYS[2]

if old ~= "" then
	redis.call('DEL', old)
end

redis.call('SET', new, ARGV[1], 'PX', ARGV[2])
return 1
`)

type RedisAdapter struct {
	client         *redis.Client
	idempotencyTTL time.Duration
	tokenTTL       time.Duration
}

func NewRedisAdapter(client *redis.Client, idempotencyTTL, tokenTTL time.Duration) *RedisAdapter {
	return &RedisAdapter{
		client:         client,
		idempotencyTTL: idempotencyTTL,
		tokenTTL:       tokenTTL,
	}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func tokenKey(token string) string {
	return tokenKeyPrefix + domain.NormalizeToken(token)
}

func (r *RedisAdapter) AccountIDForToken(ctx context.Context, token string) (string, error) {
	id, err := r.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *RedisAdapter) CacheToken(ctx context.Context, token, accountID string) error {
	return r.client.Set(ctx, tokenKey(token), accountID, r.tokenTTL).Err()
}

func (r *RedisAdapter) SwapToken(ctx context.Context, oldToken, newToken, accountID string) error {
	oldKey := ""
	if oldToken != "" {
		oldKey = tokenKey(oldToken)
	}

	return swapTokenScript.Run(ctx, r.client,
		[]string{oldKey, tokenKey(newToken)},
		accountID, r.tokenTTL.Milliseconds(),
	).Err()
}
