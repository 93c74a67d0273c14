package port

import "context"

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency removes the key so a failed request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// AccountIDForToken returns the cached account id for a token, "" on miss
	AccountIDForToken(ctx context.Context, token string) (string, error)

	// CacheToken records token -> accountID
	CacheToken(ctx context.Context, token, accountID string) error

	// SwapToken atomically evicts oldToken and caches newToken for accountID
	SwapToken(ctx context.Context, oldToken, newToken, accountID string) error
}
