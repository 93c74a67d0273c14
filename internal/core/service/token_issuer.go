package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/observability"
	"github.com/rl1809/storefront/internal/port"
)

const DefaultTokenMaxAttempts = 10

// friendlyTokenBytes encodes to 20 URL-safe characters.
const friendlyTokenBytes = 15

var friendlyReplacer = strings.NewReplacer("l", "s", "I", "x", "O", "y", "0", "z")

// FriendlyToken returns a random URL-safe token without the easily confused
// characters l, I, O and 0.
func FriendlyToken() (string, error) {
	b := make([]byte, friendlyTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return friendlyReplacer.Replace(base64.RawURLEncoding.EncodeToString(b)), nil
}

type TokenIssuer struct {
	accounts    port.AccountRepository
	cache       port.CacheRepository
	generate    func() (string, error)
	maxAttempts int
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewTokenIssuer builds an issuer. cache may be nil.
func NewTokenIssuer(accounts port.AccountRepository, cache port.CacheRepository, maxAttempts int, logger *zap.Logger) *TokenIssuer {
	if maxAttempts < 1 {
		maxAttempts = DefaultTokenMaxAttempts
	}
	return &TokenIssuer{
		accounts:    accounts,
		cache:       cache,
		generate:    FriendlyToken,
		maxAttempts: maxAttempts,
		logger:      logger,
		tracer:      observability.Tracer(),
	}
}

// GenerateAuthenticationToken assigns a fresh token to the account and
// returns it. The storage unique index decides collisions: a candidate that
// is already held by any account is discarded and another one drawn, up to
// maxAttempts.
func (t *TokenIssuer) GenerateAuthenticationToken(ctx context.Context, accountID string) (string, error) {
	ctx, span := t.tracer.Start(ctx, "token.generate")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	acc, err := t.accounts.GetAccount(ctx, accountID)
	if err != nil {
		span.SetStatus(codes.Error, "load account")
		return "", &domain.PersistenceError{Op: "load account", Err: err}
	}
	if acc == nil {
		return "", &domain.NotFoundError{Entity: "account", ID: accountID}
	}

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		candidate, err := t.generate()
		if err != nil {
			span.SetStatus(codes.Error, "generate token")
			return "", &domain.PersistenceError{Op: "generate auth token", Err: err}
		}
		if acc.HasToken() && domain.NormalizeToken(candidate) == domain.NormalizeToken(acc.AuthToken) {
			continue
		}

		err = t.accounts.SetAuthToken(ctx, accountID, candidate)
		if errors.Is(err, domain.ErrTokenTaken) {
			t.logger.Debug("auth token collision, retrying",
				zap.String("account_id", accountID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return "", err
		}
		if err != nil {
			span.SetStatus(codes.Error, "store token")
			return "", &domain.PersistenceError{Op: "store auth token", Err: err}
		}

		span.SetAttributes(attribute.Int("token.attempts", attempt))
		t.refreshCache(ctx, acc.AuthToken, candidate, accountID)
		return candidate, nil
	}

	span.SetStatus(codes.Error, "token attempts exhausted")
	t.logger.Error("auth token attempts exhausted",
		zap.String("account_id", accountID),
		zap.Int("attempts", t.maxAttempts),
	)
	return "", &domain.ResourceExhaustedError{Resource: "auth token candidates", Attempts: t.maxAttempts}
}

// refreshCache is best effort: Authenticate re-checks the stored token on
// every cache hit, so a stale entry cannot authenticate a rotated token.
func (t *TokenIssuer) refreshCache(ctx context.Context, oldToken, newToken, accountID string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.SwapToken(ctx, oldToken, newToken, accountID); err != nil {
		t.logger.Warn("failed to refresh token cache",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}
}
