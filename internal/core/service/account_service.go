package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type AccountService struct {
	accounts   port.AccountRepository
	cache      port.CacheRepository
	issuer     *TokenIssuer
	logger     *zap.Logger
	bcryptCost int
}

// NewAccountService builds the service. cache may be nil.
func NewAccountService(accounts port.AccountRepository, cache port.CacheRepository, issuer *TokenIssuer, logger *zap.Logger) *AccountService {
	return &AccountService{
		accounts:   accounts,
		cache:      cache,
		issuer:     issuer,
		logger:     logger,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// CreateAccount registers an account and issues its first auth token.
func (s *AccountService) CreateAccount(ctx context.Context, reg domain.Registration) (*domain.Account, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	acc := domain.Account{
		ID:           uuid.New().String(),
		Email:        domain.NormalizeEmail(reg.Email),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.accounts.CreateAccount(ctx, acc)
	if errors.Is(err, domain.ErrEmailTaken) {
		verr := domain.NewValidationError()
		verr.Add("email", "has already been taken")
		return nil, verr
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "create account", Err: err}
	}

	token, err := s.issuer.GenerateAuthenticationToken(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	acc.AuthToken = token

	s.logger.Info("account created", zap.String("account_id", acc.ID))
	return &acc, nil
}

// SignIn checks the credentials and rotates the account's token.
func (s *AccountService) SignIn(ctx context.Context, email, password string) (*domain.Account, error) {
	acc, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load account", Err: err}
	}
	if acc == nil || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		verr := domain.NewValidationError()
		verr.Add("base", "invalid email or password")
		return nil, verr
	}

	token, err := s.issuer.GenerateAuthenticationToken(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	acc.AuthToken = token
	return acc, nil
}

// RegenerateToken rotates the token of accountID on behalf of actor.
func (s *AccountService) RegenerateToken(ctx context.Context, actor domain.Account, accountID string) (string, error) {
	if actor.ID != accountID {
		return "", &domain.ForbiddenError{AccountID: actor.ID, Entity: "account", ID: accountID}
	}
	return s.issuer.GenerateAuthenticationToken(ctx, accountID)
}

// Authenticate resolves a token to its account. The cache only narrows the
// lookup; the stored token is always compared before the account is returned.
func (s *AccountService) Authenticate(ctx context.Context, token string) (*domain.Account, error) {
	if token == "" {
		return nil, &domain.NotFoundError{Entity: "auth token", ID: ""}
	}

	if s.cache != nil {
		id, err := s.cache.AccountIDForToken(ctx, token)
		if err != nil {
			s.logger.Warn("token cache lookup failed", zap.Error(err))
		}
		if id != "" {
			acc, err := s.accounts.GetAccount(ctx, id)
			if err != nil {
				return nil, &domain.PersistenceError{Op: "load account", Err: err}
			}
			if acc != nil && domain.NormalizeToken(acc.AuthToken) == domain.NormalizeToken(token) {
				return acc, nil
			}
		}
	}

	acc, err := s.accounts.GetAccountByToken(ctx, token)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load account by token", Err: err}
	}
	if acc == nil {
		return nil, &domain.NotFoundError{Entity: "auth token", ID: ""}
	}

	if s.cache != nil {
		if err := s.cache.CacheToken(ctx, token, acc.ID); err != nil {
			s.logger.Warn("failed to cache token", zap.Error(err))
		}
	}
	return acc, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	acc, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load account", Err: err}
	}
	if acc == nil {
		return nil, &domain.NotFoundError{Entity: "account", ID: id}
	}
	return acc, nil
}
