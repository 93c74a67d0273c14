package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Lookups return (nil, nil) when the record does not exist.

type AccountRepository interface {
	// CreateAccount inserts a new account; returns domain.ErrEmailTaken on a
	// duplicate email (case-insensitive).
	CreateAccount(ctx context.Context, account domain.Account) error

	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetAccountByToken(ctx context.Context, token string) (*domain.Account, error)

	// SetAuthToken overwrites the account's token. The unique index is the
	// collision check: a token held by another account yields
	// domain.ErrTokenTaken and nothing is written.
	SetAuthToken(ctx context.Context, accountID, token string) error
}

type InventoryRepository interface {
	CreateItem(ctx context.Context, item domain.InventoryItem) error
	GetItem(ctx context.Context, id string) (*domain.InventoryItem, error)

	// GetItems resolves many ids at once; missing ids are absent from the map.
	GetItems(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error)

	ListItems(ctx context.Context, filter domain.ItemFilter, page domain.Page) ([]domain.InventoryItem, int, error)

	// UpdateItem writes title, price and published. Quantity is left to
	// DecrementQuantity.
	UpdateItem(ctx context.Context, item domain.InventoryItem) error
	DeleteItem(ctx context.Context, id string) error

	// DecrementQuantity atomically subtracts by from the item's quantity.
	// The result is not floored at zero.
	DecrementQuantity(ctx context.Context, itemID string, by int) error
}

type OrderRepository interface {
	// CreateOrder persists the order and all its line items in one
	// transaction. A line item referencing a missing inventory item fails the
	// whole write with a *domain.NotFoundError.
	CreateOrder(ctx context.Context, order domain.Order) error

	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, accountID string, page domain.Page) ([]domain.Order, int, error)
}
