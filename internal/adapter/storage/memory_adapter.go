package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/storefront/internal/core/domain"
)

// MemoryAdapter is a single-process store implementing the account, inventory
// and order repositories with the same uniqueness and transaction semantics
// as the MySQL schema.
type MemoryAdapter struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	emails   map[string]string // normalized email -> account id
	tokens   map[string]string // normalized token -> account id
	items    map[string]domain.InventoryItem
	orders   map[string]domain.Order
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		accounts: make(map[string]domain.Account),
		emails:   make(map[string]string),
		tokens:   make(map[string]string),
		items:    make(map[string]domain.InventoryItem),
		orders:   make(map[string]domain.Order),
	}
}

func (m *MemoryAdapter) CreateAccount(ctx context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := domain.NormalizeEmail(account.Email)
	if _, taken := m.emails[email]; taken {
		return domain.ErrEmailTaken
	}
	if account.AuthToken != "" {
		if _, taken := m.tokens[domain.NormalizeToken(account.AuthToken)]; taken {
			return domain.ErrTokenTaken
		}
		m.tokens[domain.NormalizeToken(account.AuthToken)] = account.ID
	}

	account.Email = email
	m.emails[email] = account.ID
	m.accounts[account.ID] = account
	return nil
}

func (m *MemoryAdapter) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (m *MemoryAdapter) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	m.mu.RLock()
	id, ok := m.emails[domain.NormalizeEmail(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return m.GetAccount(ctx, id)
}

func (m *MemoryAdapter) GetAccountByToken(ctx context.Context, token string) (*domain.Account, error) {
	m.mu.RLock()
	id, ok := m.tokens[domain.NormalizeToken(token)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return m.GetAccount(ctx, id)
}

func (m *MemoryAdapter) SetAuthToken(ctx context.Context, accountID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[accountID]
	if !ok {
		return &domain.NotFoundError{Entity: "account", ID: accountID}
	}

	key := domain.NormalizeToken(token)
	if owner, taken := m.tokens[key]; taken && owner != accountID {
		return domain.ErrTokenTaken
	}

	if acc.AuthToken != "" {
		delete(m.tokens, domain.NormalizeToken(acc.AuthToken))
	}
	acc.AuthToken = token
	m.tokens[key] = accountID
	m.accounts[accountID] = acc
	return nil
}

func (m *MemoryAdapter) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[item.AccountID]; !ok {
		return &domain.NotFoundError{Entity: "account", ID: item.AccountID}
	}
	m.items[item.ID] = item
	return nil
}

func (m *MemoryAdapter) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *MemoryAdapter) GetItems(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]domain.InventoryItem, len(ids))
	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (m *MemoryAdapter) ListItems(ctx context.Context, filter domain.ItemFilter, page domain.Page) ([]domain.InventoryItem, int, error) {
	wanted := make(map[string]bool, len(filter.IDs))
	for _, id := range filter.IDs {
		wanted[id] = true
	}

	m.mu.RLock()
	all := make([]domain.InventoryItem, 0, len(m.items))
	for _, item := range m.items {
		if len(wanted) > 0 && !wanted[item.ID] {
			continue
		}
		all = append(all, item)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return paginate(all, page), len(all), nil
}

func (m *MemoryAdapter) UpdateItem(ctx context.Context, item domain.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items[item.ID]
	if !ok {
		return &domain.NotFoundError{Entity: "inventory item", ID: item.ID}
	}
	item.AccountID = current.AccountID
	item.Quantity = current.Quantity
	item.CreatedAt = current.CreatedAt
	m.items[item.ID] = item
	return nil
}

func (m *MemoryAdapter) DeleteItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return &domain.NotFoundError{Entity: "inventory item", ID: id}
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryAdapter) DecrementQuantity(ctx context.Context, itemID string, by int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok {
		return &domain.NotFoundError{Entity: "inventory item", ID: itemID}
	}
	item.Quantity -= by
	m.items[itemID] = item
	return nil
}

func (m *MemoryAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[order.AccountID]; !ok {
		return &domain.NotFoundError{Entity: "account", ID: order.AccountID}
	}
	for _, li := range order.LineItems {
		if _, ok := m.items[li.ItemID]; !ok {
			return &domain.NotFoundError{Entity: "inventory item", ID: li.ItemID}
		}
	}

	stored := order
	stored.LineItems = append([]domain.LineItem(nil), order.LineItems...)
	m.orders[order.ID] = stored
	return nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	order.LineItems = append([]domain.LineItem(nil), order.LineItems...)
	return &order, nil
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, accountID string, page domain.Page) ([]domain.Order, int, error) {
	m.mu.RLock()
	var owned []domain.Order
	for _, o := range m.orders {
		if o.AccountID == accountID {
			o.LineItems = append([]domain.LineItem(nil), o.LineItems...)
			owned = append(owned, o)
		}
	}
	m.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID < owned[j].ID
		}
		return owned[i].CreatedAt.Before(owned[j].CreatedAt)
	})
	return paginate(owned, page), len(owned), nil
}

// OrderCount reports how many orders are stored.
func (m *MemoryAdapter) OrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

func paginate[T any](all []T, page domain.Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(all) {
		return []T{}
	}
	end := start + page.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
