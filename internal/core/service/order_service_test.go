package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
)

// Mock CacheRepository
type mockCacheRepo struct {
	idempotencySet map[string]bool
	tokens         map[string]string
	released       []string
	mu             sync.Mutex
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		idempotencySet: make(map[string]bool),
		tokens:         make(map[string]string),
	}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	m.released = append(m.released, key)
	return nil
}

func (m *mockCacheRepo) AccountIDForToken(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[domain.NormalizeToken(token)], nil
}

func (m *mockCacheRepo) CacheToken(ctx context.Context, token, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[domain.NormalizeToken(token)] = accountID
	return nil
}

func (m *mockCacheRepo) SwapToken(ctx context.Context, oldToken, newToken, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, domain.NormalizeToken(oldToken))
	m.tokens[domain.NormalizeToken(newToken)] = accountID
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderPlacedEvent
}

func (p *recordingPublisher) PublishOrderPlaced(ctx context.Context, e domain.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// failingDecrementStore persists orders but refuses to decrement stock.
type failingDecrementStore struct {
	*storage.MemoryAdapter
}

func (f failingDecrementStore) DecrementQuantity(ctx context.Context, itemID string, by int) error {
	return errors.New("disk full")
}

type fixture struct {
	store   *storage.MemoryAdapter
	cache   *mockCacheRepo
	events  *recordingPublisher
	svc     *OrderService
	account domain.Account
}

func newFixture(t *testing.T, enforceStock bool) *fixture {
	t.Helper()
	store := storage.NewMemoryAdapter()
	cache := newMockCacheRepo()
	events := &recordingPublisher{}

	acc := domain.Account{ID: "acc-1", Email: "buyer@example.com", CreatedAt: time.Now()}
	if err := store.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	return &fixture{
		store:   store,
		cache:   cache,
		events:  events,
		svc:     NewOrderService(store, store, cache, events, enforceStock, zap.NewNop()),
		account: acc,
	}
}

func (f *fixture) seedItem(t *testing.T, id, price string, qty int) {
	t.Helper()
	err := f.store.CreateItem(context.Background(), domain.InventoryItem{
		ID:        id,
		AccountID: f.account.ID,
		Title:     "item " + id,
		Price:     decimal.RequireFromString(price),
		Quantity:  qty,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
}

func (f *fixture) quantity(t *testing.T, id string) int {
	t.Helper()
	item, err := f.store.GetItem(context.Background(), id)
	if err != nil || item == nil {
		t.Fatalf("load item %s: %v", id, err)
	}
	return item.Quantity
}

func TestBuildOrder_Success(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "10.00", 5)
	f.seedItem(t, "B", "20.00", 5)
	ctx := context.Background()

	order, err := f.svc.BuildOrder(ctx, f.account, []domain.OrderPair{{ItemID: "A", Quantity: 2}, {ItemID: "B", Quantity: 3}})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(order.LineItems) != 2 {
		t.Errorf("expected 2 line items, got %d", len(order.LineItems))
	}

	total, err := f.svc.Total(ctx, *order)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("80.00")) {
		t.Errorf("expected total 80.00, got %s", total)
	}

	if q := f.quantity(t, "A"); q != 3 {
		t.Errorf("expected A quantity 3, got %d", q)
	}
	if q := f.quantity(t, "B"); q != 2 {
		t.Errorf("expected B quantity 2, got %d", q)
	}

	stored, err := f.store.GetOrder(ctx, order.ID)
	if err != nil || stored == nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if stored.LineItems[0].ItemID != "A" || stored.LineItems[1].ItemID != "B" {
		t.Errorf("line item order not preserved: %+v", stored.LineItems)
	}

	if len(f.events.events) != 1 || !f.events.events[0].Total.Equal(decimal.NewFromInt(80)) {
		t.Errorf("expected one order placed event with total 80, got %+v", f.events.events)
	}
}

func TestBuildOrder_EmptyPairs(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.svc.BuildOrder(context.Background(), f.account, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got: %v", err)
	}

	var verr *domain.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields["pairs"]) == 0 {
		t.Errorf("expected pairs field error, got: %v", err)
	}
}

func TestBuildOrder_NonPositiveQuantity(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "10.00", 5)

	_, err := f.svc.BuildOrder(context.Background(), f.account, []domain.OrderPair{
		{ItemID: "A", Quantity: 1},
		{ItemID: "A", Quantity: 0},
	})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if _, ok := verr.Fields["pairs[1].quantity"]; !ok {
		t.Errorf("expected offending pair to be named, got %v", verr.Fields)
	}
	if f.store.OrderCount() != 0 {
		t.Error("expected no order persisted")
	}
	if q := f.quantity(t, "A"); q != 5 {
		t.Errorf("expected stock untouched, got %d", q)
	}
}

func TestBuildOrder_QuantityAboveLimit(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "10.00", 5)

	_, err := f.svc.BuildOrder(context.Background(), f.account, []domain.OrderPair{
		{ItemID: "A", Quantity: domain.MaxQuantity + 1},
	})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if msgs := verr.Fields["pairs[0].quantity"]; len(msgs) != 1 || msgs[0] != "must be less than or equal to 2147483647" {
		t.Errorf("unexpected messages: %v", verr.Fields)
	}
	if f.store.OrderCount() != 0 {
		t.Error("expected no order persisted")
	}
}

func TestBuildOrder_UnknownItemPersistsNothing(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "10.00", 5)

	_, err := f.svc.BuildOrder(context.Background(), f.account, []domain.OrderPair{
		{ItemID: "A", Quantity: 1},
		{ItemID: "missing", Quantity: 1},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}

	if f.store.OrderCount() != 0 {
		t.Error("expected no order persisted")
	}
	if q := f.quantity(t, "A"); q != 5 {
		t.Errorf("expected stock untouched, got %d", q)
	}
	if len(f.events.events) != 0 {
		t.Error("expected no event published")
	}
}

func TestBuildOrder_OversellAllowedByDefault(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "1.50", 1)

	if _, err := f.svc.BuildOrder(context.Background(), f.account, []domain.OrderPair{{ItemID: "A", Quantity: 3}}); err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if q := f.quantity(t, "A"); q != -2 {
		t.Errorf("expected quantity -2, got %d", q)
	}
}

func TestBuildOrder_EnforceStock(t *testing.T) {
	f := newFixture(t, true)
	f.seedItem(t, "A", "1.50", 3)

	_, err := f.svc.BuildOrder(context.Background(), f.account, []domain.OrderPair{
		{ItemID: "A", Quantity: 2},
		{ItemID: "A", Quantity: 2},
	})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if _, ok := verr.Fields["pairs[1].quantity"]; !ok {
		t.Errorf("expected second pair flagged, got %v", verr.Fields)
	}
	if f.store.OrderCount() != 0 || f.quantity(t, "A") != 3 {
		t.Error("expected nothing persisted")
	}
}

func TestBuildOrder_DecrementFailureKeepsOrder(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "10.00", 5)
	failing := failingDecrementStore{f.store}
	svc := NewOrderService(f.store, failing, nil, nil, false, zap.NewNop())

	_, err := svc.BuildOrder(context.Background(), f.account, []domain.OrderPair{{ItemID: "A", Quantity: 1}})
	if !errors.Is(err, ErrStockNotDecremented) || !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error wrapping ErrStockNotDecremented, got: %v", err)
	}
	if f.store.OrderCount() != 1 {
		t.Errorf("expected the order to stay persisted, got %d orders", f.store.OrderCount())
	}
}

func TestPlaceOrder_DuplicateRequest(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "10.00", 10)
	ctx := context.Background()
	pairs := []domain.OrderPair{{ItemID: "A", Quantity: 1}}

	if _, err := f.svc.PlaceOrder(ctx, "req-1", f.account, pairs); err != nil {
		t.Fatalf("first order failed: %v", err)
	}

	_, err := f.svc.PlaceOrder(ctx, "req-1", f.account, pairs)
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}

	// Stock should only be decremented once
	if q := f.quantity(t, "A"); q != 9 {
		t.Errorf("expected quantity 9, got %d", q)
	}
}

func TestPlaceOrder_FailureReleasesKey(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, "req-1", f.account, []domain.OrderPair{{ItemID: "nope", Quantity: 1}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}
	if len(f.cache.released) != 1 {
		t.Fatalf("expected idempotency key released, got %v", f.cache.released)
	}

	f.seedItem(t, "nope", "2.00", 1)
	if _, err := f.svc.PlaceOrder(ctx, "req-1", f.account, []domain.OrderPair{{ItemID: "nope", Quantity: 1}}); err != nil {
		t.Errorf("expected retry to succeed, got: %v", err)
	}
}

func TestBuildOrder_Concurrent(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "1.00", 20)

	totalRequests := 50
	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.BuildOrder(context.Background(), f.account, []domain.OrderPair{{ItemID: "A", Quantity: 1}})
			if err == nil {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != int32(totalRequests) {
		t.Errorf("expected %d successes, got %d", totalRequests, successCount.Load())
	}
	// no lost updates: every decrement landed
	if q := f.quantity(t, "A"); q != 20-totalRequests {
		t.Errorf("expected quantity %d, got %d", 20-totalRequests, q)
	}
}

func TestGetOrder_Ownership(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "10.00", 5)
	ctx := context.Background()

	order, err := f.svc.BuildOrder(ctx, f.account, []domain.OrderPair{{ItemID: "A", Quantity: 2}})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}

	view, err := f.svc.GetOrder(ctx, f.account, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if view.Total.StringFixed(2) != "20.00" {
		t.Errorf("expected total 20.00, got %s", view.Total.StringFixed(2))
	}

	other := domain.Account{ID: "acc-2"}
	if _, err := f.svc.GetOrder(ctx, other, order.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected forbidden, got: %v", err)
	}
	if _, err := f.svc.GetOrder(ctx, f.account, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got: %v", err)
	}
}

func TestTotal_UsesCurrentPrice(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "10.00", 5)
	ctx := context.Background()

	order, err := f.svc.BuildOrder(ctx, f.account, []domain.OrderPair{{ItemID: "A", Quantity: 2}})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}

	item, _ := f.store.GetItem(ctx, "A")
	item.Price = decimal.RequireFromString("12.50")
	if err := f.store.UpdateItem(ctx, *item); err != nil {
		t.Fatalf("update price: %v", err)
	}

	total, err := f.svc.Total(ctx, *order)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.StringFixed(2) != "25.00" {
		t.Errorf("expected total at current price 25.00, got %s", total.StringFixed(2))
	}
}

func TestListOrders_Paginates(t *testing.T) {
	f := newFixture(t, false)
	f.seedItem(t, "A", "1.00", 100)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := f.svc.BuildOrder(ctx, f.account, []domain.OrderPair{{ItemID: "A", Quantity: 1}}); err != nil {
			t.Fatalf("build order: %v", err)
		}
	}

	views, pagination, err := f.svc.ListOrders(ctx, f.account, domain.Page{Number: 2, PerPage: 3})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(views) != 1 {
		t.Errorf("expected 1 order on page 2, got %d", len(views))
	}
	if pagination.TotalCount != 4 || pagination.TotalPages != 2 || pagination.CurrentPage != 2 {
		t.Errorf("unexpected pagination: %+v", pagination)
	}
}
