package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/observability"
	"github.com/rl1809/storefront/internal/port"
)

var (
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrStockNotDecremented marks a build whose order was persisted but whose
	// stock decrement failed for at least one line item.
	ErrStockNotDecremented = errors.New("order persisted but stock not decremented")
)

type OrderService struct {
	orders       port.OrderRepository
	inventory    port.InventoryRepository
	cache        port.CacheRepository
	events       port.EventPublisher
	enforceStock bool
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewOrderService builds the service. cache and events may be nil. With
// enforceStock set, a build requesting more than an item's available
// quantity is rejected before anything is written.
func NewOrderService(
	orders port.OrderRepository,
	inventory port.InventoryRepository,
	cache port.CacheRepository,
	events port.EventPublisher,
	enforceStock bool,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:       orders,
		inventory:    inventory,
		cache:        cache,
		events:       events,
		enforceStock: enforceStock,
		logger:       logger,
		tracer:       observability.Tracer(),
	}
}

// OrderView is an order together with the current state of the items it
// references and its total at those prices.
type OrderView struct {
	Order domain.Order
	Items map[string]domain.InventoryItem
	Total decimal.Decimal
}

// PlaceOrder is BuildOrder guarded by a per-account idempotency key. A
// request id seen before yields ErrDuplicateRequest; a build that wrote
// nothing releases the key so the client may retry.
func (s *OrderService) PlaceOrder(ctx context.Context, requestID string, actor domain.Account, pairs []domain.OrderPair) (*domain.Order, error) {
	if s.cache == nil || requestID == "" {
		return s.BuildOrder(ctx, actor, pairs)
	}

	idempotencyKey := fmt.Sprintf("order:%s:%s", actor.ID, requestID)

	ok, err := s.cache.SetIdempotency(ctx, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return nil, ErrDuplicateRequest
	}

	order, err := s.BuildOrder(ctx, actor, pairs)
	if err != nil && !errors.Is(err, ErrStockNotDecremented) {
		if releaseErr := s.cache.ReleaseIdempotency(ctx, idempotencyKey); releaseErr != nil {
			s.logger.Error("failed to release idempotency key",
				zap.String("key", idempotencyKey),
				zap.Error(releaseErr),
			)
		}
	}
	return order, err
}

// BuildOrder validates pairs, persists the order with all its line items in
// one transaction, then decrements stock once per line item. The decrement
// runs after the order is durable: if it fails, the order stays and the
// error wraps ErrStockNotDecremented.
func (s *OrderService) BuildOrder(ctx context.Context, actor domain.Account, pairs []domain.OrderPair) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.build")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", actor.ID),
		attribute.Int("order.pairs", len(pairs)),
	)

	if err := validatePairs(actor, pairs); err != nil {
		span.SetStatus(codes.Error, "invalid pairs")
		return nil, err
	}

	order := domain.Order{
		ID:        uuid.New().String(),
		AccountID: actor.ID,
		CreatedAt: time.Now().UTC(),
	}
	for _, p := range pairs {
		order.LineItems = append(order.LineItems, domain.LineItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			ItemID:    p.ItemID,
			Quantity:  p.Quantity,
			CreatedAt: order.CreatedAt,
		})
	}

	items, err := s.inventory.GetItems(ctx, order.ItemIDs())
	if err != nil {
		return nil, &domain.PersistenceError{Op: "resolve items", Err: err}
	}
	for _, id := range order.ItemIDs() {
		if _, ok := items[id]; !ok {
			span.SetStatus(codes.Error, "unknown item")
			return nil, &domain.NotFoundError{Entity: "inventory item", ID: id}
		}
	}

	if s.enforceStock {
		if err := checkStock(pairs, items); err != nil {
			return nil, err
		}
	}

	for _, li := range order.LineItems {
		if err := li.Validate(); err != nil {
			return nil, err
		}
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}
		span.SetStatus(codes.Error, "persist order")
		return nil, &domain.PersistenceError{Op: "create order", Err: err}
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	if err := s.decrementStock(ctx, order); err != nil {
		span.SetStatus(codes.Error, "decrement stock")
		return nil, err
	}

	s.publishPlaced(ctx, order, items)

	s.logger.Info("order built",
		zap.String("order_id", order.ID),
		zap.String("account_id", actor.ID),
		zap.Int("line_items", len(order.LineItems)),
	)
	return &order, nil
}

func validatePairs(actor domain.Account, pairs []domain.OrderPair) error {
	verr := domain.NewValidationError()
	if actor.ID == "" {
		verr.Add("account", "can't be blank")
	}
	if len(pairs) == 0 {
		verr.Add("pairs", "can't be blank")
	}
	for i, p := range pairs {
		if p.ItemID == "" {
			verr.Add(fmt.Sprintf("pairs[%d].item_id", i), "can't be blank")
		}
		switch {
		case p.Quantity <= 0:
			verr.Add(fmt.Sprintf("pairs[%d].quantity", i), "must be greater than 0")
		case p.Quantity > domain.MaxQuantity:
			verr.Add(fmt.Sprintf("pairs[%d].quantity", i), fmt.Sprintf("must be less than or equal to %d", domain.MaxQuantity))
		}
	}
	return verr.OrNil()
}

// checkStock compares each pair against what is left once the earlier pairs
// for the same item are accounted for.
func checkStock(pairs []domain.OrderPair, items map[string]domain.InventoryItem) error {
	verr := domain.NewValidationError()
	requested := make(map[string]int, len(items))
	for i, p := range pairs {
		requested[p.ItemID] += p.Quantity
		if requested[p.ItemID] > items[p.ItemID].Quantity {
			verr.Add(fmt.Sprintf("pairs[%d].quantity", i), "exceeds available stock")
		}
	}
	return verr.OrNil()
}

// decrementStock applies each line item's decrement once and keeps going
// past failures. Every failed line is logged for manual repair.
func (s *OrderService) decrementStock(ctx context.Context, order domain.Order) error {
	var errs []error
	for _, li := range order.LineItems {
		if err := li.DecrementProductQuantity(ctx, s.inventory); err != nil {
			s.logger.Error("stock decrement failed after order persisted",
				zap.String("order_id", order.ID),
				zap.String("line_item_id", li.ID),
				zap.String("item_id", li.ItemID),
				zap.Int("quantity", li.Quantity),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &domain.PersistenceError{
		Op:  "decrement stock for order " + order.ID,
		Err: fmt.Errorf("%w: %w", ErrStockNotDecremented, errors.Join(errs...)),
	}
}

func (s *OrderService) publishPlaced(ctx context.Context, order domain.Order, items map[string]domain.InventoryItem) {
	if s.events == nil {
		return
	}

	prices := make(map[string]decimal.Decimal, len(items))
	for id, item := range items {
		prices[id] = item.Price
	}

	event := domain.OrderPlacedEvent{
		OrderID:   order.ID,
		AccountID: order.AccountID,
		Total:     order.Total(prices),
		PlacedAt:  order.CreatedAt,
	}
	for _, li := range order.LineItems {
		event.Lines = append(event.Lines, domain.PlacedLine{ItemID: li.ItemID, Quantity: li.Quantity})
	}

	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Warn("failed to publish order placed event",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}

// View resolves the order's items at their current state and prices.
func (s *OrderService) View(ctx context.Context, order domain.Order) (*OrderView, error) {
	items, err := s.inventory.GetItems(ctx, order.ItemIDs())
	if err != nil {
		return nil, &domain.PersistenceError{Op: "resolve items", Err: err}
	}

	prices := make(map[string]decimal.Decimal, len(items))
	for id, item := range items {
		prices[id] = item.Price
	}
	return &OrderView{Order: order, Items: items, Total: order.Total(prices)}, nil
}

// Total is the order's total at the referenced items' current prices.
func (s *OrderService) Total(ctx context.Context, order domain.Order) (decimal.Decimal, error) {
	view, err := s.View(ctx, order)
	if err != nil {
		return decimal.Zero, err
	}
	return view.Total, nil
}

func (s *OrderService) GetOrder(ctx context.Context, actor domain.Account, id string) (*OrderView, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load order", Err: err}
	}
	if order == nil {
		return nil, &domain.NotFoundError{Entity: "order", ID: id}
	}
	if order.AccountID != actor.ID {
		return nil, &domain.ForbiddenError{AccountID: actor.ID, Entity: "order", ID: id}
	}
	return s.View(ctx, *order)
}

func (s *OrderService) ListOrders(ctx context.Context, actor domain.Account, page domain.Page) ([]OrderView, domain.Pagination, error) {
	page = page.Normalize()
	orders, total, err := s.orders.ListOrders(ctx, actor.ID, page)
	if err != nil {
		return nil, domain.Pagination{}, &domain.PersistenceError{Op: "list orders", Err: err}
	}

	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		view, err := s.View(ctx, o)
		if err != nil {
			return nil, domain.Pagination{}, err
		}
		views = append(views, *view)
	}
	return views, domain.NewPagination(page, total), nil
}
