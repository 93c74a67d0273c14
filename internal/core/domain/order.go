package domain

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// MaxQuantity bounds stock and line quantities; both are stored as INT.
const MaxQuantity = math.MaxInt32

var quantityTooLarge = "must be less than or equal to " + strconv.Itoa(MaxQuantity)

// OrderPair is one requested (item, quantity) entry of an order build.
type OrderPair struct {
	ItemID   string
	Quantity int
}

type Order struct {
	ID        string
	AccountID string
	LineItems []LineItem
	CreatedAt time.Time
}

// LineItem (placement) binds an order to an inventory item.
type LineItem struct {
	ID        string
	OrderID   string
	ItemID    string
	Quantity  int
	CreatedAt time.Time
}

// StockDecrementer applies a stock reduction to a single inventory item.
type StockDecrementer interface {
	DecrementQuantity(ctx context.Context, itemID string, by int) error
}

func (li LineItem) Validate() error {
	verr := NewValidationError()
	if li.OrderID == "" {
		verr.Add("order_id", "can't be blank")
	}
	if li.ItemID == "" {
		verr.Add("product_id", "can't be blank")
	}
	if li.Quantity <= 0 {
		verr.Add("quantity", "must be greater than 0")
	} else if li.Quantity > MaxQuantity {
		verr.Add("quantity", quantityTooLarge)
	}
	return verr.OrNil()
}

// DecrementProductQuantity subtracts the line item's quantity from the
// referenced item's stock. It is not idempotent: each call decrements again.
func (li LineItem) DecrementProductQuantity(ctx context.Context, stock StockDecrementer) error {
	if err := stock.DecrementQuantity(ctx, li.ItemID, li.Quantity); err != nil {
		return fmt.Errorf("decrement item %s by %d: %w", li.ItemID, li.Quantity, err)
	}
	return nil
}

// ItemIDs returns the distinct item ids referenced by the order, in line order.
func (o Order) ItemIDs() []string {
	seen := make(map[string]struct{}, len(o.LineItems))
	ids := make([]string, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		if _, ok := seen[li.ItemID]; ok {
			continue
		}
		seen[li.ItemID] = struct{}{}
		ids = append(ids, li.ItemID)
	}
	return ids
}

// Total sums quantity x price over the line items using the prices given,
// which are the items' current prices rather than a snapshot taken at order
// time. Lines whose item is missing from prices contribute nothing.
func (o Order) Total(prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		price, ok := prices[li.ItemID]
		if !ok {
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(li.Quantity))))
	}
	return total
}

// OrderPlacedEvent is published after an order is persisted and stock decremented.
type OrderPlacedEvent struct {
	OrderID   string          `json:"order_id"`
	AccountID string          `json:"account_id"`
	Total     decimal.Decimal `json:"total"`
	Lines     []PlacedLine    `json:"lines"`
	PlacedAt  time.Time       `json:"placed_at"`
}

type PlacedLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}
