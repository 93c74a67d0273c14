package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem is a catalog entry. Quantity is only mutated by line-item
// decrement once the item exists, and may go negative (no floor).
type InventoryItem struct {
	ID        string
	AccountID string
	Title     string
	Price     decimal.Decimal
	Quantity  int
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PriceScale is the number of decimal places a price may carry; storage keeps
// prices as DECIMAL(12,2).
const PriceScale = 2

var maxPrice = decimal.New(1, 10)

// ItemFilter narrows an item listing. An empty IDs slice matches every item.
type ItemFilter struct {
	IDs []string
}

// ItemAttributes is the whitelisted input for create/update. Nil fields are
// left untouched on update. Price stays a raw string so malformed input can be
// reported per field instead of failing at decode time.
type ItemAttributes struct {
	Title     *string
	Price     *string
	Quantity  *int
	Published *bool
}

// ApplyUpdate is Apply without Quantity: once an item exists its stock only
// moves through line-item decrement.
func (a ItemAttributes) ApplyUpdate(item InventoryItem) (InventoryItem, error) {
	a.Quantity = nil
	return a.Apply(item)
}

// Apply validates attrs against item and returns the updated copy. item is
// never modified, so a failed update leaves the caller's value intact.
func (a ItemAttributes) Apply(item InventoryItem) (InventoryItem, error) {
	verr := NewValidationError()
	out := item

	if a.Title != nil {
		out.Title = strings.TrimSpace(*a.Title)
	}
	if out.Title == "" {
		verr.Add("title", "can't be blank")
	}

	if a.Price != nil {
		price, err := decimal.NewFromString(strings.TrimSpace(*a.Price))
		switch {
		case err != nil:
			verr.Add("price", "is not a number")
		case !price.Equal(price.Truncate(PriceScale)):
			verr.Add("price", "is invalid")
		case price.GreaterThanOrEqual(maxPrice):
			verr.Add("price", "must be less than "+maxPrice.String())
		default:
			out.Price = price
		}
	}
	if _, bad := verr.Fields["price"]; !bad && !out.Price.IsPositive() {
		verr.Add("price", "must be greater than 0")
	}

	if a.Quantity != nil {
		out.Quantity = *a.Quantity
		if out.Quantity < 0 {
			verr.Add("quantity", "must be greater than or equal to 0")
		} else if out.Quantity > MaxQuantity {
			verr.Add("quantity", quantityTooLarge)
		}
	}

	if a.Published != nil {
		out.Published = *a.Published
	}

	if err := verr.OrNil(); err != nil {
		return item, err
	}
	return out, nil
}
