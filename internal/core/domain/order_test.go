package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStock struct {
	calls map[string]int
	err   error
}

func (r *recordingStock) DecrementQuantity(ctx context.Context, itemID string, by int) error {
	if r.err != nil {
		return r.err
	}
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[itemID] += by
	return nil
}

func TestOrderTotal(t *testing.T) {
	order := Order{LineItems: []LineItem{
		{ItemID: "a", Quantity: 2},
		{ItemID: "b", Quantity: 3},
		{ItemID: "gone", Quantity: 7},
	}}
	prices := map[string]decimal.Decimal{
		"a": decimal.RequireFromString("10.00"),
		"b": decimal.RequireFromString("20.00"),
	}

	assert.Equal(t, "80.00", order.Total(prices).StringFixed(2))
	assert.True(t, Order{}.Total(prices).IsZero())
}

func TestOrderTotal_NoFloatDrift(t *testing.T) {
	order := Order{LineItems: []LineItem{{ItemID: "a", Quantity: 3}}}
	total := order.Total(map[string]decimal.Decimal{"a": decimal.RequireFromString("0.10")})
	assert.True(t, total.Equal(decimal.RequireFromString("0.30")))
}

func TestOrderItemIDs(t *testing.T) {
	order := Order{LineItems: []LineItem{{ItemID: "b"}, {ItemID: "a"}, {ItemID: "b"}}}
	assert.Equal(t, []string{"b", "a"}, order.ItemIDs())
}

func TestLineItemValidate(t *testing.T) {
	assert.NoError(t, LineItem{OrderID: "o", ItemID: "i", Quantity: 1}.Validate())

	err := LineItem{Quantity: 0}.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "order_id")
	assert.Contains(t, verr.Fields, "product_id")
	assert.Contains(t, verr.Fields, "quantity")

	err = LineItem{OrderID: "o", ItemID: "i", Quantity: MaxQuantity + 1}.Validate()
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"must be less than or equal to 2147483647"}, verr.Fields["quantity"])
}

func TestDecrementProductQuantity(t *testing.T) {
	stock := &recordingStock{}
	li := LineItem{ItemID: "a", Quantity: 4}

	require.NoError(t, li.DecrementProductQuantity(context.Background(), stock))
	require.NoError(t, li.DecrementProductQuantity(context.Background(), stock))
	assert.Equal(t, 8, stock.calls["a"], "each call decrements again")

	failing := &recordingStock{err: errors.New("locked")}
	err := li.DecrementProductQuantity(context.Background(), failing)
	assert.ErrorContains(t, err, "decrement item a by 4")
}
