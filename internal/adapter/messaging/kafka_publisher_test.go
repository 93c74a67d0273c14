package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/storefront/internal/core/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testEvent() domain.OrderPlacedEvent {
	return domain.OrderPlacedEvent{
		OrderID:   "order-1",
		AccountID: "acc-1",
		Total:     decimal.RequireFromString("80.00"),
		Lines:     []domain.PlacedLine{{ItemID: "a", Quantity: 2}, {ItemID: "b", Quantity: 3}},
		PlacedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestKafkaPublisher_PublishOrderPlaced(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, zap.NewNop())

	require.NoError(t, p.PublishOrderPlaced(context.Background(), testEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "acc-1", string(msg.Key))
	assert.Equal(t, []kafka.Header{
		{Key: "event_type", Value: []byte("order.placed")},
		{Key: "order_id", Value: []byte("order-1")},
	}, msg.Headers)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "order-1", decoded["order_id"])
	assert.Equal(t, "80", decoded["total"])
	assert.Len(t, decoded["lines"], 2)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisher(w, zap.NewNop())

	err := p.PublishOrderPlaced(context.Background(), testEvent())
	assert.ErrorContains(t, err, "broker down")
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewKafkaPublisher(w, zap.NewNop()).Close())
	assert.True(t, w.closed)
}

func TestLogPublisher_PublishOrderPlaced(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.PublishOrderPlaced(context.Background(), testEvent()))
	require.NoError(t, p.Close())

	entries := logs.FilterMessage("order placed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "order-1", fields["order_id"])
	assert.Equal(t, "80.00", fields["total"])
	assert.Equal(t, int64(2), fields["lines"])
}
