package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rl1809/storefront/internal/core/domain"
)

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestBuildOrder_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	f := newFixture(t, false)
	f.svc.tracer = tp.Tracer("test")
	f.seedItem(t, "A", "3.00", 2)

	order, err := f.svc.BuildOrder(context.Background(), f.account, []domain.OrderPair{{ItemID: "A", Quantity: 1}})
	require.NoError(t, err)

	_, err = f.svc.BuildOrder(context.Background(), f.account, nil)
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "order.build", spans[0].Name())
	id, ok := spanAttr(spans[0], "order.id")
	require.True(t, ok)
	assert.Equal(t, order.ID, id.AsString())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
