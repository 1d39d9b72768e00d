package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsHighCardinalityLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("event_family", "invoice"),
		attribute.String("event_id", "evt_123"),
		attribute.String("customer_id", "cus_123"),
		attribute.String("outcome", OutcomeSuccess),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("event_family"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestRecordersAreNilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordWebhook(ctx, OutcomeSuccess)
		m.RecordEvent(ctx, "charge", OutcomeFailure)
		m.RecordRemoteCall(ctx, "retrieve_charge", errors.New("boom"), time.Millisecond)
		m.RecordReconciliation(ctx, "invoice_sync", nil)
		m.RecordNotification(ctx, "charge.succeeded")
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordEvent(context.Background(), "transfer", OutcomeSuccess)
	})
}
