package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("kind", "async_push"),
		attribute.String("gateway_id", "S1"),
		attribute.String("outcome", "applied"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("kind"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordNotification(context.Background(), "async_push", "applied", "")
		m.RecordGatewayRequest(context.Background(), "stop_lineitem_recurring", 200)
		m.RecordFulfillment(context.Background(), "published")
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordNotification(context.Background(), "sync_return", "duplicate", "")
	})
}
