package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("tenant_id", "123"),
		attribute.String("event_name", "work_order.closed"),
		attribute.String("event_id", "456"),
		attribute.String("status", "processed"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("event_name"), attrs[0].Key)
	assert.Equal(t, attribute.Key("status"), attrs[1].Key)
}

func TestRecordEventProcessed(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(Config{ServiceName: "workledger-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordEventProcessed(ctx, "work_order.closed", "processed")
	m.RecordEventProcessed(ctx, "work_order.closed", "processed")
	m.RecordEventProcessed(ctx, "work_order.closed", "failed")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != "workledger_outbox_events_processed_total" {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			assert.Len(t, sum.DataPoints, 2)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), total)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordEventPublished(context.Background(), "x")
	m.RecordCostTransaction(context.Background(), "labor", "created")
}
