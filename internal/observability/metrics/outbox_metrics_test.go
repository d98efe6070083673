package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOutboxMetricsRecordHandler(t *testing.T) {
	m := newOutboxMetrics(prometheus.NewRegistry(), Config{Environment: "test"})

	m.RecordHandler("work_order.closed", HandlerOutcomeSuccess, 10*time.Millisecond)
	m.RecordHandler("work_order.closed", HandlerOutcomeRetry, 10*time.Millisecond)
	m.RecordHandler("", HandlerOutcomeFailed, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.handlerErrors.WithLabelValues("work_order.closed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.handlerErrors.WithLabelValues("unknown")))
}

func TestOutboxMetricsRecordDispatchBatch(t *testing.T) {
	m := newOutboxMetrics(prometheus.NewRegistry(), Config{})

	m.RecordDispatchBatch("ok", 5, 0, time.Millisecond)
	m.RecordDispatchBatch("ok", 2, 1, time.Millisecond)
	m.AddSwept(4)
	m.AddSwept(-1)

	assert.Equal(t, float64(7), testutil.ToFloat64(m.dispatchedEvents))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rejectedEvents))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.dispatchBatches.WithLabelValues("ok")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.sweptEvents))
}

func TestNilOutboxMetricsIsSafe(t *testing.T) {
	var m *OutboxMetrics
	m.RecordDispatchBatch("ok", 1, 1, time.Second)
	m.RecordHandler("x", HandlerOutcomeFailed, time.Second)
	m.AddRetried(1)
}
