package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	HandlerOutcomeSuccess = "success"
	HandlerOutcomeRetry   = "retry"
	HandlerOutcomeFailed  = "failed"
)

// OutboxMetrics tracks dispatcher and consumer throughput.
type OutboxMetrics struct {
	dispatchBatches  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchedEvents prometheus.Counter
	rejectedEvents   prometheus.Counter
	handlerDuration  *prometheus.HistogramVec
	handlerErrors    *prometheus.CounterVec
	sweptEvents      prometheus.Counter
	retriedEvents    prometheus.Counter
}

var (
	outboxMetricsOnce sync.Once
	outboxMetrics     *OutboxMetrics
)

// Outbox returns the singleton outbox metrics registry.
func Outbox() *OutboxMetrics {
	return OutboxWithConfig(Config{})
}

func OutboxWithConfig(cfg Config) *OutboxMetrics {
	outboxMetricsOnce.Do(func() {
		outboxMetrics = newOutboxMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return outboxMetrics
}

// ResetOutboxMetricsForTest swaps the singleton for one bound to registerer.
func ResetOutboxMetricsForTest(registerer prometheus.Registerer) *OutboxMetrics {
	outboxMetricsOnce = sync.Once{}
	outboxMetrics = nil
	outboxMetricsOnce.Do(func() {
		outboxMetrics = newOutboxMetrics(registerer, Config{Environment: "test"})
	})
	return outboxMetrics
}

func newOutboxMetrics(registerer prometheus.Registerer, cfg Config) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	dispatchBatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "workledger_outbox_dispatch_batches_total",
		Help:        "Dispatcher batches by status.",
		ConstLabels: constLabels,
	}, []string{"status"})
	dispatchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "workledger_outbox_dispatch_duration_seconds",
		Help:        "Dispatcher batch durations.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabels,
	}, []string{"status"})
	dispatchedEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "workledger_outbox_dispatched_events_total",
		Help:        "Events handed to the worker pool.",
		ConstLabels: constLabels,
	})
	rejectedEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "workledger_outbox_rejected_events_total",
		Help:        "Events the worker pool refused because its queue was full.",
		ConstLabels: constLabels,
	})
	handlerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "workledger_outbox_handler_duration_seconds",
		Help:        "Event handler durations by event name and outcome.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabels,
	}, []string{"event_name", "outcome"})
	handlerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "workledger_outbox_handler_errors_total",
		Help:        "Event handler errors by event name.",
		ConstLabels: constLabels,
	}, []string{"event_name"})
	sweptEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "workledger_outbox_swept_events_total",
		Help:        "Terminal events removed by the retention sweep.",
		ConstLabels: constLabels,
	})
	retriedEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "workledger_outbox_retried_events_total",
		Help:        "Events reset to pending by an operator.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		dispatchBatches,
		dispatchDuration,
		dispatchedEvents,
		rejectedEvents,
		handlerDuration,
		handlerErrors,
		sweptEvents,
		retriedEvents,
	)

	return &OutboxMetrics{
		dispatchBatches:  dispatchBatches,
		dispatchDuration: dispatchDuration,
		dispatchedEvents: dispatchedEvents,
		rejectedEvents:   rejectedEvents,
		handlerDuration:  handlerDuration,
		handlerErrors:    handlerErrors,
		sweptEvents:      sweptEvents,
		retriedEvents:    retriedEvents,
	}
}

// RecordDispatchBatch registers one dispatcher pass.
func (m *OutboxMetrics) RecordDispatchBatch(status string, dispatched, rejected int, duration time.Duration) {
	if m == nil {
		return
	}
	status = sanitizeLabel(status)
	m.dispatchBatches.WithLabelValues(status).Inc()
	m.dispatchDuration.WithLabelValues(status).Observe(duration.Seconds())
	if dispatched > 0 {
		m.dispatchedEvents.Add(float64(dispatched))
	}
	if rejected > 0 {
		m.rejectedEvents.Add(float64(rejected))
	}
}

// RecordHandler observes handler invocations.
func (m *OutboxMetrics) RecordHandler(eventName, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	eventName = sanitizeLabel(eventName)
	m.handlerDuration.WithLabelValues(eventName, sanitizeLabel(outcome)).Observe(duration.Seconds())
	if outcome != HandlerOutcomeSuccess {
		m.handlerErrors.WithLabelValues(eventName).Inc()
	}
}

func (m *OutboxMetrics) AddSwept(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.sweptEvents.Add(float64(count))
}

func (m *OutboxMetrics) AddRetried(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.retriedEvents.Add(float64(count))
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
