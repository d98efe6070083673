package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/workledger/internal/config"
	obscontext "github.com/smallbiznis/workledger/internal/observability/context"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func postedEvent() *outboxdomain.OutboxEvent {
	key := "cost:77:posted"
	return &outboxdomain.OutboxEvent{
		ID:             12345,
		TenantID:       9,
		EventName:      "cost.entry_posted",
		AggregateType:  "cost_transaction",
		AggregateID:    "77",
		OccurredAt:     time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC),
		Payload:        datatypes.JSON(`{"event_id":"12345","data":{"amount":"10"}}`),
		IdempotencyKey: &key,
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestRelayForwardsEnvelope(t *testing.T) {
	w := &fakeWriter{}
	r := New(Params{Log: zap.NewNop(), Writer: w})
	ctx := obscontext.WithRequestID(context.Background(), "req-1")

	require.NoError(t, r.Handle(ctx, nil, postedEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "9:77", string(msg.Key))
	assert.JSONEq(t, `{"event_id":"12345","data":{"amount":"10"}}`, string(msg.Value))
	assert.Equal(t, "12345", header(msg, HeaderEventID))
	assert.Equal(t, "9", header(msg, HeaderTenantID))
	assert.Equal(t, "cost.entry_posted", header(msg, HeaderEventName))
	assert.Equal(t, "cost:77:posted", header(msg, HeaderIdempotencyKey))
	assert.Equal(t, "req-1", header(msg, HeaderCorrelationID))
	assert.True(t, msg.Time.Equal(postedEvent().OccurredAt))
}

func TestRelayGeneratesCorrelationID(t *testing.T) {
	event := postedEvent()
	event.IdempotencyKey = nil

	msg := Message(context.Background(), event)
	assert.Len(t, header(msg, HeaderCorrelationID), 26)
	assert.Empty(t, header(msg, HeaderIdempotencyKey))
}

func TestRelayCarriesCorrelationAndTrace(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	ctx := correlation.ContextWithCorrelationID(context.Background(), "corr-9")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	msg := Message(ctx, postedEvent())
	assert.Equal(t, "corr-9", header(msg, HeaderCorrelationID))
	assert.Equal(t, traceID.String(), header(msg, HeaderTraceID))
	assert.Equal(t, spanID.String(), header(msg, HeaderSpanID))

	plain := Message(context.Background(), postedEvent())
	assert.Empty(t, header(plain, HeaderTraceID))
}

func TestRelayWriteErrorIsRetryable(t *testing.T) {
	boom := errors.New("broker unavailable")
	r := New(Params{Log: zap.NewNop(), Writer: &fakeWriter{err: boom}})

	err := r.Handle(context.Background(), nil, postedEvent())
	require.ErrorIs(t, err, boom)
	assert.False(t, outboxdomain.IsPermanent(err))
}

func TestRelayDisabledAcknowledges(t *testing.T) {
	r := New(Params{Log: zap.NewNop()})
	assert.False(t, r.Enabled())
	assert.NoError(t, r.Handle(context.Background(), nil, postedEvent()))
}

func TestNewWriter(t *testing.T) {
	log := zap.NewNop()

	assert.Nil(t, NewWriter(nil, config.Config{}, log))
	assert.Nil(t, NewWriter(nil, config.Config{
		KafkaBrokers: []string{"localhost:9092"},
		Outbox:       config.OutboxConfig{RelayCostEntries: false},
	}, log))

	w := NewWriter(nil, config.Config{
		KafkaBrokers: []string{" localhost:9092 ", ""},
		Outbox:       config.OutboxConfig{RelayCostEntries: true},
	}, log)
	require.NotNil(t, w)
	kw, ok := w.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "cost.entry_posted", kw.Topic)
	assert.NoError(t, w.Close())
}
