package relay

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	obscontext "github.com/smallbiznis/workledger/internal/observability/context"
	obslogger "github.com/smallbiznis/workledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/workledger/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	HeaderEventID        = "x-event-id"
	HeaderTenantID       = "x-tenant-id"
	HeaderEventName      = "x-event-name"
	HeaderIdempotencyKey = "x-idempotency-key"
	HeaderCorrelationID  = "x-correlation-id"
	HeaderTraceID        = "x-trace-id"
	HeaderSpanID         = "x-span-id"

	outcomeSent     = "sent"
	outcomeDisabled = "disabled"
	outcomeError    = "error"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Writer     MessageWriter       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Relay forwards stored envelopes to Kafka. Delivery is at least once: a
// failed commit after a successful write redelivers the message, and
// consumers dedupe on x-event-id.
type Relay struct {
	writer     MessageWriter
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Relay {
	return &Relay{
		writer:     p.Writer,
		log:        p.Log.Named("relay"),
		obsMetrics: p.ObsMetrics,
	}
}

func (r *Relay) Enabled() bool { return r != nil && r.writer != nil }

func (r *Relay) Handle(ctx context.Context, _ *gorm.DB, event *outboxdomain.OutboxEvent) error {
	log := obslogger.WithContext(ctx, r.log).With(zap.String("event_name", event.EventName))
	if !r.Enabled() {
		log.Debug("relay disabled, event acknowledged without forwarding")
		r.obsMetrics.RecordRelayMessage(ctx, event.EventName, outcomeDisabled)
		return nil
	}

	msg := Message(ctx, event)
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.obsMetrics.RecordRelayMessage(ctx, event.EventName, outcomeError)
		return fmt.Errorf("relay %s: %w", event.EventName, err)
	}
	r.obsMetrics.RecordRelayMessage(ctx, event.EventName, outcomeSent)
	log.Debug("event relayed", zap.String("message_key", string(msg.Key)))
	return nil
}

// Message builds the broker record for event. The key keeps one aggregate on
// one partition.
func Message(ctx context.Context, event *outboxdomain.OutboxEvent) kafka.Message {
	correlationID := obscontext.RequestIDFromContext(ctx)
	if correlationID == "" {
		_, correlationID = correlation.EnsureCorrelationID(ctx)
	}
	headers := []kafka.Header{
		{Key: HeaderEventID, Value: []byte(event.ID.String())},
		{Key: HeaderTenantID, Value: []byte(event.TenantID.String())},
		{Key: HeaderEventName, Value: []byte(event.EventName)},
		{Key: HeaderCorrelationID, Value: []byte(correlationID)},
	}
	trace := correlation.Headers(ctx)
	if id := trace[correlation.HeaderTraceID]; id != "" {
		headers = append(headers,
			kafka.Header{Key: HeaderTraceID, Value: []byte(id)},
			kafka.Header{Key: HeaderSpanID, Value: []byte(trace[correlation.HeaderSpanID])},
		)
	}
	if event.IdempotencyKey != nil {
		headers = append(headers, kafka.Header{Key: HeaderIdempotencyKey, Value: []byte(*event.IdempotencyKey)})
	}
	return kafka.Message{
		Key:     []byte(event.TenantID.String() + ":" + event.AggregateID),
		Value:   []byte(event.Payload),
		Headers: headers,
		Time:    event.OccurredAt,
	}
}
