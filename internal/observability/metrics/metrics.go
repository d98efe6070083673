package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	eventsPublished  metric.Int64Counter
	eventsProcessed  metric.Int64Counter
	costTransactions metric.Int64Counter
	relayMessages    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "workledger"
	}
	meter := provider.Meter(name)

	eventsPublished, err := meter.Int64Counter("workledger_outbox_events_published_total")
	if err != nil {
		return nil, err
	}
	eventsProcessed, err := meter.Int64Counter("workledger_outbox_events_processed_total")
	if err != nil {
		return nil, err
	}
	costTransactions, err := meter.Int64Counter("workledger_cost_transactions_total")
	if err != nil {
		return nil, err
	}
	relayMessages, err := meter.Int64Counter("workledger_relay_messages_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsPublished:  eventsPublished,
		eventsProcessed:  eventsProcessed,
		costTransactions: costTransactions,
		relayMessages:    relayMessages,
	}, nil
}

// RecordEventPublished counts events written to the outbox.
func (m *Metrics) RecordEventPublished(ctx context.Context, eventName string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_name", strings.TrimSpace(eventName)))
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventProcessed counts consumer outcomes, status being the resulting row status.
func (m *Metrics) RecordEventProcessed(ctx context.Context, eventName, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_name", strings.TrimSpace(eventName)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.eventsProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCostTransaction counts ledger rows by type and whether they were created or replayed.
func (m *Metrics) RecordCostTransaction(ctx context.Context, transactionType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("transaction_type", strings.TrimSpace(transactionType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.costTransactions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRelayMessage counts messages handed to the broker.
func (m *Metrics) RecordRelayMessage(ctx context.Context, eventName, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_name", strings.TrimSpace(eventName)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.relayMessages.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_name":       {},
	"status":           {},
	"transaction_type": {},
	"reason":           {},
	"job":              {},
	"outcome":          {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
