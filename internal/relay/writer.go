package relay

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/workledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MessageWriter is the part of kafka.Writer the relay needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns nil when no brokers are configured or relaying is switched off.
func NewWriter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) MessageWriter {
	log = log.Named("relay.kafka")
	brokers := make([]string, 0, len(cfg.KafkaBrokers))
	for _, b := range cfg.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 || !cfg.Outbox.RelayCostEntries {
		log.Info("kafka relay disabled")
		return nil
	}

	topic := strings.TrimSpace(cfg.KafkaCostTopic)
	if topic == "" {
		topic = "cost.entry_posted"
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return w.Close()
			},
		})
	}
	log.Info("kafka relay enabled", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return w
}
