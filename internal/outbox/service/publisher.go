package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/workledger/internal/clock"
	"github.com/smallbiznis/workledger/internal/config"
	obsmetrics "github.com/smallbiznis/workledger/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PublisherParams struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Publisher struct {
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	maxAttempts int
	obsMetrics  *obsmetrics.Metrics
}

func NewPublisher(p PublisherParams) *Publisher {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	return &Publisher{
		log:         p.Log.Named("outbox.publisher"),
		genID:       p.GenID,
		clock:       c,
		maxAttempts: p.Config.Outbox.MaxAttempts,
		obsMetrics:  p.ObsMetrics,
	}
}

// Publish appends an event on tx. A colliding idempotency key fails with
// ErrDuplicateIdempotencyKey and leaves tx usable.
func (p *Publisher) Publish(ctx context.Context, tx *gorm.DB, req outboxdomain.PublishRequest) (*outboxdomain.OutboxEvent, error) {
	event, err := p.build(req)
	if err != nil {
		return nil, err
	}

	err = tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return sp.Create(event).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) && event.IdempotencyKey != nil {
			return nil, fmt.Errorf("%w: %s", outboxdomain.ErrDuplicateIdempotencyKey, *event.IdempotencyKey)
		}
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}

	p.published(ctx, event, true)
	return event, nil
}

// PublishIdempotent inserts the event unless one with the same key exists,
// in which case the stored row is returned untouched with created=false.
func (p *Publisher) PublishIdempotent(ctx context.Context, tx *gorm.DB, req outboxdomain.PublishRequest) (*outboxdomain.OutboxEvent, bool, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		event, err := p.Publish(ctx, tx, req)
		return event, err == nil, err
	}

	event, err := p.build(req)
	if err != nil {
		return nil, false, err
	}

	res := tx.WithContext(ctx).Clauses(db.InsertIfAbsent()).Create(event)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert outbox event: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		p.published(ctx, event, true)
		return event, true, nil
	}

	var existing outboxdomain.OutboxEvent
	err = tx.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", event.TenantID, *event.IdempotencyKey).
		Take(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// a concurrent writer holds the key but has not committed
			return nil, false, fmt.Errorf("%w: %s", outboxdomain.ErrDuplicateIdempotencyKey, *event.IdempotencyKey)
		}
		return nil, false, fmt.Errorf("load outbox event by key: %w", err)
	}
	p.published(ctx, &existing, false)
	return &existing, false, nil
}

func (p *Publisher) build(req outboxdomain.PublishRequest) (*outboxdomain.OutboxEvent, error) {
	if req.TenantID == 0 {
		return nil, outboxdomain.ErrInvalidTenant
	}
	name := strings.TrimSpace(req.EventName)
	if name == "" {
		return nil, outboxdomain.ErrInvalidEventName
	}
	aggType := strings.TrimSpace(req.AggregateType)
	aggID := strings.TrimSpace(req.AggregateID)
	if aggType == "" || aggID == "" {
		return nil, outboxdomain.ErrInvalidAggregate
	}

	data, err := encodeData(req.Data)
	if err != nil {
		return nil, err
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = p.clock.Now()
	}
	occurredAt = occurredAt.UTC()

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.maxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = outboxdomain.DefaultMaxAttempts
	}

	id := p.genID.Generate()
	payload, err := json.Marshal(outboxdomain.Envelope{
		EventID:    id,
		TenantID:   req.TenantID,
		EventName:  name,
		OccurredAt: occurredAt,
		Aggregate:  outboxdomain.Aggregate{Type: aggType, ID: aggID},
		Data:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	event := &outboxdomain.OutboxEvent{
		ID:            id,
		TenantID:      req.TenantID,
		EventName:     name,
		AggregateType: aggType,
		AggregateID:   aggID,
		OccurredAt:    occurredAt,
		Payload:       payload,
		Status:        outboxdomain.StatusPending,
		MaxAttempts:   maxAttempts,
		CreatedAt:     p.clock.Now().UTC(),
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		event.IdempotencyKey = &key
	}
	return event, nil
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, outboxdomain.ErrEmptyEventData
	case json.RawMessage:
		if len(v) == 0 {
			return nil, outboxdomain.ErrEmptyEventData
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return nil, outboxdomain.ErrEmptyEventData
		}
		return json.RawMessage(v), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	if string(raw) == "null" {
		return nil, outboxdomain.ErrEmptyEventData
	}
	return raw, nil
}

func (p *Publisher) published(ctx context.Context, event *outboxdomain.OutboxEvent, created bool) {
	p.log.Debug("outbox event published",
		zap.String("tenant_id", event.TenantID.String()),
		zap.String("event_id", event.ID.String()),
		zap.String("event_name", event.EventName),
		zap.Bool("created", created),
	)
	if created && p.obsMetrics != nil {
		p.obsMetrics.RecordEventPublished(ctx, event.EventName)
	}
}
