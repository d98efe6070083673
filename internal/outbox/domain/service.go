package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/workledger/pkg/db/pagination"
	"gorm.io/gorm"
)

// PublishRequest describes one event to append to the outbox.
type PublishRequest struct {
	TenantID      snowflake.ID
	EventName     string
	AggregateType string
	AggregateID   string
	Data          any
	// IdempotencyKey is optional; uniqueness is enforced per tenant.
	IdempotencyKey string
	// OccurredAt defaults to the publisher clock.
	OccurredAt  time.Time
	MaxAttempts int
}

// Publisher writes events on the caller's transaction so they commit with the mutation.
type Publisher interface {
	Publish(ctx context.Context, tx *gorm.DB, req PublishRequest) (*OutboxEvent, error)
	PublishIdempotent(ctx context.Context, tx *gorm.DB, req PublishRequest) (*OutboxEvent, bool, error)
}

// Handler applies one event. It runs inside the consumer's transaction and
// must be idempotent: a pending event can be delivered many times.
type Handler interface {
	Handle(ctx context.Context, tx *gorm.DB, event *OutboxEvent) error
}

type HandlerFunc func(ctx context.Context, tx *gorm.DB, event *OutboxEvent) error

func (f HandlerFunc) Handle(ctx context.Context, tx *gorm.DB, event *OutboxEvent) error {
	return f(ctx, tx, event)
}

// EventRef identifies one event for scheduling.
type EventRef struct {
	TenantID snowflake.ID
	EventID  snowflake.ID
}

// Executor accepts dispatched events. Submit returns false when the event was not taken.
type Executor interface {
	Submit(ctx context.Context, ref EventRef) bool
}

type Dispatcher interface {
	DispatchPending(ctx context.Context, batchSize int, tenantID *snowflake.ID) (int, error)
	RecoverExpiredLeases(ctx context.Context) (int64, error)
}

type Consumer interface {
	ProcessEvent(ctx context.Context, tenantID, eventID snowflake.ID) error
}

type RetryFilter struct {
	TenantID  *snowflake.ID
	EventName string
	Limit     int
}

type Retrier interface {
	RetryEvent(ctx context.Context, tenantID, eventID snowflake.ID) (*OutboxEvent, error)
	RetryFailedEvents(ctx context.Context, filter RetryFilter) (int64, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type ListFilter struct {
	TenantID  *snowflake.ID
	Status    EventStatus
	EventName string
	Page      pagination.Pagination
}

// Store is the read side used by operators.
type Store interface {
	Get(ctx context.Context, tenantID, eventID snowflake.ID) (*OutboxEvent, error)
	List(ctx context.Context, filter ListFilter) ([]*OutboxEvent, pagination.PageInfo, error)
	CountByStatus(ctx context.Context, tenantID *snowflake.ID) (map[EventStatus]int64, error)
}
