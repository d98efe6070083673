package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/workledger/internal/clock"
	"github.com/smallbiznis/workledger/internal/config"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	tenantA = snowflake.ID(1001)
	tenantB = snowflake.ID(2002)
	t0      = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	cfg       config.Config
	publisher *Publisher
	registry  *Registry
	consumer  *Consumer
	retrier   *Retrier
	store     *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := testutil.OpenSQLite(t)
	clk := clock.NewFakeClock(t0)
	cfg := config.Config{
		WorkerID: "test-worker",
		Outbox: config.OutboxConfig{
			BatchSize:      10,
			DispatchLease:  time.Minute,
			MaxAttempts:    3,
			Retention:      24 * time.Hour,
			SweepBatchSize: 1,
		},
	}
	log := zap.NewNop()
	registry := NewRegistry()

	return &fixture{
		db:    conn,
		clock: clk,
		cfg:   cfg,
		publisher: NewPublisher(PublisherParams{
			Log: log, GenID: testutil.Node(t), Clock: clk, Config: cfg,
		}),
		registry: registry,
		consumer: NewConsumer(ConsumerParams{
			DB: conn, Log: log, Clock: clk, Config: cfg, Registry: registry,
		}),
		retrier: NewRetrier(RetrierParams{DB: conn, Log: log, Config: cfg}),
		store:   NewStore(conn),
	}
}

func (f *fixture) publish(t *testing.T, tenantID snowflake.ID, name, key string) *outboxdomain.OutboxEvent {
	t.Helper()
	var event *outboxdomain.OutboxEvent
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		event, err = f.publisher.Publish(context.Background(), tx, outboxdomain.PublishRequest{
			TenantID:       tenantID,
			EventName:      name,
			AggregateType:  "work_order",
			AggregateID:    "wo-1",
			Data:           map[string]any{"work_order_id": "wo-1"},
			IdempotencyKey: key,
		})
		return err
	})
	require.NoError(t, err)
	return event
}

func (f *fixture) reload(t *testing.T, event *outboxdomain.OutboxEvent) *outboxdomain.OutboxEvent {
	t.Helper()
	got, err := f.store.Get(context.Background(), event.TenantID, event.ID)
	require.NoError(t, err)
	return got
}

type countingHandler struct {
	calls int
	err   error
}

func (h *countingHandler) Handle(context.Context, *gorm.DB, *outboxdomain.OutboxEvent) error {
	h.calls++
	return h.err
}

type recordingExecutor struct {
	refs   []outboxdomain.EventRef
	accept bool
}

func (e *recordingExecutor) Submit(_ context.Context, ref outboxdomain.EventRef) bool {
	if !e.accept {
		return false
	}
	e.refs = append(e.refs, ref)
	return true
}
