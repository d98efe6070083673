package service

import (
	"context"
	"encoding/json"
	"testing"

	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestPublishBuildsEnvelope(t *testing.T) {
	f := newFixture(t)
	event := f.publish(t, tenantA, "work_order.closed", "")

	assert.Equal(t, outboxdomain.StatusPending, event.Status)
	assert.Equal(t, 3, event.MaxAttempts)
	assert.Nil(t, event.IdempotencyKey)

	stored := f.reload(t, event)
	env, err := stored.Envelope()
	require.NoError(t, err)
	assert.Equal(t, event.ID, env.EventID)
	assert.Equal(t, tenantA, env.TenantID)
	assert.Equal(t, "work_order.closed", env.EventName)
	assert.Equal(t, outboxdomain.Aggregate{Type: "work_order", ID: "wo-1"}, env.Aggregate)
	assert.True(t, env.OccurredAt.Equal(t0))

	var data map[string]string
	require.NoError(t, stored.DecodeData(&data))
	assert.Equal(t, "wo-1", data["work_order_id"])
}

func TestPublishValidatesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  outboxdomain.PublishRequest
		want error
	}{
		{"tenant", outboxdomain.PublishRequest{EventName: "x", AggregateType: "a", AggregateID: "1", Data: 1}, outboxdomain.ErrInvalidTenant},
		{"name", outboxdomain.PublishRequest{TenantID: tenantA, EventName: " ", AggregateType: "a", AggregateID: "1", Data: 1}, outboxdomain.ErrInvalidEventName},
		{"aggregate", outboxdomain.PublishRequest{TenantID: tenantA, EventName: "x", AggregateID: "1", Data: 1}, outboxdomain.ErrInvalidAggregate},
		{"data", outboxdomain.PublishRequest{TenantID: tenantA, EventName: "x", AggregateType: "a", AggregateID: "1"}, outboxdomain.ErrEmptyEventData},
		{"raw data", outboxdomain.PublishRequest{TenantID: tenantA, EventName: "x", AggregateType: "a", AggregateID: "1", Data: json.RawMessage{}}, outboxdomain.ErrEmptyEventData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.publisher.Publish(ctx, f.db, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPublishDuplicateKeyKeepsTransactionUsable(t *testing.T) {
	f := newFixture(t)
	first := f.publish(t, tenantA, "work_order.closed", "wo:1:closed")

	var second *outboxdomain.OutboxEvent
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.publisher.Publish(context.Background(), tx, outboxdomain.PublishRequest{
			TenantID: tenantA, EventName: "work_order.closed", AggregateType: "work_order", AggregateID: "wo-1",
			Data: map[string]any{"n": 2}, IdempotencyKey: "wo:1:closed",
		})
		require.ErrorIs(t, err, outboxdomain.ErrDuplicateIdempotencyKey)

		second, err = f.publisher.Publish(context.Background(), tx, outboxdomain.PublishRequest{
			TenantID: tenantA, EventName: "work_order.closed", AggregateType: "work_order", AggregateID: "wo-2",
			Data: map[string]any{"n": 3},
		})
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)

	counts, err := f.store.CountByStatus(context.Background(), &tenantA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[outboxdomain.StatusPending])
}

func TestPublishIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := outboxdomain.PublishRequest{
		TenantID: tenantA, EventName: "cost.entry_posted", AggregateType: "cost_transaction", AggregateID: "42",
		Data: map[string]any{"amount": "10.00"}, IdempotencyKey: "cost:42:posted",
	}

	created, ok, err := f.publisher.PublishIdempotent(ctx, f.db, req)
	require.NoError(t, err)
	assert.True(t, ok)

	req.Data = map[string]any{"amount": "99.00"}
	again, ok, err := f.publisher.PublishIdempotent(ctx, f.db, req)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, created.ID, again.ID)

	var data map[string]string
	require.NoError(t, again.DecodeData(&data))
	assert.Equal(t, "10.00", data["amount"])

	// keys are scoped per tenant
	req.TenantID = tenantB
	other, ok, err := f.publisher.PublishIdempotent(ctx, f.db, req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, created.ID, other.ID)
}

func TestPublishIdempotentWithoutKeyAlwaysCreates(t *testing.T) {
	f := newFixture(t)
	req := outboxdomain.PublishRequest{
		TenantID: tenantA, EventName: "x", AggregateType: "a", AggregateID: "1", Data: map[string]int{"n": 1},
	}
	a, created, err := f.publisher.PublishIdempotent(context.Background(), f.db, req)
	require.NoError(t, err)
	assert.True(t, created)
	b, created, err := f.publisher.PublishIdempotent(context.Background(), f.db, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestPublishRollsBackWithCaller(t *testing.T) {
	f := newFixture(t)
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.publisher.Publish(context.Background(), tx, outboxdomain.PublishRequest{
			TenantID: tenantA, EventName: "x", AggregateType: "a", AggregateID: "1", Data: map[string]int{"n": 1},
		})
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	counts, err := f.store.CountByStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, counts[outboxdomain.StatusPending])
}
