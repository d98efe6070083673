package service

import (
	"context"
	"testing"

	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreListPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.publish(t, tenantA, "work_order.closed", "").ID.String())
	}
	f.publish(t, tenantB, "work_order.closed", "")
	ctx := context.Background()

	page1, info, err := f.store.List(ctx, outboxdomain.ListFilter{
		TenantID: &tenantA,
		Page:     pagination.Pagination{PageSize: 3},
	})
	require.NoError(t, err)
	require.Len(t, page1, 3)
	assert.True(t, info.HasMore)
	assert.Equal(t, ids[4], page1[0].ID.String())

	page2, info, err := f.store.List(ctx, outboxdomain.ListFilter{
		TenantID: &tenantA,
		Page:     pagination.Pagination{PageSize: 3, PageToken: info.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.False(t, info.HasMore)
	assert.Equal(t, ids[0], page2[1].ID.String())

	_, _, err = f.store.List(ctx, outboxdomain.ListFilter{Page: pagination.Pagination{PageToken: "%%%"}})
	assert.Error(t, err)
}

func TestStoreCountByStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register("work_order.closed", &countingHandler{}))
	done := f.publish(t, tenantA, "work_order.closed", "")
	require.NoError(t, f.consumer.ProcessEvent(context.Background(), tenantA, done.ID))
	f.publish(t, tenantA, "work_order.closed", "")
	f.publish(t, tenantB, "work_order.closed", "")

	counts, err := f.store.CountByStatus(context.Background(), &tenantA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[outboxdomain.StatusProcessed])
	assert.Equal(t, int64(1), counts[outboxdomain.StatusPending])
	assert.Zero(t, counts[outboxdomain.StatusFailed])

	all, err := f.store.CountByStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all[outboxdomain.StatusPending])
}

func TestStoreGetValidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Get(context.Background(), 0, 1)
	assert.ErrorIs(t, err, outboxdomain.ErrInvalidTenant)
	_, err = f.store.Get(context.Background(), tenantA, 0)
	assert.ErrorIs(t, err, outboxdomain.ErrInvalidEventID)
}
