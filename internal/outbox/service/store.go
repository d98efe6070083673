package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/pkg/db/option"
	"github.com/smallbiznis/workledger/pkg/db/pagination"
	"github.com/smallbiznis/workledger/pkg/repository"
	"gorm.io/gorm"
)

type Store struct {
	db   *gorm.DB
	repo repository.Repository[outboxdomain.OutboxEvent]
}

func NewStore(conn *gorm.DB) *Store {
	return &Store{
		db:   conn,
		repo: repository.ProvideStore[outboxdomain.OutboxEvent](conn),
	}
}

func (s *Store) Get(ctx context.Context, tenantID, eventID snowflake.ID) (*outboxdomain.OutboxEvent, error) {
	if tenantID == 0 {
		return nil, outboxdomain.ErrInvalidTenant
	}
	if eventID == 0 {
		return nil, outboxdomain.ErrInvalidEventID
	}
	event, err := s.repo.FindOne(ctx, &outboxdomain.OutboxEvent{TenantID: tenantID, ID: eventID})
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, outboxdomain.ErrEventNotFound
	}
	return event, nil
}

// List pages newest first using the event id as cursor.
func (s *Store) List(ctx context.Context, filter outboxdomain.ListFilter) ([]*outboxdomain.OutboxEvent, pagination.PageInfo, error) {
	query := &outboxdomain.OutboxEvent{
		Status:    filter.Status,
		EventName: strings.TrimSpace(filter.EventName),
	}
	if filter.TenantID != nil {
		query.TenantID = *filter.TenantID
	}

	limit := filter.Page.Limit()
	opts := []option.QueryOption{
		option.WithOrder("id DESC"),
		option.WithLimit(limit + 1),
	}

	cursor, err := pagination.DecodeCursor(filter.Page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	if cursor != nil && cursor.ID != "" {
		before, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, pagination.PageInfo{}, fmt.Errorf("invalid page token: %w", err)
		}
		opts = append(opts, option.WithWhere("id < ?", before))
	}

	items, err := s.repo.Find(ctx, query, opts...)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return pagination.Trim(items, limit, func(e *outboxdomain.OutboxEvent) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.String()}
	})
}

type statusCount struct {
	Status outboxdomain.EventStatus
	Total  int64
}

func (s *Store) CountByStatus(ctx context.Context, tenantID *snowflake.ID) (map[outboxdomain.EventStatus]int64, error) {
	q := s.db.WithContext(ctx).Model(&outboxdomain.OutboxEvent{})
	if tenantID != nil {
		q = q.Where("tenant_id = ?", *tenantID)
	}

	var rows []statusCount
	if err := q.Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := map[outboxdomain.EventStatus]int64{
		outboxdomain.StatusPending:   0,
		outboxdomain.StatusProcessed: 0,
		outboxdomain.StatusFailed:    0,
	}
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func loadForUpdate(tx *gorm.DB, tenantID, eventID snowflake.ID, lock func(*gorm.DB) *gorm.DB) (*outboxdomain.OutboxEvent, error) {
	var event outboxdomain.OutboxEvent
	err := lock(tx).
		Where("tenant_id = ? AND id = ?", tenantID, eventID).
		Take(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, outboxdomain.ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}
