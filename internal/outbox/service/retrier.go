package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/workledger/internal/config"
	obsmetrics "github.com/smallbiznis/workledger/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/pkg/db"
	"github.com/smallbiznis/workledger/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultRetryLimit = 1000

type RetrierParams struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
}

// Retrier is the operator path back to pending.
type Retrier struct {
	db         *gorm.DB
	log        *zap.Logger
	rlsEnabled bool
	metrics    *obsmetrics.OutboxMetrics
}

func NewRetrier(p RetrierParams) *Retrier {
	return &Retrier{
		db:         p.DB,
		log:        p.Log.Named("outbox.retrier"),
		rlsEnabled: p.Config.DBRLSEnabled,
		metrics:    obsmetrics.Outbox(),
	}
}

func resetValues() map[string]any {
	return map[string]any{
		"status":          outboxdomain.StatusPending,
		"attempts":        0,
		"last_error":      nil,
		"last_attempt_at": nil,
		"dispatched_at":   nil,
	}
}

func (r *Retrier) RetryEvent(ctx context.Context, tenantID, eventID snowflake.ID) (*outboxdomain.OutboxEvent, error) {
	if tenantID == 0 {
		return nil, outboxdomain.ErrInvalidTenant
	}
	if eventID == 0 {
		return nil, outboxdomain.ErrInvalidEventID
	}

	var event *outboxdomain.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.Apply(tx, r.rlsEnabled, tenantID); err != nil {
			return err
		}
		current, err := loadForUpdate(tx, tenantID, eventID, db.ForUpdate)
		if err != nil {
			return err
		}
		if current.Status == outboxdomain.StatusProcessed {
			return outboxdomain.ErrEventAlreadyProcessed
		}
		if err := tx.Model(&outboxdomain.OutboxEvent{}).
			Where("tenant_id = ? AND id = ?", tenantID, eventID).
			Updates(resetValues()).Error; err != nil {
			return fmt.Errorf("reset outbox event: %w", err)
		}
		event, err = loadForUpdate(tx, tenantID, eventID, func(q *gorm.DB) *gorm.DB { return q })
		return err
	})
	if err != nil {
		if !errors.Is(err, outboxdomain.ErrEventNotFound) && !errors.Is(err, outboxdomain.ErrEventAlreadyProcessed) {
			r.log.Error("retry outbox event failed", zap.String("event_id", eventID.String()), zap.Error(err))
		}
		return nil, err
	}

	r.metrics.AddRetried(1)
	r.log.Info("outbox event reset to pending",
		zap.String("tenant_id", tenantID.String()),
		zap.String("event_id", eventID.String()),
		zap.String("event_name", event.EventName),
	)
	return event, nil
}

// RetryFailedEvents resets failed events, oldest first, up to filter.Limit.
func (r *Retrier) RetryFailedEvents(ctx context.Context, filter outboxdomain.RetryFilter) (int64, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRetryLimit
	}

	var reset int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := db.ForUpdateSkipLocked(tx.Model(&outboxdomain.OutboxEvent{})).
			Select("id").
			Where("status = ?", outboxdomain.StatusFailed)
		if filter.TenantID != nil {
			if err := rls.Apply(tx, r.rlsEnabled, *filter.TenantID); err != nil {
				return err
			}
			q = q.Where("tenant_id = ?", *filter.TenantID)
		}
		if name := strings.TrimSpace(filter.EventName); name != "" {
			q = q.Where("event_name = ?", name)
		}

		var ids []snowflake.ID
		if err := q.Order("created_at ASC").Order("id ASC").Limit(limit).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("select failed outbox events: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		res := tx.Model(&outboxdomain.OutboxEvent{}).
			Where("id IN ? AND status = ?", ids, outboxdomain.StatusFailed).
			Updates(resetValues())
		if res.Error != nil {
			return fmt.Errorf("reset failed outbox events: %w", res.Error)
		}
		reset = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.metrics.AddRetried(reset)
	if reset > 0 {
		r.log.Info("failed outbox events reset to pending",
			zap.Int64("count", reset),
			zap.String("event_name", filter.EventName),
		)
	}
	return reset, nil
}
