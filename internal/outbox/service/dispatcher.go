package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/workledger/internal/clock"
	"github.com/smallbiznis/workledger/internal/config"
	obsmetrics "github.com/smallbiznis/workledger/internal/observability/metrics"
	"github.com/smallbiznis/workledger/internal/observability/tracing"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/pkg/db"
	"github.com/smallbiznis/workledger/pkg/rls"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultDispatchBatch = 100

var ErrNoExecutor = errors.New("outbox_executor_unavailable")

type DispatcherParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Executor outboxdomain.Executor
}

// Dispatcher claims pending events with a short lease and hands them to the
// executor. A live lease keeps other dispatchers off the row; an expired one
// makes it claimable again after a crash.
type Dispatcher struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	executor     outboxdomain.Executor
	batchSize    int
	lease        time.Duration
	retryBackoff time.Duration
	rlsEnabled   bool
	metrics      *obsmetrics.OutboxMetrics
	tracer       trace.Tracer
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	batch := p.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultDispatchBatch
	}
	lease := p.Config.Outbox.DispatchLease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &Dispatcher{
		db:           p.DB,
		log:          p.Log.Named("outbox.dispatcher"),
		clock:        c,
		executor:     p.Executor,
		batchSize:    batch,
		lease:        lease,
		retryBackoff: p.Config.Outbox.RetryBackoff,
		rlsEnabled:   p.Config.DBRLSEnabled,
		metrics:      obsmetrics.Outbox(),
		tracer:       otel.Tracer(tracerName),
	}
}

// DispatchPending returns how many events the executor accepted.
func (d *Dispatcher) DispatchPending(ctx context.Context, batchSize int, tenantID *snowflake.ID) (int, error) {
	if d.executor == nil {
		return 0, ErrNoExecutor
	}
	if batchSize <= 0 {
		batchSize = d.batchSize
	}

	ctx, span := d.tracer.Start(ctx, "outbox.dispatch_pending")
	defer span.End()
	started := time.Now()

	// mysql datetime(3) keeps milliseconds
	now := d.clock.Now().UTC().Truncate(time.Millisecond)
	refs, err := d.claim(ctx, batchSize, tenantID, now)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "claim")
		d.metrics.RecordDispatchBatch("error", 0, 0, time.Since(started))
		return 0, err
	}

	var rejected []snowflake.ID
	for _, ref := range refs {
		if !d.executor.Submit(ctx, ref) {
			rejected = append(rejected, ref.EventID)
		}
	}
	if len(rejected) > 0 {
		if err := d.release(ctx, rejected); err != nil {
			d.log.Warn("failed to release rejected outbox leases", zap.Int("count", len(rejected)), zap.Error(err))
		}
	}

	accepted := len(refs) - len(rejected)
	span.SetAttributes(
		attribute.Int("outbox.claimed", len(refs)),
		attribute.Int("outbox.rejected", len(rejected)),
	)
	status := "ok"
	if len(refs) == 0 {
		status = "empty"
	}
	d.metrics.RecordDispatchBatch(status, accepted, len(rejected), time.Since(started))
	if len(refs) > 0 {
		d.log.Debug("outbox events dispatched",
			zap.Int("claimed", len(refs)),
			zap.Int("accepted", accepted),
			zap.Int("rejected", len(rejected)),
		)
	}
	return accepted, nil
}

func (d *Dispatcher) claim(ctx context.Context, limit int, tenantID *snowflake.ID, now time.Time) ([]outboxdomain.EventRef, error) {
	var refs []outboxdomain.EventRef
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tenantID != nil {
			if err := rls.Apply(tx, d.rlsEnabled, *tenantID); err != nil {
				return err
			}
		}

		q := db.ForUpdateSkipLocked(tx.Model(&outboxdomain.OutboxEvent{})).
			Select("id", "tenant_id").
			Where("status = ?", outboxdomain.StatusPending).
			Where("dispatched_at IS NULL OR dispatched_at <= ?", now.Add(-d.lease))
		if d.retryBackoff > 0 {
			q = q.Where("last_attempt_at IS NULL OR last_attempt_at <= ?", now.Add(-d.retryBackoff))
		}
		if tenantID != nil {
			q = q.Where("tenant_id = ?", *tenantID)
		}

		var rows []outboxdomain.OutboxEvent
		if err := q.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
			return fmt.Errorf("select pending outbox events: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
			refs = append(refs, outboxdomain.EventRef{TenantID: row.TenantID, EventID: row.ID})
		}
		return tx.Model(&outboxdomain.OutboxEvent{}).
			Where("id IN ?", ids).
			Update("dispatched_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// release clears the leases of refused events. The live lease keeps other
// dispatchers off these rows, so id and status identify them regardless of
// how precisely the column stores the lease time.
func (d *Dispatcher) release(ctx context.Context, ids []snowflake.ID) error {
	return d.db.WithContext(ctx).
		Model(&outboxdomain.OutboxEvent{}).
		Where("id IN ? AND status = ? AND dispatched_at IS NOT NULL", ids, outboxdomain.StatusPending).
		Update("dispatched_at", nil).Error
}

// RecoverExpiredLeases clears leases that outlived the lease window, so a
// crashed worker's rows show as plain pending again.
func (d *Dispatcher) RecoverExpiredLeases(ctx context.Context) (int64, error) {
	cutoff := d.clock.Now().UTC().Add(-d.lease)
	res := d.db.WithContext(ctx).
		Model(&outboxdomain.OutboxEvent{}).
		Where("status = ? AND dispatched_at IS NOT NULL AND dispatched_at <= ?", outboxdomain.StatusPending, cutoff).
		Update("dispatched_at", nil)
	if res.Error != nil {
		return 0, fmt.Errorf("recover outbox leases: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		d.log.Info("expired outbox leases recovered", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
