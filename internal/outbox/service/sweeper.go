package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/workledger/internal/clock"
	"github.com/smallbiznis/workledger/internal/config"
	"github.com/smallbiznis/workledger/internal/lock"
	obsmetrics "github.com/smallbiznis/workledger/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sweepLockKey          = "outbox:sweep"
	defaultSweepBatchSize = 500
	defaultSweepLockTTL   = 5 * time.Minute
)

type SweeperParams struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
	Locker *lock.Locker `optional:"true"`
}

// Sweeper deletes processed and failed events past the retention window.
// Pending rows are never touched.
type Sweeper struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	locker    *lock.Locker
	retention time.Duration
	batchSize int
	lockTTL   time.Duration
	metrics   *obsmetrics.OutboxMetrics
}

func NewSweeper(p SweeperParams) *Sweeper {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	batch := p.Config.Outbox.SweepBatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	ttl := p.Config.Outbox.SweepLockTTL
	if ttl <= 0 {
		ttl = defaultSweepLockTTL
	}
	return &Sweeper{
		db:        p.DB,
		log:       p.Log.Named("outbox.sweeper"),
		clock:     c,
		locker:    p.Locker,
		retention: p.Config.Outbox.Retention,
		batchSize: batch,
		lockTTL:   ttl,
		metrics:   obsmetrics.Outbox(),
	}
}

// Sweep returns the number of rows deleted. Only one process sweeps at a
// time when a redis locker is configured.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		s.log.Debug("outbox sweep skipped, lock held elsewhere")
		return 0, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
			s.log.Warn("failed to release sweep lock", zap.Error(err))
		}
	}()

	cutoff := s.clock.Now().Add(-s.retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.sweepBatch(ctx, cutoff)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(s.batchSize) {
			break
		}
	}

	s.metrics.AddSwept(total)
	if total > 0 {
		s.log.Info("outbox events swept", zap.Int64("deleted", total), zap.Time("cutoff", cutoff))
	}
	return total, nil
}

func (s *Sweeper) sweepBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&outboxdomain.OutboxEvent{}).
		Where("status IN ?", []outboxdomain.EventStatus{outboxdomain.StatusProcessed, outboxdomain.StatusFailed}).
		Where("created_at < ?", cutoff).
		Order("id ASC").
		Limit(s.batchSize).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("select sweepable outbox events: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("status <> ?", outboxdomain.StatusPending).
		Delete(&outboxdomain.OutboxEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete outbox events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
