package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/workledger/internal/clock"
	"github.com/smallbiznis/workledger/internal/config"
	ledgerdomain "github.com/smallbiznis/workledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/workledger/internal/observability/metrics"
	"github.com/smallbiznis/workledger/pkg/db"
	"github.com/smallbiznis/workledger/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outcomeCreated  = "created"
	outcomeReplayed = "replayed"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	defaultCurrency string
	rlsEnabled      bool
	obsMetrics      *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("ledger.service"),
		genID:           p.GenID,
		clock:           c,
		defaultCurrency: strings.ToUpper(strings.TrimSpace(p.Config.Ledger.DefaultCurrency)),
		rlsEnabled:      p.Config.DBRLSEnabled,
		obsMetrics:      p.ObsMetrics,
	}
}

// inTx runs fn on tx when the caller supplied one, otherwise in a fresh
// tenant-scoped transaction.
func (s *Service) inTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx.WithContext(ctx))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.Apply(tx, s.rlsEnabled, tenantID); err != nil {
			return err
		}
		return fn(tx)
	})
}

// GetOrCreateIdempotent returns the row stored under key, inserting defaults
// when there is none. Replays are answered even inside a locked period.
func (s *Service) GetOrCreateIdempotent(
	ctx context.Context,
	tx *gorm.DB,
	tenantID snowflake.ID,
	key string,
	defaults ledgerdomain.CostTransaction,
) (*ledgerdomain.CostTransaction, bool, error) {
	if tenantID == 0 {
		return nil, false, ledgerdomain.ErrInvalidTenant
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, ledgerdomain.ErrInvalidIdempotencyKey
	}
	row, err := s.normalize(tenantID, defaults)
	if err != nil {
		return nil, false, err
	}
	row.IdempotencyKey = &key

	var (
		out     *ledgerdomain.CostTransaction
		created bool
	)
	err = s.inTx(ctx, tx, tenantID, func(tx *gorm.DB) error {
		existing, err := findByKey(tx, tenantID, key)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		if err := ensurePeriodOpen(tx, tenantID, row.OccurredAt); err != nil {
			return err
		}
		out, created, err = insertIfAbsent(tx, row)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	outcome := outcomeReplayed
	if created {
		outcome = outcomeCreated
	}
	s.obsMetrics.RecordCostTransaction(ctx, string(out.TransactionType), outcome)
	s.log.Debug("cost transaction resolved",
		zap.String("tenant_id", tenantID.String()),
		zap.String("transaction_id", out.ID.String()),
		zap.String("idempotency_key", key),
		zap.Bool("created", created),
	)
	return out, created, nil
}

func (s *Service) normalize(tenantID snowflake.ID, in ledgerdomain.CostTransaction) (*ledgerdomain.CostTransaction, error) {
	category, err := validateProtected(in)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return nil, ledgerdomain.ErrInvalidCurrency
	}

	row := in
	row.ID = s.genID.Generate()
	row.TenantID = tenantID
	row.Category = category
	row.Amount = in.Amount.Round(2)
	row.Currency = currency
	row.OccurredAt = in.OccurredAt.UTC()
	row.IsLocked = false
	row.LockedAt = nil
	row.LockedBy = nil
	row.CreatedAt = s.clock.Now().UTC()
	return &row, nil
}

// validateProtected checks the fields a lock freezes and returns the
// normalized category.
func validateProtected(in ledgerdomain.CostTransaction) (string, error) {
	if !in.TransactionType.Valid() {
		return "", ledgerdomain.ErrInvalidTransactionType
	}
	category := slug.Make(strings.TrimSpace(in.Category))
	if category == "" {
		return "", ledgerdomain.ErrInvalidCategory
	}
	if in.TransactionType != ledgerdomain.TransactionTypeAdjustment && in.Amount.IsNegative() {
		return "", ledgerdomain.ErrInvalidAmount
	}
	if in.OccurredAt.IsZero() {
		return "", ledgerdomain.ErrInvalidOccurredAt
	}
	return category, nil
}

func findByKey(tx *gorm.DB, tenantID snowflake.ID, key string) (*ledgerdomain.CostTransaction, error) {
	var row ledgerdomain.CostTransaction
	err := tx.Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// insertIfAbsent is the single conditional insert. A concurrent writer that
// won the key race leaves RowsAffected at zero and its row is returned.
func insertIfAbsent(tx *gorm.DB, row *ledgerdomain.CostTransaction) (*ledgerdomain.CostTransaction, bool, error) {
	res := tx.Clauses(db.InsertIfAbsent()).Create(row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert cost transaction: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return row, true, nil
	}
	existing, err := findByKey(tx, row.TenantID, *row.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("%w: %s held by an uncommitted writer", ledgerdomain.ErrInvalidIdempotencyKey, *row.IdempotencyKey)
	}
	return existing, false, nil
}

func ensurePeriodOpen(tx *gorm.DB, tenantID snowflake.ID, occurredAt time.Time) error {
	var count int64
	err := tx.Model(&ledgerdomain.LedgerPeriodLock{}).
		Where("tenant_id = ? AND period = ?", tenantID, ledgerdomain.Period(occurredAt)).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ledgerdomain.ErrPeriodLocked, ledgerdomain.Period(occurredAt))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, tenantID, id snowflake.ID) (*ledgerdomain.CostTransaction, error) {
	if tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	var row ledgerdomain.CostTransaction
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *Service) ListByWorkOrder(ctx context.Context, tenantID snowflake.ID, workOrderID string) ([]ledgerdomain.CostTransaction, error) {
	if tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	var rows []ledgerdomain.CostTransaction
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND work_order_id = ?", tenantID, strings.TrimSpace(workOrderID)).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func loadForUpdate(tx *gorm.DB, tenantID, id snowflake.ID) (*ledgerdomain.CostTransaction, error) {
	var row ledgerdomain.CostTransaction
	err := db.ForUpdate(tx).Where("tenant_id = ? AND id = ?", tenantID, id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &row, nil
}

// Update saves editable fields. On a locked row only description, meta and
// the asset and work order references may change.
func (s *Service) Update(ctx context.Context, tenantID snowflake.ID, txn *ledgerdomain.CostTransaction) error {
	if tenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	if txn == nil || txn.ID == 0 {
		return ledgerdomain.ErrTransactionNotFound
	}

	err := s.inTx(ctx, nil, tenantID, func(tx *gorm.DB) error {
		current, err := loadForUpdate(tx, tenantID, txn.ID)
		if err != nil {
			return err
		}
		if current.IsLocked && (!txn.IsLocked || !current.ProtectedFieldsEqual(txn)) {
			return ledgerdomain.ErrLockViolation
		}
		category, err := validateProtected(*txn)
		if err != nil {
			return err
		}
		if !current.IsLocked && !txn.OccurredAt.Equal(current.OccurredAt) {
			if err := ensurePeriodOpen(tx, tenantID, txn.OccurredAt); err != nil {
				return err
			}
		}

		values := map[string]any{
			"description":   txn.Description,
			"meta":          txn.Meta,
			"asset_id":      txn.AssetID,
			"work_order_id": txn.WorkOrderID,
		}
		if !current.IsLocked {
			values["amount"] = txn.Amount.Round(2)
			values["transaction_type"] = txn.TransactionType
			values["category"] = category
			values["cost_center_id"] = txn.CostCenterID
			values["occurred_at"] = txn.OccurredAt.UTC()
		}
		return tx.Model(&ledgerdomain.CostTransaction{}).
			Where("tenant_id = ? AND id = ?", tenantID, txn.ID).
			Updates(values).Error
	})
	return mapWriteErr(err)
}

// Lock freezes the protected fields. Locking a locked row is a no-op.
func (s *Service) Lock(ctx context.Context, tenantID, id snowflake.ID, by string) (*ledgerdomain.CostTransaction, error) {
	if tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	by = strings.TrimSpace(by)

	var out *ledgerdomain.CostTransaction
	err := s.inTx(ctx, nil, tenantID, func(tx *gorm.DB) error {
		current, err := loadForUpdate(tx, tenantID, id)
		if err != nil {
			return err
		}
		if current.IsLocked {
			out = current
			return nil
		}

		now := s.clock.Now().UTC()
		if err := tx.Model(&ledgerdomain.CostTransaction{}).
			Where("tenant_id = ? AND id = ?", tenantID, id).
			Updates(map[string]any{
				"is_locked": true,
				"locked_at": now,
				"locked_by": nullableString(by),
			}).Error; err != nil {
			return err
		}
		current.IsLocked = true
		current.LockedAt = &now
		current.LockedBy = nullableString(by)
		out = current
		return nil
	})
	if err != nil {
		return nil, mapWriteErr(err)
	}
	s.log.Info("cost transaction locked",
		zap.String("tenant_id", tenantID.String()),
		zap.String("transaction_id", id.String()),
		zap.String("locked_by", by),
	)
	return out, nil
}

// LockPeriod closes a month: it records the period lock and locks every row
// dated inside it. It returns how many rows were newly locked.
func (s *Service) LockPeriod(ctx context.Context, tenantID snowflake.ID, year int, month time.Month, by string) (int64, error) {
	if tenantID == 0 {
		return 0, ledgerdomain.ErrInvalidTenant
	}
	start, end, err := ledgerdomain.PeriodBounds(year, month)
	if err != nil {
		return 0, err
	}
	by = strings.TrimSpace(by)
	if by == "" {
		by = "system"
	}

	var locked int64
	err = s.inTx(ctx, nil, tenantID, func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ledgerdomain.LedgerPeriodLock{
			TenantID: tenantID,
			Period:   ledgerdomain.Period(start),
			LockedAt: now,
			LockedBy: by,
		}).Error; err != nil {
			return err
		}

		res := tx.Model(&ledgerdomain.CostTransaction{}).
			Where("tenant_id = ? AND is_locked = ?", tenantID, false).
			Where("occurred_at >= ? AND occurred_at < ?", start, end).
			Updates(map[string]any{
				"is_locked": true,
				"locked_at": now,
				"locked_by": by,
			})
		if res.Error != nil {
			return res.Error
		}
		locked = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, mapWriteErr(err)
	}
	s.log.Info("ledger period locked",
		zap.String("tenant_id", tenantID.String()),
		zap.String("period", ledgerdomain.Period(start)),
		zap.Int64("transactions_locked", locked),
	)
	return locked, nil
}

// Adjust appends a signed correction and links it to the original row.
func (s *Service) Adjust(ctx context.Context, tx *gorm.DB, req ledgerdomain.AdjustRequest) (*ledgerdomain.CostTransaction, *ledgerdomain.LedgerAdjustment, error) {
	if req.TenantID == 0 {
		return nil, nil, ledgerdomain.ErrInvalidTenant
	}
	if req.OriginalTransactionID == 0 {
		return nil, nil, ledgerdomain.ErrTransactionNotFound
	}
	if !req.AdjustmentType.Valid() {
		return nil, nil, ledgerdomain.ErrInvalidAdjustmentType
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" || req.Delta.Round(2).IsZero() {
		return nil, nil, ledgerdomain.ErrInvalidAdjustment
	}
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock.Now()
	}
	key := strings.TrimSpace(req.IdempotencyKey)

	var (
		row     *ledgerdomain.CostTransaction
		link    *ledgerdomain.LedgerAdjustment
		created bool
	)
	err := s.inTx(ctx, tx, req.TenantID, func(tx *gorm.DB) error {
		if key != "" {
			existing, err := findByKey(tx, req.TenantID, key)
			if err != nil {
				return err
			}
			if existing != nil {
				row = existing
				link, err = findLink(tx, req.TenantID, existing.ID)
				return err
			}
		}

		var original ledgerdomain.CostTransaction
		err := tx.Where("tenant_id = ? AND id = ?", req.TenantID, req.OriginalTransactionID).Take(&original).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledgerdomain.ErrTransactionNotFound
			}
			return err
		}

		candidate, err := s.normalize(req.TenantID, ledgerdomain.CostTransaction{
			TransactionType: ledgerdomain.TransactionTypeAdjustment,
			Category:        original.Category,
			Amount:          req.Delta,
			Currency:        original.Currency,
			OccurredAt:      occurredAt,
			CostCenterID:    original.CostCenterID,
			AssetID:         original.AssetID,
			WorkOrderID:     original.WorkOrderID,
			Description:     reason,
			Meta: ledgerdomain.NewMeta(ledgerdomain.AdjustmentDetail{
				OriginalTransactionID: original.ID,
				AdjustmentType:        req.AdjustmentType,
				Reason:                reason,
			}),
			CreatedBy: nullableString(req.CreatedBy),
		})
		if err != nil {
			return err
		}
		if err := ensurePeriodOpen(tx, req.TenantID, candidate.OccurredAt); err != nil {
			return err
		}

		if key != "" {
			candidate.IdempotencyKey = &key
			row, created, err = insertIfAbsent(tx, candidate)
			if err != nil {
				return err
			}
			if !created {
				link, err = findLink(tx, req.TenantID, row.ID)
				return err
			}
		} else {
			if err := tx.Create(candidate).Error; err != nil {
				return fmt.Errorf("insert adjustment: %w", err)
			}
			row, created = candidate, true
		}

		link = &ledgerdomain.LedgerAdjustment{
			ID:                      s.genID.Generate(),
			TenantID:                req.TenantID,
			OriginalTransactionID:   original.ID,
			AdjustmentTransactionID: row.ID,
			AdjustmentType:          req.AdjustmentType,
			Reason:                  reason,
			CreatedBy:               nullableString(req.CreatedBy),
			CreatedAt:               row.CreatedAt,
		}
		return tx.Create(link).Error
	})
	if err != nil {
		return nil, nil, mapWriteErr(err)
	}

	outcome := outcomeReplayed
	if created {
		outcome = outcomeCreated
	}
	s.obsMetrics.RecordCostTransaction(ctx, string(ledgerdomain.TransactionTypeAdjustment), outcome)
	if created {
		s.log.Info("ledger adjustment recorded",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("original_transaction_id", req.OriginalTransactionID.String()),
			zap.String("adjustment_transaction_id", row.ID.String()),
			zap.String("adjustment_type", string(req.AdjustmentType)),
			zap.String("delta", row.Amount.StringFixed(2)),
		)
	}
	return row, link, nil
}

func findLink(tx *gorm.DB, tenantID, adjustmentTxID snowflake.ID) (*ledgerdomain.LedgerAdjustment, error) {
	var link ledgerdomain.LedgerAdjustment
	err := tx.Where("tenant_id = ? AND adjustment_transaction_id = ?", tenantID, adjustmentTxID).Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

func (s *Service) ListAdjustments(ctx context.Context, tenantID, originalID snowflake.ID) ([]*ledgerdomain.LedgerAdjustment, error) {
	if tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	var links []*ledgerdomain.LedgerAdjustment
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND original_transaction_id = ?", tenantID, originalID).
		Order("created_at ASC").Order("id ASC").
		Find(&links).Error
	return links, err
}

// Balance sums amounts, adjustments included.
func (s *Service) Balance(ctx context.Context, tenantID snowflake.ID, filter ledgerdomain.BalanceFilter) (decimal.Decimal, error) {
	if tenantID == 0 {
		return decimal.Zero, ledgerdomain.ErrInvalidTenant
	}

	q := s.db.WithContext(ctx).Model(&ledgerdomain.CostTransaction{}).Where("tenant_id = ?", tenantID)
	if filter.CostCenterID != nil {
		q = q.Where("cost_center_id = ?", *filter.CostCenterID)
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		q = q.Where("category = ?", slug.Make(category))
	}
	if filter.TransactionType != "" {
		q = q.Where("transaction_type = ?", filter.TransactionType)
	}
	if wo := strings.TrimSpace(filter.WorkOrderID); wo != "" {
		q = q.Where("work_order_id = ?", wo)
	}
	if !filter.From.IsZero() {
		q = q.Where("occurred_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("occurred_at < ?", filter.To.UTC())
	}

	var total decimal.NullDecimal
	if err := q.Select("SUM(amount)").Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal.Round(2), nil
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if msg, ok := db.RaisedException(err); ok && msg == ledgerdomain.ErrLockViolation.Error() {
		return ledgerdomain.ErrLockViolation
	}
	return err
}

func nullableString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
