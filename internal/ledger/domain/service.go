package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AdjustRequest corrects an existing transaction by appending a signed delta.
type AdjustRequest struct {
	TenantID              snowflake.ID
	OriginalTransactionID snowflake.ID
	AdjustmentType        AdjustmentType
	Delta                 decimal.Decimal
	Reason                string
	OccurredAt            time.Time
	IdempotencyKey        string
	CreatedBy             string
}

type BalanceFilter struct {
	CostCenterID    *snowflake.ID
	Category        string
	TransactionType TransactionType
	WorkOrderID     string
	From            time.Time
	To              time.Time
}

// Service is the ledger store. Methods taking a tx run on it; a nil tx means
// the service opens its own transaction.
type Service interface {
	GetOrCreateIdempotent(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, key string, defaults CostTransaction) (*CostTransaction, bool, error)
	Get(ctx context.Context, tenantID, id snowflake.ID) (*CostTransaction, error)
	ListByWorkOrder(ctx context.Context, tenantID snowflake.ID, workOrderID string) ([]CostTransaction, error)
	Update(ctx context.Context, tenantID snowflake.ID, txn *CostTransaction) error
	Lock(ctx context.Context, tenantID, id snowflake.ID, by string) (*CostTransaction, error)
	LockPeriod(ctx context.Context, tenantID snowflake.ID, year int, month time.Month, by string) (int64, error)
	Adjust(ctx context.Context, tx *gorm.DB, req AdjustRequest) (*CostTransaction, *LedgerAdjustment, error)
	ListAdjustments(ctx context.Context, tenantID, originalID snowflake.ID) ([]*LedgerAdjustment, error)
	Balance(ctx context.Context, tenantID snowflake.ID, filter BalanceFilter) (decimal.Decimal, error)
}
