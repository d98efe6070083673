package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"gorm.io/gorm"
)

// RateCard resolves a labor role to the hourly rate effective on a date.
type RateCard interface {
	HourlyRate(role string, on time.Time) (decimal.Decimal, bool)
}

// CostCenterResolver maps the upstream cost center reference to a ledger cost
// center. A nil id means the tenant has none configured.
type CostCenterResolver interface {
	Resolve(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, ref string) (*snowflake.ID, error)
}

type TransactionResult struct {
	ID              snowflake.ID    `json:"id"`
	TransactionType string          `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Created         bool            `json:"created"`
}

type Result struct {
	Success             bool                `json:"success"`
	TransactionsCreated int                 `json:"transactions_created"`
	Skipped             int                 `json:"skipped"`
	EventsPublished     int                 `json:"events_published"`
	Transactions        []TransactionResult `json:"transactions"`
}

type Service interface {
	outboxdomain.Handler
	ProcessWorkOrderClosed(ctx context.Context, tenantID snowflake.ID, data WorkOrderClosed) (Result, error)
}
