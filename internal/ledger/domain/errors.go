package domain

import "errors"

var (
	ErrInvalidTenant          = errors.New("invalid_tenant")
	ErrInvalidIdempotencyKey  = errors.New("invalid_idempotency_key")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrInvalidCategory        = errors.New("invalid_category")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidCurrency        = errors.New("invalid_currency")
	ErrInvalidOccurredAt      = errors.New("invalid_occurred_at")
	ErrInvalidPeriod          = errors.New("invalid_period")
	ErrInvalidAdjustmentType  = errors.New("invalid_adjustment_type")
	ErrInvalidAdjustment      = errors.New("invalid_adjustment")
	ErrInvalidMeta            = errors.New("invalid_meta")
	ErrTransactionNotFound    = errors.New("transaction_not_found")
	ErrCostCenterNotFound     = errors.New("cost_center_not_found")
	ErrLockViolation          = errors.New("cost_transaction_locked")
	ErrPeriodLocked           = errors.New("ledger_period_locked")
)
