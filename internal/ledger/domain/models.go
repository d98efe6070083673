package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TransactionTypeLabor      TransactionType = "labor"
	TransactionTypeParts      TransactionType = "parts"
	TransactionTypeThirdParty TransactionType = "third_party"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeLabor, TransactionTypeParts, TransactionTypeThirdParty, TransactionTypeAdjustment:
		return true
	}
	return false
}

type AdjustmentType string

const (
	AdjustmentTypeCorrection AdjustmentType = "correction"
	AdjustmentTypeReversal   AdjustmentType = "reversal"
	AdjustmentTypeWriteOff   AdjustmentType = "write_off"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentTypeCorrection, AdjustmentTypeReversal, AdjustmentTypeWriteOff:
		return true
	}
	return false
}

// CostTransaction is one immutable monetary fact.
type CostTransaction struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID        snowflake.ID    `gorm:"not null;index:idx_cost_transaction_tenant_occurred,priority:1;uniqueIndex:ux_cost_transaction_tenant_key,priority:1" json:"tenant_id"`
	IdempotencyKey  *string         `gorm:"type:varchar(255);uniqueIndex:ux_cost_transaction_tenant_key,priority:2,where:idempotency_key IS NOT NULL" json:"idempotency_key,omitempty"`
	TransactionType TransactionType `gorm:"type:varchar(32);not null" json:"transaction_type"`
	Category        string          `gorm:"type:varchar(64);not null" json:"category"`
	Amount          decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(3);not null" json:"currency"`
	OccurredAt      time.Time       `gorm:"not null;index:idx_cost_transaction_tenant_occurred,priority:2" json:"occurred_at"`
	CostCenterID    *snowflake.ID   `gorm:"index" json:"cost_center_id,omitempty"`
	AssetID         *string         `gorm:"type:varchar(64)" json:"asset_id,omitempty"`
	WorkOrderID     *string         `gorm:"type:varchar(64);index" json:"work_order_id,omitempty"`
	Description     string          `gorm:"type:text" json:"description"`
	Meta            Meta            `json:"meta"`
	IsLocked        bool            `gorm:"not null;default:false" json:"is_locked"`
	LockedAt        *time.Time      `json:"locked_at,omitempty"`
	LockedBy        *string         `gorm:"type:varchar(128)" json:"locked_by,omitempty"`
	CreatedBy       *string         `gorm:"type:varchar(128)" json:"created_by,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
}

func (CostTransaction) TableName() string { return "cost_transaction" }

// ProtectedFieldsEqual reports whether the fields frozen by a lock match other.
func (t *CostTransaction) ProtectedFieldsEqual(other *CostTransaction) bool {
	return t.Amount.Equal(other.Amount) &&
		t.TransactionType == other.TransactionType &&
		t.Category == other.Category &&
		sameID(t.CostCenterID, other.CostCenterID) &&
		t.OccurredAt.Equal(other.OccurredAt)
}

// BeforeUpdate keeps a locked row's protected fields frozen for every writer,
// including a plain Save. Updates through an empty model carry no id; the
// service checks those itself.
func (t *CostTransaction) BeforeUpdate(tx *gorm.DB) error {
	stored, err := t.lockedRow(tx)
	if err != nil || stored == nil {
		return err
	}
	if !t.IsLocked || !stored.ProtectedFieldsEqual(t) {
		return ErrLockViolation
	}
	return nil
}

// BeforeDelete refuses to delete locked rows.
func (t *CostTransaction) BeforeDelete(tx *gorm.DB) error {
	stored, err := t.lockedRow(tx)
	if err != nil || stored == nil {
		return err
	}
	return ErrLockViolation
}

// lockedRow loads the stored version of t when it is locked.
func (t *CostTransaction) lockedRow(tx *gorm.DB) (*CostTransaction, error) {
	if t.ID == 0 {
		return nil, nil
	}
	q := tx.Session(&gorm.Session{NewDB: true}).Where("id = ?", t.ID)
	if t.TenantID != 0 {
		q = q.Where("tenant_id = ?", t.TenantID)
	}
	var stored CostTransaction
	if err := q.Take(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !stored.IsLocked {
		return nil, nil
	}
	return &stored, nil
}

func sameID(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// LedgerAdjustment links a correcting row back to the row it corrects.
type LedgerAdjustment struct {
	ID                      snowflake.ID   `gorm:"primaryKey" json:"id"`
	TenantID                snowflake.ID   `gorm:"not null;index" json:"tenant_id"`
	OriginalTransactionID   snowflake.ID   `gorm:"not null;index" json:"original_transaction_id"`
	AdjustmentTransactionID snowflake.ID   `gorm:"not null;uniqueIndex" json:"adjustment_transaction_id"`
	AdjustmentType          AdjustmentType `gorm:"type:varchar(32);not null" json:"adjustment_type"`
	Reason                  string         `gorm:"type:text;not null" json:"reason"`
	CreatedBy               *string        `gorm:"type:varchar(128)" json:"created_by,omitempty"`
	CreatedAt               time.Time      `gorm:"not null" json:"created_at"`
}

func (LedgerAdjustment) TableName() string { return "ledger_adjustment" }

// LedgerPeriodLock closes one calendar month of a tenant's books.
type LedgerPeriodLock struct {
	TenantID snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"tenant_id"`
	Period   string       `gorm:"primaryKey;type:varchar(7)" json:"period"`
	LockedAt time.Time    `gorm:"not null" json:"locked_at"`
	LockedBy string       `gorm:"type:varchar(128);not null" json:"locked_by"`
}

func (LedgerPeriodLock) TableName() string { return "ledger_period_lock" }

type CostCenter struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID  snowflake.ID `gorm:"not null;uniqueIndex:ux_cost_center_tenant_code,priority:1" json:"tenant_id"`
	Code      string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_cost_center_tenant_code,priority:2" json:"code"`
	Name      string       `gorm:"type:varchar(255);not null" json:"name"`
	IsDefault bool         `gorm:"not null;default:false" json:"is_default"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (CostCenter) TableName() string { return "cost_center" }
