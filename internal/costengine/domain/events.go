package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const (
	EventWorkOrderClosed = "work_order.closed"
	EventCostEntryPosted = "cost.entry_posted"

	AggregateCostTransaction = "cost_transaction"
)

// Ref is an upstream identifier that may arrive as a JSON number or string.
type Ref string

func (r Ref) String() string { return string(r) }

func (r Ref) IsZero() bool { return strings.TrimSpace(string(r)) == "" }

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Ref(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("ref must be a string or number: %w", err)
	}
	*r = Ref(n.String())
	return nil
}

// WorkOrderClosed is the data of a work_order.closed event.
type WorkOrderClosed struct {
	WorkOrderID     Ref               `json:"work_order_id"`
	WorkOrderNumber string            `json:"work_order_number,omitempty"`
	AssetID         Ref               `json:"asset_id"`
	CostCenterID    Ref               `json:"cost_center_id,omitempty"`
	Category        string            `json:"category,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Labor           []LaborEntry      `json:"labor,omitempty"`
	Parts           []PartEntry       `json:"parts,omitempty"`
	ThirdParty      []ThirdPartyEntry `json:"third_party,omitempty"`
}

type LaborEntry struct {
	TimeEntryID Ref              `json:"time_entry_id,omitempty"`
	Role        string           `json:"role,omitempty"`
	RoleCode    string           `json:"role_code,omitempty"`
	Hours       decimal.Decimal  `json:"hours"`
	HourlyRate  *decimal.Decimal `json:"hourly_rate,omitempty"`
	WorkDate    string           `json:"work_date,omitempty"`
}

type PartEntry struct {
	PartUsageID Ref             `json:"part_usage_id,omitempty"`
	PartID      Ref             `json:"part_id,omitempty"`
	PartName    string          `json:"part_name,omitempty"`
	PartNumber  string          `json:"part_number,omitempty"`
	Qty         decimal.Decimal `json:"qty"`
	Unit        string          `json:"unit,omitempty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

type ThirdPartyEntry struct {
	ExternalCostID Ref             `json:"external_cost_id,omitempty"`
	CostType       string          `json:"cost_type,omitempty"`
	SupplierName   string          `json:"supplier_name,omitempty"`
	Description    string          `json:"description,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
}

// CostEntryPosted is published once per newly created ledger row.
type CostEntryPosted struct {
	CostTransactionID snowflake.ID    `json:"cost_transaction_id"`
	TransactionType   string          `json:"transaction_type"`
	Amount            decimal.Decimal `json:"amount"`
	WorkOrderID       string          `json:"work_order_id,omitempty"`
	AssetID           string          `json:"asset_id,omitempty"`
	Category          string          `json:"category"`
	CostCenterID      *snowflake.ID   `json:"cost_center_id,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
	IdempotencyKey    string          `json:"idempotency_key"`
}

// PostedEventKey is the outbox key for the cost.entry_posted of one ledger row.
func PostedEventKey(transactionID snowflake.ID) string {
	return fmt.Sprintf("cost:%s:posted", transactionID)
}
