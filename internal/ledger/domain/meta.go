package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type MetaKind string

const (
	MetaKindLabor      MetaKind = "labor"
	MetaKindParts      MetaKind = "parts"
	MetaKindThirdParty MetaKind = "third_party"
	MetaKindAdjustment MetaKind = "adjustment"
)

// MetaBody is one variant of the structured breakdown stored with a transaction.
type MetaBody interface {
	Kind() MetaKind
}

// Meta wraps a MetaBody and serializes it as {"kind": ..., <variant fields>}.
type Meta struct {
	Body MetaBody
}

func NewMeta(body MetaBody) Meta { return Meta{Body: body} }

type LaborLine struct {
	TimeEntryID string          `json:"time_entry_id,omitempty"`
	Role        string          `json:"role,omitempty"`
	RoleCode    string          `json:"role_code,omitempty"`
	Hours       decimal.Decimal `json:"hours"`
	HourlyRate  decimal.Decimal `json:"hourly_rate"`
	RateSource  string          `json:"rate_source"`
	WorkDate    string          `json:"work_date,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

type LaborBreakdown struct {
	WorkOrderNumber string          `json:"work_order_number,omitempty"`
	TotalHours      decimal.Decimal `json:"total_hours"`
	Entries         []LaborLine     `json:"entries"`
}

func (LaborBreakdown) Kind() MetaKind { return MetaKindLabor }

type PartLine struct {
	PartUsageID string          `json:"part_usage_id,omitempty"`
	PartID      string          `json:"part_id,omitempty"`
	PartName    string          `json:"part_name,omitempty"`
	PartNumber  string          `json:"part_number,omitempty"`
	Qty         decimal.Decimal `json:"qty"`
	Unit        string          `json:"unit,omitempty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Amount      decimal.Decimal `json:"amount"`
}

type PartsBreakdown struct {
	WorkOrderNumber string     `json:"work_order_number,omitempty"`
	Entries         []PartLine `json:"entries"`
}

func (PartsBreakdown) Kind() MetaKind { return MetaKindParts }

type ThirdPartyLine struct {
	ExternalCostID string          `json:"external_cost_id,omitempty"`
	CostType       string          `json:"cost_type,omitempty"`
	SupplierName   string          `json:"supplier_name,omitempty"`
	Description    string          `json:"description,omitempty"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
}

type ThirdPartyBreakdown struct {
	WorkOrderNumber string           `json:"work_order_number,omitempty"`
	Entries         []ThirdPartyLine `json:"entries"`
}

func (ThirdPartyBreakdown) Kind() MetaKind { return MetaKindThirdParty }

type AdjustmentDetail struct {
	OriginalTransactionID snowflake.ID   `json:"original_transaction_id"`
	AdjustmentType        AdjustmentType `json:"adjustment_type"`
	Reason                string         `json:"reason"`
}

func (AdjustmentDetail) Kind() MetaKind { return MetaKindAdjustment }

func (m Meta) IsZero() bool { return m.Body == nil }

func (m Meta) Labor() (LaborBreakdown, bool) {
	b, ok := m.Body.(LaborBreakdown)
	return b, ok
}

func (m Meta) Parts() (PartsBreakdown, bool) {
	b, ok := m.Body.(PartsBreakdown)
	return b, ok
}

func (m Meta) ThirdParty() (ThirdPartyBreakdown, bool) {
	b, ok := m.Body.(ThirdPartyBreakdown)
	return b, ok
}

func (m Meta) Adjustment() (AdjustmentDetail, bool) {
	b, ok := m.Body.(AdjustmentDetail)
	return b, ok
}

func (m Meta) MarshalJSON() ([]byte, error) {
	switch body := m.Body.(type) {
	case nil:
		return []byte("null"), nil
	case LaborBreakdown:
		return json.Marshal(struct {
			Kind MetaKind `json:"kind"`
			LaborBreakdown
		}{body.Kind(), body})
	case PartsBreakdown:
		return json.Marshal(struct {
			Kind MetaKind `json:"kind"`
			PartsBreakdown
		}{body.Kind(), body})
	case ThirdPartyBreakdown:
		return json.Marshal(struct {
			Kind MetaKind `json:"kind"`
			ThirdPartyBreakdown
		}{body.Kind(), body})
	case AdjustmentDetail:
		return json.Marshal(struct {
			Kind MetaKind `json:"kind"`
			AdjustmentDetail
		}{body.Kind(), body})
	default:
		return nil, fmt.Errorf("%w: unsupported body %T", ErrInvalidMeta, m.Body)
	}
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	if string(data) == "null" || len(data) == 0 {
		m.Body = nil
		return nil
	}

	var head struct {
		Kind MetaKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}

	var (
		body MetaBody
		err  error
	)
	switch head.Kind {
	case MetaKindLabor:
		var b LaborBreakdown
		err = json.Unmarshal(data, &b)
		body = b
	case MetaKindParts:
		var b PartsBreakdown
		err = json.Unmarshal(data, &b)
		body = b
	case MetaKindThirdParty:
		var b ThirdPartyBreakdown
		err = json.Unmarshal(data, &b)
		body = b
	case MetaKindAdjustment:
		var b AdjustmentDetail
		err = json.Unmarshal(data, &b)
		body = b
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMeta, head.Kind)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	m.Body = body
	return nil
}

// Value stores the canonical JSON form.
func (m Meta) Value() (driver.Value, error) {
	if m.Body == nil {
		return nil, nil
	}
	b, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Meta) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		m.Body = nil
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidMeta, value)
	}
}

func (Meta) GormDataType() string { return "json" }

func (Meta) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	default:
		return "JSON"
	}
}
