package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefAcceptsNumbersAndStrings(t *testing.T) {
	var v struct {
		A Ref `json:"a"`
		B Ref `json:"b"`
		C Ref `json:"c"`
		D Ref `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 4711, "b": " wo-9 ", "c": null, "d": 1234567890123456789}`), &v))
	assert.Equal(t, Ref("4711"), v.A)
	assert.Equal(t, Ref("wo-9"), v.B)
	assert.True(t, v.C.IsZero())
	assert.Equal(t, "1234567890123456789", v.D.String())

	var bad struct {
		A Ref `json:"a"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"a": {"x": 1}}`), &bad))
}

func TestWorkOrderClosedDecodesOptionalRate(t *testing.T) {
	var data WorkOrderClosed
	require.NoError(t, json.Unmarshal([]byte(`{
		"work_order_id": "wo-1",
		"asset_id": 3,
		"labor": [{"role": "technician", "hours": "1.5"}, {"role": "lead", "hours": 2, "hourly_rate": 99.5}]
	}`), &data))

	require.Len(t, data.Labor, 2)
	assert.Nil(t, data.Labor[0].HourlyRate)
	require.NotNil(t, data.Labor[1].HourlyRate)
	assert.True(t, data.Labor[1].HourlyRate.Equal(decimal.RequireFromString("99.5")))
	assert.Equal(t, Ref("3"), data.AssetID)
}

func TestCostEntryPostedWireShape(t *testing.T) {
	cc := snowflake.ID(42)
	b, err := json.Marshal(CostEntryPosted{
		CostTransactionID: 7,
		TransactionType:   "labor",
		Amount:            decimal.RequireFromString("332.50"),
		CostCenterID:      &cc,
		IdempotencyKey:    "wo:1:labor",
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "7", raw["cost_transaction_id"])
	assert.Equal(t, "42", raw["cost_center_id"])
	assert.Equal(t, "332.5", raw["amount"])
	assert.Equal(t, "wo:1:labor", raw["idempotency_key"])
	assert.Equal(t, "cost:7:posted", PostedEventKey(7))
}

func TestValidationErrorIsPermanent(t *testing.T) {
	err := error(NewValidationError("asset_id", ErrMissingAssetID))
	assert.True(t, errors.Is(err, ErrMissingAssetID))
	assert.EqualError(t, err, "validation: asset_id: missing_asset_id")

	var p interface{ Permanent() bool }
	require.True(t, errors.As(err, &p))
	assert.True(t, p.Permanent())
}
