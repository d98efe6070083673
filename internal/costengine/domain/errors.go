package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingWorkOrderID = errors.New("missing_work_order_id")
	ErrMissingAssetID     = errors.New("missing_asset_id")
	ErrRateNotFound       = errors.New("hourly_rate_not_found")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidPayload     = errors.New("invalid_payload")
)

// ValidationError rejects a payload that no retry can fix.
type ValidationError struct {
	Field string
	Err   error
}

func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %v", e.Err)
	}
	return fmt.Sprintf("validation: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error   { return e.Err }
func (e *ValidationError) Permanent() bool { return true }
