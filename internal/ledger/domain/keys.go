package domain

import (
	"fmt"
	"strings"
	"time"
)

// GenerateIdempotencyKey derives the ledger key for one cost group of a work order.
func GenerateIdempotencyKey(workOrderID string, transactionType TransactionType) string {
	return fmt.Sprintf("wo:%s:%s", strings.TrimSpace(workOrderID), transactionType)
}

const periodLayout = "2006-01"

// Period formats the accounting month containing t.
func Period(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// PeriodBounds returns [start, end) of the given month in UTC.
func PeriodBounds(year int, month time.Month) (time.Time, time.Time, error) {
	if year < 1970 || month < time.January || month > time.December {
		return time.Time{}, time.Time{}, ErrInvalidPeriod
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(period string) (int, time.Month, error) {
	t, err := time.Parse(periodLayout, strings.TrimSpace(period))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	return t.Year(), t.Month(), nil
}
