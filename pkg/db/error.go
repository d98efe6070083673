package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation     = "23505"
	pgSerializationFailed = "40001"
	pgLockNotAvailable    = "55P03"
	pgRaiseException      = "P0001"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	if HasPGCode(err, pgUniqueViolation) {
		return true
	}

	// PostgreSQL through drivers that do not expose pgconn.PgError
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsRetryableErr reports transient contention errors worth another attempt.
func IsRetryableErr(err error) bool {
	return HasPGCode(err, pgSerializationFailed) || HasPGCode(err, pgLockNotAvailable)
}

// RaisedException returns the message of a plpgsql RAISE EXCEPTION, if err is one.
func RaisedException(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgRaiseException {
		return pgErr.Message, true
	}
	return "", false
}

func HasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
