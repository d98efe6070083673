package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm translated", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "pgconn", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "mysql", err: errors.New("Error 1062: Duplicate entry 'x' for key 'ux'"), want: true},
		{name: "sqlite", err: errors.New("constraint failed: UNIQUE constraint failed: outbox_event.tenant_id (2067)"), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDuplicateKeyErr(tc.err))
		})
	}
}

func TestRaisedException(t *testing.T) {
	msg, ok := RaisedException(fmt.Errorf("update: %w", &pgconn.PgError{Code: "P0001", Message: "cost_transaction_locked"}))
	assert.True(t, ok)
	assert.Equal(t, "cost_transaction_locked", msg)

	_, ok = RaisedException(&pgconn.PgError{Code: "23505"})
	assert.False(t, ok)
}

func TestIsRetryableErr(t *testing.T) {
	assert.True(t, IsRetryableErr(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryableErr(&pgconn.PgError{Code: "55P03"}))
	assert.False(t, IsRetryableErr(errors.New("boom")))
}

func TestDialect(t *testing.T) {
	for _, typ := range []string{"postgres", "mysql", "sqlite", " Postgres "} {
		d, err := Dialect(Config{Type: typ, Name: "file::memory:"})
		require.NoError(t, err, typ)
		assert.NotNil(t, d)
	}

	_, err := Dialect(Config{Type: "oracle"})
	assert.Error(t, err)
}

func TestForUpdateIsNoopOnSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:db_for_update?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	assert.False(t, SupportsRowLocks(conn))
	stmt := ForUpdateSkipLocked(conn.Session(&gorm.Session{DryRun: true})).Table("t").Find(&[]map[string]any{}).Statement
	assert.NotContains(t, stmt.SQL.String(), "FOR UPDATE")
}
