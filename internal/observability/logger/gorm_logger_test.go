package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("select * from outbox_event"))
	assert.Equal(t, "UPDATE", operationFromSQL("WITH due AS (SELECT 1) UPDATE outbox_event SET status = 'pending'"))
	assert.Equal(t, "INSERT", operationFromSQL(" (INSERT INTO cost_transaction VALUES (1))"))
	assert.Equal(t, "DELETE", operationFromSQL("WITH old AS (SELECT id FROM outbox_event LIMIT 5) DELETE FROM outbox_event WHERE id IN (SELECT id FROM old)"))
	assert.Equal(t, "UPDATE", operationFromSQL("UPDATE cost_transaction SET updated_by = 'x'"))
	assert.Equal(t, "UNKNOWN", operationFromSQL("BEGIN"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestTableFromSQL(t *testing.T) {
	assert.Equal(t, "outbox_event", tableFromSQL(`SELECT * FROM "outbox_event" WHERE id = 1`))
	assert.Equal(t, "cost_transaction", tableFromSQL("INSERT INTO cost_transaction (id) VALUES (1)"))
	assert.Equal(t, "outbox_event", tableFromSQL("update `outbox_event` set status = 'pending'"))
	assert.Equal(t, "", tableFromSQL("SELECT 1"))
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        10 * time.Millisecond,
		IgnoreRecordNotFound: true,
	})

	sql := func() (string, int64) { return "SELECT * FROM outbox_event", 1 }

	l.Trace(context.Background(), time.Now(), sql, nil)
	assert.Equal(t, 0, logs.Len(), "fast queries are not logged at warn level")

	l.Trace(context.Background(), time.Now(), sql, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len(), "record not found is ignored")

	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)

	l.Trace(context.Background(), time.Now(), sql, errors.New("boom"))
	require.Equal(t, 2, logs.Len())
	entry := logs.All()[1]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "SELECT", entry.ContextMap()["operation"])
	assert.Equal(t, "outbox_event", entry.ContextMap()["table"])
}

func TestGormLoggerSilent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), DefaultGormLoggerConfig()).LogMode(gormlogger.Silent)

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, errors.New("boom"))
	assert.Equal(t, 0, logs.Len())
}
