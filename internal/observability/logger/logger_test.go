package logger

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/workledger/internal/observability/context"
	"github.com/smallbiznis/workledger/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	ctx := tenantctx.WithTenantID(context.Background(), snowflake.ID(77))
	ctx = obscontext.WithEventID(ctx, "1001")
	ctx = obscontext.WithActor(ctx, "worker", "w-1")

	WithContext(ctx, zap.New(core)).Info("processed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "77", fields["tenant_id"])
	assert.Equal(t, "1001", fields["event_id"])
	assert.Equal(t, "worker", fields["actor_type"])
	assert.NotContains(t, fields, "request_id")
	assert.NotContains(t, fields, "trace_id")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	log, err := New(nil, Config{Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.Equal(t, "console", normalizeFormat("Console"))
	assert.Equal(t, "json", normalizeFormat(""))
}
