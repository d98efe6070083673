package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	_, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "cid-1", cid)

	ctx, generated := EnsureCorrelationID(context.Background())
	assert.Len(t, generated, 26)
	assert.Equal(t, generated, ExtractCorrelationID(ctx))
}

func TestHeadersCarryRemoteSpan(t *testing.T) {
	ctx := ContextWithRemoteSpan(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	require.True(t, trace.SpanContextFromContext(ctx).IsValid())

	headers := Headers(ContextWithCorrelationID(ctx, "cid-2"))
	assert.Equal(t, "cid-2", headers[HeaderCorrelationID])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", headers[HeaderTraceID])
	assert.Equal(t, "00f067aa0ba902b7", headers[HeaderSpanID])
}

func TestHeadersWithoutSpan(t *testing.T) {
	headers := Headers(context.Background())
	assert.NotEmpty(t, headers[HeaderCorrelationID])
	assert.NotContains(t, headers, HeaderTraceID)
}

func TestContextWithRemoteSpanIgnoresGarbage(t *testing.T) {
	ctx := ContextWithRemoteSpan(context.Background(), "zz", "00f067aa0ba902b7")
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
