package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/workledger/internal/clock"
	"github.com/smallbiznis/workledger/internal/config"
	"github.com/smallbiznis/workledger/internal/observability"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	outboxservice "github.com/smallbiznis/workledger/internal/outbox/service"
	"github.com/smallbiznis/workledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tenantA = snowflake.ID(77)

type testEnv struct {
	db        *gorm.DB
	engine    *gin.Engine
	publisher *outboxservice.Publisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := testutil.OpenSQLite(t)
	log := zap.NewNop()
	cfg := config.Config{}
	srv := NewServer(Params{
		Log:     log,
		Config:  cfg,
		DB:      conn,
		Store:   outboxservice.NewStore(conn),
		Retrier: outboxservice.NewRetrier(outboxservice.RetrierParams{DB: conn, Log: log, Config: cfg}),
	})
	return &testEnv{
		db:     conn,
		engine: NewEngine(srv, observability.Config{Environment: "test"}),
		publisher: outboxservice.NewPublisher(outboxservice.PublisherParams{
			Log: log, GenID: testutil.Node(t), Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), Config: cfg,
		}),
	}
}

func (e *testEnv) publish(t *testing.T) *outboxdomain.OutboxEvent {
	t.Helper()
	var event *outboxdomain.OutboxEvent
	require.NoError(t, e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		event, err = e.publisher.Publish(context.Background(), tx, outboxdomain.PublishRequest{
			TenantID:      tenantA,
			EventName:     "work_order.closed",
			AggregateType: "work_order",
			AggregateID:   "wo-1",
			Data:          map[string]any{"work_order_id": "wo-1"},
		})
		return err
	}))
	return event
}

func (e *testEnv) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = env.do(t, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, map[string]any{"database": "ok"}, body["checks"])
}

func TestOutboxStatsAndList(t *testing.T) {
	env := newTestEnv(t)
	failed := env.publish(t)
	env.publish(t)
	require.NoError(t, env.db.Model(&outboxdomain.OutboxEvent{}).
		Where("id = ?", failed.ID).
		Update("status", outboxdomain.StatusFailed).Error)

	rec, body := env.do(t, http.MethodGet, "/v1/outbox/stats?tenant_id="+tenantA.String())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"pending": float64(1), "processed": float64(0), "failed": float64(1)}, body["data"])

	rec, body = env.do(t, http.MethodGet, "/v1/outbox/events?status=failed")
	require.Equal(t, http.StatusOK, rec.Code)
	data, ok := body["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 1)
	assert.Equal(t, failed.ID.String(), data[0].(map[string]any)["id"])

	rec, _ = env.do(t, http.MethodGet, "/v1/outbox/events?status=stuck")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/v1/outbox/stats?tenant_id=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutboxEventGetAndRetry(t *testing.T) {
	env := newTestEnv(t)
	event := env.publish(t)
	require.NoError(t, env.db.Model(&outboxdomain.OutboxEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]any{"status": outboxdomain.StatusFailed, "attempts": 5}).Error)

	base := "/v1/outbox/tenants/" + tenantA.String() + "/events/" + event.ID.String()

	rec, body := env.do(t, http.MethodGet, base)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", body["data"].(map[string]any)["status"])

	rec, body = env.do(t, http.MethodPost, base+"/retry")
	require.Equal(t, http.StatusOK, rec.Code)
	got := body["data"].(map[string]any)
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, float64(0), got["attempts"])

	require.NoError(t, env.db.Model(&outboxdomain.OutboxEvent{}).
		Where("id = ?", event.ID).
		Update("status", outboxdomain.StatusProcessed).Error)
	rec, body = env.do(t, http.MethodPost, base+"/retry")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", body["error"].(map[string]any)["type"])

	rec, _ = env.do(t, http.MethodGet, "/v1/outbox/tenants/"+tenantA.String()+"/events/123")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/v1/outbox/tenants/0/events/123")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
