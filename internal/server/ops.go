package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/pkg/db/pagination"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz checks the database and, when configured, redis.
func (s *Server) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := gin.H{}
	ready := true

	if sqlDB, err := s.db.DB(); err != nil {
		checks["database"] = "error"
		ready = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		s.log.Warn("readiness database ping failed", zap.Error(err))
		checks["database"] = "error"
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.log.Warn("readiness redis ping failed", zap.Error(err))
			checks["redis"] = "error"
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

func (s *Server) OutboxStats(c *gin.Context) {
	tenantID, err := parseOptionalSnowflakeID(c.Query("tenant_id"))
	if err != nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant id"))
		return
	}
	counts, err := s.store.CountByStatus(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": counts})
}

func (s *Server) ListOutboxEvents(c *gin.Context) {
	tenantID, err := parseOptionalSnowflakeID(c.Query("tenant_id"))
	if err != nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant id"))
		return
	}
	status := outboxdomain.EventStatus(c.Query("status"))
	switch status {
	case "", outboxdomain.StatusPending, outboxdomain.StatusProcessed, outboxdomain.StatusFailed:
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}
	pageSize, err := parseOptionalInt64(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page size"))
		return
	}
	page := pagination.Pagination{PageToken: c.Query("page_token")}
	if pageSize != nil {
		page.PageSize = int(*pageSize)
	}

	events, info, err := s.store.List(c.Request.Context(), outboxdomain.ListFilter{
		TenantID:  tenantID,
		Status:    status,
		EventName: c.Query("event_name"),
		Page:      page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events, "page_info": info})
}

func (s *Server) GetOutboxEvent(c *gin.Context) {
	tenantID, eventID, ok := eventPath(c)
	if !ok {
		return
	}
	event, err := s.store.Get(c.Request.Context(), tenantID, eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": event})
}

func (s *Server) RetryOutboxEvent(c *gin.Context) {
	tenantID, eventID, ok := eventPath(c)
	if !ok {
		return
	}
	event, err := s.retrier.RetryEvent(c.Request.Context(), tenantID, eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.log.Info("outbox event reset by operator",
		zap.String("tenant_id", tenantID.String()),
		zap.String("event_id", eventID.String()),
	)
	c.JSON(http.StatusOK, gin.H{"data": event})
}

func eventPath(c *gin.Context) (snowflake.ID, snowflake.ID, bool) {
	tenantID, err := parseOptionalSnowflakeID(c.Param("tenant_id"))
	if err != nil || tenantID == nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant id"))
		return 0, 0, false
	}
	eventID, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || eventID == nil {
		AbortWithError(c, newValidationError("id", "invalid_event_id", "invalid event id"))
		return 0, 0, false
	}
	return *tenantID, *eventID, true
}
