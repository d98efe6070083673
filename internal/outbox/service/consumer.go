package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/workledger/internal/clock"
	"github.com/smallbiznis/workledger/internal/config"
	obscontext "github.com/smallbiznis/workledger/internal/observability/context"
	obslogger "github.com/smallbiznis/workledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/workledger/internal/observability/metrics"
	"github.com/smallbiznis/workledger/internal/observability/tracing"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/pkg/db"
	"github.com/smallbiznis/workledger/pkg/rls"
	"github.com/smallbiznis/workledger/pkg/tenantctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tracerName = "workledger/outbox"

type ConsumerParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	Registry   *Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Consumer applies one event under a row lock and records the outcome in
// the same transaction as the handler's writes.
type Consumer struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	registry       *Registry
	workerID       string
	rlsEnabled     bool
	handlerTimeout time.Duration
	obsMetrics     *obsmetrics.Metrics
	outboxMetrics  *obsmetrics.OutboxMetrics
	tracer         trace.Tracer
}

func NewConsumer(p ConsumerParams) *Consumer {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	return &Consumer{
		db:             p.DB,
		log:            p.Log.Named("outbox.consumer"),
		clock:          c,
		registry:       p.Registry,
		workerID:       WorkerID(p.Config),
		rlsEnabled:     p.Config.DBRLSEnabled,
		handlerTimeout: p.Config.Outbox.HandlerTimeout,
		obsMetrics:     p.ObsMetrics,
		outboxMetrics:  obsmetrics.Outbox(),
		tracer:         otel.Tracer(tracerName),
	}
}

// WorkerID names this process in processed_by.
func WorkerID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.WorkerID); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + strings.ToLower(ulid.Make().String()[20:])
}

type processOutcome struct {
	eventName  string
	status     outboxdomain.EventStatus
	skipped    bool
	handlerErr error
	duration   time.Duration
}

func (c *Consumer) ProcessEvent(ctx context.Context, tenantID, eventID snowflake.ID) error {
	if tenantID == 0 {
		return outboxdomain.ErrInvalidTenant
	}
	if eventID == 0 {
		return outboxdomain.ErrInvalidEventID
	}

	ctx = tenantctx.WithTenantID(ctx, tenantID)
	ctx = obscontext.WithEventID(ctx, eventID.String())
	ctx, span := c.tracer.Start(ctx, "outbox.process_event", trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("event_id", eventID.String()),
	)...))
	defer span.End()
	log := obslogger.WithContext(ctx, c.log)

	var out processOutcome
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.Apply(tx, c.rlsEnabled, tenantID); err != nil {
			return err
		}
		event, err := loadForUpdate(tx, tenantID, eventID, db.ForUpdate)
		if err != nil {
			return err
		}
		out.eventName = event.EventName

		// terminal rows are no-ops so redelivery stays harmless
		if event.Status != outboxdomain.StatusPending {
			out.skipped = true
			out.status = event.Status
			return nil
		}

		handler, ok := c.registry.Lookup(event.EventName)
		if !ok {
			out.status = outboxdomain.StatusFailed
			out.handlerErr = fmt.Errorf("%w: %s", outboxdomain.ErrHandlerNotRegistered, event.EventName)
			return c.markFailedUnhandled(tx, event)
		}

		started := time.Now()
		herr := c.runHandler(ctx, tx, handler, event)
		out.duration = time.Since(started)

		if herr == nil {
			out.status = outboxdomain.StatusProcessed
			return c.markProcessed(tx, event)
		}

		out.handlerErr = herr
		out.status = c.nextStatus(event, herr)
		return c.recordAttempt(tx, event, out.status, herr)
	})

	span.SetAttributes(attribute.String("event_name", out.eventName))
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "process event")
		if !errors.Is(err, outboxdomain.ErrEventNotFound) {
			log.Error("outbox event processing failed", zap.Error(err))
		}
		return err
	}

	if out.skipped {
		log.Debug("outbox event already terminal", zap.String("status", string(out.status)))
		return nil
	}

	c.observe(ctx, log, out)
	if out.handlerErr != nil {
		span.RecordError(tracing.SafeError(out.handlerErr))
		span.SetStatus(codes.Error, "handler failed")
		return fmt.Errorf("process event %s: %w", eventID, out.handlerErr)
	}
	return nil
}

func (c *Consumer) runHandler(ctx context.Context, tx *gorm.DB, handler outboxdomain.Handler, event *outboxdomain.OutboxEvent) error {
	hctx := ctx
	if c.handlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}

	return tx.Transaction(func(sp *gorm.DB) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return handler.Handle(hctx, sp.WithContext(hctx), event)
	})
}

func (c *Consumer) nextStatus(event *outboxdomain.OutboxEvent, herr error) outboxdomain.EventStatus {
	attempted := *event
	attempted.Attempts++
	if attempted.ShouldFail() || outboxdomain.IsPermanent(herr) {
		return outboxdomain.StatusFailed
	}
	return outboxdomain.StatusPending
}

func (c *Consumer) markProcessed(tx *gorm.DB, event *outboxdomain.OutboxEvent) error {
	now := c.clock.Now()
	return c.update(tx, event, map[string]any{
		"status":        outboxdomain.StatusProcessed,
		"processed_at":  now,
		"processed_by":  c.workerID,
		"dispatched_at": nil,
	})
}

func (c *Consumer) recordAttempt(tx *gorm.DB, event *outboxdomain.OutboxEvent, status outboxdomain.EventStatus, herr error) error {
	return c.update(tx, event, map[string]any{
		"status":          status,
		"attempts":        event.Attempts + 1,
		"last_error":      sanitizeLastError(herr),
		"last_attempt_at": c.clock.Now(),
		"dispatched_at":   nil,
	})
}

func (c *Consumer) markFailedUnhandled(tx *gorm.DB, event *outboxdomain.OutboxEvent) error {
	return c.update(tx, event, map[string]any{
		"status":        outboxdomain.StatusFailed,
		"last_error":    outboxdomain.ErrHandlerNotRegistered.Error(),
		"dispatched_at": nil,
	})
}

func (c *Consumer) update(tx *gorm.DB, event *outboxdomain.OutboxEvent, values map[string]any) error {
	res := tx.Model(&outboxdomain.OutboxEvent{}).
		Where("tenant_id = ? AND id = ?", event.TenantID, event.ID).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update outbox event %s: %w", event.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return outboxdomain.ErrEventNotFound
	}
	return nil
}

func (c *Consumer) observe(ctx context.Context, log *zap.Logger, out processOutcome) {
	outcome := obsmetrics.HandlerOutcomeSuccess
	switch {
	case out.handlerErr == nil:
	case out.status == outboxdomain.StatusFailed:
		outcome = obsmetrics.HandlerOutcomeFailed
	default:
		outcome = obsmetrics.HandlerOutcomeRetry
	}
	c.outboxMetrics.RecordHandler(out.eventName, outcome, out.duration)
	c.obsMetrics.RecordEventProcessed(ctx, out.eventName, string(out.status))

	fields := []zap.Field{
		zap.String("event_name", out.eventName),
		zap.String("status", string(out.status)),
		zap.Duration("duration", out.duration),
	}
	switch outcome {
	case obsmetrics.HandlerOutcomeSuccess:
		log.Info("outbox event processed", fields...)
	case obsmetrics.HandlerOutcomeRetry:
		log.Warn("outbox handler failed, will retry", append(fields, zap.Error(out.handlerErr))...)
	default:
		log.Error("outbox event failed", append(fields, zap.Error(out.handlerErr))...)
	}
}
