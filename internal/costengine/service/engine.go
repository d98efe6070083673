package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/workledger/internal/clock"
	"github.com/smallbiznis/workledger/internal/config"
	costenginedomain "github.com/smallbiznis/workledger/internal/costengine/domain"
	ledgerdomain "github.com/smallbiznis/workledger/internal/ledger/domain"
	obslogger "github.com/smallbiznis/workledger/internal/observability/logger"
	"github.com/smallbiznis/workledger/internal/observability/tracing"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
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

const (
	createdBy = "costengine"

	rateSourceEntry    = "entry"
	rateSourceRateCard = "rate_card"

	workDateLayout = "2006-01-02"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Config    config.Config
	Ledger    ledgerdomain.Service
	Publisher outboxdomain.Publisher
	RateCard  costenginedomain.RateCard
	Resolver  costenginedomain.CostCenterResolver
}

type Engine struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	rlsEnabled bool
	ledger     ledgerdomain.Service
	publisher  outboxdomain.Publisher
	rateCard   costenginedomain.RateCard
	resolver   costenginedomain.CostCenterResolver
	tracer     trace.Tracer
}

func NewEngine(p Params) costenginedomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	rateCard := p.RateCard
	if rateCard == nil {
		rateCard = emptyRateCard{}
	}
	return &Engine{
		db:         p.DB,
		log:        p.Log.Named("costengine"),
		clock:      c,
		rlsEnabled: p.Config.DBRLSEnabled,
		ledger:     p.Ledger,
		publisher:  p.Publisher,
		rateCard:   rateCard,
		resolver:   p.Resolver,
		tracer:     otel.Tracer("workledger/costengine"),
	}
}

// Handle applies a work_order.closed event on the consumer's transaction.
func (e *Engine) Handle(ctx context.Context, tx *gorm.DB, event *outboxdomain.OutboxEvent) error {
	var data costenginedomain.WorkOrderClosed
	if err := event.DecodeData(&data); err != nil {
		return costenginedomain.NewValidationError("data", fmt.Errorf("%w: %v", costenginedomain.ErrInvalidPayload, err))
	}
	_, err := e.process(ctx, tx, event.TenantID, data, event.OccurredAt)
	return err
}

// ProcessWorkOrderClosed runs the same step in its own tenant transaction.
func (e *Engine) ProcessWorkOrderClosed(ctx context.Context, tenantID snowflake.ID, data costenginedomain.WorkOrderClosed) (costenginedomain.Result, error) {
	if tenantID == 0 {
		return costenginedomain.Result{}, ledgerdomain.ErrInvalidTenant
	}
	var result costenginedomain.Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.Apply(tx, e.rlsEnabled, tenantID); err != nil {
			return err
		}
		var err error
		result, err = e.process(ctx, tx, tenantID, data, e.clock.Now())
		return err
	})
	if err != nil {
		return costenginedomain.Result{}, err
	}
	return result, nil
}

type costGroup struct {
	txType ledgerdomain.TransactionType
	amount decimal.Decimal
	meta   ledgerdomain.MetaBody
	size   int
}

func (e *Engine) process(
	ctx context.Context,
	tx *gorm.DB,
	tenantID snowflake.ID,
	data costenginedomain.WorkOrderClosed,
	fallbackAt time.Time,
) (costenginedomain.Result, error) {
	ctx = tenantctx.WithTenantID(ctx, tenantID)
	ctx, span := e.tracer.Start(ctx, "costengine.work_order_closed", trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("work_order_id", data.WorkOrderID.String()),
	)...))
	defer span.End()
	log := obslogger.WithContext(ctx, e.log)

	result, err := e.apply(ctx, tx, tenantID, data, fallbackAt)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "work order cost")
		return costenginedomain.Result{}, err
	}

	log.Info("work order costs recorded",
		zap.String("work_order_id", data.WorkOrderID.String()),
		zap.Int("transactions_created", result.TransactionsCreated),
		zap.Int("skipped", result.Skipped),
		zap.Int("events_published", result.EventsPublished),
	)
	return result, nil
}

func (e *Engine) apply(
	ctx context.Context,
	tx *gorm.DB,
	tenantID snowflake.ID,
	data costenginedomain.WorkOrderClosed,
	fallbackAt time.Time,
) (costenginedomain.Result, error) {
	workOrderID := strings.TrimSpace(data.WorkOrderID.String())
	if workOrderID == "" {
		return costenginedomain.Result{}, costenginedomain.NewValidationError("work_order_id", costenginedomain.ErrMissingWorkOrderID)
	}
	assetID := strings.TrimSpace(data.AssetID.String())
	if assetID == "" {
		return costenginedomain.Result{}, costenginedomain.NewValidationError("asset_id", costenginedomain.ErrMissingAssetID)
	}

	occurredAt := fallbackAt
	if data.CompletedAt != nil && !data.CompletedAt.IsZero() {
		occurredAt = *data.CompletedAt
	}
	occurredAt = occurredAt.UTC()

	groups, err := e.buildGroups(data, occurredAt)
	if err != nil {
		return costenginedomain.Result{}, err
	}

	costCenterID, err := e.resolver.Resolve(ctx, tx, tenantID, data.CostCenterID.String())
	if err != nil {
		return costenginedomain.Result{}, fmt.Errorf("resolve cost center: %w", err)
	}

	label := strings.TrimSpace(data.WorkOrderNumber)
	if label == "" {
		label = workOrderID
	}

	result := costenginedomain.Result{Success: true, Transactions: []costenginedomain.TransactionResult{}}
	for _, g := range groups {
		if g.size == 0 || !g.amount.IsPositive() {
			continue
		}

		key := ledgerdomain.GenerateIdempotencyKey(workOrderID, g.txType)
		category := strings.TrimSpace(data.Category)
		if category == "" {
			category = string(g.txType)
		}
		txn, created, err := e.ledger.GetOrCreateIdempotent(ctx, tx, tenantID, key, ledgerdomain.CostTransaction{
			TransactionType: g.txType,
			Category:        category,
			Amount:          g.amount,
			OccurredAt:      occurredAt,
			CostCenterID:    costCenterID,
			AssetID:         &assetID,
			WorkOrderID:     &workOrderID,
			Description:     fmt.Sprintf("Work order %s %s cost", label, strings.ReplaceAll(string(g.txType), "_", " ")),
			Meta:            ledgerdomain.NewMeta(g.meta),
			CreatedBy:       strPtr(createdBy),
		})
		if err != nil {
			return costenginedomain.Result{}, fmt.Errorf("record %s cost: %w", g.txType, err)
		}

		result.Transactions = append(result.Transactions, costenginedomain.TransactionResult{
			ID:              txn.ID,
			TransactionType: string(txn.TransactionType),
			Amount:          txn.Amount,
			IdempotencyKey:  key,
			Created:         created,
		})
		if !created {
			result.Skipped++
			continue
		}
		result.TransactionsCreated++

		published, err := e.publishPosted(ctx, tx, tenantID, txn, key)
		if err != nil {
			return costenginedomain.Result{}, err
		}
		if published {
			result.EventsPublished++
		}
	}
	return result, nil
}

func (e *Engine) publishPosted(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, txn *ledgerdomain.CostTransaction, ledgerKey string) (bool, error) {
	payload := costenginedomain.CostEntryPosted{
		CostTransactionID: txn.ID,
		TransactionType:   string(txn.TransactionType),
		Amount:            txn.Amount,
		WorkOrderID:       derefString(txn.WorkOrderID),
		AssetID:           derefString(txn.AssetID),
		Category:          txn.Category,
		CostCenterID:      txn.CostCenterID,
		OccurredAt:        txn.OccurredAt,
		IdempotencyKey:    ledgerKey,
	}
	_, created, err := e.publisher.PublishIdempotent(ctx, tx, outboxdomain.PublishRequest{
		TenantID:       tenantID,
		EventName:      costenginedomain.EventCostEntryPosted,
		AggregateType:  costenginedomain.AggregateCostTransaction,
		AggregateID:    txn.ID.String(),
		Data:           payload,
		IdempotencyKey: costenginedomain.PostedEventKey(txn.ID),
		OccurredAt:     txn.OccurredAt,
	})
	if err != nil {
		return false, fmt.Errorf("publish %s: %w", costenginedomain.EventCostEntryPosted, err)
	}
	return created, nil
}

func (e *Engine) buildGroups(data costenginedomain.WorkOrderClosed, occurredAt time.Time) ([]costGroup, error) {
	labor, err := e.laborGroup(data, occurredAt)
	if err != nil {
		return nil, err
	}
	parts, err := partsGroup(data)
	if err != nil {
		return nil, err
	}
	thirdParty, err := thirdPartyGroup(data)
	if err != nil {
		return nil, err
	}
	return []costGroup{labor, parts, thirdParty}, nil
}

func (e *Engine) laborGroup(data costenginedomain.WorkOrderClosed, occurredAt time.Time) (costGroup, error) {
	breakdown := ledgerdomain.LaborBreakdown{
		WorkOrderNumber: data.WorkOrderNumber,
		TotalHours:      decimal.Zero,
		Entries:         make([]ledgerdomain.LaborLine, 0, len(data.Labor)),
	}
	total := decimal.Zero
	for i, entry := range data.Labor {
		field := fmt.Sprintf("labor[%d]", i)
		if entry.Hours.IsNegative() {
			return costGroup{}, costenginedomain.NewValidationError(field+".hours", costenginedomain.ErrInvalidQuantity)
		}

		rate, source, err := e.laborRate(entry, occurredAt)
		if err != nil {
			return costGroup{}, costenginedomain.NewValidationError(field+".hourly_rate", err)
		}

		amount := entry.Hours.Mul(rate).Round(2)
		total = total.Add(amount)
		breakdown.TotalHours = breakdown.TotalHours.Add(entry.Hours)
		breakdown.Entries = append(breakdown.Entries, ledgerdomain.LaborLine{
			TimeEntryID: entry.TimeEntryID.String(),
			Role:        entry.Role,
			RoleCode:    entry.RoleCode,
			Hours:       entry.Hours,
			HourlyRate:  rate,
			RateSource:  source,
			WorkDate:    entry.WorkDate,
			Amount:      amount,
		})
	}
	return costGroup{
		txType: ledgerdomain.TransactionTypeLabor,
		amount: total,
		meta:   breakdown,
		size:   len(data.Labor),
	}, nil
}

// laborRate prefers the rate carried on the entry and falls back to the
// rate card, keyed by role then role code, effective on the work date.
func (e *Engine) laborRate(entry costenginedomain.LaborEntry, occurredAt time.Time) (decimal.Decimal, string, error) {
	if entry.HourlyRate != nil {
		if entry.HourlyRate.IsNegative() {
			return decimal.Zero, "", costenginedomain.ErrInvalidAmount
		}
		return *entry.HourlyRate, rateSourceEntry, nil
	}

	on := occurredAt
	if wd := strings.TrimSpace(entry.WorkDate); wd != "" {
		if t, err := time.Parse(workDateLayout, wd); err == nil {
			on = t
		} else if t, err := time.Parse(time.RFC3339, wd); err == nil {
			on = t
		}
	}
	for _, role := range []string{entry.Role, entry.RoleCode} {
		if strings.TrimSpace(role) == "" {
			continue
		}
		if rate, ok := e.rateCard.HourlyRate(role, on); ok {
			return rate, rateSourceRateCard, nil
		}
	}
	return decimal.Zero, "", fmt.Errorf("%w: role %q", costenginedomain.ErrRateNotFound, firstNonEmpty(entry.Role, entry.RoleCode))
}

func partsGroup(data costenginedomain.WorkOrderClosed) (costGroup, error) {
	breakdown := ledgerdomain.PartsBreakdown{
		WorkOrderNumber: data.WorkOrderNumber,
		Entries:         make([]ledgerdomain.PartLine, 0, len(data.Parts)),
	}
	total := decimal.Zero
	for i, entry := range data.Parts {
		field := fmt.Sprintf("parts[%d]", i)
		if entry.Qty.IsNegative() {
			return costGroup{}, costenginedomain.NewValidationError(field+".qty", costenginedomain.ErrInvalidQuantity)
		}
		if entry.UnitCost.IsNegative() {
			return costGroup{}, costenginedomain.NewValidationError(field+".unit_cost", costenginedomain.ErrInvalidAmount)
		}
		amount := entry.Qty.Mul(entry.UnitCost).Round(2)
		total = total.Add(amount)
		breakdown.Entries = append(breakdown.Entries, ledgerdomain.PartLine{
			PartUsageID: entry.PartUsageID.String(),
			PartID:      entry.PartID.String(),
			PartName:    entry.PartName,
			PartNumber:  entry.PartNumber,
			Qty:         entry.Qty,
			Unit:        entry.Unit,
			UnitCost:    entry.UnitCost,
			Amount:      amount,
		})
	}
	return costGroup{
		txType: ledgerdomain.TransactionTypeParts,
		amount: total,
		meta:   breakdown,
		size:   len(data.Parts),
	}, nil
}

func thirdPartyGroup(data costenginedomain.WorkOrderClosed) (costGroup, error) {
	breakdown := ledgerdomain.ThirdPartyBreakdown{
		WorkOrderNumber: data.WorkOrderNumber,
		Entries:         make([]ledgerdomain.ThirdPartyLine, 0, len(data.ThirdParty)),
	}
	total := decimal.Zero
	for i, entry := range data.ThirdParty {
		if entry.Amount.IsNegative() {
			return costGroup{}, costenginedomain.NewValidationError(fmt.Sprintf("third_party[%d].amount", i), costenginedomain.ErrInvalidAmount)
		}
		amount := entry.Amount.Round(2)
		total = total.Add(amount)
		breakdown.Entries = append(breakdown.Entries, ledgerdomain.ThirdPartyLine{
			ExternalCostID: entry.ExternalCostID.String(),
			CostType:       entry.CostType,
			SupplierName:   entry.SupplierName,
			Description:    entry.Description,
			InvoiceNumber:  entry.InvoiceNumber,
			Amount:         amount,
		})
	}
	return costGroup{
		txType: ledgerdomain.TransactionTypeThirdParty,
		amount: total,
		meta:   breakdown,
		size:   len(data.ThirdParty),
	}, nil
}

func strPtr(s string) *string { return &s }

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
