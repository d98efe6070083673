package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	costenginedomain "github.com/smallbiznis/workledger/internal/costengine/domain"
	ledgerdomain "github.com/smallbiznis/workledger/internal/ledger/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Lock, adjust and inspect cost transactions",
	}
	cmd.AddCommand(
		newLedgerLockCommand(),
		newLedgerLockPeriodCommand(),
		newLedgerAdjustCommand(),
		newLedgerShowCommand(),
		newLedgerBalanceCommand(),
	)
	return cmd
}

func withLedger(cmd *cobra.Command, fn func(context.Context, ledgerdomain.Service) error) error {
	var svc ledgerdomain.Service
	opts := fx.Options(coreModules(), fx.Populate(&svc))
	return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
		return fn(ctx, svc)
	})
}

func newLedgerLockCommand() *cobra.Command {
	var tenant, id, by string
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock one cost transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenant(tenant)
			if err != nil {
				return err
			}
			txnID, err := parseID("transaction id", id)
			if err != nil {
				return err
			}
			return withLedger(cmd, func(ctx context.Context, svc ledgerdomain.Service) error {
				txn, err := svc.Lock(ctx, tenantID, txnID, by)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), txn)
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&id, "id", "", "cost transaction id")
	cmd.Flags().StringVar(&by, "by", "", "actor recorded as locked_by")
	return cmd
}

func newLedgerLockPeriodCommand() *cobra.Command {
	var tenant, period, by string
	cmd := &cobra.Command{
		Use:   "lock-period",
		Short: "Close a month and lock every transaction dated inside it",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenant(tenant)
			if err != nil {
				return err
			}
			year, month, err := ledgerdomain.ParsePeriod(period)
			if err != nil {
				return err
			}
			return withLedger(cmd, func(ctx context.Context, svc ledgerdomain.Service) error {
				n, err := svc.LockPeriod(ctx, tenantID, year, month, by)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"period":              strings.TrimSpace(period),
					"transactions_locked": n,
				})
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&period, "period", "", "month as YYYY-MM")
	cmd.Flags().StringVar(&by, "by", "", "actor recorded as locked_by")
	return cmd
}

func newLedgerAdjustCommand() *cobra.Command {
	var tenant, id, kind, delta, reason, key, by string
	cmd := &cobra.Command{
		Use:   "adjust",
		Short: "Append a signed adjustment against a transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenant(tenant)
			if err != nil {
				return err
			}
			originalID, err := parseID("transaction id", id)
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(strings.TrimSpace(delta))
			if err != nil {
				return fmt.Errorf("invalid delta %q: %w", delta, err)
			}
			req := ledgerdomain.AdjustRequest{
				TenantID:              tenantID,
				OriginalTransactionID: originalID,
				AdjustmentType:        ledgerdomain.AdjustmentType(strings.TrimSpace(kind)),
				Delta:                 amount,
				Reason:                reason,
				IdempotencyKey:        strings.TrimSpace(key),
				CreatedBy:             by,
			}
			return withLedger(cmd, func(ctx context.Context, svc ledgerdomain.Service) error {
				txn, adj, err := svc.Adjust(ctx, nil, req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"transaction": txn,
					"adjustment":  adj,
				})
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&id, "id", "", "original cost transaction id")
	cmd.Flags().StringVar(&kind, "type", string(ledgerdomain.AdjustmentTypeCorrection), "correction, reversal or write_off")
	cmd.Flags().StringVar(&delta, "delta", "", "signed amount to append")
	cmd.Flags().StringVar(&reason, "reason", "", "why the adjustment was made")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "makes the adjustment replay-safe")
	cmd.Flags().StringVar(&by, "by", "", "actor recorded as created_by")
	return cmd
}

func newLedgerShowCommand() *cobra.Command {
	var tenant, id, workOrder string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a transaction with its adjustments, or every row of a work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenant(tenant)
			if err != nil {
				return err
			}
			if (id == "") == (workOrder == "") {
				return fmt.Errorf("pass exactly one of --id or --work-order")
			}
			return withLedger(cmd, func(ctx context.Context, svc ledgerdomain.Service) error {
				if workOrder != "" {
					rows, err := svc.ListByWorkOrder(ctx, tenantID, strings.TrimSpace(workOrder))
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), map[string]any{"data": rows})
				}
				txnID, err := parseID("transaction id", id)
				if err != nil {
					return err
				}
				txn, err := svc.Get(ctx, tenantID, txnID)
				if err != nil {
					return err
				}
				adjustments, err := svc.ListAdjustments(ctx, tenantID, txnID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"transaction": txn,
					"adjustments": adjustments,
				})
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&id, "id", "", "cost transaction id")
	cmd.Flags().StringVar(&workOrder, "work-order", "", "work order id")
	return cmd
}

func newLedgerBalanceCommand() *cobra.Command {
	var tenant, costCenter, category, txnType, workOrder, from, to string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Sum cost transactions, adjustments included",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenant(tenant)
			if err != nil {
				return err
			}
			filter := ledgerdomain.BalanceFilter{
				Category:        strings.TrimSpace(category),
				TransactionType: ledgerdomain.TransactionType(strings.TrimSpace(txnType)),
				WorkOrderID:     strings.TrimSpace(workOrder),
			}
			if costCenter != "" {
				ccID, err := parseID("cost center id", costCenter)
				if err != nil {
					return err
				}
				filter.CostCenterID = &ccID
			}
			if filter.From, err = parseDate(from); err != nil {
				return err
			}
			if filter.To, err = parseDate(to); err != nil {
				return err
			}
			return withLedger(cmd, func(ctx context.Context, svc ledgerdomain.Service) error {
				total, err := svc.Balance(ctx, tenantID, filter)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]string{"total": total.StringFixed(2)})
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&costCenter, "cost-center", "", "cost center id")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&txnType, "type", "", "labor, parts, third_party or adjustment")
	cmd.Flags().StringVar(&workOrder, "work-order", "", "work order id")
	cmd.Flags().StringVar(&from, "from", "", "inclusive start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "exclusive end date, YYYY-MM-DD")
	return cmd
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return t.UTC(), nil
}

func newCostsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Run the cost engine outside the outbox",
	}

	var tenant, file string
	post := &cobra.Command{
		Use:   "post",
		Short: "Post the costs of a closed work order read from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenant(tenant)
			if err != nil {
				return err
			}
			data, err := readWorkOrder(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			var engine costenginedomain.Service
			opts := fx.Options(coreModules(), fx.Populate(&engine))
			return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
				res, err := engine.ProcessWorkOrderClosed(ctx, tenantID, data)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	post.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	post.Flags().StringVar(&file, "file", "-", "work_order.closed data, - for stdin")

	cmd.AddCommand(post)
	return cmd
}

func readWorkOrder(stdin io.Reader, path string) (costenginedomain.WorkOrderClosed, error) {
	var data costenginedomain.WorkOrderClosed
	r := stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return data, err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return data, fmt.Errorf("decode work order: %w", err)
	}
	return data, nil
}
