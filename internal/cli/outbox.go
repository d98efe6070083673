package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/internal/outbox/service"
	"github.com/smallbiznis/workledger/internal/outbox/worker"
	"github.com/smallbiznis/workledger/pkg/db/pagination"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// inlineDispatch runs the consumer on the command goroutine so one
// invocation drains deterministically.
func inlineDispatch() fx.Option {
	return fx.Provide(
		worker.NewInline,
		func(e *worker.Inline) outboxdomain.Executor { return e },
		service.NewDispatcher,
		func(d *service.Dispatcher) outboxdomain.Dispatcher { return d },
	)
}

type dispatchSummary struct {
	Rounds          int      `json:"rounds"`
	Dispatched      int      `json:"dispatched"`
	LeasesRecovered int64    `json:"leases_recovered"`
	Errors          []string `json:"errors,omitempty"`
}

func newDispatchCommand() *cobra.Command {
	var (
		tenant    string
		batchSize int
		maxRounds int
		recoverLeases bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch pending outbox events once, in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseOptionalTenant(tenant)
			if err != nil {
				return err
			}
			if batchSize <= 0 {
				return errors.New("batch-size must be positive")
			}
			if maxRounds <= 0 {
				maxRounds = 1
			}

			var (
				dispatcher outboxdomain.Dispatcher
				inline     *worker.Inline
			)
			opts := fx.Options(coreModules(), inlineDispatch(), fx.Populate(&dispatcher, &inline))
			return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
				var summary dispatchSummary
				if recoverLeases {
					n, err := dispatcher.RecoverExpiredLeases(ctx)
					if err != nil {
						return err
					}
					summary.LeasesRecovered = n
				}
				for summary.Rounds < maxRounds {
					n, err := dispatcher.DispatchPending(ctx, batchSize, tenantID)
					summary.Rounds++
					summary.Dispatched += n
					if err != nil {
						return err
					}
					if n < batchSize {
						break
					}
				}
				for _, procErr := range inline.Errors {
					summary.Errors = append(summary.Errors, procErr.Error())
				}
				return writeJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "restrict to one tenant")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "events claimed per round")
	cmd.Flags().IntVar(&maxRounds, "rounds", 10, "maximum dispatch rounds")
	cmd.Flags().BoolVar(&recoverLeases, "recover-leases", true, "release expired dispatch leases first")
	return cmd
}

func newRetryCommand() *cobra.Command {
	var (
		tenant    string
		eventID   string
		allFailed bool
		eventName string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Reset failed outbox events to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if allFailed == (eventID != "") {
				return errors.New("pass exactly one of --event or --all-failed")
			}

			var retrier outboxdomain.Retrier
			opts := fx.Options(coreModules(), fx.Populate(&retrier))

			if !allFailed {
				tenantID, err := parseTenant(tenant)
				if err != nil {
					return err
				}
				id, err := parseID("event id", eventID)
				if err != nil {
					return err
				}
				return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
					event, err := retrier.RetryEvent(ctx, tenantID, id)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), event)
				})
			}

			tenantID, err := parseOptionalTenant(tenant)
			if err != nil {
				return err
			}
			filter := outboxdomain.RetryFilter{
				TenantID:  tenantID,
				EventName: strings.TrimSpace(eventName),
				Limit:     limit,
			}
			return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
				n, err := retrier.RetryFailedEvents(ctx, filter)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"reset": n})
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id; required with --event")
	cmd.Flags().StringVar(&eventID, "event", "", "retry a single event")
	cmd.Flags().BoolVar(&allFailed, "all-failed", false, "retry every failed event matching the filters")
	cmd.Flags().StringVar(&eventName, "event-name", "", "only events with this name")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to reset, 0 for no limit")
	return cmd
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete processed and failed events past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sweeper outboxdomain.Sweeper
			opts := fx.Options(coreModules(), fx.Populate(&sweeper))
			return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
				n, err := sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"deleted": n})
			})
		},
	}
}

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the outbox",
	}

	var (
		tenant    string
		status    string
		eventName string
		pageSize  int
		pageToken string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List outbox events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseOptionalTenant(tenant)
			if err != nil {
				return err
			}
			st := outboxdomain.EventStatus(strings.TrimSpace(status))
			if st != "" && !st.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			filter := outboxdomain.ListFilter{
				TenantID:  tenantID,
				Status:    st,
				EventName: strings.TrimSpace(eventName),
				Page:      pagination.Pagination{PageSize: pageSize, PageToken: pageToken},
			}

			var store outboxdomain.Store
			opts := fx.Options(coreModules(), fx.Populate(&store))
			return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
				events, page, err := store.List(ctx, filter)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"data": events, "page_info": page})
			})
		},
	}
	list.Flags().StringVar(&tenant, "tenant", "", "restrict to one tenant")
	list.Flags().StringVar(&status, "status", "", "pending, processed or failed")
	list.Flags().StringVar(&eventName, "event-name", "", "only events with this name")
	list.Flags().IntVar(&pageSize, "page-size", 50, "events per page")
	list.Flags().StringVar(&pageToken, "page-token", "", "continuation token from a previous page")

	var statsTenant string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count outbox events by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseOptionalTenant(statsTenant)
			if err != nil {
				return err
			}
			var store outboxdomain.Store
			opts := fx.Options(coreModules(), fx.Populate(&store))
			return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
				counts, err := store.CountByStatus(ctx, tenantID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), counts)
			})
		},
	}
	stats.Flags().StringVar(&statsTenant, "tenant", "", "restrict to one tenant")

	cmd.AddCommand(list, stats)
	return cmd
}
