package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/smallbiznis/workledger/internal/migration"
	"github.com/smallbiznis/workledger/internal/outbox"
	"github.com/smallbiznis/workledger/internal/scheduler"
	"github.com/smallbiznis/workledger/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// WorkerOptions is the long-running graph: migrations, the worker pool,
// the scheduler loop and the ops server.
func WorkerOptions() fx.Option {
	return fx.Options(
		coreModules(),
		migration.Module,
		outbox.WorkerModule,
		scheduler.Module,
		server.Module,
	)
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the dispatcher, worker pool, scheduler and ops server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runOnce(ctx, WorkerOptions(), func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			})
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var conn *gorm.DB
			opts := fx.Options(coreModules(), fx.Populate(&conn))
			return runOnce(cmd.Context(), opts, func(context.Context) error {
				if err := migration.Run(conn); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return err
			})
		},
	}
}
