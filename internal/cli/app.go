package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/workledger/internal/clock"
	"github.com/smallbiznis/workledger/internal/config"
	"github.com/smallbiznis/workledger/internal/costengine"
	"github.com/smallbiznis/workledger/internal/ledger"
	"github.com/smallbiznis/workledger/internal/lock"
	"github.com/smallbiznis/workledger/internal/observability"
	"github.com/smallbiznis/workledger/internal/outbox"
	"github.com/smallbiznis/workledger/internal/relay"
	"github.com/smallbiznis/workledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const stopTimeout = 15 * time.Second

// NewSnowflakeNode builds the id generator from NODE_ID.
func NewSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}

// coreModules is the graph shared by every command: storage, the outbox
// write and consume side, and the registered handlers.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(NewSnowflakeNode),
		db.Module,
		clock.Module,
		lock.Module,
		outbox.Module,
		ledger.Module,
		costengine.Module,
		relay.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
}

// runOnce starts a short-lived graph, runs fn against the populated targets
// and stops the graph again.
func runOnce(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	app := fx.New(opts)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
