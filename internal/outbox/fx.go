package outbox

import (
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/smallbiznis/workledger/internal/outbox/service"
	"github.com/smallbiznis/workledger/internal/outbox/worker"
	"go.uber.org/fx"
)

// Module wires the write side, the consumer and the maintenance services.
// Handlers join through the outbox_handlers group.
var Module = fx.Module("outbox",
	fx.Provide(
		service.NewPublisher,
		func(p *service.Publisher) outboxdomain.Publisher { return p },
		service.NewStore,
		func(s *service.Store) outboxdomain.Store { return s },
		service.NewRegistryFromGroup,
		service.NewConsumer,
		func(c *service.Consumer) outboxdomain.Consumer { return c },
		service.NewRetrier,
		func(r *service.Retrier) outboxdomain.Retrier { return r },
		service.NewSweeper,
		func(s *service.Sweeper) outboxdomain.Sweeper { return s },
	),
)

// WorkerModule runs the pooled executor and the dispatcher that feeds it.
var WorkerModule = fx.Module("outbox.worker",
	fx.Provide(
		worker.NewPool,
		func(p *worker.Pool) outboxdomain.Executor { return p },
		service.NewDispatcher,
		func(d *service.Dispatcher) outboxdomain.Dispatcher { return d },
	),
)
