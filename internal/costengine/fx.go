package costengine

import (
	costenginedomain "github.com/smallbiznis/workledger/internal/costengine/domain"
	"github.com/smallbiznis/workledger/internal/costengine/service"
	outboxservice "github.com/smallbiznis/workledger/internal/outbox/service"
	"go.uber.org/fx"
)

var Module = fx.Module("costengine",
	fx.Provide(
		service.NewRateCard,
		service.NewCostCenterResolver,
		service.NewEngine,
		func(engine costenginedomain.Service) outboxservice.RegistrationOut {
			return outboxservice.Register(costenginedomain.EventWorkOrderClosed, engine)
		},
	),
)
