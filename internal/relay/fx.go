package relay

import (
	costenginedomain "github.com/smallbiznis/workledger/internal/costengine/domain"
	outboxservice "github.com/smallbiznis/workledger/internal/outbox/service"
	"go.uber.org/fx"
)

var Module = fx.Module("relay",
	fx.Provide(
		NewWriter,
		New,
		func(r *Relay) outboxservice.RegistrationOut {
			return outboxservice.Register(costenginedomain.EventCostEntryPosted, r)
		},
	),
)
