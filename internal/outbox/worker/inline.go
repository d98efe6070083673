package worker

import (
	"context"

	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
)

// Inline runs the consumer on the caller's goroutine. The CLI uses it for
// one-shot dispatch, tests use it for deterministic ordering.
type Inline struct {
	Consumer outboxdomain.Consumer
	Errors   []error
}

func NewInline(consumer outboxdomain.Consumer) *Inline {
	return &Inline{Consumer: consumer}
}

func (e *Inline) Submit(ctx context.Context, ref outboxdomain.EventRef) bool {
	if err := e.Consumer.ProcessEvent(ctx, ref.TenantID, ref.EventID); err != nil {
		e.Errors = append(e.Errors, err)
	}
	return true
}
