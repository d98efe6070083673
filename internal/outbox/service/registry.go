package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"go.uber.org/fx"
)

// Registry maps event names to handlers. It is filled at startup and read
// by every consumer goroutine.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]outboxdomain.Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]outboxdomain.Handler{}}
}

func (r *Registry) Register(eventName string, handler outboxdomain.Handler) error {
	name := strings.TrimSpace(eventName)
	if name == "" {
		return outboxdomain.ErrInvalidEventName
	}
	if handler == nil {
		return outboxdomain.ErrInvalidHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", outboxdomain.ErrHandlerAlreadyRegistered, name)
	}
	r.handlers[name] = handler
	return nil
}

func (r *Registry) Lookup(eventName string) (outboxdomain.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.TrimSpace(eventName)]
	return h, ok
}

// Names returns the registered event names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Registration is contributed to the outbox_handlers fx group by modules
// that own a handler.
type Registration struct {
	EventName string
	Handler   outboxdomain.Handler
}

type RegistrationOut struct {
	fx.Out

	Registration Registration `group:"outbox_handlers"`
}

// Register wraps a handler for the outbox_handlers group.
func Register(eventName string, handler outboxdomain.Handler) RegistrationOut {
	return RegistrationOut{Registration: Registration{EventName: eventName, Handler: handler}}
}

type RegistryParams struct {
	fx.In

	Registrations []Registration `group:"outbox_handlers"`
}

func NewRegistryFromGroup(p RegistryParams) (*Registry, error) {
	r := NewRegistry()
	for _, reg := range p.Registrations {
		if err := r.Register(reg.EventName, reg.Handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}
