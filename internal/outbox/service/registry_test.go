package service

import (
	"testing"

	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	h := &countingHandler{}

	require.NoError(t, r.Register(" work_order.closed ", h))
	assert.ErrorIs(t, r.Register("work_order.closed", h), outboxdomain.ErrHandlerAlreadyRegistered)
	assert.ErrorIs(t, r.Register("", h), outboxdomain.ErrInvalidEventName)
	assert.ErrorIs(t, r.Register("x", nil), outboxdomain.ErrInvalidHandler)

	got, ok := r.Lookup("work_order.closed")
	assert.True(t, ok)
	assert.Same(t, h, got)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestNewRegistryFromGroup(t *testing.T) {
	r, err := NewRegistryFromGroup(RegistryParams{Registrations: []Registration{
		Register("b.event", &countingHandler{}).Registration,
		Register("a.event", &countingHandler{}).Registration,
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.event", "b.event"}, r.Names())

	_, err = NewRegistryFromGroup(RegistryParams{Registrations: []Registration{
		{EventName: "a.event", Handler: &countingHandler{}},
		{EventName: "a.event", Handler: &countingHandler{}},
	}})
	assert.ErrorIs(t, err, outboxdomain.ErrHandlerAlreadyRegistered)
}
