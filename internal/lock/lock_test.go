package lock

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/workledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilLockerGrantsEveryLock(t *testing.T) {
	var l *Locker
	assert.False(t, l.Enabled())

	token, ok, err := l.TryLock(context.Background(), "outbox:sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, l.Release(context.Background(), "outbox:sweep", token))
}

func TestTryLockValidatesArguments(t *testing.T) {
	var l *Locker

	_, _, err := l.TryLock(context.Background(), "", time.Minute)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, _, err = l.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestNewRedisClientWithoutAddr(t *testing.T) {
	client := NewRedisClient(nil, config.Config{}, zap.NewNop())
	assert.Nil(t, client)
	assert.Nil(t, NewLocker(client))
}
