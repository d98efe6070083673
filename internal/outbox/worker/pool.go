package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/smallbiznis/workledger/internal/config"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`
	Log       *zap.Logger
	Config    config.Config
	Consumer  outboxdomain.Consumer
}

// Pool is a bounded queue drained by a fixed set of goroutines, each
// calling the consumer for one event at a time.
type Pool struct {
	log      *zap.Logger
	consumer outboxdomain.Consumer
	workers  int
	queue    chan outboxdomain.EventRef

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func NewPool(p Params) *Pool {
	workers := p.Config.Outbox.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := p.Config.Outbox.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	pool := &Pool{
		log:      p.Log.Named("outbox.worker"),
		consumer: p.Consumer,
		workers:  workers,
		queue:    make(chan outboxdomain.EventRef, size),
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				pool.Start()
				return nil
			},
			OnStop: pool.Stop,
		})
	}
	return pool
}

// Submit enqueues ref without blocking. It returns false when the pool is
// stopped or the queue is full; the dispatcher then releases the lease.
func (p *Pool) Submit(ctx context.Context, ref outboxdomain.EventRef) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case p.queue <- ref:
		return true
	default:
		return false
	}
}

// Depth reports how many events wait in the queue.
func (p *Pool) Depth() int {
	return len(p.queue)
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			p.loop(gctx)
			return nil
		})
	}
	p.cancel = cancel
	p.group = group
	p.running = true
	p.log.Info("outbox worker pool started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.queue)))
}

// Stop waits for in-flight events, bounded by ctx. Queued events that were
// never started keep their lease and are redispatched after it expires.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, group := p.cancel, p.group
	p.mu.Unlock()

	cancel()
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		p.log.Info("outbox worker pool stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ref := <-p.queue:
			p.process(ref)
		}
	}
}

func (p *Pool) process(ref outboxdomain.EventRef) {
	// an event in flight finishes even when the pool is stopping
	err := p.consumer.ProcessEvent(context.Background(), ref.TenantID, ref.EventID)
	if err == nil || errors.Is(err, outboxdomain.ErrEventNotFound) {
		return
	}
	// the consumer has already logged and recorded the attempt
	p.log.Debug("outbox event not processed",
		zap.String("tenant_id", ref.TenantID.String()),
		zap.String("event_id", ref.EventID.String()),
		zap.Error(err),
	)
}
