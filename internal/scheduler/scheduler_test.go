package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	obsmetrics "github.com/smallbiznis/workledger/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDispatcher struct {
	results    []int
	calls      int
	recovered  int64
	recoveries int
	err        error
}

func (d *fakeDispatcher) DispatchPending(_ context.Context, _ int, _ *snowflake.ID) (int, error) {
	d.calls++
	if d.err != nil {
		return 0, d.err
	}
	if len(d.results) == 0 {
		return 0, nil
	}
	n := d.results[0]
	d.results = d.results[1:]
	return n, nil
}

func (d *fakeDispatcher) RecoverExpiredLeases(context.Context) (int64, error) {
	d.recoveries++
	return d.recovered, nil
}

type fakeSweeper struct {
	calls int
	swept int64
}

func (s *fakeSweeper) Sweep(context.Context) (int64, error) {
	s.calls++
	return s.swept, nil
}

func newTestScheduler(t *testing.T, cfg Config, d *fakeDispatcher, sw *fakeSweeper) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	s, err := New(Params{Log: zap.NewNop(), GenID: node, Dispatcher: d, Sweeper: sw, Config: cfg})
	require.NoError(t, err)
	return s
}

func swapMetrics(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	obsmetrics.ResetSchedulerMetricsForTest(registry)
	t.Cleanup(func() { obsmetrics.ResetSchedulerMetricsForTest(prometheus.NewRegistry()) })
	return registry
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsEveryJob(t *testing.T) {
	registry := swapMetrics(t)
	d := &fakeDispatcher{results: []int{2, 2, 1}, recovered: 3}
	sw := &fakeSweeper{swept: 4}
	s := newTestScheduler(t, Config{BatchSize: 2}, d, sw)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 3, d.calls, "drains until a short batch")
	assert.Equal(t, 1, d.recoveries)
	assert.Equal(t, 1, sw.calls)

	labels := map[string]string{"service": "workledger", "env": "test", "job": JobOutboxDispatch, "resource": resourceOutboxEvent}
	assert.Equal(t, float64(5), getCounterValue(t, registry, "workledger_scheduler_batch_processed_total", labels))
	labels["job"] = JobOutboxSweep
	assert.Equal(t, float64(4), getCounterValue(t, registry, "workledger_scheduler_batch_processed_total", labels))
}

func TestDispatchJobStopsAtRoundLimit(t *testing.T) {
	swapMetrics(t)
	d := &fakeDispatcher{results: []int{5, 5, 5, 5, 5}}
	s := newTestScheduler(t, Config{BatchSize: 5, MaxDispatchRounds: 3}, d, &fakeSweeper{})

	require.NoError(t, s.DispatchJob(context.Background()))
	assert.Equal(t, 3, d.calls)
}

func TestDispatchJobEmptyIsDeferred(t *testing.T) {
	registry := swapMetrics(t)
	d := &fakeDispatcher{}
	s := newTestScheduler(t, Config{}, d, &fakeSweeper{})

	require.NoError(t, s.DispatchJob(context.Background()))
	labels := map[string]string{"service": "workledger", "env": "test", "job": JobOutboxDispatch, "reason": obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "workledger_scheduler_batch_deferred_total", labels))
}

func TestEnabledJobsFilter(t *testing.T) {
	swapMetrics(t)
	d := &fakeDispatcher{}
	sw := &fakeSweeper{}
	s := newTestScheduler(t, Config{EnabledJobs: []string{" OUTBOX_SWEEP "}}, d, sw)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Zero(t, d.calls)
	assert.Zero(t, d.recoveries)
	assert.Equal(t, 1, sw.calls)
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	registry := swapMetrics(t)
	boom := errors.New("connection refused")
	d := &fakeDispatcher{err: boom}
	sw := &fakeSweeper{}
	s := newTestScheduler(t, Config{}, d, sw)

	err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobOutboxDispatch)
	assert.Equal(t, 1, sw.calls, "a failing job does not stop the others")

	labels := map[string]string{"service": "workledger", "env": "test", "job": JobOutboxDispatch, "reason": obsmetrics.SchedulerJobReasonUnknown}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "workledger_scheduler_job_errors_total", labels))
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := swapMetrics(t)
	s := newTestScheduler(t, Config{}, &fakeDispatcher{}, &fakeSweeper{})

	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{"service": "workledger", "env": "test", "job": "timeout_job"}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "workledger_scheduler_job_timeouts_total", labels))

	labels["reason"] = obsmetrics.SchedulerJobReasonDeadlineExceeded
	assert.Equal(t, float64(1), getCounterValue(t, registry, "workledger_scheduler_job_errors_total", labels))
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	swapMetrics(t)
	sw := &fakeSweeper{}
	s := newTestScheduler(t, Config{RunInterval: time.Hour}, &fakeDispatcher{}, sw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		s.RunForever(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
