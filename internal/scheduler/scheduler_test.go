package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BiasSentinel/internal/model"
)

// scriptedRunner returns the scripted results in order.
type scriptedRunner struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (r *scriptedRunner) RunCycle(ctx context.Context) (*model.AnalysisReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i < len(r.results) && r.results[i] != nil {
		return nil, r.results[i]
	}
	return &model.AnalysisReport{Symbol: "XAUUSD", Cycle: uint64(i + 1), Bias: model.BiasResult{Score: float64(i)}}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	reports []*model.AnalysisReport
	err     error
}

func (s *recordingSink) Publish(_ context.Context, rep *model.AnalysisReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
	return s.err
}

// slowRunner blocks until its context ends.
type slowRunner struct{ sawDeadline atomic.Bool }

func (r *slowRunner) RunCycle(ctx context.Context) (*model.AnalysisReport, error) {
	_, ok := ctx.Deadline()
	r.sawDeadline.Store(ok)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunNow_PublishesAndRetains(t *testing.T) {
	sink := &recordingSink{}
	s := NewScheduler(context.Background(), &scriptedRunner{}, time.Second, sink)

	_, ok := s.Current()
	assert.False(t, ok)

	rep, ok := s.RunNow()
	require.True(t, ok)
	assert.Equal(t, uint64(1), rep.Cycle)
	assert.False(t, rep.Stale)
	require.Len(t, sink.reports, 1)
	assert.Same(t, rep, sink.reports[0])
}

func TestRunNow_FailureKeepsPreviousAsStale(t *testing.T) {
	sink := &recordingSink{}
	runner := &scriptedRunner{results: []error{nil, errors.New("boom"), errors.New("boom"), nil}}
	s := NewScheduler(context.Background(), runner, time.Second, sink)

	first, _ := s.RunNow()
	stale, ok := s.RunNow()
	require.True(t, ok)
	assert.True(t, stale.Stale)
	assert.Equal(t, first.Cycle, stale.Cycle)
	assert.False(t, first.Stale, "published report must not be mutated")

	again, _ := s.RunNow()
	assert.Same(t, stale, again)

	fresh, _ := s.RunNow()
	assert.False(t, fresh.Stale)
	assert.Equal(t, uint64(4), fresh.Cycle)
	assert.Len(t, sink.reports, 2)
}

func TestRunNow_FailureWithoutHistory(t *testing.T) {
	s := NewScheduler(context.Background(), &scriptedRunner{results: []error{errors.New("boom")}}, time.Second)
	_, ok := s.RunNow()
	assert.False(t, ok)
}

func TestRunNow_CycleTimeout(t *testing.T) {
	runner := &slowRunner{}
	s := NewScheduler(context.Background(), runner, 20*time.Millisecond)

	start := time.Now()
	_, ok := s.RunNow()
	assert.False(t, ok)
	assert.True(t, runner.sawDeadline.Load())
	assert.Less(t, time.Since(start), time.Second)
}

// deafRunner ignores its context and finishes after delay.
type deafRunner struct {
	delay time.Duration
	calls atomic.Int32
}

func (r *deafRunner) RunCycle(context.Context) (*model.AnalysisReport, error) {
	n := r.calls.Add(1)
	time.Sleep(r.delay)
	return &model.AnalysisReport{Symbol: "XAUUSD", Cycle: uint64(n)}, nil
}

func TestRunNow_OverrunningCycleIsAbandoned(t *testing.T) {
	sink := &recordingSink{}
	runner := &deafRunner{}
	s := NewScheduler(context.Background(), runner, 20*time.Millisecond, sink)

	first, ok := s.RunNow()
	require.True(t, ok)
	require.False(t, first.Stale)

	runner.delay = 500 * time.Millisecond
	start := time.Now()
	rep, ok := s.RunNow()
	require.True(t, ok)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.True(t, rep.Stale)
	assert.Equal(t, uint64(1), rep.Cycle)

	// The late result never replaces the stale report.
	time.Sleep(600 * time.Millisecond)
	cur, _ := s.Current()
	assert.Equal(t, uint64(1), cur.Cycle)
	assert.True(t, cur.Stale)
	sink.mu.Lock()
	assert.Len(t, sink.reports, 1)
	sink.mu.Unlock()
}

func TestRunNow_SinkErrorDoesNotFailCycle(t *testing.T) {
	bad := &recordingSink{err: errors.New("sink down")}
	good := &recordingSink{}
	s := NewScheduler(context.Background(), &scriptedRunner{}, time.Second, bad, good)

	_, ok := s.RunNow()
	assert.True(t, ok)
	assert.Len(t, good.reports, 1)
}

func TestRegister_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(context.Background(), &scriptedRunner{}, time.Second)
	assert.Error(t, s.Register("not a cron spec"))
	assert.NoError(t, s.Register("*/1 * * * * *"))
	assert.NoError(t, s.Register("@every 1m"))
}

func TestStartStop_RunsOnSchedule(t *testing.T) {
	runner := &scriptedRunner{}
	s := NewScheduler(context.Background(), runner, time.Second)
	require.NoError(t, s.Register("@every 1s"))
	s.Start()

	require.Eventually(t, func() bool {
		_, ok := s.Current()
		return ok
	}, 3*time.Second, 20*time.Millisecond)
	s.Stop()
}
