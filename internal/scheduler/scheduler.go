package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"BiasSentinel/internal/model"
	"BiasSentinel/internal/report"
)

// Runner runs one analysis cycle.
type Runner interface {
	RunCycle(ctx context.Context) (*model.AnalysisReport, error)
}

// Scheduler triggers analysis cycles on a cron schedule and keeps the most
// recent report.
type Scheduler struct {
	Cron    *cron.Cron
	Runner  Runner
	Sinks   []report.Sink
	Timeout time.Duration
	Ctx     context.Context

	mu      sync.RWMutex
	current *model.AnalysisReport
}

// NewScheduler creates a new Scheduler. A tick that fires while the previous
// cycle is still running is skipped.
func NewScheduler(ctx context.Context, runner Runner, timeout time.Duration, sinks ...report.Sink) *Scheduler {
	logger := cron.VerbosePrintfLogger(log.Default())
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		Runner:  runner,
		Sinks:   sinks,
		Timeout: timeout,
		Ctx:     ctx,
	}
}

// Register adds the analysis cycle under spec, e.g. "0 */15 * * * *" or
// "@every 1m".
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.cycleTask); err != nil {
		return fmt.Errorf("register cycle task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] scheduler stopped")
}

// RunNow executes one cycle immediately (for manual trigger / RUN_ON_START)
// and returns the current report.
func (s *Scheduler) RunNow() (*model.AnalysisReport, bool) {
	s.cycleTask()
	return s.Current()
}

// Current returns the latest report. After a failed cycle it is the previous
// report marked stale.
func (s *Scheduler) Current() (*model.AnalysisReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

type cycleResult struct {
	rep *model.AnalysisReport
	err error
}

// cycleTask runs one cycle under the cycle timeout. A cycle still running at
// the deadline is abandoned: its late result is discarded and the current
// report is marked stale.
func (s *Scheduler) cycleTask() {
	ctx, cancel := context.WithTimeout(s.Ctx, s.Timeout)
	defer cancel()

	started := time.Now()
	done := make(chan cycleResult, 1)
	go func() {
		rep, err := s.Runner.RunCycle(ctx)
		done <- cycleResult{rep: rep, err: err}
	}()

	var res cycleResult
	select {
	case res = <-done:
	case <-ctx.Done():
		log.Printf("[ERROR] analysis cycle abandoned after %s: %v", time.Since(started).Round(time.Millisecond), ctx.Err())
		s.markStale()
		return
	}
	if res.err != nil {
		log.Printf("[ERROR] analysis cycle: %v", res.err)
		s.markStale()
		return
	}
	rep := res.rep

	s.mu.Lock()
	s.current = rep
	s.mu.Unlock()
	log.Printf("[INFO] cycle %d done in %s: %+.2f %s", rep.Cycle, time.Since(started).Round(time.Millisecond), rep.Bias.Score, rep.Bias.Label)

	for _, sink := range s.Sinks {
		if err := sink.Publish(s.Ctx, rep); err != nil {
			log.Printf("[ERROR] publish report: %v", err)
		}
	}
}

// markStale keeps the previous report as current but flags it. The report
// already handed to sinks is left untouched.
func (s *Scheduler) markStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Stale {
		return
	}
	stale := *s.current
	stale.Stale = true
	s.current = &stale
	log.Printf("[WARN] keeping report of cycle %d as stale", stale.Cycle)
}
