package feed

import (
	"context"
	"sort"
	"sync"

	"BiasSentinel/internal/model"
)

// ReplayFeed serves pre-loaded bars in open-time order, one timeframe queue
// at a time. It backs tests, offline replay and warm-up.
type ReplayFeed struct {
	mu     sync.Mutex
	queues map[model.Timeframe][]model.Bar
}

// NewReplayFeed creates a feed holding bars.
func NewReplayFeed(bars ...model.Bar) *ReplayFeed {
	f := &ReplayFeed{queues: make(map[model.Timeframe][]model.Bar)}
	f.Push(bars...)
	return f
}

func (f *ReplayFeed) Name() string { return "replay" }

// Push appends bars to their timeframe queues.
func (f *ReplayFeed) Push(bars ...model.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	touched := make(map[model.Timeframe]bool)
	for _, b := range bars {
		f.queues[b.Timeframe] = append(f.queues[b.Timeframe], b)
		touched[b.Timeframe] = true
	}
	for tf := range touched {
		q := f.queues[tf]
		sort.SliceStable(q, func(i, j int) bool { return q[i].OpenTime.Before(q[j].OpenTime) })
	}
}

// Pending is the number of queued bars for tf.
func (f *ReplayFeed) Pending(tf model.Timeframe) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[tf])
}

func (f *ReplayFeed) NextBar(ctx context.Context, tf model.Timeframe) (model.Bar, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Bar{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[tf]
	if len(q) == 0 {
		return model.Bar{}, false, nil
	}
	b := q[0]
	f.queues[tf] = q[1:]
	return b, true, nil
}
