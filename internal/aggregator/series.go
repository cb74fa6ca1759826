package aggregator

import (
	"time"

	"BiasSentinel/internal/model"
)

// Series is the rolling window of closed bars of one timeframe.
type Series struct {
	tf     model.Timeframe
	window int
	bars   []model.Bar
	total  int
}

func newSeries(tf model.Timeframe, window int) *Series {
	return &Series{tf: tf, window: window, bars: make([]model.Bar, 0, window+1)}
}

// Window is a read-only copy of a series handed to per-timeframe stages.
type Window struct {
	Timeframe model.Timeframe
	Bars      []model.Bar
	// Total counts every bar ever closed into the series, including evicted ones.
	Total int
}

// Last returns the newest bar of the window.
func (w Window) Last() (model.Bar, bool) {
	if len(w.Bars) == 0 {
		return model.Bar{}, false
	}
	return w.Bars[len(w.Bars)-1], true
}

// Offset is the series position of Bars[0].
func (w Window) Offset() int { return w.Total - len(w.Bars) }

func (s *Series) last() (model.Bar, bool) {
	if len(s.bars) == 0 {
		return model.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// accepts reports whether b is strictly newer than the newest bar.
func (s *Series) accepts(b model.Bar) bool {
	last, ok := s.last()
	return !ok || b.OpenTime.After(last.OpenTime)
}

func (s *Series) append(b model.Bar) {
	s.bars = append(s.bars, b)
	s.total++
}

// truncate evicts the oldest bars beyond the window, never evicting a bar
// that opened at or after keepFrom. A zero keepFrom protects nothing.
func (s *Series) truncate(keepFrom time.Time) {
	n := 0
	for len(s.bars)-n > s.window {
		if !keepFrom.IsZero() && !s.bars[n].OpenTime.Before(keepFrom) {
			break
		}
		n++
	}
	if n > 0 {
		s.bars = append(s.bars[:0], s.bars[n:]...)
	}
}

func (s *Series) snapshot() Window {
	bars := make([]model.Bar, len(s.bars))
	copy(bars, s.bars)
	return Window{Timeframe: s.tf, Bars: bars, Total: s.total}
}
