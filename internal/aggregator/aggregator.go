package aggregator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"BiasSentinel/internal/model"
)

var (
	// ErrOutOfOrder is returned for a bar whose open time is not after the
	// newest bar of its series. The bar is dropped.
	ErrOutOfOrder = errors.New("out-of-order bar")
	// ErrUnknownTimeframe is returned for a bar of a timeframe that is not
	// fed directly.
	ErrUnknownTimeframe = errors.New("unknown timeframe")
)

// Aggregator owns the bar series of every tracked timeframe. With a base
// timeframe, higher timeframes are built by time bucketing the base bars;
// without one, each timeframe is appended directly from the feed.
type Aggregator struct {
	mu         sync.RWMutex
	base       model.Timeframe
	timeframes []model.Timeframe
	series     map[model.Timeframe]*Series
	derived    map[model.Timeframe]bool
	forming    map[model.Timeframe]*model.Bar
}

// New creates an aggregator. base may be empty.
func New(base model.Timeframe, timeframes []model.Timeframe, window int) (*Aggregator, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %d", window)
	}
	a := &Aggregator{
		base:       base,
		timeframes: append([]model.Timeframe(nil), timeframes...),
		series:     make(map[model.Timeframe]*Series),
		derived:    make(map[model.Timeframe]bool),
		forming:    make(map[model.Timeframe]*model.Bar),
	}
	if base != "" {
		if !base.Valid() {
			return nil, fmt.Errorf("%w: base %q", ErrUnknownTimeframe, base)
		}
		a.series[base] = newSeries(base, window)
	}
	for _, tf := range timeframes {
		if !tf.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTimeframe, tf)
		}
		if tf == base {
			continue
		}
		if base != "" {
			if tf.Duration() < base.Duration() || tf.Duration()%base.Duration() != 0 {
				return nil, fmt.Errorf("timeframe %s is not a multiple of base %s", tf, base)
			}
			a.derived[tf] = true
		}
		a.series[tf] = newSeries(tf, window)
	}
	return a, nil
}

// Timeframes returns the tracked timeframes in configuration order.
func (a *Aggregator) Timeframes() []model.Timeframe {
	return append([]model.Timeframe(nil), a.timeframes...)
}

// Append adds a closed bar from the feed. Base bars are routed through
// Ingest; bars of directly fed timeframes are appended as they are. It
// returns the bars that closed as a result.
func (a *Aggregator) Append(b model.Bar) ([]model.Bar, error) {
	if a.base != "" && b.Timeframe == a.base {
		return a.Ingest(b)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.series[b.Timeframe]
	if !ok || a.derived[b.Timeframe] {
		return nil, fmt.Errorf("%w: %q is not fed directly", ErrUnknownTimeframe, b.Timeframe)
	}
	if !s.accepts(b) {
		return nil, fmt.Errorf("%w: %s %s", ErrOutOfOrder, b.Timeframe, b.OpenTime.Format(time.RFC3339))
	}
	s.append(b)
	s.truncate(time.Time{})
	return []model.Bar{b}, nil
}

// Ingest adds a base timeframe bar and updates every derived timeframe. A
// derived bar stays open until a base bar falls into a later bucket or the
// base bar's close reaches the bucket boundary. Closed derived bars are
// returned, followed by the base bar itself.
func (a *Aggregator) Ingest(b model.Bar) ([]model.Bar, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.base == "" || b.Timeframe != a.base {
		return nil, fmt.Errorf("%w: %q is not the base timeframe", ErrUnknownTimeframe, b.Timeframe)
	}
	bs := a.series[a.base]
	if !bs.accepts(b) {
		return nil, fmt.Errorf("%w: %s %s", ErrOutOfOrder, b.Timeframe, b.OpenTime.Format(time.RFC3339))
	}
	bs.append(b)

	var closed []model.Bar
	for _, tf := range a.timeframes {
		if !a.derived[tf] {
			continue
		}
		d := tf.Duration()
		bucket := b.OpenTime.Truncate(d)
		f := a.forming[tf]
		if f != nil && !f.OpenTime.Equal(bucket) {
			closed = append(closed, a.close(tf))
			f = nil
		}
		if f == nil {
			// A bucket already closed by Flush does not reopen.
			if last, ok := a.series[tf].last(); ok && !bucket.After(last.OpenTime) {
				continue
			}
			a.forming[tf] = &model.Bar{
				Timeframe: tf,
				OpenTime:  bucket,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			}
		} else {
			if b.High > f.High {
				f.High = b.High
			}
			if b.Low < f.Low {
				f.Low = b.Low
			}
			f.Close = b.Close
			f.Volume += b.Volume
		}
		if !b.CloseTime().Before(bucket.Add(d)) {
			closed = append(closed, a.close(tf))
		}
	}
	bs.truncate(a.earliestForming())
	return append(closed, b), nil
}

// Flush closes every derived bar whose bucket has fully elapsed at now.
func (a *Aggregator) Flush(now time.Time) []model.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()

	var closed []model.Bar
	for _, tf := range a.timeframes {
		f := a.forming[tf]
		if f == nil {
			continue
		}
		if !now.Before(f.OpenTime.Add(tf.Duration())) {
			closed = append(closed, a.close(tf))
		}
	}
	if bs, ok := a.series[a.base]; ok {
		bs.truncate(a.earliestForming())
	}
	return closed
}

// close moves the forming bar of tf into its series. Callers hold mu.
func (a *Aggregator) close(tf model.Timeframe) model.Bar {
	f := a.forming[tf]
	delete(a.forming, tf)
	s := a.series[tf]
	s.append(*f)
	s.truncate(time.Time{})
	return *f
}

func (a *Aggregator) earliestForming() time.Time {
	var earliest time.Time
	for _, f := range a.forming {
		if earliest.IsZero() || f.OpenTime.Before(earliest) {
			earliest = f.OpenTime
		}
	}
	return earliest
}

// Series returns a copy of the closed bars of tf.
func (a *Aggregator) Series(tf model.Timeframe) (Window, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.series[tf]
	if !ok {
		return Window{}, fmt.Errorf("%w: %q", ErrUnknownTimeframe, tf)
	}
	return s.snapshot(), nil
}

// Forming returns the still-open derived bar of tf, if any.
func (a *Aggregator) Forming(tf model.Timeframe) (model.Bar, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	f, ok := a.forming[tf]
	if !ok {
		return model.Bar{}, false
	}
	return *f, true
}

// Seed warms the aggregator from journaled bars. Bars already covered by the
// series are skipped; the number of accepted bars is returned.
func (a *Aggregator) Seed(bars []model.Bar) (int, error) {
	accepted := 0
	for _, b := range bars {
		_, err := a.Append(b)
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrOutOfOrder):
		default:
			return accepted, fmt.Errorf("seed: %w", err)
		}
	}
	return accepted, nil
}
