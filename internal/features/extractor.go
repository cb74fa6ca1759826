// Package features turns a timeframe series into a FeatureSnapshot. All
// indicators are folded in one closed bar at a time.
package features

import (
	"BiasSentinel/internal/aggregator"
	"BiasSentinel/internal/calculator"
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

// Extractor holds the incremental indicator state of one timeframe.
type Extractor struct {
	tf  model.Timeframe
	cfg config.Features

	fast *calculator.EMA
	slow *calculator.EMA
	atr  *calculator.ATR
	rsi  *calculator.RSI

	volumes []float64
	atrs    []float64

	// consumed is the series position of the next bar to fold in.
	consumed int
	last     model.Bar
	seen     bool
}

// NewExtractor creates an extractor for tf.
func NewExtractor(tf model.Timeframe, cfg config.Features) *Extractor {
	return &Extractor{
		tf:   tf,
		cfg:  cfg,
		fast: calculator.NewEMA(cfg.EMAFast),
		slow: calculator.NewEMA(cfg.EMASlow),
		atr:  calculator.NewATR(cfg.ATRPeriod),
		rsi:  calculator.NewRSI(cfg.RSIPeriod),
	}
}

// Update folds every bar of w that has not been seen yet and returns how
// many were folded. Bars evicted from the window before they could be seen
// are skipped.
func (e *Extractor) Update(w aggregator.Window) int {
	start := e.consumed - w.Offset()
	if start < 0 {
		start = 0
	}
	n := 0
	for i := start; i < len(w.Bars); i++ {
		e.fold(w.Bars[i])
		n++
	}
	e.consumed = w.Total
	return n
}

func (e *Extractor) fold(b model.Bar) {
	e.fast.Update(b.Close)
	e.slow.Update(b.Close)
	e.atr.Update(b.High, b.Low, b.Close)
	e.rsi.Update(b.Close)

	e.volumes = pushWindow(e.volumes, b.Volume, e.cfg.ZScoreWindow)
	if e.atr.Ready() {
		e.atrs = pushWindow(e.atrs, e.atr.Value(), e.cfg.ATRMedianWindow)
	}
	e.last = b
	e.seen = true
}

func pushWindow(xs []float64, x float64, size int) []float64 {
	xs = append(xs, x)
	if len(xs) > size {
		xs = append(xs[:0], xs[len(xs)-size:]...)
	}
	return xs
}

// Snapshot returns the features at the latest folded bar.
func (e *Extractor) Snapshot() model.FeatureSnapshot {
	if !e.seen {
		return model.UnavailableSnapshot(e.tf)
	}
	s := model.FeatureSnapshot{
		Timeframe: e.tf,
		Available: true,
		BarTime:   e.last.OpenTime,
		Close:     e.last.Close,
		Trend:     model.TrendRanging,
	}
	if e.fast.Ready() {
		s.EMAFast = model.Some(e.fast.Value())
	}
	if e.slow.Ready() {
		s.EMASlow = model.Some(e.slow.Value())
	}
	if slope, ok := e.fast.Slope(); ok {
		s.EMASlope = model.Some(slope)
	}
	if e.atr.Ready() {
		s.ATR = model.Some(e.atr.Value())
	}
	if len(e.atrs) >= e.cfg.ATRMedianWindow {
		s.ATRMedian = model.Some(calculator.Median(e.atrs))
	}
	if len(e.volumes) >= e.cfg.ZScoreWindow {
		s.VolumeZ = model.Some(calculator.ZScore(e.last.Volume, e.volumes))
	}
	if e.rsi.Ready() {
		s.RSI = model.Some(e.rsi.Value())
	}
	s.Trend = Trend(s)
	return s
}

// Trend labels a snapshot: bullish when close > fast > slow with a rising
// fast average, bearish on the mirror, ranging otherwise or when any input
// is unavailable.
func Trend(s model.FeatureSnapshot) model.TrendLabel {
	if !s.EMAFast.Valid || !s.EMASlow.Valid || !s.EMASlope.Valid {
		return model.TrendRanging
	}
	fast, slow, slope := s.EMAFast.Value, s.EMASlow.Value, s.EMASlope.Value
	switch {
	case s.Close > fast && fast > slow && slope > 0:
		return model.TrendBullish
	case s.Close < fast && fast < slow && slope < 0:
		return model.TrendBearish
	default:
		return model.TrendRanging
	}
}
