package features

import (
	"math"
	"testing"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BiasSentinel/internal/aggregator"
	"BiasSentinel/internal/calculator"
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() config.Features {
	return config.Features{EMAFast: 5, EMASlow: 20, ATRPeriod: 14, ZScoreWindow: 10, RSIPeriod: 14, ATRMedianWindow: 10}
}

func trendBars(n int, step float64) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + step*float64(i) + math.Sin(float64(i))
		bars[i] = model.Bar{
			Timeframe: model.H1,
			OpenTime:  t0.Add(time.Duration(i) * time.Hour),
			Open:      c - step,
			High:      c + 1,
			Low:       c - step - 1,
			Close:     c,
			Volume:    1000 + float64(i%7)*50,
		}
	}
	return bars
}

func window(bars []model.Bar, total int) aggregator.Window {
	return aggregator.Window{Timeframe: model.H1, Bars: bars, Total: total}
}

func TestSnapshot_NoBars(t *testing.T) {
	e := NewExtractor(model.H1, testConfig())
	s := e.Snapshot()
	assert.False(t, s.Available)
	assert.Equal(t, model.TrendRanging, s.Trend)
}

func TestSnapshot_InsufficientLookback(t *testing.T) {
	e := NewExtractor(model.H1, testConfig())
	bars := trendBars(8, 1)
	e.Update(window(bars, len(bars)))

	s := e.Snapshot()
	assert.True(t, s.Available)
	assert.True(t, s.EMAFast.Valid)
	assert.False(t, s.EMASlow.Valid)
	assert.Equal(t, 0.0, s.EMASlow.Value, "unavailable metrics carry no value")
	assert.False(t, s.ATR.Valid)
	assert.False(t, s.VolumeZ.Valid)
	assert.Equal(t, model.TrendRanging, s.Trend)
}

func TestSnapshot_TrendLabels(t *testing.T) {
	up := NewExtractor(model.H1, testConfig())
	bars := trendBars(60, 2)
	up.Update(window(bars, len(bars)))
	assert.Equal(t, model.TrendBullish, up.Snapshot().Trend)

	down := NewExtractor(model.H1, testConfig())
	bars = trendBars(60, -2)
	down.Update(window(bars, len(bars)))
	assert.Equal(t, model.TrendBearish, down.Snapshot().Trend)
}

func TestSnapshot_MatchesReference(t *testing.T) {
	cfg := testConfig()
	bars := trendBars(80, 0.5)
	e := NewExtractor(model.H1, cfg)
	e.Update(window(bars, len(bars)))
	s := e.Snapshot()

	var highs, lows, closes, vols []float64
	for _, b := range bars {
		highs = append(highs, b.High)
		lows = append(lows, b.Low)
		closes = append(closes, b.Close)
		vols = append(vols, b.Volume)
	}
	last := len(bars) - 1
	assert.InDelta(t, talib.Ema(closes, cfg.EMAFast)[last], s.EMAFast.Value, 1e-9)
	assert.InDelta(t, talib.Ema(closes, cfg.EMASlow)[last], s.EMASlow.Value, 1e-9)
	assert.InDelta(t, talib.Atr(highs, lows, closes, cfg.ATRPeriod)[last], s.ATR.Value, 1e-9)

	// Population z-score over the trailing window including the current bar.
	w := vols[len(vols)-cfg.ZScoreWindow:]
	mean := talib.Sma(vols, cfg.ZScoreWindow)[last]
	var ss float64
	for _, v := range w {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(w)))
	assert.InDelta(t, (vols[last]-mean)/std, s.VolumeZ.Value, 1e-9)
}

func TestUpdate_IncrementalEqualsFullRecompute(t *testing.T) {
	cfg := testConfig()
	bars := trendBars(120, 0.3)

	full := NewExtractor(model.H1, cfg)
	full.Update(window(bars, len(bars)))

	inc := NewExtractor(model.H1, cfg)
	for i := 1; i <= len(bars); i++ {
		// rolling window of at most 40 bars, as the aggregator hands it over
		lo := i - 40
		if lo < 0 {
			lo = 0
		}
		inc.Update(window(bars[lo:i], i))
	}
	assert.Equal(t, full.Snapshot(), inc.Snapshot(), "bit-identical snapshots")

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	ref, ok := calculator.EMASeries(closes, cfg.EMASlow)
	require.True(t, ok[len(ok)-1])
	assert.Equal(t, ref[len(ref)-1], inc.Snapshot().EMASlow.Value)
}

func TestUpdate_SameWindowTwiceIsNoop(t *testing.T) {
	e := NewExtractor(model.H1, testConfig())
	bars := trendBars(30, 1)
	assert.Equal(t, 30, e.Update(window(bars, 30)))
	before := e.Snapshot()
	assert.Equal(t, 0, e.Update(window(bars, 30)))
	assert.Equal(t, before, e.Snapshot())
}

func TestSnapshot_FlatVolumeZeroZ(t *testing.T) {
	e := NewExtractor(model.H1, testConfig())
	bars := trendBars(30, 1)
	for i := range bars {
		bars[i].Volume = 500
	}
	e.Update(window(bars, 30))
	s := e.Snapshot()
	require.True(t, s.VolumeZ.Valid)
	assert.Equal(t, 0.0, s.VolumeZ.Value)
}
