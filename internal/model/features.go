package model

import "time"

// TrendLabel classifies the direction of a series.
type TrendLabel string

const (
	TrendBullish TrendLabel = "bullish"
	TrendBearish TrendLabel = "bearish"
	TrendRanging TrendLabel = "ranging"
)

// Sign maps bullish to +1, bearish to -1 and ranging to 0.
func (t TrendLabel) Sign() float64 {
	switch t {
	case TrendBullish:
		return 1
	case TrendBearish:
		return -1
	default:
		return 0
	}
}

// Metric is a computed value that may not be available yet. An unavailable
// metric always carries Value 0 and must not be read as a real reading.
type Metric struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// Some wraps an available value.
func Some(v float64) Metric { return Metric{Value: v, Valid: true} }

// None is the unavailable metric.
var None = Metric{}

// FeatureSnapshot holds the features of one timeframe at its latest closed bar.
type FeatureSnapshot struct {
	Timeframe Timeframe  `json:"timeframe"`
	Available bool       `json:"available"`
	BarTime   time.Time  `json:"bar_time"`
	Close     float64    `json:"close"`
	EMAFast   Metric     `json:"ema50"`
	EMASlow   Metric     `json:"ema200"`
	EMASlope  Metric     `json:"ema50_slope"`
	ATR       Metric     `json:"atr"`
	ATRMedian Metric     `json:"atr_median"`
	VolumeZ   Metric     `json:"volume_zscore"`
	RSI       Metric     `json:"rsi"`
	Trend     TrendLabel `json:"trend_label"`
}

// UnavailableSnapshot is the conservative snapshot used when a timeframe has
// no usable data this cycle.
func UnavailableSnapshot(tf Timeframe) FeatureSnapshot {
	return FeatureSnapshot{Timeframe: tf, Trend: TrendRanging}
}
