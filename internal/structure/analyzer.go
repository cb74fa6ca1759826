// Package structure detects swing points and classifies market structure
// breaks on one timeframe.
package structure

import (
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

// level is the most recent confirmed swing of one side and whether a close
// has already broken it.
type level struct {
	price  float64
	set    bool
	broken bool
}

// Analyze walks the window bar by bar. A close beyond the latest confirmed,
// unbroken swing level is a break. Breaks with the structural trend (or from
// a ranging state) are BOS. A break against the trend within FailWindow bars
// of the previous break marks that break as a failed continuation and resets
// the trend to ranging; later against-trend breaks are CHoCH and flip it.
func Analyze(tf model.Timeframe, bars []model.Bar, snap model.FeatureSnapshot, cfg config.Structure) model.StructureResult {
	res := model.StructureResult{Timeframe: tf, Trend: model.TrendRanging}
	swings := DetectSwings(bars, cfg.SwingWindow)

	var hi, lo level
	trend := model.Neutral
	lastBreak := -1
	next := 0
	for i, b := range bars {
		for next < len(swings) && swings[next].ConfirmedAt < i {
			sp := swings[next]
			if sp.Kind == model.SwingHigh {
				hi = level{price: sp.Price, set: true}
			} else {
				lo = level{price: sp.Price, set: true}
			}
			next++
		}

		var dir model.Direction
		var lvl float64
		switch {
		case hi.set && !hi.broken && b.Close > hi.price:
			hi.broken = true
			dir, lvl = model.Bullish, hi.price
		case lo.set && !lo.broken && b.Close < lo.price:
			lo.broken = true
			dir, lvl = model.Bearish, lo.price
		default:
			continue
		}

		ev := model.StructureEvent{Direction: dir, Level: lvl, Time: b.OpenTime, Index: i}
		switch {
		case trend == model.Neutral || trend == dir:
			ev.Kind = model.EventBOS
			trend = dir
		case lastBreak >= 0 && i-lastBreak <= cfg.FailWindow:
			ev.Kind = model.EventFailedContinuation
			ev.Direction = trend
			trend = model.Neutral
		default:
			ev.Kind = model.EventCHoCH
			trend = dir
		}
		lastBreak = i
		res.Events = append(res.Events, ev)
	}

	// Swings confirmed by the last bar still define the current levels.
	for ; next < len(swings); next++ {
		sp := swings[next]
		if sp.Kind == model.SwingHigh {
			hi = level{price: sp.Price, set: true}
		} else {
			lo = level{price: sp.Price, set: true}
		}
	}

	if n := len(res.Events); n > 0 {
		last := res.Events[n-1]
		res.LastEvent = &last
	}
	if hi.set {
		res.LastSwingHigh = model.Some(hi.price)
	}
	if lo.set {
		res.LastSwingLow = model.Some(lo.price)
	}
	res.Trend = classify(swings, snap, trend)

	if len(swings) > cfg.SwingLookback {
		swings = swings[len(swings)-cfg.SwingLookback:]
	}
	res.Swings = swings
	if len(res.Events) > cfg.SwingLookback {
		res.Events = res.Events[len(res.Events)-cfg.SwingLookback:]
	}
	return res
}

// classify combines swing slope with the volatility regime. Higher highs and
// higher lows are bullish, the mirror bearish. A flat or overlapping swing
// sequence is ranging when ATR sits below its median; otherwise the trend of
// the last structure break stands.
func classify(swings []model.SwingPoint, snap model.FeatureSnapshot, structural model.Direction) model.TrendLabel {
	h1, h2, okH := lastTwo(swings, model.SwingHigh)
	l1, l2, okL := lastTwo(swings, model.SwingLow)
	if okH && okL {
		switch {
		case h2 > h1 && l2 > l1:
			return model.TrendBullish
		case h2 < h1 && l2 < l1:
			return model.TrendBearish
		}
	}
	if snap.ATR.Valid && snap.ATRMedian.Valid && snap.ATR.Value < snap.ATRMedian.Value {
		return model.TrendRanging
	}
	switch structural {
	case model.Bullish:
		return model.TrendBullish
	case model.Bearish:
		return model.TrendBearish
	default:
		return model.TrendRanging
	}
}
