package strategy

import (
	"fmt"
	"math"

	"BiasSentinel/internal/calculator"
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

// sign returns -1, 0 or +1.
func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// mean averages per-timeframe sub-scores; ok is false when no timeframe
// could contribute.
func mean(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), true
}

// raw is an unweighted sub-score before clamping.
type raw struct {
	name       model.FactorName
	score      float64
	ok         bool
	commentary string
}

// scoreHTFTrend averages the trend label of the available higher timeframes.
func scoreHTFTrend(analyses []model.TimeframeAnalysis, htf []model.Timeframe) raw {
	var xs []float64
	for _, a := range analyses {
		if !a.Snapshot.Available || !contains(htf, a.Timeframe) {
			continue
		}
		xs = append(xs, a.Snapshot.Trend.Sign())
	}
	s, ok := mean(xs)
	return raw{name: model.FactorHTFTrend, score: s, ok: ok, commentary: fmt.Sprintf("%d HTF", len(xs))}
}

// scoreEMA rewards price above the fast average and the fast average above
// the slow one.
func scoreEMA(analyses []model.TimeframeAnalysis) raw {
	var xs []float64
	for _, a := range analyses {
		s := a.Snapshot
		if !s.Available || !s.EMAFast.Valid || !s.EMASlow.Valid {
			continue
		}
		xs = append(xs, 0.5*sign(s.Close-s.EMAFast.Value)+0.5*sign(s.EMAFast.Value-s.EMASlow.Value))
	}
	s, ok := mean(xs)
	return raw{name: model.FactorEMA, score: s, ok: ok}
}

// scoreStructure blends the structural trend with the latest break. A
// failed continuation leans against the break that failed.
func scoreStructure(analyses []model.TimeframeAnalysis) raw {
	var xs []float64
	last := ""
	for _, a := range analyses {
		if !a.Snapshot.Available {
			continue
		}
		x := 0.5 * a.Structure.Trend.Sign()
		if ev := a.Structure.LastEvent; ev != nil {
			d := ev.Direction.Sign()
			if ev.Kind == model.EventFailedContinuation {
				d = -d
			}
			x += 0.5 * d
			last = fmt.Sprintf("%s %s %s", a.Timeframe, ev.Direction, ev.Kind)
		}
		xs = append(xs, x)
	}
	s, ok := mean(xs)
	return raw{name: model.FactorStructure, score: s, ok: ok, commentary: last}
}

// scoreVolume is the z-score magnitude in the direction of the trend; on
// its own, volume has no direction.
func scoreVolume(analyses []model.TimeframeAnalysis, cfg config.Scoring) raw {
	var xs []float64
	for _, a := range analyses {
		s := a.Snapshot
		if !s.Available || !s.VolumeZ.Valid {
			continue
		}
		mag := math.Min(calculator.SafeDiv(math.Abs(s.VolumeZ.Value), cfg.ZScoreScale), 1)
		xs = append(xs, mag*s.Trend.Sign())
	}
	s, ok := mean(xs)
	return raw{name: model.FactorVolume, score: s, ok: ok}
}

// scoreATR measures activity as ATR against its median. An active market
// backs the trend; a dead one (below DeadATRRatio) counts fully against it.
func scoreATR(analyses []model.TimeframeAnalysis, cfg config.Scoring) raw {
	var xs []float64
	for _, a := range analyses {
		s := a.Snapshot
		if !s.Available || !s.ATR.Valid || !s.ATRMedian.Valid {
			continue
		}
		ratio := calculator.SafeDiv(s.ATR.Value, s.ATRMedian.Value)
		activity := calculator.Clamp(ratio-1, -1, 1)
		if ratio < cfg.DeadATRRatio {
			activity = -1
		}
		xs = append(xs, activity*s.Trend.Sign())
	}
	s, ok := mean(xs)
	return raw{name: model.FactorATR, score: s, ok: ok}
}

// scoreZone leans towards the nearest live zone: fully inside it, fading to
// nothing ZoneProximityATR ATRs away. Demand is bullish, supply bearish.
func scoreZone(analyses []model.TimeframeAnalysis, cfg config.Scoring) raw {
	var xs []float64
	for _, a := range analyses {
		s := a.Snapshot
		if !s.Available || !s.ATR.Valid {
			continue
		}
		nearest, found := nearestZone(a.Zones, s.Close)
		if !found {
			xs = append(xs, 0)
			continue
		}
		reach := cfg.ZoneProximityATR * s.ATR.Value
		proximity := math.Max(0, 1-calculator.SafeDiv(nearest.Distance(s.Close), reach))
		if reach == 0 && nearest.Contains(s.Close) {
			proximity = 1
		}
		xs = append(xs, proximity*nearest.Type.Displacement().Sign())
	}
	s, ok := mean(xs)
	return raw{name: model.FactorZone, score: s, ok: ok}
}

func nearestZone(zones []model.Zone, price float64) (model.Zone, bool) {
	var best model.Zone
	found := false
	for _, z := range zones {
		if z.State.Terminal() {
			continue
		}
		if !found || z.Distance(price) < best.Distance(price) {
			best, found = z, true
		}
	}
	return best, found
}

// scoreLiquidity sums event directions, half a point each.
func scoreLiquidity(analyses []model.TimeframeAnalysis) raw {
	sum := 0.0
	n, seen := 0, false
	for _, a := range analyses {
		if !a.Snapshot.Available {
			continue
		}
		seen = true
		for _, ev := range a.Events {
			sum += 0.5 * ev.Direction.Sign()
			n++
		}
	}
	return raw{name: model.FactorLiquidity, score: sum, ok: seen, commentary: fmt.Sprintf("%d events", n)}
}

func contains(tfs []model.Timeframe, tf model.Timeframe) bool {
	for _, t := range tfs {
		if t == tf {
			return true
		}
	}
	return false
}
