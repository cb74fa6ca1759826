// Package strategy fuses the per-timeframe analyses into a bias score.
package strategy

import (
	"math"
	"sort"

	"BiasSentinel/internal/calculator"
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

// Label maps a score to its band. Bands are lower-inclusive: with bands
// [1, 4, 7], |score| < 1 is neutral, [1, 4) light, [4, 7) moderate and
// 7 and above strong.
func Label(score float64, bands []float64) (model.Strength, model.Direction, string) {
	abs := math.Abs(score)
	if len(bands) < 3 || abs < bands[0] {
		return model.StrengthNeutral, model.Neutral, string(model.StrengthNeutral)
	}
	var strength model.Strength
	switch {
	case abs >= bands[2]:
		strength = model.StrengthStrong
	case abs >= bands[1]:
		strength = model.StrengthModerate
	default:
		strength = model.StrengthLight
	}
	dir := model.Bullish
	if score < 0 {
		dir = model.Bearish
	}
	return strength, dir, string(strength) + " " + string(dir)
}

func weightOf(name model.FactorName, w config.Weights) float64 {
	switch name {
	case model.FactorHTFTrend:
		return w.HTFTrend
	case model.FactorEMA:
		return w.EMA
	case model.FactorStructure:
		return w.Structure
	case model.FactorVolume:
		return w.Volume
	case model.FactorATR:
		return w.ATR
	case model.FactorZone:
		return w.Zone
	case model.FactorLiquidity:
		return w.Liquidity
	default:
		return 0
	}
}

// Score computes the bias from one cycle's analyses. It is a pure function:
// each sub-score is clamped to [-1, 1], weighted, normalized by the total
// configured weight, scaled and clamped to [-10, 10]. Factors with no
// available input carry zero weight.
func Score(analyses []model.TimeframeAnalysis, htf []model.Timeframe, cfg config.Scoring) model.BiasResult {
	raws := []raw{
		scoreHTFTrend(analyses, htf),
		scoreEMA(analyses),
		scoreStructure(analyses),
		scoreVolume(analyses, cfg),
		scoreATR(analyses, cfg),
		scoreZone(analyses, cfg),
		scoreLiquidity(analyses),
	}
	total := cfg.Weights.Sum()

	factors := make([]model.FactorScore, 0, len(raws))
	sum := 0.0
	for _, r := range raws {
		f := model.FactorScore{Name: r.name, Commentary: r.commentary}
		if r.ok {
			f.RawScore = calculator.Clamp(r.score, -1, 1)
			f.Weight = weightOf(r.name, cfg.Weights)
			f.Contribution = calculator.SafeDiv(f.Weight*f.RawScore, total) * cfg.Scale
		} else {
			f.Commentary = "unavailable"
		}
		sum += f.Contribution
		factors = append(factors, f)
	}

	score := calculator.Clamp(sum, -10, 10)
	strength, dir, label := Label(score, cfg.Bands)
	return model.BiasResult{
		Score:     score,
		Label:     label,
		Strength:  strength,
		Direction: dir,
		Factors:   factors,
		Rationale: rationale(factors, cfg.MinorThreshold),
	}
}

// rationale lists factors whose contribution exceeds the minor threshold,
// largest first.
func rationale(factors []model.FactorScore, threshold float64) []model.RationaleItem {
	items := []model.RationaleItem{}
	for _, f := range factors {
		if math.Abs(f.Contribution) <= threshold {
			continue
		}
		dir := model.Bullish
		if f.Contribution < 0 {
			dir = model.Bearish
		}
		items = append(items, model.RationaleItem{Factor: f.Name, Direction: dir, Magnitude: math.Abs(f.Contribution)})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Magnitude > items[j].Magnitude })
	return items
}
