package strategy

import (
	"fmt"
	"math"

	"BiasSentinel/internal/calculator"
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

// BuildPlan turns a finished report into a zone-based trade plan. It needs
// an open gate, a directional higher timeframe bias matched by the entry
// timeframe's structure, no sweep or fakeout against that bias on the entry
// timeframe and a live zone on the buying (demand) or selling (supply) side.
// The stop sits beyond the zone with an ATR buffer; targets step out from
// the zone midpoint in ATR multiples.
func BuildPlan(rep *model.AnalysisReport, htf []model.Timeframe, cfg config.Plan) (*model.TradePlan, bool) {
	if !rep.Gate.Allowed {
		return nil, false
	}
	bias, biasTF, ok := htfBias(rep, htf)
	if !ok {
		return nil, false
	}
	entry, ok := rep.Timeframe(cfg.EntryTimeframe)
	s := entry.Snapshot
	if !ok || !s.Available || !s.ATR.Valid || entry.Structure.Trend != bias {
		return nil, false
	}

	side, zoneType, dir := model.SideBuy, model.Demand, model.Bullish
	if bias == model.TrendBearish {
		side, zoneType, dir = model.SideSell, model.Supply, model.Bearish
	}
	for _, ev := range entry.Events {
		if (ev.Kind == model.LiquiditySweep || ev.Kind == model.LiquidityFakeout) && ev.Direction == dir.Opposite() {
			return nil, false
		}
	}
	zone, ok := nearestOfType(entry.Zones, zoneType, s.Close)
	if !ok {
		return nil, false
	}

	atr := s.ATR.Value
	dist := func(mult float64) float64 { return math.Max(atr*mult, cfg.MinDistance) }
	mid := zone.Mid()
	sgn := dir.Sign()

	plan := &model.TradePlan{
		Symbol:     rep.Symbol,
		Timeframe:  cfg.EntryTimeframe,
		Side:       side,
		MarketBias: bias,
		ZoneID:     zone.ID,
		EntryLow:   zone.PriceLow,
		EntryHigh:  zone.PriceHigh,
	}
	if side == model.SideBuy {
		plan.StopLoss = zone.PriceLow - dist(cfg.StopATR)
	} else {
		plan.StopLoss = zone.PriceHigh + dist(cfg.StopATR)
	}
	for _, m := range cfg.TargetATR {
		plan.Targets = append(plan.Targets, mid+sgn*dist(m))
	}
	plan.RiskReward = calculator.SafeDiv(math.Abs(plan.Targets[1]-mid), math.Abs(mid-plan.StopLoss))
	plan.Confidence = confidence(plan, s, cfg)
	plan.Reason = fmt.Sprintf("HTF aligned (%s on %s); %s zone entry on %s; ATR=%.2f; RR(TP2)=%.2f",
		bias, biasTF, zoneType, cfg.EntryTimeframe, atr, plan.RiskReward)
	return plan, true
}

// htfBias is the structural trend of the highest available higher timeframe
// that is not ranging.
func htfBias(rep *model.AnalysisReport, htf []model.Timeframe) (model.TrendLabel, model.Timeframe, bool) {
	for i := len(htf) - 1; i >= 0; i-- {
		a, ok := rep.Timeframe(htf[i])
		if !ok || !a.Snapshot.Available || a.Structure.Trend == model.TrendRanging {
			continue
		}
		return a.Structure.Trend, htf[i], true
	}
	return "", "", false
}

func nearestOfType(zones []model.Zone, typ model.ZoneType, price float64) (model.Zone, bool) {
	var of []model.Zone
	for _, z := range zones {
		if z.Type == typ {
			of = append(of, z)
		}
	}
	return nearestZone(of, price)
}

// confidence starts at 50 and adjusts for EMA alignment, RSI room, distance
// from the zone and reward to risk, capped at MaxConfidence.
func confidence(p *model.TradePlan, s model.FeatureSnapshot, cfg config.Plan) float64 {
	c := 50.0
	buy := p.Side == model.SideBuy
	if s.EMAFast.Valid && s.EMASlow.Valid {
		if (buy && s.EMAFast.Value > s.EMASlow.Value) || (!buy && s.EMAFast.Value < s.EMASlow.Value) {
			c += 10
		}
	}
	if s.RSI.Valid {
		r := s.RSI.Value
		if (buy && r >= 45 && r <= 70) || (!buy && r >= 30 && r <= 55) {
			c += 8
		}
	}
	// missed entry
	if math.Abs(s.Close-p.Entry()) > cfg.FarATR*s.ATR.Value {
		c -= 15
	}
	switch {
	case p.RiskReward >= 2:
		c += 10
	case p.RiskReward >= 1.5:
		c += 6
	case p.RiskReward < 1.2:
		c -= 10
	}
	return calculator.Clamp(math.Min(c, cfg.MaxConfidence), 0, 100)
}
