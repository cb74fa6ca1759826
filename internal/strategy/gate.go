package strategy

import (
	"fmt"

	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

// EvaluateGate decides whether conditions are tradable. The result is
// informational and never feeds the score.
func EvaluateGate(analyses []model.TimeframeAnalysis, htf []model.Timeframe, cfg config.Gate) model.GateResult {
	byTF := make(map[model.Timeframe]model.TimeframeAnalysis, len(analyses))
	for _, a := range analyses {
		byTF[a.Timeframe] = a
	}

	// 1) HTF alignment
	var first model.TimeframeAnalysis
	for i, tf := range htf {
		a, ok := byTF[tf]
		if !ok || !a.Snapshot.Available {
			return model.GateResult{Allowed: false, Reason: "HTF data missing"}
		}
		if i == 0 {
			first = a
			continue
		}
		if a.Structure.Trend != first.Structure.Trend {
			return model.GateResult{Allowed: false, Reason: fmt.Sprintf("HTF conflict (%s=%s vs %s=%s)",
				first.Timeframe, first.Structure.Trend, a.Timeframe, a.Structure.Trend)}
		}
	}
	if len(htf) > 0 && first.Structure.Trend == model.TrendRanging {
		return model.GateResult{Allowed: false, Reason: "HTF ranging"}
	}

	// 2) CHoCH on HTF = unstable
	for _, tf := range htf {
		if ev := byTF[tf].Structure.LastEvent; ev != nil && ev.Kind == model.EventCHoCH {
			return model.GateResult{Allowed: false, Reason: "HTF CHoCH detected"}
		}
	}

	// 3) ATR filter (avoid chop)
	for _, a := range analyses {
		floor, ok := cfg.MinATR[a.Timeframe]
		if !ok || !a.Snapshot.ATR.Valid {
			continue
		}
		if a.Snapshot.ATR.Value < floor {
			return model.GateResult{Allowed: false, Reason: fmt.Sprintf("Low ATR on %s", a.Timeframe)}
		}
	}

	// 4) Volume sanity: too negative = dead market
	for _, a := range analyses {
		if a.Snapshot.VolumeZ.Valid && a.Snapshot.VolumeZ.Value < cfg.DeadVolumeZ {
			return model.GateResult{Allowed: false, Reason: fmt.Sprintf("Dead volume on %s", a.Timeframe)}
		}
	}

	return model.GateResult{Allowed: true, Reason: "Market OK"}
}
