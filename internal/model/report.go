package model

import "time"

// TimeframeAnalysis bundles everything one timeframe pipeline produced in a cycle.
type TimeframeAnalysis struct {
	Timeframe Timeframe        `json:"timeframe"`
	Snapshot  FeatureSnapshot  `json:"snapshot"`
	Structure StructureResult  `json:"structure"`
	Zones     []Zone           `json:"zones"`
	Retired   []Zone           `json:"retired,omitempty"`
	Events    []LiquidityEvent `json:"liquidity_events"`
	// RangePosition is where the close sits within the window's high-low
	// range, 0 at the low and 1 at the high.
	RangePosition Metric `json:"range_position"`
}

// AnalysisReport is the read-only hand-off to rendering, narrative and
// delivery collaborators.
type AnalysisReport struct {
	Symbol      string              `json:"symbol"`
	Cycle       uint64              `json:"cycle"`
	GeneratedAt time.Time           `json:"generated_at"`
	AsOf        time.Time           `json:"as_of"`
	Timeframes  []TimeframeAnalysis `json:"timeframes"`
	Bias        BiasResult          `json:"bias"`
	Gate        GateResult          `json:"gate"`
	// Plan is set when the gate is open and the entry timeframe offers a
	// zone aligned with the higher timeframe bias.
	Plan *TradePlan `json:"plan,omitempty"`
	// Stale is set when this report was retained from an earlier cycle
	// because the current one did not complete.
	Stale    bool     `json:"stale"`
	Warnings []string `json:"warnings,omitempty"`
}

// Timeframe returns the analysis for tf, if present.
func (r *AnalysisReport) Timeframe(tf Timeframe) (TimeframeAnalysis, bool) {
	for _, a := range r.Timeframes {
		if a.Timeframe == tf {
			return a, true
		}
	}
	return TimeframeAnalysis{}, false
}
