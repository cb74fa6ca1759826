package model

// Side is the trade direction of a plan.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradePlan is a zone-based setup derived from one report. It is advisory;
// nothing is executed.
type TradePlan struct {
	Symbol     string     `json:"symbol"`
	Timeframe  Timeframe  `json:"timeframe"`
	Side       Side       `json:"side"`
	MarketBias TrendLabel `json:"market_bias"`
	ZoneID     string     `json:"zone_id"`
	EntryLow   float64    `json:"entry_low"`
	EntryHigh  float64    `json:"entry_high"`
	StopLoss   float64    `json:"stop_loss"`
	Targets    []float64  `json:"targets"`
	// RiskReward is measured from the entry midpoint to the second target.
	RiskReward float64 `json:"risk_reward"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Entry is the midpoint of the entry zone.
func (p TradePlan) Entry() float64 { return (p.EntryLow + p.EntryHigh) / 2 }
