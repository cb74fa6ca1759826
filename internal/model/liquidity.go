package model

import "time"

// LiquidityKind enumerates liquidity events.
type LiquidityKind string

const (
	LiquiditySweep          LiquidityKind = "sweep"
	LiquidityFakeout        LiquidityKind = "fakeout"
	LiquidityRejection      LiquidityKind = "rejection"
	LiquidityBreakAndRetest LiquidityKind = "break_and_retest"
)

// LiquidityEvent is produced fresh each cycle. Direction is the side the
// event points price towards: a sweep of highs is bearish, a demand
// rejection is bullish.
type LiquidityEvent struct {
	Kind      LiquidityKind `json:"kind"`
	Timeframe Timeframe     `json:"timeframe"`
	Direction Direction     `json:"direction"`
	ZoneRef   string        `json:"zone_ref,omitempty"`
	Time      time.Time     `json:"time"`
	Price     float64       `json:"price"`
}
