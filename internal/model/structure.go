package model

import "time"

// SwingKind distinguishes swing highs from swing lows.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a confirmed local extreme. Index refers to the bar position
// in the series window the swing was detected on.
type SwingPoint struct {
	Kind  SwingKind `json:"kind"`
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
	Index int       `json:"-"`
	// ConfirmedAt is the index of the bar whose close confirmed the swing.
	ConfirmedAt int `json:"-"`
}

// StructureEventKind enumerates structure events.
type StructureEventKind string

const (
	EventBOS                StructureEventKind = "bos"
	EventCHoCH              StructureEventKind = "choch"
	EventFailedContinuation StructureEventKind = "failed_continuation"
)

// Direction is the side a signal leans to.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Sign maps bullish to +1, bearish to -1, neutral to 0.
func (d Direction) Sign() float64 {
	switch d {
	case Bullish:
		return 1
	case Bearish:
		return -1
	default:
		return 0
	}
}

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	switch d {
	case Bullish:
		return Bearish
	case Bearish:
		return Bullish
	default:
		return Neutral
	}
}

// StructureEvent is a break of a confirmed swing level. For a failed
// continuation, Direction is the direction of the break that failed.
type StructureEvent struct {
	Kind      StructureEventKind `json:"kind"`
	Direction Direction          `json:"direction"`
	Level     float64            `json:"level"`
	Time      time.Time          `json:"time"`
	Index     int                `json:"-"`
}

// StructureResult is the per-cycle output of the structure analyzer.
type StructureResult struct {
	Timeframe     Timeframe        `json:"timeframe"`
	Trend         TrendLabel       `json:"trend"`
	Swings        []SwingPoint     `json:"swings"`
	Events        []StructureEvent `json:"events"`
	LastEvent     *StructureEvent  `json:"last_event,omitempty"`
	LastSwingHigh Metric           `json:"last_swing_high"`
	LastSwingLow  Metric           `json:"last_swing_low"`
}
