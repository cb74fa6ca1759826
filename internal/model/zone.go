package model

import "time"

// ZoneType is supply or demand.
type ZoneType string

const (
	Supply ZoneType = "supply"
	Demand ZoneType = "demand"
)

// Displacement returns the direction of the move that created the zone.
func (t ZoneType) Displacement() Direction {
	if t == Demand {
		return Bullish
	}
	return Bearish
}

// ZoneState is the lifecycle state of a zone. Values are ordered:
// fresh < tested < {mitigated, invalidated}.
type ZoneState int

const (
	ZoneFresh ZoneState = iota
	ZoneTested
	ZoneMitigated
	ZoneInvalidated
)

var zoneStateNames = [...]string{"fresh", "tested", "mitigated", "invalidated"}

func (s ZoneState) String() string {
	if s < 0 || int(s) >= len(zoneStateNames) {
		return "unknown"
	}
	return zoneStateNames[s]
}

// Rank orders states for the monotonicity check. Both terminal states share
// the highest rank.
func (s ZoneState) Rank() int {
	if s == ZoneInvalidated {
		return int(ZoneMitigated)
	}
	return int(s)
}

// Terminal reports whether no further transition is possible.
func (s ZoneState) Terminal() bool {
	return s == ZoneMitigated || s == ZoneInvalidated
}

// MarshalText renders the state by name.
func (s ZoneState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Zone is a supply/demand price band. PriceLow < PriceHigh always holds for
// zones held by an engine.
type Zone struct {
	ID        string    `json:"id"`
	Type      ZoneType  `json:"type"`
	Timeframe Timeframe `json:"timeframe"`
	PriceLow  float64   `json:"price_low"`
	PriceHigh float64   `json:"price_high"`
	CreatedAt time.Time `json:"created_at"`
	State     ZoneState `json:"state"`
	// StateAt is the open time of the bar that caused the latest transition.
	StateAt time.Time `json:"state_at"`
	// Age is the number of closed bars seen since creation.
	Age int `json:"age"`
}

// Mid is the midpoint of the band.
func (z Zone) Mid() float64 { return (z.PriceLow + z.PriceHigh) / 2 }

// Contains reports whether price lies inside [PriceLow, PriceHigh].
func (z Zone) Contains(price float64) bool {
	return price >= z.PriceLow && price <= z.PriceHigh
}

// Overlaps reports whether two bands share any interior. Touching edges do not overlap.
func (z Zone) Overlaps(o Zone) bool {
	return z.PriceLow < o.PriceHigh && o.PriceLow < z.PriceHigh
}

// Distance is the gap between price and the nearest edge, 0 if inside.
func (z Zone) Distance(price float64) float64 {
	switch {
	case price < z.PriceLow:
		return z.PriceLow - price
	case price > z.PriceHigh:
		return price - z.PriceHigh
	default:
		return 0
	}
}
