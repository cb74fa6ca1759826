package zones

import "BiasSentinel/internal/model"

// transitions is the zone state machine. States only move forward;
// mitigated and invalidated have no exits.
var transitions = map[model.ZoneState][]model.ZoneState{
	model.ZoneFresh:  {model.ZoneTested, model.ZoneMitigated, model.ZoneInvalidated},
	model.ZoneTested: {model.ZoneMitigated, model.ZoneInvalidated},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to model.ZoneState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// condition returns the state bar b implies for zone z, or ZoneFresh when
// the bar does not interact with it.
//
// For a demand zone: a close below the low invalidates it; a bar that trades
// into the zone from inside and closes above its high mitigates it; a touch
// that does not close through is a test. Supply mirrors this.
func condition(z model.Zone, b model.Bar) model.ZoneState {
	lo, hi := z.PriceLow, z.PriceHigh
	touches := b.Low <= hi && b.High >= lo
	if z.Type == model.Demand {
		switch {
		case b.Close < lo:
			return model.ZoneInvalidated
		case b.Open <= hi && b.Low <= hi && b.Close > hi:
			return model.ZoneMitigated
		case touches:
			return model.ZoneTested
		}
		return model.ZoneFresh
	}
	switch {
	case b.Close > hi:
		return model.ZoneInvalidated
	case b.Open >= lo && b.High >= lo && b.Close < lo:
		return model.ZoneMitigated
	case touches:
		return model.ZoneTested
	}
	return model.ZoneFresh
}

// next returns the state bar b moves z to, if any. condition already
// resolves conditions met on the same bar: invalidated, then mitigated,
// then tested.
func next(z model.Zone, b model.Bar) (model.ZoneState, bool) {
	c := condition(z, b)
	if c == model.ZoneFresh || !CanTransition(z.State, c) {
		return z.State, false
	}
	return c, true
}
