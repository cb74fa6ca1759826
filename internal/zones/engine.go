// Package zones detects supply and demand zones and owns their lifecycle.
package zones

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

var (
	// ErrMalformedZone reports a detected zone whose low is not below its
	// high. Such zones are discarded.
	ErrMalformedZone = errors.New("malformed zone")
	// ErrIllegalTransition reports a state change outside the state machine.
	ErrIllegalTransition = errors.New("illegal zone transition")
)

// Transition records one state change applied by Update.
type Transition struct {
	ZoneID string
	Type   model.ZoneType
	From   model.ZoneState
	To     model.ZoneState
	At     time.Time
}

// Result summarizes what one Update changed.
type Result struct {
	Created     []model.Zone
	Merged      int
	Transitions []Transition
	// Retired are zones that reached a terminal state in this update.
	Retired []model.Zone
	// Pruned counts fresh zones dropped for age plus the oldest zones of
	// any state dropped for the per-type cap.
	Pruned int
	// Errors are engine-internal defects, such as malformed zones.
	Errors []error
}

// Engine holds the zone set of one timeframe. It is the only writer of zone
// state; reads return copies.
type Engine struct {
	mu        sync.RWMutex
	symbol    string
	tf        model.Timeframe
	cfg       config.Zones
	atrPeriod int

	active []model.Zone
	// retired zones stay available as reference levels until they expire.
	retired []model.Zone
	// lastScanned is the open time of the newest bar already processed.
	lastScanned time.Time
}

// NewEngine creates an empty engine for one symbol and timeframe.
func NewEngine(symbol string, tf model.Timeframe, cfg config.Zones, atrPeriod int) *Engine {
	return &Engine{symbol: symbol, tf: tf, cfg: cfg, atrPeriod: atrPeriod}
}

// Update processes the bars of the window that are newer than the last
// update, one bar at a time in time order: every zone is advanced by the
// bar, then zones whose displacement bar it is are admitted. The outcome
// does not depend on how bars are split across updates.
func (e *Engine) Update(bars []model.Bar) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res Result
	first := len(bars)
	for i, b := range bars {
		if b.OpenTime.After(e.lastScanned) {
			first = i
			break
		}
	}
	if first == len(bars) {
		return res
	}

	cands := detect(e.symbol, e.tf, bars, e.lastScanned, e.atrPeriod, e.cfg)
	c := 0
	for _, b := range bars[first:] {
		e.step(b, &res)
		for ; c < len(cands) && !cands[c].zone.CreatedAt.After(b.OpenTime); c++ {
			if cands[c].err != nil {
				res.Errors = append(res.Errors, cands[c].err)
				continue
			}
			if e.insert(cands[c].zone) {
				res.Merged++
			} else {
				res.Created = append(res.Created, cands[c].zone)
			}
		}
		res.Pruned += e.capPerType()
	}

	e.lastScanned = bars[len(bars)-1].OpenTime
	return res
}

// step ages every zone by one closed bar and applies the transition the bar
// causes. Terminal zones retire; fresh zones past ExpiryBars are pruned.
func (e *Engine) step(b model.Bar, res *Result) {
	keptRetired := e.retired[:0]
	for _, z := range e.retired {
		z.Age++
		if z.Age <= e.cfg.ExpiryBars {
			keptRetired = append(keptRetired, z)
		}
	}
	e.retired = keptRetired

	kept := e.active[:0]
	for _, z := range e.active {
		z.Age++
		if to, ok := next(z, b); ok {
			from := z.State
			if err := apply(&z, to, b.OpenTime); err != nil {
				res.Errors = append(res.Errors, err)
			} else {
				res.Transitions = append(res.Transitions, Transition{
					ZoneID: z.ID, Type: z.Type, From: from, To: to, At: b.OpenTime,
				})
			}
		}
		switch {
		case z.State.Terminal():
			res.Retired = append(res.Retired, z)
			if z.Age <= e.cfg.ExpiryBars {
				e.retired = append(e.retired, z)
			}
		case z.State == model.ZoneFresh && z.Age > e.cfg.ExpiryBars:
			res.Pruned++
		default:
			kept = append(kept, z)
		}
	}
	e.active = kept
}

// insert adds z to the active set. A zone overlapping same-type active zones
// is folded into the oldest of them, which keeps its identity and state and
// widens to the union; it reports whether that happened.
func (e *Engine) insert(z model.Zone) bool {
	keeper := -1
	for i, a := range e.active {
		if a.Type == z.Type && a.Overlaps(z) {
			keeper = i
			break
		}
	}
	if keeper < 0 {
		e.active = append(e.active, z)
		return false
	}

	k := e.active[keeper]
	widen(&k, z)
	// The wider band may now overlap other zones of the same type.
	for {
		absorbed := false
		for i := 0; i < len(e.active); i++ {
			a := e.active[i]
			if i == keeper || a.Type != k.Type || !a.Overlaps(k) {
				continue
			}
			widen(&k, a)
			e.active = append(e.active[:i], e.active[i+1:]...)
			if i < keeper {
				keeper--
			}
			absorbed = true
			break
		}
		if !absorbed {
			break
		}
	}
	e.active[keeper] = k
	return true
}

func widen(dst *model.Zone, src model.Zone) {
	if src.PriceLow < dst.PriceLow {
		dst.PriceLow = src.PriceLow
	}
	if src.PriceHigh > dst.PriceHigh {
		dst.PriceHigh = src.PriceHigh
	}
}

// capPerType drops the oldest zones of a type beyond MaxActive.
func (e *Engine) capPerType() int {
	counts := make(map[model.ZoneType]int)
	for _, z := range e.active {
		counts[z.Type]++
	}
	dropped := 0
	kept := e.active[:0]
	for _, z := range e.active {
		if counts[z.Type] > e.cfg.MaxActive {
			counts[z.Type]--
			dropped++
			continue
		}
		kept = append(kept, z)
	}
	e.active = kept
	return dropped
}

// Active returns a copy of the active zones, oldest first.
func (e *Engine) Active() []model.Zone {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedCopy(e.active)
}

// Reference returns the retired zones still used as reference levels.
func (e *Engine) Reference() []model.Zone {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedCopy(e.retired)
}

func sortedCopy(zs []model.Zone) []model.Zone {
	out := make([]model.Zone, len(zs))
	copy(out, zs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// apply moves z to state to, rejecting edges outside the state machine.
func apply(z *model.Zone, to model.ZoneState, at time.Time) error {
	if !CanTransition(z.State, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, z.ID, z.State, to)
	}
	z.State = to
	z.StateAt = at
	return nil
}
