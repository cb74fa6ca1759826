// Package liquidity flags sweeps, fakeouts, rejections and break-and-retest
// setups around swing levels and zones. It only reads zones.
package liquidity

import (
	"sort"

	"BiasSentinel/internal/calculator"
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

// Input is everything the detector reads for one timeframe. Swing and event
// indices refer to Bars.
type Input struct {
	Timeframe model.Timeframe
	Bars      []model.Bar
	Swings    []model.SwingPoint
	Events    []model.StructureEvent
	// Zones holds active zones and retired reference zones.
	Zones []model.Zone
	ATR   model.Metric
}

// Detect returns the liquidity events whose confirming bar is among the last
// ScanBars bars, ordered by time.
func Detect(in Input, cfg config.Liquidity) []model.LiquidityEvent {
	n := len(in.Bars)
	if n == 0 {
		return nil
	}
	from := n - cfg.ScanBars
	if from < 1 {
		from = 1
	}
	d := detector{in: in, cfg: cfg, from: from}
	if in.ATR.Valid {
		d.atr = in.ATR.Value
	}

	var out []model.LiquidityEvent
	out = append(out, d.sweeps()...)
	out = append(out, d.fakeouts()...)
	out = append(out, d.rejections()...)
	out = append(out, d.breakAndRetests()...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

type detector struct {
	in   Input
	cfg  config.Liquidity
	from int
	atr  float64
}

func (d *detector) event(kind model.LiquidityKind, dir model.Direction, i int, price float64, zoneRef string) model.LiquidityEvent {
	return model.LiquidityEvent{
		Kind:      kind,
		Timeframe: d.in.Timeframe,
		Direction: dir,
		ZoneRef:   zoneRef,
		Time:      d.in.Bars[i].OpenTime,
		Price:     price,
	}
}

// sweeps finds wicks through an intact swing level by more than the pierce
// tolerance that close back inside, either on the same bar or on the next
// one. Each level is swept at most once.
func (d *detector) sweeps() []model.LiquidityEvent {
	bars := d.in.Bars
	tol := d.cfg.PierceATR * d.atr
	var out []model.LiquidityEvent
	for _, sp := range d.in.Swings {
		high := sp.Kind == model.SwingHigh
		beyond := func(p float64) bool {
			if high {
				return p > sp.Price
			}
			return p < sp.Price
		}
		pierced := func(b model.Bar) bool {
			if high {
				return b.High > sp.Price+tol
			}
			return b.Low < sp.Price-tol
		}
		dir := model.Bullish
		if high {
			dir = model.Bearish
		}

		for i := sp.ConfirmedAt + 1; i < len(bars); i++ {
			b := bars[i]
			if pierced(b) && !beyond(b.Close) {
				if i >= d.from {
					out = append(out, d.event(model.LiquiditySweep, dir, i, sp.Price, ""))
				}
				break
			}
			if beyond(b.Close) {
				if pierced(b) && i+1 < len(bars) && !beyond(bars[i+1].Close) && i+1 >= d.from {
					out = append(out, d.event(model.LiquiditySweep, dir, i+1, sp.Price, ""))
				}
				// the level is taken either way
				break
			}
		}
	}
	return out
}

// fakeouts finds structure breaks whose close crossed a zone boundary and
// that closed back on the original side of the broken level within
// FakeoutBars bars.
func (d *detector) fakeouts() []model.LiquidityEvent {
	bars := d.in.Bars
	var out []model.LiquidityEvent
	for _, ev := range d.in.Events {
		if ev.Kind == model.EventFailedContinuation || ev.Index < 1 || ev.Index >= len(bars) {
			continue
		}
		k := ev.Index
		z, ok := d.crossedZone(bars[k-1].Close, bars[k].Close, ev.Direction)
		if !ok {
			continue
		}
		for j := k + 1; j < len(bars) && j <= k+d.cfg.FakeoutBars; j++ {
			back := bars[j].Close < ev.Level
			if ev.Direction == model.Bearish {
				back = bars[j].Close > ev.Level
			}
			if back {
				if j >= d.from {
					out = append(out, d.event(model.LiquidityFakeout, ev.Direction.Opposite(), j, ev.Level, z.ID))
				}
				break
			}
		}
	}
	return out
}

// crossedZone returns the first zone with a boundary between prev and close
// in the direction of the move.
func (d *detector) crossedZone(prev, close float64, dir model.Direction) (model.Zone, bool) {
	for _, z := range d.in.Zones {
		for _, edge := range []float64{z.PriceLow, z.PriceHigh} {
			if dir == model.Bullish && prev <= edge && close > edge {
				return z, true
			}
			if dir == model.Bearish && prev >= edge && close < edge {
				return z, true
			}
		}
	}
	return model.Zone{}, false
}

// rejections finds bars that touch a live zone without closing through it
// and leave a wick on the zone side at least WickBodyRatio times the body.
// Only the latest rejection per zone is reported.
func (d *detector) rejections() []model.LiquidityEvent {
	bars := d.in.Bars
	var out []model.LiquidityEvent
	for _, z := range d.in.Zones {
		if z.State.Terminal() {
			continue
		}
		for i := len(bars) - 1; i >= d.from; i-- {
			b := bars[i]
			if !b.OpenTime.After(z.CreatedAt) || b.Low > z.PriceHigh || b.High < z.PriceLow {
				continue
			}
			var wick float64
			var dir model.Direction
			if z.Type == model.Demand {
				if b.Close < z.PriceLow {
					continue
				}
				wick, dir = b.LowerWick(), model.Bullish
			} else {
				if b.Close > z.PriceHigh {
					continue
				}
				wick, dir = b.UpperWick(), model.Bearish
			}
			if calculator.SafeDiv(wick, b.Body()) >= d.cfg.WickBodyRatio {
				price := z.PriceHigh
				if z.Type == model.Supply {
					price = z.PriceLow
				}
				out = append(out, d.event(model.LiquidityRejection, dir, i, price, z.ID))
				break
			}
		}
	}
	return out
}

// breakAndRetests finds closes through a zone boundary followed, within
// RetestBars, by a bar that touches the boundary again and closes on the
// breakout side. A close back through the boundary before the retest
// cancels the setup.
func (d *detector) breakAndRetests() []model.LiquidityEvent {
	bars := d.in.Bars
	tol := d.cfg.TouchATR * d.atr
	var out []model.LiquidityEvent
	for _, z := range d.in.Zones {
		var last *model.LiquidityEvent
		for k := 1; k < len(bars); k++ {
			if !bars[k].OpenTime.After(z.CreatedAt) {
				continue
			}
			prev, c := bars[k-1].Close, bars[k].Close
			var edge float64
			var dir model.Direction
			switch {
			case prev <= z.PriceHigh && c > z.PriceHigh:
				edge, dir = z.PriceHigh, model.Bullish
			case prev >= z.PriceLow && c < z.PriceLow:
				edge, dir = z.PriceLow, model.Bearish
			default:
				continue
			}
			for j := k + 1; j < len(bars) && j <= k+d.cfg.RetestBars; j++ {
				b := bars[j]
				if dir == model.Bullish {
					if b.Close <= edge {
						break
					}
					if b.Low <= edge+tol {
						if j >= d.from {
							ev := d.event(model.LiquidityBreakAndRetest, dir, j, edge, z.ID)
							last = &ev
						}
						break
					}
				} else {
					if b.Close >= edge {
						break
					}
					if b.High >= edge-tol {
						if j >= d.from {
							ev := d.event(model.LiquidityBreakAndRetest, dir, j, edge, z.ID)
							last = &ev
						}
						break
					}
				}
			}
		}
		if last != nil {
			out = append(out, *last)
		}
	}
	return out
}
