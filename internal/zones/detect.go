package zones

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/markcheno/go-talib"

	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

// atrSeries returns ATR per bar; entries before the first full period are
// reported as unavailable.
func atrSeries(bars []model.Bar, period int) ([]float64, []bool) {
	n := len(bars)
	ok := make([]bool, n)
	if n <= period {
		return make([]float64, n), ok
	}
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, b := range bars {
		highs[i], lows[i], closes[i] = b.High, b.Low, b.Close
	}
	atr := talib.Atr(highs, lows, closes, period)
	for i := period; i < n; i++ {
		ok[i] = true
	}
	return atr, ok
}

// candidate is a zone found by detect before it is admitted to the engine.
type candidate struct {
	zone model.Zone
	err  error
}

// detect scans displacement bars opened after since. A displacement bar has
// a range above DisplacementRatio times the prior ATR and closes beyond the
// base it leaves. The base is the run of up to MaxBaseBars compressed bars
// (range below CompressionRatio times their prior ATR) directly before it.
func detect(symbol string, tf model.Timeframe, bars []model.Bar, since time.Time, atrPeriod int, cfg config.Zones) []candidate {
	atr, ok := atrSeries(bars, atrPeriod)
	var out []candidate
	for i := 1; i < len(bars); i++ {
		d := bars[i]
		if !d.OpenTime.After(since) || !ok[i-1] {
			continue
		}
		if d.Range() <= cfg.DisplacementRatio*atr[i-1] {
			continue
		}

		start := i
		for j := i - 1; j >= 1 && i-j <= cfg.MaxBaseBars; j-- {
			if !ok[j-1] || bars[j].Range() >= cfg.CompressionRatio*atr[j-1] {
				break
			}
			start = j
		}
		if i-start < cfg.MinBaseBars {
			continue
		}
		lo, hi := bars[start].Low, bars[start].High
		for _, b := range bars[start+1 : i] {
			if b.Low < lo {
				lo = b.Low
			}
			if b.High > hi {
				hi = b.High
			}
		}

		var typ model.ZoneType
		switch {
		case d.Close > d.Open && d.Close > hi:
			typ = model.Demand
		case d.Close < d.Open && d.Close < lo:
			typ = model.Supply
		default:
			continue
		}
		z := model.Zone{
			ID:        zoneID(symbol, tf, typ, d.OpenTime),
			Type:      typ,
			Timeframe: tf,
			PriceLow:  lo,
			PriceHigh: hi,
			CreatedAt: d.OpenTime,
			State:     model.ZoneFresh,
			StateAt:   d.OpenTime,
		}
		c := candidate{zone: z}
		if !(lo < hi) {
			c.err = fmt.Errorf("%w: %s %s at %s has low %.5f >= high %.5f",
				ErrMalformedZone, tf, typ, d.OpenTime.Format(time.RFC3339), lo, hi)
		}
		out = append(out, c)
	}
	return out
}

// zoneID is stable for the same symbol, timeframe, type and creation bar.
func zoneID(symbol string, tf model.Timeframe, typ model.ZoneType, created time.Time) string {
	name := fmt.Sprintf("%s|%s|%s|%s", symbol, tf, typ, created.UTC().Format(time.RFC3339Nano))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
