package calculator

import "math"

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if v := math.Abs(high - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(low - prevClose); v > tr {
		tr = v
	}
	return tr
}

// ATR is a Wilder-smoothed average true range. The first bar only provides a
// previous close; the average is seeded with the mean of the next Period true
// ranges and then smoothed one bar at a time.
type ATR struct {
	Period    int
	prevClose float64
	bars      int
	seed      float64
	value     float64
}

// NewATR creates an ATR of the given period.
func NewATR(period int) *ATR {
	return &ATR{Period: period}
}

// Update folds the next bar into the average.
func (a *ATR) Update(high, low, close float64) {
	a.bars++
	if a.bars == 1 {
		a.prevClose = close
		return
	}
	tr := TrueRange(high, low, a.prevClose)
	a.prevClose = close
	n := a.bars - 1
	switch {
	case n < a.Period:
		a.seed += tr
	case n == a.Period:
		a.seed += tr
		a.value = a.seed / float64(a.Period)
	default:
		a.value = (a.value*float64(a.Period-1) + tr) / float64(a.Period)
	}
}

// Ready reports whether Period true ranges have been seen.
func (a *ATR) Ready() bool { return a.bars-1 >= a.Period }

// Value returns the current ATR; only meaningful when Ready.
func (a *ATR) Value() float64 { return a.value }
