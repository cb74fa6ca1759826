package structure

import "BiasSentinel/internal/model"

// DetectSwings marks fractal swing points. Bar i is a swing high when its high
// is the maximum of bars i-k..i+k and strictly above the k bars before it, so
// a flat top yields one swing. Lows mirror this. A swing is only known once
// the k bars after it have closed; ConfirmedAt records that bar.
func DetectSwings(bars []model.Bar, k int) []model.SwingPoint {
	if k <= 0 || len(bars) < 2*k+1 {
		return nil
	}
	var swings []model.SwingPoint
	for i := k; i+k < len(bars); i++ {
		if isSwingHigh(bars, i, k) {
			swings = append(swings, model.SwingPoint{
				Kind:        model.SwingHigh,
				Price:       bars[i].High,
				Time:        bars[i].OpenTime,
				Index:       i,
				ConfirmedAt: i + k,
			})
		}
		if isSwingLow(bars, i, k) {
			swings = append(swings, model.SwingPoint{
				Kind:        model.SwingLow,
				Price:       bars[i].Low,
				Time:        bars[i].OpenTime,
				Index:       i,
				ConfirmedAt: i + k,
			})
		}
	}
	return swings
}

func isSwingHigh(bars []model.Bar, i, k int) bool {
	h := bars[i].High
	for j := i - k; j < i; j++ {
		if bars[j].High >= h {
			return false
		}
	}
	for j := i + 1; j <= i+k; j++ {
		if bars[j].High > h {
			return false
		}
	}
	return true
}

func isSwingLow(bars []model.Bar, i, k int) bool {
	l := bars[i].Low
	for j := i - k; j < i; j++ {
		if bars[j].Low <= l {
			return false
		}
	}
	for j := i + 1; j <= i+k; j++ {
		if bars[j].Low < l {
			return false
		}
	}
	return true
}

// lastTwo returns the prices of the two most recent swings of kind.
func lastTwo(swings []model.SwingPoint, kind model.SwingKind) (prev, last float64, ok bool) {
	n := 0
	for i := len(swings) - 1; i >= 0 && n < 2; i-- {
		if swings[i].Kind != kind {
			continue
		}
		if n == 0 {
			last = swings[i].Price
		} else {
			prev = swings[i].Price
		}
		n++
	}
	return prev, last, n == 2
}
