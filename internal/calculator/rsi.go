package calculator

// RSI is a Wilder-smoothed relative strength index updated one close at a time.
type RSI struct {
	Period    int
	prevClose float64
	n         int
	avgGain   float64
	avgLoss   float64
}

// NewRSI creates an RSI of the given period.
func NewRSI(period int) *RSI {
	return &RSI{Period: period}
}

// Update folds the next close in.
func (r *RSI) Update(close float64) {
	r.n++
	if r.n == 1 {
		r.prevClose = close
		return
	}
	change := close - r.prevClose
	r.prevClose = close
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	// Initial average gain/loss over the first `period` changes
	changes := r.n - 1
	if changes <= r.Period {
		r.avgGain += gain
		r.avgLoss += loss
		if changes == r.Period {
			r.avgGain /= float64(r.Period)
			r.avgLoss /= float64(r.Period)
		}
		return
	}
	r.avgGain = (r.avgGain*float64(r.Period-1) + gain) / float64(r.Period)
	r.avgLoss = (r.avgLoss*float64(r.Period-1) + loss) / float64(r.Period)
}

// Ready reports whether Period changes have been seen.
func (r *RSI) Ready() bool { return r.n-1 >= r.Period }

// Value returns the RSI in [0, 100]; only meaningful when Ready.
func (r *RSI) Value() float64 {
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := r.avgGain / r.avgLoss
	return 100.0 - 100.0/(1.0+rs)
}
