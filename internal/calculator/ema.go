package calculator

import "errors"

// ErrNotEnoughData is returned when a series is shorter than the period.
var ErrNotEnoughData = errors.New("not enough data")

// CalculateSMA computes the simple moving average of the last period prices.
func CalculateSMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period {
		return 0, ErrNotEnoughData
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// EMA is an exponential moving average seeded with the simple average of the
// first Period inputs, then updated by the standard recursion one value at a
// time. It never looks at history again after seeding.
type EMA struct {
	Period int
	k      float64
	warm   []float64
	n      int
	value  float64
	prev   float64
}

// NewEMA creates an EMA of the given period.
func NewEMA(period int) *EMA {
	return &EMA{Period: period, k: 2.0 / float64(period+1)}
}

// Update folds the next input into the average.
func (e *EMA) Update(x float64) {
	e.n++
	if e.n <= e.Period {
		e.warm = append(e.warm, x)
		if e.n == e.Period {
			e.value, _ = CalculateSMA(e.warm, e.Period)
			e.prev = e.value
			e.warm = nil
		}
		return
	}
	e.prev = e.value
	e.value = (x-e.value)*e.k + e.value
}

// Ready reports whether the seed window has been filled.
func (e *EMA) Ready() bool { return e.n >= e.Period }

// Value returns the current average; only meaningful when Ready.
func (e *EMA) Value() float64 { return e.value }

// Slope is the change of the average over the last update. It is
// unavailable until one value beyond the seed has been folded in.
func (e *EMA) Slope() (float64, bool) {
	if e.n <= e.Period {
		return 0, false
	}
	return e.value - e.prev, true
}

// Count is the number of inputs folded in so far.
func (e *EMA) Count() int { return e.n }

// EMASeries computes the EMA over a whole slice with the same seed and
// recursion as EMA. Positions before the seed is complete are NaN-free zeros
// and flagged false in the returned validity slice.
func EMASeries(prices []float64, period int) ([]float64, []bool) {
	out := make([]float64, len(prices))
	ok := make([]bool, len(prices))
	e := NewEMA(period)
	for i, p := range prices {
		e.Update(p)
		if e.Ready() {
			out[i] = e.Value()
			ok[i] = true
		}
	}
	return out, ok
}
