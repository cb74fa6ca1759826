// Package feed supplies closed bars to the pipeline from a replay queue, a
// polled REST endpoint or a WebSocket push stream.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BiasSentinel/internal/model"
)

var (
	// ErrTimeout is returned when a feed does not answer within the cycle's
	// feed timeout.
	ErrTimeout = errors.New("feed timeout")
	// ErrNotConnected is returned by push feeds while their connection is down
	// and nothing is buffered.
	ErrNotConnected = errors.New("feed not connected")
)

// Feed is the inbound bar source. NextBar returns false when no further
// closed bar is available right now.
type Feed interface {
	NextBar(ctx context.Context, tf model.Timeframe) (model.Bar, bool, error)
	Name() string
}

// Drain pulls every bar currently available for tf. The whole drain shares a
// single deadline; bars read before a failure are returned with the error.
func Drain(ctx context.Context, f Feed, tf model.Timeframe, timeout time.Duration) ([]model.Bar, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bars []model.Bar
	for {
		b, ok, err := f.NextBar(dctx, tf)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return bars, fmt.Errorf("%s %s: %w", f.Name(), tf, ErrTimeout)
			}
			return bars, fmt.Errorf("%s %s: %w", f.Name(), tf, err)
		}
		if !ok {
			return bars, nil
		}
		if b.Timeframe == "" {
			b.Timeframe = tf
		}
		bars = append(bars, b)
	}
}

// wireBar is the JSON bar shape shared by the REST and WebSocket feeds.
type wireBar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func (w wireBar) toBar(tf model.Timeframe) model.Bar {
	return model.Bar{
		Timeframe: tf,
		OpenTime:  time.Unix(w.Timestamp, 0).UTC(),
		Open:      w.Open,
		High:      w.High,
		Low:       w.Low,
		Close:     w.Close,
		Volume:    w.Volume,
	}
}
