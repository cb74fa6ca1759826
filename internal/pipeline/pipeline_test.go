package pipeline

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BiasSentinel/internal/barstore"
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/feed"
	"BiasSentinel/internal/model"
	"BiasSentinel/internal/observability"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0 }

func testConfig(t *testing.T, base model.Timeframe, tfs ...model.Timeframe) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Symbol:        "XAUUSD",
		Timeframes:    tfs,
		BaseTimeframe: base,
		HTFTimeframes: []model.Timeframe{tfs[len(tfs)-1]},
		WindowBars:    120,
		Features: config.Features{
			EMAFast: 5, EMASlow: 20, ATRPeriod: 5,
			ZScoreWindow: 10, RSIPeriod: 5, ATRMedianWindow: 10,
		},
	}
	cfg.Feed.Kind = "replay"
	cfg.Storage.Driver = "none"
	cfg.Storage.WarmupBars = 1000
	cfg.Schedule.FeedTimeout = 200 * time.Millisecond
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

// genBars builds a deterministic oscillating uptrend.
func genBars(tf model.Timeframe, n int) []model.Bar {
	bars := make([]model.Bar, n)
	price := 100.0
	for i := range bars {
		x := float64(i)
		open := price
		close := open + 0.05 + 0.8*math.Sin(x/7)
		bars[i] = model.Bar{
			Timeframe: tf,
			OpenTime:  t0.Add(time.Duration(i) * tf.Duration()),
			Open:      open,
			High:      math.Max(open, close) + 0.3 + 0.2*math.Abs(math.Cos(x/3)),
			Low:       math.Min(open, close) - 0.3,
			Close:     close,
			Volume:    1000 + 300*math.Sin(x/5),
		}
		price = close
	}
	return bars
}

// stallFeed replays bars but blocks on one timeframe until the deadline.
type stallFeed struct {
	*feed.ReplayFeed
	stall model.Timeframe
}

func (f stallFeed) NextBar(ctx context.Context, tf model.Timeframe) (model.Bar, bool, error) {
	if tf == f.stall {
		<-ctx.Done()
		return model.Bar{}, false, ctx.Err()
	}
	return f.ReplayFeed.NextBar(ctx, tf)
}

func run(t *testing.T, p *Pipeline) *model.AnalysisReport {
	t.Helper()
	rep, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep)
	return rep
}

func TestRunCycle_IdenticalInputIdenticalReport(t *testing.T) {
	cfg := testConfig(t, model.M15, model.M15, model.H1)
	bars := genBars(model.M15, 400)

	a, err := New(cfg, feed.NewReplayFeed(bars...), WithClock(fixedClock))
	require.NoError(t, err)
	b, err := New(cfg, feed.NewReplayFeed(bars...), WithClock(fixedClock))
	require.NoError(t, err)

	ra, rb := run(t, a), run(t, b)
	assert.Equal(t, ra, rb)
	assert.Equal(t, uint64(1), ra.Cycle)
	assert.Equal(t, t0, ra.GeneratedAt)
	assert.Equal(t, bars[len(bars)-1].OpenTime, ra.AsOf)
	require.Len(t, ra.Timeframes, 2)
	assert.Equal(t, model.M15, ra.Timeframes[0].Timeframe)
	assert.Equal(t, model.H1, ra.Timeframes[1].Timeframe)
	assert.Len(t, ra.Bias.Factors, 7)
	assert.Empty(t, ra.Warnings)
}

func TestRunCycle_AggregatesHigherTimeframes(t *testing.T) {
	cfg := testConfig(t, model.M15, model.M15, model.H1, model.H4)
	p, err := New(cfg, feed.NewReplayFeed(genBars(model.M15, 16*40)...), WithClock(fixedClock))
	require.NoError(t, err)

	rep := run(t, p)
	for _, a := range rep.Timeframes {
		assert.True(t, a.Snapshot.Available, "%s should be available", a.Timeframe)
		assert.True(t, a.Snapshot.EMASlow.Valid, "%s should have a slow EMA", a.Timeframe)
	}
	h4, ok := rep.Timeframe(model.H4)
	require.True(t, ok)
	// 640 M15 bars close 40 H4 buckets.
	assert.Equal(t, t0.Add(39*4*time.Hour), h4.Snapshot.BarTime)
	require.True(t, h4.RangePosition.Valid)
	assert.GreaterOrEqual(t, h4.RangePosition.Value, 0.0)
	assert.LessOrEqual(t, h4.RangePosition.Value, 1.0)

	m := p.Metrics()
	assert.Equal(t, 640.0, testutil.ToFloat64(m.BarsIngested.WithLabelValues("M15")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.BarsIngested.WithLabelValues("H4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues(OutcomeOK)))
}

func TestRunCycle_FeedTimeoutMarksTimeframeUnavailable(t *testing.T) {
	cfg := testConfig(t, "", model.M15, model.H1)
	cfg.Schedule.FeedTimeout = 30 * time.Millisecond
	f := stallFeed{ReplayFeed: feed.NewReplayFeed(genBars(model.M15, 200)...), stall: model.H1}
	m := observability.NewMetrics("test")
	p, err := New(cfg, f, WithClock(fixedClock), WithMetrics(m))
	require.NoError(t, err)

	rep := run(t, p)
	m15, _ := rep.Timeframe(model.M15)
	h1, _ := rep.Timeframe(model.H1)
	assert.True(t, m15.Snapshot.Available)
	assert.False(t, h1.Snapshot.Available)
	assert.Equal(t, model.TrendRanging, h1.Snapshot.Trend)
	assert.Empty(t, h1.Events)

	require.Len(t, rep.Warnings, 1)
	assert.True(t, strings.HasPrefix(rep.Warnings[0], "H1:"), rep.Warnings[0])
	assert.Equal(t, "HTF data missing", rep.Gate.Reason)
	assert.False(t, rep.Gate.Allowed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedTimeouts.WithLabelValues("H1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues(OutcomeDegraded)))
	for _, fs := range rep.Bias.Factors {
		if fs.Name == model.FactorHTFTrend {
			assert.Zero(t, fs.Weight)
			assert.Zero(t, fs.Contribution)
		}
	}
}

func TestRunCycle_BaseTimeoutMarksEveryDerivedTimeframe(t *testing.T) {
	cfg := testConfig(t, model.M15, model.M15, model.H1)
	cfg.Schedule.FeedTimeout = 30 * time.Millisecond
	f := stallFeed{ReplayFeed: feed.NewReplayFeed(), stall: model.M15}
	p, err := New(cfg, f, WithClock(fixedClock))
	require.NoError(t, err)

	rep := run(t, p)
	for _, a := range rep.Timeframes {
		assert.False(t, a.Snapshot.Available, a.Timeframe)
	}
	assert.Equal(t, 0.0, rep.Bias.Score)
	assert.Equal(t, model.StrengthNeutral, rep.Bias.Strength)
}

func TestRunCycle_IncrementalMatchesSingleBatch(t *testing.T) {
	cfg := testConfig(t, model.M15, model.M15, model.H1)
	// Wide enough that no bar is evicted before the split pipeline sees it.
	cfg.WindowBars = 500
	bars := genBars(model.M15, 400)

	whole, err := New(cfg, feed.NewReplayFeed(bars...), WithClock(fixedClock))
	require.NoError(t, err)
	want := run(t, whole)

	rf := feed.NewReplayFeed(bars[:250]...)
	split, err := New(cfg, rf, WithClock(fixedClock))
	require.NoError(t, err)
	run(t, split)
	rf.Push(bars[250:]...)
	got := run(t, split)

	assert.Equal(t, uint64(2), got.Cycle)
	for i := range want.Timeframes {
		w, g := want.Timeframes[i], got.Timeframes[i]
		assert.Equal(t, w.Snapshot, g.Snapshot, w.Timeframe)
		assert.Equal(t, w.Zones, g.Zones, w.Timeframe)
		assert.Equal(t, w.Retired, g.Retired, w.Timeframe)
		assert.Equal(t, w.Events, g.Events, w.Timeframe)
	}
	assert.Equal(t, want.Bias, got.Bias)
	assert.Equal(t, want.Plan, got.Plan)
}

func TestRunCycle_OutOfOrderBarsDropped(t *testing.T) {
	cfg := testConfig(t, "", model.M15, model.H1)
	bars := genBars(model.M15, 60)
	rf := feed.NewReplayFeed(bars...)
	p, err := New(cfg, rf, WithClock(fixedClock))
	require.NoError(t, err)
	run(t, p)

	rf.Push(bars[10], bars[20])
	rep := run(t, p)
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "dropped 2 out-of-order bars")
	assert.Equal(t, 2.0, testutil.ToFloat64(p.Metrics().BarsDropped.WithLabelValues("M15", "out_of_order")))
}

func TestRunCycle_CancelledContextFails(t *testing.T) {
	cfg := testConfig(t, model.M15, model.M15, model.H1)
	p, err := New(cfg, feed.NewReplayFeed(genBars(model.M15, 10)...), WithClock(fixedClock))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := p.RunCycle(ctx)
	assert.Error(t, err)
	assert.Nil(t, rep)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().CyclesTotal.WithLabelValues(OutcomeFailed)))
}

func TestWarmup_ReplaysJournal(t *testing.T) {
	cfg := testConfig(t, model.M15, model.M15, model.H1)
	store, err := barstore.NewSQLiteStore(filepath.Join(t.TempDir(), "bars.db"))
	require.NoError(t, err)
	defer store.Close()

	live, err := New(cfg, feed.NewReplayFeed(genBars(model.M15, 300)...), WithClock(fixedClock), WithStore(store))
	require.NoError(t, err)
	want := run(t, live)

	restarted, err := New(cfg, feed.NewReplayFeed(), WithClock(fixedClock), WithStore(store))
	require.NoError(t, err)
	n, err := restarted.Warmup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300, n)

	got := run(t, restarted)
	for i := range want.Timeframes {
		assert.Equal(t, want.Timeframes[i].Snapshot, got.Timeframes[i].Snapshot)
	}
	assert.Equal(t, want.Bias, got.Bias)
}
