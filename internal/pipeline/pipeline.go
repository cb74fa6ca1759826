// Package pipeline runs one analysis cycle: drain the feed, update every
// timeframe in parallel, then score the combined result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"BiasSentinel/internal/aggregator"
	"BiasSentinel/internal/barstore"
	"BiasSentinel/internal/calculator"
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/features"
	"BiasSentinel/internal/feed"
	"BiasSentinel/internal/liquidity"
	"BiasSentinel/internal/model"
	"BiasSentinel/internal/observability"
	"BiasSentinel/internal/strategy"
	"BiasSentinel/internal/structure"
	"BiasSentinel/internal/zones"
)

// Cycle outcomes as recorded in metrics.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// timeframeState is the incremental state owned by one timeframe.
type timeframeState struct {
	extractor *features.Extractor
	zones     *zones.Engine
}

// Pipeline owns the aggregator and the per-timeframe engines. RunCycle calls
// are serialized.
type Pipeline struct {
	cfg     *config.Config
	feed    feed.Feed
	store   barstore.Store
	metrics *observability.Metrics
	now     func() time.Time

	agg    *aggregator.Aggregator
	states map[model.Timeframe]*timeframeState

	mu    sync.Mutex
	cycle uint64
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithStore journals ingested bars to s.
func WithStore(s barstore.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithMetrics records cycle metrics into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock replaces the wall clock used for report timestamps and for
// closing elapsed higher-timeframe buckets. A clock returning the zero time
// never closes buckets early.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline for cfg reading from f.
func New(cfg *config.Config, f feed.Feed, opts ...Option) (*Pipeline, error) {
	agg, err := aggregator.New(cfg.BaseTimeframe, cfg.Timeframes, cfg.WindowBars)
	if err != nil {
		return nil, fmt.Errorf("init aggregator: %w", err)
	}
	p := &Pipeline{
		cfg:    cfg,
		feed:   f,
		store:  barstore.NewNoopStore(),
		now:    time.Now,
		agg:    agg,
		states: make(map[model.Timeframe]*timeframeState),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observability.NewMetrics("")
	}
	for _, tf := range cfg.Timeframes {
		p.states[tf] = &timeframeState{
			extractor: features.NewExtractor(tf, cfg.Features),
			zones:     zones.NewEngine(cfg.Symbol, tf, cfg.Zones, cfg.Features.ATRPeriod),
		}
	}
	return p, nil
}

// Metrics returns the metrics the pipeline records into.
func (p *Pipeline) Metrics() *observability.Metrics { return p.metrics }

// Warmup seeds the aggregator from the bar journal and returns the number of
// bars accepted.
func (p *Pipeline) Warmup(ctx context.Context) (int, error) {
	total := 0
	for _, tf := range p.cfg.SourceTimeframes() {
		bars, err := p.store.LoadBars(ctx, p.cfg.Symbol, tf, p.cfg.Storage.WarmupBars)
		if err != nil {
			return total, fmt.Errorf("load %s bars: %w", tf, err)
		}
		n, err := p.agg.Seed(bars)
		total += n
		if err != nil {
			return total, fmt.Errorf("seed %s: %w", tf, err)
		}
		log.Printf("[INFO] warm-up %s: %d/%d journaled bars accepted", tf, n, len(bars))
	}
	return total, nil
}

// RunCycle drains the feed, updates every timeframe and returns the report.
// A timeframe whose feed failed this cycle is reported unavailable; the
// cycle only fails when ctx ends, including after the analysis finished.
func (p *Pipeline) RunCycle(ctx context.Context) (*model.AnalysisReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	p.cycle++
	rep := &model.AnalysisReport{
		Symbol:      p.cfg.Symbol,
		Cycle:       p.cycle,
		GeneratedAt: p.now(),
	}

	unavailable, err := p.ingest(ctx, rep)
	if err != nil {
		p.metrics.RecordCycle(OutcomeFailed, time.Since(started))
		return nil, err
	}

	analyses := make([]model.TimeframeAnalysis, len(p.cfg.Timeframes))
	g, gctx := errgroup.WithContext(ctx)
	for i, tf := range p.cfg.Timeframes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := p.analyze(tf, unavailable[tf])
			if err != nil {
				return err
			}
			analyses[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.metrics.RecordCycle(OutcomeFailed, time.Since(started))
		return nil, fmt.Errorf("cycle %d: %w", rep.Cycle, err)
	}
	// A cycle that outlived its deadline is not reported as current.
	if err := ctx.Err(); err != nil {
		p.metrics.RecordCycle(OutcomeFailed, time.Since(started))
		return nil, fmt.Errorf("cycle %d: %w", rep.Cycle, err)
	}

	rep.Timeframes = analyses
	for _, a := range analyses {
		if a.Snapshot.Available && a.Snapshot.BarTime.After(rep.AsOf) {
			rep.AsOf = a.Snapshot.BarTime
		}
	}
	rep.Bias = strategy.Score(analyses, p.cfg.HTFTimeframes, p.cfg.Scoring)
	rep.Gate = strategy.EvaluateGate(analyses, p.cfg.HTFTimeframes, p.cfg.Gate)
	if plan, ok := strategy.BuildPlan(rep, p.cfg.HTFTimeframes, p.cfg.Plan); ok {
		rep.Plan = plan
	}
	p.metrics.BiasScore.Set(rep.Bias.Score)

	outcome := OutcomeOK
	if len(unavailable) > 0 {
		outcome = OutcomeDegraded
	}
	p.metrics.RecordCycle(outcome, time.Since(started))
	return rep, nil
}

// ingest drains every source timeframe into the aggregator and journals the
// accepted bars. It returns the timeframes that are unavailable this cycle.
func (p *Pipeline) ingest(ctx context.Context, rep *model.AnalysisReport) (map[model.Timeframe]bool, error) {
	unavailable := make(map[model.Timeframe]bool)
	var journal []model.Bar

	for _, src := range p.cfg.SourceTimeframes() {
		bars, err := feed.Drain(ctx, p.feed, src, p.cfg.Schedule.FeedTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("drain %s: %w", src, ctx.Err())
			}
			if errors.Is(err, feed.ErrTimeout) {
				p.metrics.RecordFeedTimeout(src)
			}
			log.Printf("[WARN] %s unavailable this cycle: %v", src, err)
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: %v", src, err))
			for _, tf := range p.fedBy(src) {
				unavailable[tf] = true
			}
		}

		dropped := 0
		for _, b := range bars {
			closed, err := p.agg.Append(b)
			if err != nil {
				dropped++
				reason := "out_of_order"
				if errors.Is(err, aggregator.ErrUnknownTimeframe) {
					reason = "unknown_timeframe"
				}
				p.metrics.RecordDropped(b.Timeframe, reason)
				continue
			}
			journal = append(journal, b)
			for _, c := range closed {
				p.metrics.RecordBars(c.Timeframe, 1)
			}
		}
		if dropped > 0 {
			log.Printf("[WARN] %s: dropped %d out-of-order bars", src, dropped)
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: dropped %d out-of-order bars", src, dropped))
		}
	}

	if now := p.now(); !now.IsZero() {
		for _, c := range p.agg.Flush(now) {
			p.metrics.RecordBars(c.Timeframe, 1)
		}
	}

	if len(journal) > 0 {
		if err := p.store.SaveBars(ctx, p.cfg.Symbol, journal); err != nil {
			log.Printf("[ERROR] journal %d bars: %v", len(journal), err)
		}
	}
	return unavailable, nil
}

// fedBy lists the tracked timeframes whose bars come from src.
func (p *Pipeline) fedBy(src model.Timeframe) []model.Timeframe {
	if p.cfg.BaseTimeframe == "" || src != p.cfg.BaseTimeframe {
		return []model.Timeframe{src}
	}
	return p.cfg.Timeframes
}

// analyze runs features, structure, zones and liquidity for one timeframe.
// Each timeframe goroutine touches only its own state.
func (p *Pipeline) analyze(tf model.Timeframe, unavailable bool) (model.TimeframeAnalysis, error) {
	st := p.states[tf]
	if unavailable {
		return model.TimeframeAnalysis{
			Timeframe: tf,
			Snapshot:  model.UnavailableSnapshot(tf),
			Structure: model.StructureResult{Timeframe: tf, Trend: model.TrendRanging},
			Zones:     st.zones.Active(),
			Retired:   st.zones.Reference(),
		}, nil
	}

	w, err := p.agg.Series(tf)
	if err != nil {
		return model.TimeframeAnalysis{}, err
	}
	st.extractor.Update(w)
	snap := st.extractor.Snapshot()
	str := structure.Analyze(tf, w.Bars, snap, p.cfg.Structure)

	res := st.zones.Update(w.Bars)
	for _, err := range res.Errors {
		log.Printf("[ERROR] %s zones: %v", tf, err)
		kind := "illegal_transition"
		if errors.Is(err, zones.ErrMalformedZone) {
			kind = "malformed_zone"
		}
		p.metrics.RecordEngineError("zones", kind)
	}
	for _, t := range res.Transitions {
		p.metrics.RecordTransition(tf, t.To)
	}
	active, retired := st.zones.Active(), st.zones.Reference()
	p.metrics.SetActiveZones(tf, active)

	events := liquidity.Detect(liquidity.Input{
		Timeframe: tf,
		Bars:      w.Bars,
		Swings:    str.Swings,
		Events:    str.Events,
		Zones:     append(append([]model.Zone(nil), active...), retired...),
		ATR:       snap.ATR,
	}, p.cfg.Liquidity)
	p.metrics.RecordLiquidity(tf, events)

	a := model.TimeframeAnalysis{
		Timeframe: tf,
		Snapshot:  snap,
		Structure: str,
		Zones:     active,
		Retired:   retired,
		Events:    events,
	}
	if high, low, err := calculator.HighLow(w.Bars, len(w.Bars)); err == nil {
		if pos, err := calculator.RangePosition(snap.Close, high, low); err == nil {
			a.RangePosition = model.Some(pos)
		}
	}
	return a, nil
}
