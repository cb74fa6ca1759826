package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"BiasSentinel/internal/barstore"
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/feed"
	"BiasSentinel/internal/model"
	"BiasSentinel/internal/pipeline"
	"BiasSentinel/internal/report"
)

func main() {
	// Parse flags
	cfgPath := flag.String("config", "configs/config.yaml", "Path to config file")
	limit := flag.Int("limit", 5000, "Most recent journaled bars to replay per source timeframe")
	step := flag.Int("step", 1, "Bars fed per cycle")
	digest := flag.Bool("digest", false, "Log a digest of every report")
	flag.Parse()

	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)
	log.SetOutput(os.Stderr)

	if *step <= 0 {
		logger.Fatal("--step must be positive")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	cfg.Feed.Kind = "replay"
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config validation: %v", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	store, err := barstore.Open(ctx, cfg)
	if err != nil {
		logger.Fatalf("open bar store: %v", err)
	}
	defer store.Close()

	var bars []model.Bar
	for _, tf := range cfg.SourceTimeframes() {
		got, err := store.LoadBars(ctx, cfg.Symbol, tf, *limit)
		if err != nil {
			logger.Fatalf("load %s bars: %v", tf, err)
		}
		bars = append(bars, got...)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].CloseTime().Before(bars[j].CloseTime()) })
	logger.Printf("replaying %d bars of %s", len(bars), cfg.Symbol)

	// The replay clock is the close of the newest bar fed so far.
	var clock time.Time
	src := feed.NewReplayFeed()
	p, err := pipeline.New(cfg, src, pipeline.WithClock(func() time.Time { return clock }))
	if err != nil {
		logger.Fatalf("init pipeline: %v", err)
	}

	sinks := []report.Sink{report.NewJSONSink(os.Stdout)}
	if *digest {
		sinks = append(sinks, report.NewLogSink(logger))
	}

	for i := 0; i < len(bars); i += *step {
		end := min(i+*step, len(bars))
		src.Push(bars[i:end]...)
		clock = bars[end-1].CloseTime()

		rep, err := p.RunCycle(ctx)
		if err != nil {
			logger.Fatalf("cycle at %s: %v", clock.Format(time.RFC3339), err)
		}
		for _, s := range sinks {
			if err := s.Publish(ctx, rep); err != nil {
				logger.Fatalf("publish: %v", err)
			}
		}
	}
	logger.Printf("done: %d cycles", (len(bars)+*step-1) / *step)
}
