package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BiasSentinel/internal/barstore"
	"BiasSentinel/internal/config"
	"BiasSentinel/internal/feed"
	"BiasSentinel/internal/observability"
	"BiasSentinel/internal/pipeline"
	"BiasSentinel/internal/report"
	"BiasSentinel/internal/scheduler"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] BiasSentinel starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init feed
	var src feed.Feed
	switch cfg.Feed.Kind {
	case "ws":
		ws, err := feed.NewWSFeed(ctx, cfg.Feed.WSURL, cfg.Symbol, cfg.SourceTimeframes(), nil)
		if err != nil {
			log.Fatalf("[FATAL] connect ws feed: %v", err)
		}
		defer ws.Close()
		src = ws
	case "replay":
		src = feed.NewReplayFeed()
	default:
		src = feed.NewRESTFeed(cfg.Feed.BaseURL, cfg.Feed.APIKey, cfg.Feed.Proxy, cfg.Symbol)
	}
	log.Printf("[INFO] data source: %s", src.Name())

	// Init bar store
	store, err := barstore.Open(ctx, cfg)
	if err != nil {
		log.Printf("[WARN] init %s bar store failed, using noop: %v", cfg.Storage.Driver, err)
		store = barstore.NewNoopStore()
	}
	defer store.Close()

	metrics := observability.NewMetrics("")
	p, err := pipeline.New(cfg, src, pipeline.WithStore(store), pipeline.WithMetrics(metrics))
	if err != nil {
		log.Fatalf("[FATAL] init pipeline: %v", err)
	}
	if n, err := p.Warmup(ctx); err != nil {
		log.Printf("[WARN] warm-up incomplete after %d bars: %v", n, err)
	}

	// Metrics endpoint
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[ERROR] metrics server: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("[INFO] metrics listening on %s", cfg.Metrics.ListenAddr)
	}

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, p, cfg.Schedule.CycleTimeout, report.NewLogSink(nil))
	if err := sched.Register(cfg.Schedule.CycleCron); err != nil {
		log.Fatalf("[FATAL] register cron task: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Optional: run immediately on start
	if cfg.RunOnStart {
		log.Println("[INFO] RUN_ON_START enabled, executing cycle now")
		go sched.RunNow()
	}

	log.Println("[INFO] BiasSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	log.Println("[INFO] BiasSentinel stopped")
}
