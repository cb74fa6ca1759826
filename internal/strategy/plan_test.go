package strategy

import (
	"math"
	"strings"
	"testing"

	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

func planConfig() config.Plan {
	cfg := config.Default().Plan
	cfg.EntryTimeframe = model.M15
	return cfg
}

func planReport(analyses ...model.TimeframeAnalysis) *model.AnalysisReport {
	return &model.AnalysisReport{
		Symbol:     "XAUUSD",
		Timeframes: analyses,
		Gate:       model.GateResult{Allowed: true, Reason: "Market OK"},
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuildPlan_Buy(t *testing.T) {
	rep := planReport(bullishAnalysis(model.M15), bullishAnalysis(model.H1), bullishAnalysis(model.H4))
	plan, ok := BuildPlan(rep, htf, planConfig())
	if !ok {
		t.Fatal("expected a plan")
	}
	if plan.Side != model.SideBuy || plan.MarketBias != model.TrendBullish || plan.ZoneID != "d" {
		t.Fatalf("unexpected plan %+v", plan)
	}
	// zone 2005-2012, ATR 6: stop 0.35 ATR below, targets 1/2/3 ATR above the midpoint
	if !near(plan.StopLoss, 2005-2.1) {
		t.Errorf("stop = %.4f", plan.StopLoss)
	}
	want := []float64{2014.5, 2020.5, 2026.5}
	for i, w := range want {
		if !near(plan.Targets[i], w) {
			t.Errorf("target %d = %.4f, want %.4f", i+1, plan.Targets[i], w)
		}
	}
	if !near(plan.RiskReward, 12/5.6) {
		t.Errorf("rr = %.4f", plan.RiskReward)
	}
	// base 50, EMA aligned +10, RR >= 2 +10
	if plan.Confidence != 70 {
		t.Errorf("confidence = %.1f, want 70", plan.Confidence)
	}
	if !strings.Contains(plan.Reason, "bullish on H4") {
		t.Errorf("reason = %q", plan.Reason)
	}
}

func TestBuildPlan_SellMirrorsBuy(t *testing.T) {
	rep := planReport(mirror(bullishAnalysis(model.M15)), mirror(bullishAnalysis(model.H1)), mirror(bullishAnalysis(model.H4)))
	plan, ok := BuildPlan(rep, htf, planConfig())
	if !ok {
		t.Fatal("expected a plan")
	}
	if plan.Side != model.SideSell || plan.ZoneID != "s" {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if !near(plan.StopLoss, 1995+2.1) {
		t.Errorf("stop = %.4f", plan.StopLoss)
	}
	if !near(plan.Targets[0], 1985.5) || !near(plan.Targets[2], 1973.5) {
		t.Errorf("targets = %v", plan.Targets)
	}
	if plan.Confidence != 70 {
		t.Errorf("confidence = %.1f, want 70", plan.Confidence)
	}
}

func TestBuildPlan_NoSetup(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(rep *model.AnalysisReport)
	}{
		{"gate closed", func(rep *model.AnalysisReport) { rep.Gate = model.GateResult{Reason: "HTF ranging"} }},
		{"htf ranging", func(rep *model.AnalysisReport) {
			rep.Timeframes[1].Structure.Trend = model.TrendRanging
			rep.Timeframes[2].Structure.Trend = model.TrendRanging
		}},
		{"entry not aligned", func(rep *model.AnalysisReport) { rep.Timeframes[0].Structure.Trend = model.TrendBearish }},
		{"entry unavailable", func(rep *model.AnalysisReport) { rep.Timeframes[0].Snapshot = model.UnavailableSnapshot(model.M15) }},
		{"no atr", func(rep *model.AnalysisReport) { rep.Timeframes[0].Snapshot.ATR = model.None }},
		{"sweep against", func(rep *model.AnalysisReport) {
			rep.Timeframes[0].Events = append(rep.Timeframes[0].Events,
				model.LiquidityEvent{Kind: model.LiquiditySweep, Direction: model.Bearish})
		}},
		{"fakeout against", func(rep *model.AnalysisReport) {
			rep.Timeframes[0].Events = []model.LiquidityEvent{{Kind: model.LiquidityFakeout, Direction: model.Bearish}}
		}},
		{"no demand zone", func(rep *model.AnalysisReport) {
			rep.Timeframes[0].Zones = []model.Zone{{ID: "s", Type: model.Supply, PriceLow: 2020, PriceHigh: 2025}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := planReport(bullishAnalysis(model.M15), bullishAnalysis(model.H1), bullishAnalysis(model.H4))
			tt.mutate(rep)
			if plan, ok := BuildPlan(rep, htf, planConfig()); ok || plan != nil {
				t.Errorf("expected no plan, got %+v", plan)
			}
		})
	}
}

func TestBuildPlan_RangingTopFallsBackToLowerHTF(t *testing.T) {
	h4 := bullishAnalysis(model.H4)
	h4.Structure.Trend = model.TrendRanging
	rep := planReport(bullishAnalysis(model.M15), bullishAnalysis(model.H1), h4)
	plan, ok := BuildPlan(rep, htf, planConfig())
	if !ok {
		t.Fatal("expected a plan")
	}
	if !strings.Contains(plan.Reason, "bullish on H1") {
		t.Errorf("reason = %q", plan.Reason)
	}
}

func TestBuildPlan_MinDistanceAndPenalties(t *testing.T) {
	m15 := bullishAnalysis(model.M15)
	m15.Snapshot.ATR = model.Some(0.1)
	rep := planReport(m15, bullishAnalysis(model.H1), bullishAnalysis(model.H4))
	cfg := planConfig()
	cfg.MinDistance = 1

	plan, ok := BuildPlan(rep, htf, cfg)
	if !ok {
		t.Fatal("expected a plan")
	}
	if !near(plan.StopLoss, 2004) || !near(plan.Targets[0], 2009.5) {
		t.Errorf("stop %.4f targets %v", plan.StopLoss, plan.Targets)
	}
	// EMA +10, far from zone -15, RR below 1.2 -10
	if plan.Confidence != 35 {
		t.Errorf("confidence = %.1f, want 35", plan.Confidence)
	}
}

func TestBuildPlan_ConfidenceCap(t *testing.T) {
	m15 := bullishAnalysis(model.M15)
	m15.Snapshot.RSI = model.Some(60)
	rep := planReport(m15, bullishAnalysis(model.H1), bullishAnalysis(model.H4))
	cfg := planConfig()

	plan, _ := BuildPlan(rep, htf, cfg)
	if plan.Confidence != 78 {
		t.Errorf("confidence = %.1f, want 78", plan.Confidence)
	}
	cfg.MaxConfidence = 60
	plan, _ = BuildPlan(rep, htf, cfg)
	if plan.Confidence != 60 {
		t.Errorf("capped confidence = %.1f, want 60", plan.Confidence)
	}
}
