// Package report publishes finished analysis reports to sinks.
package report

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"BiasSentinel/internal/model"
)

// FormatDigest renders a report as a one-screen plain-text digest.
func FormatDigest(rep *model.AnalysisReport) string {
	var b strings.Builder

	stale := ""
	if rep.Stale {
		stale = " [STALE]"
	}
	b.WriteString(fmt.Sprintf("BiasSentinel %s | cycle %s%s\n", rep.Symbol, humanize.Comma(int64(rep.Cycle)), stale))
	if !rep.AsOf.IsZero() {
		b.WriteString(fmt.Sprintf("As of: %s (%s)\n",
			rep.AsOf.UTC().Format("2006-01-02 15:04 MST"),
			humanize.RelTime(rep.AsOf, rep.GeneratedAt, "before report", "after report")))
	}
	b.WriteString(fmt.Sprintf("Bias: %+.2f %s\n", rep.Bias.Score, rep.Bias.Label))
	gate := "open"
	if !rep.Gate.Allowed {
		gate = "closed"
	}
	b.WriteString(fmt.Sprintf("Gate: %s (%s)\n", gate, rep.Gate.Reason))
	writePlan(&b, rep.Plan)
	b.WriteString("\n")

	b.WriteString("Factors:\n")
	for _, f := range rep.Bias.Factors {
		line := fmt.Sprintf("  %-14s %+.2f x%.2f = %+.2f", f.Name, f.RawScore, f.Weight, f.Contribution)
		if f.Commentary != "" {
			line += " (" + f.Commentary + ")"
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\nTimeframes:\n")
	for _, a := range rep.Timeframes {
		writeTimeframe(&b, a)
	}

	if len(rep.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range rep.Warnings {
			b.WriteString("  - " + w + "\n")
		}
	}
	return b.String()
}

func writePlan(b *strings.Builder, p *model.TradePlan) {
	if p == nil {
		b.WriteString("Plan: none\n")
		return
	}
	targets := make([]string, len(p.Targets))
	for i, t := range p.Targets {
		targets[i] = fmt.Sprintf("%.2f", t)
	}
	b.WriteString(fmt.Sprintf("Plan: %s %s | entry %.2f-%.2f | SL %.2f | TP %s | RR %.2f | conf %.0f%%\n",
		strings.ToUpper(string(p.Side)), p.Timeframe, p.EntryLow, p.EntryHigh, p.StopLoss,
		strings.Join(targets, " / "), p.RiskReward, p.Confidence))
}

func writeTimeframe(b *strings.Builder, a model.TimeframeAnalysis) {
	s := a.Snapshot
	if !s.Available {
		b.WriteString(fmt.Sprintf("  %-3s unavailable\n", a.Timeframe))
		return
	}
	last := ""
	if ev := a.Structure.LastEvent; ev != nil {
		last = fmt.Sprintf(" | last %s %s @ %.2f", ev.Direction, ev.Kind, ev.Level)
	}
	b.WriteString(fmt.Sprintf("  %-3s close %.2f | trend %s | structure %s%s\n",
		a.Timeframe, s.Close, s.Trend, a.Structure.Trend, last))

	rangePos := "n/a"
	if a.RangePosition.Valid {
		rangePos = fmt.Sprintf("%.0f%%", a.RangePosition.Value*100)
	}
	b.WriteString(fmt.Sprintf("      ATR %s | vol z %s | RSI %s | range %s\n",
		metric(s.ATR, "%.2f"), metric(s.VolumeZ, "%+.2f"), metric(s.RSI, "%.0f"), rangePos))

	demand, supply := 0, 0
	for _, z := range a.Zones {
		if z.Type == model.Demand {
			demand++
		} else {
			supply++
		}
	}
	var events []string
	for _, e := range a.Events {
		events = append(events, fmt.Sprintf("%s %s", e.Kind, e.Direction))
	}
	liq := "none"
	if len(events) > 0 {
		liq = strings.Join(events, ", ")
	}
	b.WriteString(fmt.Sprintf("      zones %d demand / %d supply live, %d retired | liquidity: %s\n",
		demand, supply, len(a.Retired), liq))
}

func metric(m model.Metric, format string) string {
	if !m.Valid {
		return "n/a"
	}
	return fmt.Sprintf(format, m.Value)
}
