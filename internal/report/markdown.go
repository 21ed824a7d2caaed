package report

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/joelkehle/adoption-trajectory/internal/analysis"
	"github.com/joelkehle/adoption-trajectory/internal/benchmark"
	"github.com/joelkehle/adoption-trajectory/internal/narrative"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

const HowItWorksHeading = "How This Report Works"

// Markdown renders the product report. It reads r and never changes it.
func Markdown(r *analysis.Report) string {
	var b strings.Builder
	reg := r.Registration
	fmt.Fprintf(&b, "# %s by %s\n\n", reg.ProductName, reg.VendorName)
	if reg.IntendedUse != "" {
		fmt.Fprintf(&b, "Intended use: %s\n\n", reg.IntendedUse)
	}
	if !r.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated %s\n\n", signal.UTC(r.GeneratedAt).Format("January 2, 2006"))
	}

	if r.Trajectory != nil && r.Trajectory.Trajectory != nil {
		writeTrajectory(&b, r.Trajectory, r.Summaries)
	}
	if r.Health != nil && r.Health.Score != nil {
		writeHealth(&b, r.Health, r.Summaries)
	}
	writeHowItWorks(&b)
	return b.String()
}

func writeTrajectory(b *strings.Builder, rep *analysis.TrajectoryReport, summaries narrative.Summaries) {
	t := rep.Trajectory
	b.WriteString("## Adoption Trajectory\n\n")
	fmt.Fprintf(b, "- **Current stage:** %s\n", t.CurrentStage)
	fmt.Fprintf(b, "- **Peak stage:** %s\n", t.PeakStage)
	fmt.Fprintf(b, "- **Overall smoothness:** %.1f%s\n", t.OverallSmoothness, peerNote(overallStat(rep.Benchmarks)))
	fmt.Fprintf(b, "- **Confidence:** %s (%d signals)\n", t.Confidence, t.SignalCount)
	if t.RegressionDetected {
		fmt.Fprintf(b, "- **Regression:** %s\n", t.RegressionDetail)
	}
	if rep.Benchmarks != nil {
		fmt.Fprintf(b, "- **Peers:** %d (%s)\n", rep.Benchmarks.PeerCount, rep.Benchmarks.Category)
	}
	b.WriteString("\n")
	if s := summaries[narrative.KeyTrajectory]; s != "" {
		b.WriteString(s + "\n\n")
	}

	b.WriteString("| Stage | Status | Smoothness | Signals | Peer median | Percentile |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, row := range t.Stages {
		var stat *benchmark.StageStat
		if rep.Benchmarks != nil {
			stat = rep.Benchmarks.Stages[row.Name]
		}
		fmt.Fprintf(b, "| %s | %s | %s | %d | %s | %s |\n",
			row.Name, row.Status, score(row.Smoothness), row.SignalCount, median(stat), percentile(stat))
	}
	b.WriteString("\n")

	for i, row := range t.Stages {
		if row.Smoothness == nil {
			continue
		}
		fmt.Fprintf(b, "### Stage %d: %s\n\n", i+1, titleCase(string(row.Name)))
		text := summaries[narrative.StageKey(row.Name)]
		if text == "" {
			text = row.Explanation
		}
		b.WriteString(text + "\n\n")
		b.WriteString("| Metric | Score | Confidence | Detail |\n|---|---|---|---|\n")
		for _, m := range trajectory.Metrics {
			v, ok := row.Metrics[m]
			if !ok {
				continue
			}
			fmt.Fprintf(b, "| %s | %.1f | %s | %s |\n", m, v, row.MetricConfidence[m], cell(row.MetricDetails[m]))
		}
		b.WriteString("\n")
	}
}

func writeHealth(b *strings.Builder, rep *analysis.HealthReport, summaries narrative.Summaries) {
	s := rep.Score
	b.WriteString("## Health\n\n")
	var overall *benchmark.Stat
	if rep.Benchmarks != nil {
		overall = rep.Benchmarks.Overall
	}
	fmt.Fprintf(b, "- **Health score:** %d/100%s\n", s.Score, peerNote(overall))
	fmt.Fprintf(b, "- **Confidence:** %s (%d signals in the last %d days)\n\n", s.ConfidenceTier, s.WindowSignalCount, s.WindowDays)
	if text := summaries[narrative.KeyHealth]; text != "" {
		b.WriteString(text + "\n\n")
	}

	b.WriteString("| Category | Score | Signals | Peer median | Percentile |\n|---|---|---|---|---|\n")
	for _, c := range signal.HealthCategories {
		v, ok := s.Breakdown[c]
		if !ok {
			continue
		}
		var stat *benchmark.Stat
		if rep.Benchmarks != nil {
			stat = rep.Benchmarks.Categories[c]
		}
		fmt.Fprintf(b, "| %s | %d | %d | %s | %s |\n",
			strings.ReplaceAll(string(c), "_", " "), v, s.Categories[c].SignalCount, statMedian(stat), statPercentile(stat))
	}
	b.WriteString("\n")

	writeList(b, "What works", s.WhatWorks)
	writeList(b, "What doesn't", s.WhatDoesnt)
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func writeHowItWorks(b *strings.Builder) {
	fmt.Fprintf(b, "## %s\n\n", HowItWorksHeading)
	b.WriteString("Every signal is tagged with a valence, a subject, a lifecycle stage and health categories. " +
		"Signals are grouped into threads, split into incidents and bucketed by stage.\n\n")
	b.WriteString("Each stage is scored from five metrics (friction, recurrence, escalation, resolution, effort), " +
		"weighted for that stage. Peer benchmarks compare against other products in the same category or with a similar intended use; " +
		"the percentile counts peers scoring strictly lower.\n\n")
	b.WriteString("Health covers the last 30 days by default and weighs impact, resolution and trend per category.\n")
}

func overallStat(r *benchmark.Result) *benchmark.Stat {
	if r == nil {
		return nil
	}
	return r.Overall
}

func peerNote(s *benchmark.Stat) string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf(" (peer median %.1f, percentile %d)", s.Median, s.Percentile)
}

func score(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

func median(s *benchmark.StageStat) string {
	if s == nil {
		return "-"
	}
	return statMedian(&s.Stat)
}

func percentile(s *benchmark.StageStat) string {
	if s == nil {
		return "-"
	}
	return statPercentile(&s.Stat)
}

func statMedian(s *benchmark.Stat) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", s.Median)
}

func statPercentile(s *benchmark.Stat) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%d", s.Percentile)
}

// cell keeps free text from breaking a table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	return strings.ReplaceAll(s, "\n", " ")
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string { return titleCaser.String(s) }
