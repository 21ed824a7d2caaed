package narrative

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

// Fallback writes every summary from templates over the computed scores.
type Fallback struct{}

func (f Fallback) Summarize(_ context.Context, in Input) Summaries {
	out := Summaries{}
	if in.Trajectory != nil {
		for _, row := range in.Trajectory.Stages {
			if row.Smoothness != nil {
				out[StageKey(row.Name)] = f.Stage(row)
			}
		}
		out[KeyTrajectory] = f.Trajectory(in.ProductName, in.Trajectory, out)
	}
	if in.Health != nil {
		for _, c := range scoredCategories(in.Health) {
			out[CategoryKey(c)] = f.Category(in.ProductName, c, categoryEvents(in.WindowEvents, c))
		}
		out[KeyHealth] = f.Health(in, out)
	}
	return out
}

// Stage is the explanation followed by the details of the two weakest
// metrics that had data behind them.
func (Fallback) Stage(row trajectory.StageResult) string {
	parts := []string{row.Explanation}
	metrics := append([]trajectory.Metric(nil), trajectory.Metrics...)
	sort.SliceStable(metrics, func(i, j int) bool { return row.Metrics[metrics[i]] < row.Metrics[metrics[j]] })
	added := 0
	for _, m := range metrics {
		if added == 2 {
			break
		}
		if row.MetricConfidence[m] != trajectory.ConfidenceHigh || row.MetricDetails[m] == "" {
			continue
		}
		parts = append(parts, row.MetricDetails[m])
		added++
	}
	return strings.Join(parts, " ")
}

func (Fallback) Trajectory(product string, t *trajectory.Trajectory, written Summaries) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is in the %s stage.", product, t.CurrentStage)
	if t.RegressionDetected && t.RegressionDetail != "" {
		fmt.Fprintf(&b, " Regression detected: %s", t.RegressionDetail)
	}
	for _, st := range signal.Stages {
		if s := written[StageKey(st)]; s != "" {
			b.WriteString(" ")
			b.WriteString(s)
		}
	}
	return b.String()
}

func (Fallback) Category(product string, c signal.HealthCategory, events []*signal.Event) string {
	label := categoryLabel(c)
	if len(events) == 0 {
		return fmt.Sprintf("No %s signals were recorded for %s.", label, product)
	}
	neg, pos := 0, 0
	for _, e := range events {
		switch e.Metadata.Valence() {
		case signal.ValenceNegative:
			neg++
		case signal.ValencePositive:
			pos++
		}
	}
	noun := "signals"
	if len(events) == 1 {
		noun = "signal"
	}
	parts := []string{fmt.Sprintf("%d %s-related %s recorded", len(events), label, noun)}
	if neg > 0 {
		parts = append(parts, fmt.Sprintf("%d negative", neg))
	}
	if pos > 0 {
		parts = append(parts, fmt.Sprintf("%d positive", pos))
	}
	return strings.Join(parts, ", ") + "."
}

func (Fallback) Health(in Input, written Summaries) string {
	var parts []string
	for _, c := range scoredCategories(in.Health) {
		if s := written[CategoryKey(c)]; s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Insufficient data to produce an overall health summary for %s.", in.ProductName)
	}
	return strings.Join(parts, " ")
}
