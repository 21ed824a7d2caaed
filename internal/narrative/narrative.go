package narrative

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/joelkehle/adoption-trajectory/internal/health"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

const (
	KeyTrajectory = "trajectory"
	KeyHealth     = "health"
)

func StageKey(st signal.Stage) string            { return "stage:" + string(st) }
func CategoryKey(c signal.HealthCategory) string { return "health:" + string(c) }

// Summaries maps a summary key to plain prose.
type Summaries map[string]string

// Input is what a narrator writes about. WindowEvents feed the health
// summaries and Events the trajectory ones.
type Input struct {
	ProductName  string
	VendorName   string
	Trajectory   *trajectory.Trajectory
	Health       *health.Score
	Events       []*signal.Event
	WindowEvents []*signal.Event
}

// Narrator turns computed scores into prose. Implementations never fail;
// whatever cannot be written by the oracle comes from the templates.
type Narrator interface {
	Summarize(ctx context.Context, in Input) Summaries
}

func stageEvents(in Input) map[signal.Stage][]*signal.Event {
	if len(in.Events) == 0 {
		return nil
	}
	return trajectory.BuildTimeline(in.Events).StageEvents
}

func categoryEvents(events []*signal.Event, c signal.HealthCategory) []*signal.Event {
	var out []*signal.Event
	for _, e := range events {
		if e.Metadata.HasCategory(c) {
			out = append(out, e)
		}
	}
	return out
}

func scoredCategories(s *health.Score) []signal.HealthCategory {
	if s == nil {
		return nil
	}
	var out []signal.HealthCategory
	for _, c := range signal.HealthCategories {
		if _, ok := s.Breakdown[c]; ok {
			out = append(out, c)
		}
	}
	// Worst first.
	sort.SliceStable(out, func(i, j int) bool { return s.Breakdown[out[i]] < s.Breakdown[out[j]] })
	return out
}

func categoryLabel(c signal.HealthCategory) string {
	return strings.ReplaceAll(string(c), "_", " ")
}

func formatSignals(events []*signal.Event, max int) string {
	var b strings.Builder
	for i, e := range events {
		if i == max {
			fmt.Fprintf(&b, "  ... and %d more signals\n", len(events)-max)
			break
		}
		sev := e.Severity
		if sev == "" {
			sev = signal.SeverityMedium
		}
		valence := string(e.Metadata.Valence())
		if valence == "" {
			valence = "unknown"
		}
		fmt.Fprintf(&b, "- [%s] [%s] [%s] %s", signal.UTC(e.OccurredAt).Format("2006-01-02"), sev, valence, e.Label())
		if e.Body != "" {
			fmt.Fprintf(&b, ": %s", strings.ReplaceAll(signal.Truncate(e.Body, 200), "\n", " "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
