package trajectory

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

const (
	ConfidenceHigh = "high"
	ConfidenceLow  = "low"

	defaultMetricScore = 75.0
)

var frictionImpact = map[string]string{
	signal.SeverityCritical: "major",
	signal.SeverityHigh:     "significant",
	signal.SeverityMedium:   "moderate",
	signal.SeverityLow:      "minor",
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func severityOrMedium(s string) string {
	if s == "" {
		return signal.SeverityMedium
	}
	return s
}

func quoteLabels(events []*signal.Event, max int) string {
	labels := make([]string, 0, max)
	for i, e := range events {
		if i == max {
			break
		}
		labels = append(labels, "'"+e.Label()+"'")
	}
	return strings.Join(labels, " and ")
}

// History holds the cross-stage facts every stage score is filtered from.
type History struct {
	All         []*signal.Event
	Recurrences []Recurrence
	Escalations []Escalation
	paired      map[*signal.Event]bool
}

// NewHistory runs the thread-aware detectors once over the full sorted
// history.
func NewHistory(all []*signal.Event, cfg IncidentConfig) *History {
	h := &History{
		All:         all,
		Recurrences: DetectRecurrence(all, "", cfg),
		Escalations: DetectEscalations(all, ""),
		paired:      make(map[*signal.Event]bool),
	}
	for _, p := range PairTickets(all) {
		h.paired[p.Created] = true
	}
	return h
}

// Paired reports whether a creation was closed by some resolution.
func (h *History) Paired(e *signal.Event) bool { return h.paired[e] }

// StageMetrics is the scored breakdown of one stage.
type StageMetrics struct {
	Scores     map[Metric]float64
	Details    map[Metric]string
	Confidence map[Metric]string
}

// ScoreStage computes the five sub-metrics for the signals of one stage.
// Every score is clamped to [0,100] and rounded to one decimal.
func ScoreStage(stage signal.Stage, events []*signal.Event, h *History) StageMetrics {
	sm := StageMetrics{
		Scores:     make(map[Metric]float64, len(Metrics)),
		Details:    make(map[Metric]string, len(Metrics)),
		Confidence: make(map[Metric]string, len(Metrics)),
	}
	set := func(m Metric, score float64, detail string, real bool) {
		sm.Scores[m] = Round1(clamp(score))
		sm.Details[m] = detail
		sm.Confidence[m] = ConfidenceLow
		if real {
			sm.Confidence[m] = ConfidenceHigh
		}
	}

	score, detail, real := scoreFriction(events)
	set(MetricFriction, score, detail, real)
	score, detail, real = scoreRecurrence(stage, events, h)
	set(MetricRecurrence, score, detail, real)
	score, detail, real = scoreEscalation(stage, events, h)
	set(MetricEscalation, score, detail, real)
	score, detail, real = scoreResolution(events, h)
	set(MetricResolution, score, detail, real)
	score, detail, real = scoreEffort(events)
	set(MetricEffort, score, detail, real)
	return sm
}

func scoreFriction(events []*signal.Event) (float64, string, bool) {
	var negative, positive []*signal.Event
	for _, e := range events {
		switch e.Metadata.Valence() {
		case signal.ValenceNegative:
			negative = append(negative, e)
		case signal.ValencePositive:
			positive = append(positive, e)
		}
	}
	if len(negative) == 0 && len(positive) == 0 {
		return 100, "No positive or negative signals occurred in this stage, so friction is neutral.", false
	}

	var net float64
	for _, e := range negative {
		net += SeverityWeight(e.Severity)
	}
	for _, e := range positive {
		net -= SeverityWeight(e.Severity) * 0.5
	}

	top := append([]*signal.Event(nil), negative...)
	sort.SliceStable(top, func(i, j int) bool {
		return SeverityWeight(top[i].Severity) > SeverityWeight(top[j].Severity)
	})
	var parts []string
	for i, e := range top {
		if i == 3 {
			break
		}
		sev := severityOrMedium(e.Severity)
		impact, ok := frictionImpact[sev]
		if !ok {
			impact = "moderate"
		}
		parts = append(parts, fmt.Sprintf("'%s' (%s) added %s friction", e.Label(), sev, impact))
	}
	if len(positive) > 0 {
		parts = append(parts, fmt.Sprintf("%s partially offset this as %s", quoteLabels(positive, 2), plural(len(positive), "positive outcome")))
	}
	if rest := len(negative) - 3; rest > 0 {
		parts = append(parts, fmt.Sprintf("%d more negative %s also contributed", rest, plural(rest, "signal")))
	}
	return 100 - net*5, strings.Join(parts, ". ") + ".", true
}

func scoreRecurrence(stage signal.Stage, events []*signal.Event, h *History) (float64, string, bool) {
	threads := make(map[string]bool)
	for _, e := range events {
		if key := NormalizeTitle(e.Title); key != "" {
			threads[key] = true
		}
	}
	if len(threads) == 0 {
		return defaultMetricScore, "No signal threads to analyze for recurrence.", false
	}

	incidents := make(map[string]int)
	var order []string
	for _, r := range h.Recurrences {
		if stageOf(r.Event) != stage {
			continue
		}
		if _, seen := incidents[r.Topic]; !seen {
			order = append(order, r.Topic)
		}
		if r.TotalIncidents > incidents[r.Topic] {
			incidents[r.Topic] = r.TotalIncidents
		}
	}
	score := 100 - float64(len(incidents))/float64(len(threads))*100

	if len(incidents) == 0 {
		return score, fmt.Sprintf("Each of the %d issue threads appeared only once, with no recurring problems detected.", len(threads)), true
	}
	sort.SliceStable(order, func(i, j int) bool { return incidents[order[i]] > incidents[order[j]] })
	var parts []string
	for i, topic := range order {
		if i == 3 {
			break
		}
		parts = append(parts, fmt.Sprintf("'%s' recurred across %d incidents, suggesting an unresolved root cause", signal.Truncate(topic, 45), incidents[topic]))
	}
	if rest := len(threads) - len(incidents); rest > 0 {
		parts = append(parts, fmt.Sprintf("%d other %s appeared only once", rest, plural(rest, "thread")))
	}
	return score, strings.Join(parts, ". ") + ".", true
}

func scoreEscalation(stage signal.Stage, events []*signal.Event, h *History) (float64, string, bool) {
	rated := 0
	for _, e := range events {
		if hasSeverity(e) {
			rated++
		}
	}
	if rated < 2 {
		return defaultMetricScore, fmt.Sprintf("Only %d %s with severity, not enough to measure whether issues escalated over time.", rated, plural(rated, "signal")), false
	}

	var found []Escalation
	for _, esc := range h.Escalations {
		if stageOf(esc.Event) == stage {
			found = append(found, esc)
		}
	}
	if len(found) == 0 {
		return 100, fmt.Sprintf("Across %d signals with severity, no within-thread escalation occurred.", rated), true
	}

	rate := float64(len(found)) / math.Max(float64(rated-1), 1)
	var parts []string
	for i, esc := range found {
		if i == 2 {
			break
		}
		parts = append(parts, fmt.Sprintf("'%s' escalated from %s to %s, indicating the situation worsened", esc.Event.Label(), esc.From, esc.To))
	}
	detail := strings.Join(parts, ". ") + "."
	if rest := len(found) - len(parts); rest > 0 {
		detail += fmt.Sprintf(" %d more %s also detected.", rest, plural(rest, "escalation"))
	}
	return 100 - rate*100, detail, true
}

func scoreResolution(events []*signal.Event, h *History) (float64, string, bool) {
	var resolved, open []*signal.Event
	for _, e := range events {
		if e.EventType != signal.EventTicketCreated {
			continue
		}
		if h.Paired(e) {
			resolved = append(resolved, e)
		} else {
			open = append(open, e)
		}
	}
	created := len(resolved) + len(open)
	if created == 0 {
		return defaultMetricScore, "No tickets were created in this stage, so resolution cannot be measured.", false
	}

	var parts []string
	describe := func(list []*signal.Event, one, many string) {
		if len(list) == 0 {
			return
		}
		more := ""
		if len(list) > 2 {
			more = fmt.Sprintf(" (and %d more)", len(list)-2)
		}
		verb := one
		if len(list) > 1 {
			verb = many
		}
		parts = append(parts, fmt.Sprintf("%s%s %s", quoteLabels(list, 2), more, verb))
	}
	describe(resolved, "was resolved", "were resolved")
	describe(open, "remains open", "remain open")
	return float64(len(resolved)) / float64(created) * 100, strings.Join(parts, ". ") + ".", true
}

func scoreEffort(events []*signal.Event) (float64, string, bool) {
	total := len(events)
	if total == 0 {
		return defaultMetricScore, "No signals in this stage, so effort distribution cannot be measured.", false
	}
	counts := make(map[string]int)
	var cats []string
	peripheral := 0
	for _, e := range events {
		ok, cat := ClassifyEffort(e)
		if !ok {
			continue
		}
		peripheral++
		if counts[cat] == 0 {
			cats = append(cats, cat)
		}
		counts[cat]++
	}
	core := total - peripheral
	ratio := float64(peripheral) / float64(total)

	var detail string
	switch {
	case ratio < 0.15:
		detail = fmt.Sprintf("Nearly all signals (%d of %d) represent core product work, suggesting productive effort.", core, total)
	case ratio > 0.5:
		sort.SliceStable(cats, func(i, j int) bool { return counts[cats[i]] > counts[cats[j]] })
		if len(cats) > 2 {
			cats = cats[:2]
		}
		desc := make([]string, 0, len(cats))
		for _, c := range cats {
			desc = append(desc, fmt.Sprintf("%s (%d)", c, counts[c]))
		}
		detail = fmt.Sprintf("%d of %d signals are peripheral overhead (%s), indicating significant non-core effort.", peripheral, total, strings.Join(desc, ", "))
	default:
		detail = fmt.Sprintf("%d core vs %d peripheral signals, moderate overhead from non-core work.", core, peripheral)
	}
	return 100 - ratio*100, detail, true
}
