// Package metrics derives rolling time series and per-metric event lists
// from one product's tagged signal history.
package metrics

import (
	"errors"
	"sort"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

const (
	dateLayout = "2006-01-02"
	day        = 24 * time.Hour

	// Weekly samples over a trailing 30-day window.
	windowDays  = 30
	sampleEvery = 7
	// History assumed when the registration date is unknown.
	defaultLookbackDays = 90
)

const (
	TrendStable     = "stable"
	TrendDeclining  = "declining"
	TrendIncreasing = "increasing"
	TrendImproving  = "improving"
	TrendWorsening  = "worsening"
)

var ErrUnknownMetric = errors.New("unknown metric")

// Input is one product's tagged history as of Now. A non-empty Stage keeps
// only signals tagged with that lifecycle stage.
type Input struct {
	Registration signal.Registration
	Events       []*signal.Event
	Now          time.Time
	Stage        signal.Stage
}

// Commentary is the trend verdict attached to every series.
type Commentary struct {
	Trend   string `json:"trend"`
	Message string `json:"message"`
}

var seriesFuncs = map[string]func(Input) any{
	"issue-rate":            func(in Input) any { return IssueRate(in) },
	"recurrence-rate":       func(in Input) any { return RecurrenceRate(in) },
	"resolution-time":       func(in Input) any { return ResolutionTime(in) },
	"escalation-rate":       func(in Input) any { return EscalationRate(in) },
	"core-peripheral":       func(in Input) any { return CorePeripheral(in) },
	"vendor-responsiveness": func(in Input) any { return VendorResponsiveness(in) },
}

var eventFuncs = map[string]func(Input) any{
	"friction":   func(in Input) any { return FrictionEvents(in) },
	"recurrence": func(in Input) any { return RecurrenceEvents(in) },
	"escalation": func(in Input) any { return EscalationEvents(in) },
	"resolution": func(in Input) any { return ResolutionEvents(in) },
	"effort":     func(in Input) any { return EffortEvents(in) },
}

// Series computes the named time series.
func Series(name string, in Input) (any, error) {
	fn, ok := seriesFuncs[name]
	if !ok {
		return nil, ErrUnknownMetric
	}
	return fn(in), nil
}

// Events computes the named drill-down list.
func Events(name string, in Input) (any, error) {
	fn, ok := eventFuncs[name]
	if !ok {
		return nil, ErrUnknownMetric
	}
	return fn(in), nil
}

func SeriesNames() []string { return sortedKeys(seriesFuncs) }
func EventNames() []string  { return sortedKeys(eventFuncs) }

func sortedKeys(m map[string]func(Input) any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// civil truncates t to its UTC calendar day.
func civil(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(civil(to).Sub(civil(from)) / day)
}

func within(t, start, end time.Time) bool {
	d := civil(t)
	return !d.Before(start) && !d.After(end)
}

// span returns the first day of history and today. History starts at
// registration and is stretched back so it covers at least minDays.
func span(in Input, minDays int) (start, today time.Time, daysSince int) {
	today = civil(in.Now)
	if in.Registration.CreatedAt.IsZero() {
		start = today.AddDate(0, 0, -defaultLookbackDays)
	} else {
		start = civil(in.Registration.CreatedAt)
	}
	daysSince = max(0, daysBetween(start, today))
	if daysBetween(start, today) < minDays {
		start = today.AddDate(0, 0, -minDays)
	}
	return start, today, daysSince
}

// weeklySamples returns sample days for trailing 30-day windows: the first
// full window, then every seventh day, always ending on today.
func weeklySamples(in Input) []time.Time {
	start, today, _ := span(in, windowDays)
	var out []time.Time
	for d := start.AddDate(0, 0, windowDays-1); !d.After(today); d = d.AddDate(0, 0, sampleEvery) {
		out = append(out, d)
	}
	if len(out) == 0 || !out[len(out)-1].Equal(today) {
		out = append(out, today)
	}
	return out
}

func windowStart(sample time.Time) time.Time {
	return sample.AddDate(0, 0, -(windowDays - 1))
}

// scoped applies the stage filter.
func scoped(in Input) []*signal.Event {
	if in.Stage == "" {
		return in.Events
	}
	var out []*signal.Event
	for _, e := range in.Events {
		if e.Metadata.StageTopic() == in.Stage {
			out = append(out, e)
		}
	}
	return out
}

// issues are the negative signals, or every ticket creation when nothing
// carries a negative tag.
func issues(events []*signal.Event) []*signal.Event {
	var out []*signal.Event
	for _, e := range events {
		if e.Metadata.Valence() == signal.ValenceNegative {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, e := range events {
		if e.EventType == signal.EventTicketCreated {
			out = append(out, e)
		}
	}
	return out
}

// ticketCategory splits creations into vendor issues and feature work.
func ticketCategory(e *signal.Event) string {
	switch e.Metadata.Subject() {
	case signal.SubjectVendorIssue:
		return categoryIssue
	case signal.SubjectInternalImpl, signal.SubjectVendorRequest:
		return categoryFeature
	}
	if e.Metadata.Valence() == signal.ValenceNegative {
		return categoryIssue
	}
	if e.EventType == signal.EventFeatureRequest {
		return categoryFeature
	}
	return categoryIssue
}

const (
	categoryIssue   = "issue"
	categoryFeature = "feature"
)

// medianP90 expects sorted input.
func medianP90(sorted []float64) (median, p90 float64) {
	n := len(sorted)
	median = sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	p90 = sorted[min(int(float64(n)*0.9), n-1)]
	return trajectory.Round1(median), trajectory.Round1(p90)
}

func hours(from, to time.Time) float64 {
	return to.Sub(from).Hours()
}

// topKeys returns up to n keys by descending count, ties in first-seen
// order.
func topKeys(order []string, counts map[string]int, n, width int) []string {
	keys := append([]string(nil), order...)
	sort.SliceStable(keys, func(i, j int) bool { return counts[keys[i]] > counts[keys[j]] })
	out := []string{}
	for _, k := range keys {
		if len(out) == n {
			break
		}
		if width > 0 {
			k = signal.Truncate(k, width)
		}
		out = append(out, k)
	}
	return out
}

// shift compares the opening and closing readings of a series: the mean of
// the first and last two points when there are four or more, else the
// endpoints.
func shift(values []float64) (earlier, recent float64) {
	n := len(values)
	if n >= 4 {
		return (values[0] + values[1]) / 2, (values[n-2] + values[n-1]) / 2
	}
	return values[0], values[n-1]
}

// halves averages the first and second half of values.
func halves(values []float64) (earlier, recent float64) {
	mid := len(values) / 2
	first, second := values[:mid], values[mid:]
	if mid == 0 {
		first = values
	}
	return mean(first), mean(second)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
