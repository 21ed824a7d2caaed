package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

// EventBase is the part of a drill-down row every metric shares.
type EventBase struct {
	Date       time.Time `json:"date"`
	Summary    string    `json:"summary"`
	Severity   string    `json:"severity"`
	SourceType string    `json:"source_type"`
	EventType  string    `json:"event_type"`
}

func baseOf(e *signal.Event) EventBase {
	sev := e.Severity
	if sev == "" {
		sev = signal.SeverityMedium
	}
	return EventBase{
		Date:       e.OccurredAt,
		Summary:    eventSummary(e.Title, e.EventType),
		Severity:   sev,
		SourceType: e.SourceType,
		EventType:  e.EventType,
	}
}

// eventSummary is a one-line description built from the title and the
// lifecycle step.
func eventSummary(title, eventType string) string {
	clean := strings.TrimSpace(title)
	if strings.HasPrefix(clean, "[") {
		if _, rest, ok := strings.Cut(clean, "] "); ok {
			clean = rest
		}
	}
	for _, prefix := range []string{"re: ", "fwd: ", "fw: "} {
		if strings.HasPrefix(strings.ToLower(clean), prefix) {
			clean = clean[len(prefix):]
		}
	}
	switch eventType {
	case signal.EventTicketResolved:
		return "Resolved: " + clean
	case signal.EventTicketCreated:
		return "New issue: " + clean
	case signal.EventCommentAdded:
		return "Update on: " + clean
	case "ticket_updated":
		return "Progress on: " + clean
	}
	if clean == "" {
		return "(untitled event)"
	}
	return clean
}

var (
	setbackImpact = map[string]string{
		signal.SeverityCritical: "major setback",
		signal.SeverityHigh:     "significant setback",
		signal.SeverityMedium:   "moderate setback",
		signal.SeverityLow:      "minor setback",
	}
	improvementImpact = map[string]string{
		signal.SeverityCritical: "major improvement",
		signal.SeverityHigh:     "significant improvement",
		signal.SeverityMedium:   "moderate improvement",
		signal.SeverityLow:      "minor improvement",
	}
)

func impactOf(v signal.Valence, severity string) string {
	if v == signal.ValencePositive {
		if s, ok := improvementImpact[severity]; ok {
			return s
		}
		return "moderate improvement"
	}
	if s, ok := setbackImpact[severity]; ok {
		return s
	}
	return "moderate setback"
}

func byDate[T any](items []T, at func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool { return at(items[i]).Before(at(items[j])) })
}

// --- friction ---

type FrictionEvent struct {
	EventBase
	Valence signal.Valence `json:"valence"`
	Impact  string         `json:"impact"`
}

type FrictionTimeline struct {
	Events []FrictionEvent `json:"events"`
}

// FrictionEvents lists the signals that moved friction either way: every
// negative and positive signal in scope.
func FrictionEvents(in Input) *FrictionTimeline {
	out := &FrictionTimeline{Events: []FrictionEvent{}}
	for _, e := range scoped(in) {
		v := e.Metadata.Valence()
		if v != signal.ValenceNegative && v != signal.ValencePositive {
			continue
		}
		b := baseOf(e)
		out.Events = append(out.Events, FrictionEvent{EventBase: b, Valence: v, Impact: impactOf(v, b.Severity)})
	}
	byDate(out.Events, func(f FrictionEvent) time.Time { return f.Date })
	return out
}

// --- recurrence ---

type RecurrenceEvent struct {
	EventBase
	Valence        signal.Valence `json:"valence"`
	Impact         string         `json:"impact"`
	IncidentNumber int            `json:"incident_number"`
	TotalIncidents int            `json:"total_incidents"`
	FirstSeen      string         `json:"first_seen"`
	ThreadTopic    string         `json:"thread_topic"`
}

type RecurrenceTimeline struct {
	Events []RecurrenceEvent `json:"events"`
}

// RecurrenceEvents lists the signals of every incident after the first in
// its thread. Threads span the whole history; the stage filter applies to
// the listed signals only.
func RecurrenceEvents(in Input) *RecurrenceTimeline {
	firstSeen := make(map[string]time.Time)
	for _, th := range trajectory.GroupThreads(in.Events) {
		firstSeen[th.Key] = th.Events[0].OccurredAt
	}

	out := &RecurrenceTimeline{Events: []RecurrenceEvent{}}
	for _, r := range trajectory.DetectRecurrence(in.Events, in.Stage, trajectory.DefaultIncidentConfig) {
		v := r.Event.Metadata.Valence()
		if v == "" {
			v = signal.ValenceNegative
		}
		b := baseOf(r.Event)
		out.Events = append(out.Events, RecurrenceEvent{
			EventBase:      b,
			Valence:        v,
			Impact:         impactOf(v, b.Severity),
			IncidentNumber: r.IncidentNumber,
			TotalIncidents: r.TotalIncidents,
			FirstSeen:      firstSeen[r.Topic].Format("Jan 02"),
			ThreadTopic:    r.Topic,
		})
	}
	byDate(out.Events, func(r RecurrenceEvent) time.Time { return r.Date })
	return out
}

// --- escalation ---

type EscalationEvent struct {
	EventBase
	SeverityFrom  string `json:"severity_from"`
	SeverityTo    string `json:"severity_to"`
	SeverityLabel string `json:"severity_label"`
	ThreadTopic   string `json:"thread_topic"`
}

type EscalationTimeline struct {
	Events []EscalationEvent `json:"events"`
}

func severityTitle(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// EscalationEvents lists the signals at which a thread's severity rose.
func EscalationEvents(in Input) *EscalationTimeline {
	out := &EscalationTimeline{Events: []EscalationEvent{}}
	for _, esc := range trajectory.DetectEscalations(in.Events, in.Stage) {
		out.Events = append(out.Events, EscalationEvent{
			EventBase:     baseOf(esc.Event),
			SeverityFrom:  esc.From,
			SeverityTo:    esc.To,
			SeverityLabel: severityTitle(esc.From) + " → " + severityTitle(esc.To),
			ThreadTopic:   esc.Topic,
		})
	}
	byDate(out.Events, func(e EscalationEvent) time.Time { return e.Date })
	return out
}

// --- resolution ---

type ResolutionEvent struct {
	EventBase
	ResolutionHours float64 `json:"resolution_hours"`
	ResolutionLabel string  `json:"resolution_label"`
	SpeedLabel      string  `json:"speed_label"`
	Category        string  `json:"category"`
}

type ResolutionTimeline struct {
	Events []ResolutionEvent `json:"events"`
}

// formatDuration renders hours as minutes, hours or days.
func formatDuration(h float64) string {
	switch {
	case h < 1:
		return fmt.Sprintf("%dm", int(h*60))
	case h < 24:
		return fmt.Sprintf("%.0fh", h)
	case h/24 < 10:
		return fmt.Sprintf("%.1fd", h/24)
	}
	return fmt.Sprintf("%.0fd", h/24)
}

// speedLimits are the upper bounds, in hours, of very fast, fast, typical
// and slow. Feature work gets more room than issues.
var speedLimits = map[string][4]float64{
	categoryIssue:   {4, 24, 72, 168},
	categoryFeature: {24, 72, 168, 336},
}

var speedLabels = [4]string{"very fast", "fast", "typical", "slow"}

func speedLabel(h float64, category string) string {
	for i, limit := range speedLimits[category] {
		if h <= limit {
			return speedLabels[i]
		}
	}
	return "very slow"
}

// ResolutionEvents lists every closed ticket cycle with its duration. Pairs
// are matched across the whole history; the stage filter applies to the
// resolving signal.
func ResolutionEvents(in Input) *ResolutionTimeline {
	out := &ResolutionTimeline{Events: []ResolutionEvent{}}
	for _, p := range trajectory.PairTickets(in.Events) {
		if in.Stage != "" && p.Resolved.Metadata.StageTopic() != in.Stage {
			continue
		}
		h := hours(p.Created.OccurredAt, p.Resolved.OccurredAt)
		cat := ticketCategory(p.Created)
		b := baseOf(p.Resolved)
		if p.Resolved.Severity == "" && p.Created.Severity != "" {
			b.Severity = p.Created.Severity
		}
		out.Events = append(out.Events, ResolutionEvent{
			EventBase:       b,
			ResolutionHours: trajectory.Round1(h),
			ResolutionLabel: formatDuration(h),
			SpeedLabel:      speedLabel(h, cat),
			Category:        cat,
		})
	}
	byDate(out.Events, func(r ResolutionEvent) time.Time { return r.Date })
	return out
}

// --- effort ---

type EffortEvent struct {
	EventBase
	Classification     string `json:"classification"`
	PeripheralCategory string `json:"peripheral_category,omitempty"`
}

type EffortTimeline struct {
	Events []EffortEvent `json:"events"`
}

// EffortEvents labels every signal in scope as core product work or
// peripheral overhead.
func EffortEvents(in Input) *EffortTimeline {
	out := &EffortTimeline{Events: []EffortEvent{}}
	for _, e := range scoped(in) {
		row := EffortEvent{EventBase: baseOf(e), Classification: "core"}
		if peripheral, cat := trajectory.ClassifyEffort(e); peripheral {
			row.Classification = "peripheral"
			row.PeripheralCategory = cat
		}
		out.Events = append(out.Events, row)
	}
	byDate(out.Events, func(e EffortEvent) time.Time { return e.Date })
	return out
}
