package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

// --- issue rate ---

type CountPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type IssueRateSeries struct {
	Points                []CountPoint `json:"points"`
	Commentary            Commentary   `json:"commentary"`
	DaysSinceRegistration int          `json:"days_since_registration"`
}

// IssueRate counts issues over a rolling 7-day window, one point per day
// since registration.
func IssueRate(in Input) *IssueRateSeries {
	start, today, daysSince := span(in, 7)
	daily := make(map[time.Time]int)
	for _, e := range issues(scoped(in)) {
		daily[civil(e.OccurredAt)]++
	}

	points := []CountPoint{}
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		count := 0
		for i := 0; i < 7; i++ {
			count += daily[d.AddDate(0, 0, -i)]
		}
		points = append(points, CountPoint{Date: d.Format(dateLayout), Count: count})
	}
	return &IssueRateSeries{
		Points:                points,
		Commentary:            issueRateCommentary(points, daysSince, in.Registration.ProductName),
		DaysSinceRegistration: daysSince,
	}
}

func issueRateCommentary(points []CountPoint, daysSince int, product string) Commentary {
	if len(points) < 7 {
		return Commentary{TrendStable, fmt.Sprintf("Not enough data yet to determine a trend for %s.", product)}
	}
	recent := points[len(points)-1].Count
	prev := recent
	if len(points) >= 14 {
		prev = points[len(points)-8].Count
	}
	if prev == 0 && recent == 0 {
		return Commentary{TrendStable, fmt.Sprintf("No new issues in the last two weeks for %s.", product)}
	}

	change := 100.0
	if prev != 0 {
		change = float64(recent-prev) / float64(prev) * 100
	}
	switch {
	case change <= -20:
		return Commentary{TrendDeclining, fmt.Sprintf(
			"Issue rate for %s is declining (%d issues last week vs %d this week). A declining curve means the integration is stabilizing.",
			product, prev, recent)}
	case change >= 20:
		msg := fmt.Sprintf("Issue rate for %s is increasing (%d issues last week vs %d this week). ", product, prev, recent)
		if daysSince > 45 {
			msg += fmt.Sprintf("This is a red flag: %s has been registered for %d days and should be past the early teething phase.", product, daysSince)
		} else {
			msg += fmt.Sprintf("This may be expected since %s was registered only %d days ago and is likely still in early adoption.", product, daysSince)
		}
		return Commentary{TrendIncreasing, msg}
	}
	return Commentary{TrendStable, fmt.Sprintf("Issue rate for %s has been steady (~%d issues per week).", product, recent)}
}

// --- recurrence rate ---

type RecurrencePoint struct {
	Date           string   `json:"date"`
	Rate           float64  `json:"rate"`
	RecurringCount int      `json:"recurring_count"`
	TotalThreads   int      `json:"total_threads"`
	TopTopics      []string `json:"top_topics"`
}

type RecurrenceSeries struct {
	Points     []RecurrencePoint `json:"points"`
	Commentary Commentary        `json:"commentary"`
}

// RecurrenceRate is the share of issue threads active in each 30-day
// window that saw more than one issue.
func RecurrenceRate(in Input) *RecurrenceSeries {
	events := issues(scoped(in))
	var points []RecurrencePoint
	for _, sample := range weeklySamples(in) {
		points = append(points, recurrenceAt(events, sample))
	}

	rates := make([]float64, len(points))
	for i, p := range points {
		rates[i] = p.Rate
	}
	c := rateCommentary(rates, in.Registration.ProductName, rateWords{
		noun:      "recurrence",
		improving: "is improving",
		worsening: "is worsening",
		goodNote:  "Recurring issues are being resolved at their root causes.",
		badNote:   "Persistent recurrence on the same topics signals the vendor isn't fixing root causes.",
	})
	if top := points[len(points)-1].TopTopics; len(top) > 0 {
		c.Message += " Current recurring topics: " + quoted(top) + "."
	}
	return &RecurrenceSeries{Points: points, Commentary: c}
}

func recurrenceAt(events []*signal.Event, sample time.Time) RecurrencePoint {
	from := windowStart(sample)
	counts := make(map[string]int)
	var order []string
	for _, e := range events {
		if !within(e.OccurredAt, from, sample) {
			continue
		}
		key := trajectory.NormalizeTitle(e.Title)
		if key == "" {
			continue
		}
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}

	p := RecurrencePoint{Date: sample.Format(dateLayout), TotalThreads: len(order), TopTopics: []string{}}
	if len(order) == 0 {
		return p
	}
	var recurring []string
	for _, k := range order {
		if counts[k] > 1 {
			recurring = append(recurring, k)
		}
	}
	p.RecurringCount = len(recurring)
	p.Rate = trajectory.Round1(float64(len(recurring)) / float64(len(order)) * 100)
	p.TopTopics = topKeys(recurring, counts, 3, 50)
	return p
}

// --- escalation rate ---

type EscalationPoint struct {
	Date            string   `json:"date"`
	Rate            float64  `json:"rate"`
	EscalationCount int      `json:"escalation_count"`
	TotalThreads    int      `json:"total_threads"`
	TopEscalations  []string `json:"top_escalations"`
}

type EscalationSeries struct {
	Points     []EscalationPoint `json:"points"`
	Commentary Commentary        `json:"commentary"`
}

// EscalationRate is the share of severity-bearing threads active in each
// 30-day window whose severity rose inside the window.
func EscalationRate(in Input) *EscalationSeries {
	events := scoped(in)
	escalations := trajectory.DetectEscalations(events, "")

	var points []EscalationPoint
	for _, sample := range weeklySamples(in) {
		points = append(points, escalationAt(events, escalations, sample))
	}

	rates := make([]float64, len(points))
	for i, p := range points {
		rates[i] = p.Rate
	}
	c := rateCommentary(rates, in.Registration.ProductName, rateWords{
		noun:      "escalation",
		improving: "is declining",
		worsening: "is rising",
		goodNote:  "Initial severity assessments are becoming more accurate.",
		badNote:   "Issues are compounding or initial severity assessments are too optimistic.",
	})
	if top := points[len(points)-1].TopEscalations; len(top) > 0 {
		c.Message += " Recently escalated topics: " + quoted(top) + "."
	}
	return &EscalationSeries{Points: points, Commentary: c}
}

func escalationAt(events []*signal.Event, escalations []trajectory.Escalation, sample time.Time) EscalationPoint {
	from := windowStart(sample)
	active := make(map[string]bool)
	for _, e := range events {
		if _, rated := severityRank[e.Severity]; !rated || !within(e.OccurredAt, from, sample) {
			continue
		}
		if key := trajectory.NormalizeTitle(e.Title); key != "" {
			active[key] = true
		}
	}

	p := EscalationPoint{Date: sample.Format(dateLayout), TotalThreads: len(active), TopEscalations: []string{}}
	if len(active) == 0 {
		return p
	}
	counts := make(map[string]int)
	var order []string
	for _, esc := range escalations {
		if !active[esc.Topic] || !within(esc.Event.OccurredAt, from, sample) {
			continue
		}
		if counts[esc.Topic] == 0 {
			order = append(order, esc.Topic)
		}
		counts[esc.Topic]++
	}
	p.EscalationCount = len(order)
	p.Rate = trajectory.Round1(float64(len(order)) / float64(len(active)) * 100)
	p.TopEscalations = topKeys(order, counts, 3, 50)
	return p
}

var severityRank = map[string]int{
	signal.SeverityLow:      0,
	signal.SeverityMedium:   1,
	signal.SeverityHigh:     2,
	signal.SeverityCritical: 3,
}

type rateWords struct {
	noun      string
	improving string
	worsening string
	goodNote  string
	badNote   string
}

// rateCommentary calls a move of ten points or more between the opening and
// closing readings a trend.
func rateCommentary(rates []float64, product string, w rateWords) Commentary {
	if len(rates) < 3 {
		return Commentary{TrendStable, fmt.Sprintf("Not enough data yet to determine a %s trend for %s.", w.noun, product)}
	}
	earlier, recent := shift(rates)
	noun := strings.ToUpper(w.noun[:1]) + w.noun[1:]
	switch diff := recent - earlier; {
	case diff <= -10:
		return Commentary{TrendImproving, fmt.Sprintf("%s rate for %s %s (from %.0f%% to %.0f%%). %s",
			noun, product, w.improving, earlier, recent, w.goodNote)}
	case diff >= 10:
		return Commentary{TrendWorsening, fmt.Sprintf("%s rate for %s %s (from %.0f%% to %.0f%%). %s",
			noun, product, w.worsening, earlier, recent, w.badNote)}
	}
	return Commentary{TrendStable, fmt.Sprintf("%s rate for %s has been steady (around %.0f%%).", noun, product, recent)}
}

func quoted(items []string) string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = "“" + s + "”"
	}
	return strings.Join(out, ", ")
}

// --- resolution time ---

type ResolutionPoint struct {
	Date        string   `json:"date"`
	MedianHours *float64 `json:"median_hours"`
	P90Hours    *float64 `json:"p90_hours"`
	PairCount   int      `json:"pair_count"`
	OpenCount   int      `json:"open_count"`
}

type ResolutionCategory struct {
	Category   string            `json:"category"`
	Points     []ResolutionPoint `json:"points"`
	Commentary Commentary        `json:"commentary"`
}

type ResolutionSeries struct {
	Categories            []ResolutionCategory `json:"categories"`
	DaysSinceRegistration int                  `json:"days_since_registration"`
}

// ResolutionTime reports median and P90 hours from creation to resolution
// for tickets resolved in each 30-day window, split into issues and
// feature work, with the count of creations still unresolved.
func ResolutionTime(in Input) *ResolutionSeries {
	events := scoped(in)
	pairs := trajectory.PairTickets(events)

	byCategory := make(map[string][]trajectory.Pair)
	paired := make(map[*signal.Event]bool, len(pairs))
	for _, p := range pairs {
		cat := ticketCategory(p.Created)
		byCategory[cat] = append(byCategory[cat], p)
		paired[p.Created] = true
	}
	open := make(map[string][]*signal.Event)
	for _, e := range events {
		if e.EventType == signal.EventTicketCreated && !paired[e] {
			cat := ticketCategory(e)
			open[cat] = append(open[cat], e)
		}
	}

	_, _, daysSince := span(in, windowDays)
	samples := weeklySamples(in)
	out := &ResolutionSeries{DaysSinceRegistration: daysSince}
	for _, cat := range []string{categoryIssue, categoryFeature} {
		points := make([]ResolutionPoint, 0, len(samples))
		for _, sample := range samples {
			points = append(points, resolutionAt(byCategory[cat], open[cat], sample))
		}
		out.Categories = append(out.Categories, ResolutionCategory{
			Category:   cat,
			Points:     points,
			Commentary: resolutionCommentary(points, cat, in.Registration.ProductName),
		})
	}
	return out
}

func resolutionAt(pairs []trajectory.Pair, open []*signal.Event, sample time.Time) ResolutionPoint {
	from := windowStart(sample)
	var durations []float64
	for _, p := range pairs {
		if within(p.Resolved.OccurredAt, from, sample) {
			durations = append(durations, hours(p.Created.OccurredAt, p.Resolved.OccurredAt))
		}
	}
	p := ResolutionPoint{Date: sample.Format(dateLayout), PairCount: len(durations)}
	for _, e := range open {
		if !civil(e.OccurredAt).After(sample) {
			p.OpenCount++
		}
	}
	if len(durations) > 0 {
		sort.Float64s(durations)
		med, p90 := medianP90(durations)
		p.MedianHours, p.P90Hours = &med, &p90
	}
	return p
}

func resolutionCommentary(points []ResolutionPoint, category, product string) Commentary {
	label := "issue"
	if category == categoryFeature {
		label = "feature implementation"
	}
	var medians []float64
	for _, p := range points {
		if p.MedianHours != nil {
			medians = append(medians, *p.MedianHours)
		}
	}
	if len(medians) < 3 {
		return Commentary{TrendStable, fmt.Sprintf("Not enough resolved %s tickets to determine a trend for %s.", label, product)}
	}
	earlier, recent := halves(medians)
	switch pct := percentChange(earlier, recent); {
	case pct <= -15:
		return Commentary{TrendImproving, fmt.Sprintf(
			"Resolution time for %s tickets on %s is improving (median dropped from %.0fh to %.0fh). The vendor is resolving %ss faster.",
			label, product, earlier, recent, label)}
	case pct >= 15:
		return Commentary{TrendWorsening, fmt.Sprintf(
			"Resolution time for %s tickets on %s is worsening (median rose from %.0fh to %.0fh). Slow resolution erodes the value of the integration.",
			label, product, earlier, recent)}
	}
	return Commentary{TrendStable, fmt.Sprintf("Resolution time for %s tickets on %s has been steady (around %.0fh median).", label, product, recent)}
}

func percentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

// --- core vs peripheral ---

type CorePeripheralPoint struct {
	Date                    string   `json:"date"`
	PeripheralRatio         float64  `json:"peripheral_ratio"`
	CoreCount               int      `json:"core_count"`
	PeripheralCount         int      `json:"peripheral_count"`
	TotalCount              int      `json:"total_count"`
	TopPeripheralCategories []string `json:"top_peripheral_categories"`
}

type CorePeripheralSeries struct {
	Points     []CorePeripheralPoint `json:"points"`
	Commentary Commentary            `json:"commentary"`
}

// CorePeripheral tracks the share of signals in each 30-day window that are
// about peripheral overhead rather than the product itself.
func CorePeripheral(in Input) *CorePeripheralSeries {
	events := scoped(in)
	if len(events) == 0 {
		return &CorePeripheralSeries{Points: []CorePeripheralPoint{}, Commentary: Commentary{TrendStable, "No signals yet."}}
	}
	var points []CorePeripheralPoint
	for _, sample := range weeklySamples(in) {
		points = append(points, corePeripheralAt(events, sample))
	}
	return &CorePeripheralSeries{Points: points, Commentary: corePeripheralCommentary(points, signal.Truncate(in.Registration.ProductName, 30))}
}

func corePeripheralAt(events []*signal.Event, sample time.Time) CorePeripheralPoint {
	p := CorePeripheralPoint{Date: sample.Format(dateLayout), TopPeripheralCategories: []string{}}
	from := windowStart(sample)
	counts := make(map[string]int)
	var order []string
	for _, e := range events {
		if !within(e.OccurredAt, from, sample) {
			continue
		}
		peripheral, cat := trajectory.ClassifyEffort(e)
		if !peripheral {
			p.CoreCount++
			continue
		}
		p.PeripheralCount++
		if counts[cat] == 0 {
			order = append(order, cat)
		}
		counts[cat]++
	}
	p.TotalCount = p.CoreCount + p.PeripheralCount
	if p.TotalCount > 0 {
		p.PeripheralRatio = trajectory.Round1(float64(p.PeripheralCount) / float64(p.TotalCount) * 100)
	}
	p.TopPeripheralCategories = topKeys(order, counts, 3, 0)
	return p
}

func corePeripheralCommentary(points []CorePeripheralPoint, product string) Commentary {
	var valid []CorePeripheralPoint
	for _, p := range points {
		if p.TotalCount > 0 {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return Commentary{TrendStable, fmt.Sprintf("Not enough data to assess %s's issue profile.", product)}
	}
	ratios := make([]float64, len(valid))
	for i, p := range valid {
		ratios[i] = p.PeripheralRatio
	}
	earlier, recent := halves(ratios)
	latest := valid[len(valid)-1]

	var c Commentary
	switch diff := recent - earlier; {
	case diff <= -5:
		c = Commentary{TrendImproving, fmt.Sprintf(
			"%s's peripheral issue ratio is declining, down to %.0f%% (%d peripheral vs %d core). The ecosystem friction around the integration is decreasing.",
			product, latest.PeripheralRatio, latest.PeripheralCount, latest.CoreCount)}
	case diff >= 5:
		c = Commentary{TrendWorsening, fmt.Sprintf(
			"%s's peripheral issue ratio is rising, now %.0f%% (%d peripheral vs %d core). Ecosystem concerns (not the product itself) are growing.",
			product, latest.PeripheralRatio, latest.PeripheralCount, latest.CoreCount)}
	default:
		c = Commentary{TrendStable, fmt.Sprintf(
			"%s's issue profile is stable at %.0f%% peripheral (%d peripheral vs %d core).",
			product, latest.PeripheralRatio, latest.PeripheralCount, latest.CoreCount)}
	}
	if len(latest.TopPeripheralCategories) > 0 {
		c.Message += " Top peripheral categories: " + strings.Join(latest.TopPeripheralCategories, ", ") + "."
	}
	return c
}

// --- vendor responsiveness ---

type ResponsivenessPoint struct {
	Date            string   `json:"date"`
	MedianLagHours  *float64 `json:"median_lag_hours"`
	P90LagHours     *float64 `json:"p90_lag_hours"`
	ResponseCount   int      `json:"response_count"`
	ProactiveCount  int      `json:"proactive_count"`
	UnansweredCount int      `json:"unanswered_count"`
}

type ResponsivenessSeries struct {
	Points                []ResponsivenessPoint `json:"points"`
	Commentary            Commentary            `json:"commentary"`
	DaysSinceRegistration int                   `json:"days_since_registration"`
}

type reply struct {
	inbound *signal.Event
	lag     float64
}

// pairEmails matches each vendor reply with the oldest unanswered outbound
// mail of its thread. Inbound mail with nothing pending is proactive.
func pairEmails(events []*signal.Event) (replies []reply, proactive, unanswered []*signal.Event) {
	var mail []*signal.Event
	for _, e := range events {
		if e.SourceType == signal.SourceEmail && e.Metadata.Direction() != "" {
			mail = append(mail, e)
		}
	}
	for _, th := range trajectory.GroupThreads(mail) {
		var pending []*signal.Event
		for _, e := range th.Events {
			switch e.Metadata.Direction() {
			case signal.DirectionOutbound:
				pending = append(pending, e)
			case signal.DirectionInbound:
				if len(pending) == 0 {
					proactive = append(proactive, e)
					continue
				}
				out := pending[0]
				pending = pending[1:]
				if lag := hours(out.OccurredAt, e.OccurredAt); lag >= 0 {
					replies = append(replies, reply{inbound: e, lag: lag})
				} else {
					proactive = append(proactive, e)
				}
			}
		}
		unanswered = append(unanswered, pending...)
	}
	return replies, proactive, unanswered
}

// VendorResponsiveness reports how long the vendor takes to answer mail in
// each 30-day window. The stage filter does not apply: replies cross
// stages.
func VendorResponsiveness(in Input) *ResponsivenessSeries {
	replies, proactive, unanswered := pairEmails(in.Events)
	_, _, daysSince := span(in, windowDays)

	var points []ResponsivenessPoint
	for _, sample := range weeklySamples(in) {
		from := windowStart(sample)
		p := ResponsivenessPoint{Date: sample.Format(dateLayout)}
		var lags []float64
		for _, r := range replies {
			if within(r.inbound.OccurredAt, from, sample) {
				lags = append(lags, r.lag)
			}
		}
		for _, e := range proactive {
			if within(e.OccurredAt, from, sample) {
				p.ProactiveCount++
			}
		}
		for _, e := range unanswered {
			if !civil(e.OccurredAt).After(sample) {
				p.UnansweredCount++
			}
		}
		p.ResponseCount = len(lags)
		if len(lags) > 0 {
			sort.Float64s(lags)
			med, p90 := medianP90(lags)
			p.MedianLagHours, p.P90LagHours = &med, &p90
		}
		points = append(points, p)
	}
	return &ResponsivenessSeries{
		Points:                points,
		Commentary:            responsivenessCommentary(points, in.Registration.ProductName),
		DaysSinceRegistration: daysSince,
	}
}

func responsivenessCommentary(points []ResponsivenessPoint, product string) Commentary {
	var medians []float64
	for _, p := range points {
		if p.MedianLagHours != nil {
			medians = append(medians, *p.MedianLagHours)
		}
	}
	if len(medians) < 3 {
		return Commentary{TrendStable, fmt.Sprintf("Not enough email data to determine a responsiveness trend for %s.", product)}
	}
	earlier, recent := halves(medians)
	var c Commentary
	switch pct := percentChange(earlier, recent); {
	case pct <= -15:
		c = Commentary{TrendImproving, fmt.Sprintf(
			"Vendor response time for %s is improving (median dropped from %.0fh to %.0fh). The vendor is replying faster.",
			product, earlier, recent)}
	case pct >= 15:
		c = Commentary{TrendWorsening, fmt.Sprintf(
			"Vendor response time for %s is worsening (median rose from %.0fh to %.0fh). You're spending more time chasing the vendor.",
			product, earlier, recent)}
	default:
		c = Commentary{TrendStable, fmt.Sprintf("Vendor response time for %s has been steady (around %.0fh median).", product, recent)}
	}
	if n := points[len(points)-1].ProactiveCount; n > 0 {
		noun := "communications"
		if n == 1 {
			noun = "communication"
		}
		c.Message += fmt.Sprintf(" The vendor also sent %d proactive %s (maintenance notices, updates) in the latest window, a positive sign.", n, noun)
	}
	return c
}
