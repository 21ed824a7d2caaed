package trajectory

import "github.com/joelkehle/adoption-trajectory/internal/signal"

var severityOrder = map[string]int{
	signal.SeverityLow:      0,
	signal.SeverityMedium:   1,
	signal.SeverityHigh:     2,
	signal.SeverityCritical: 3,
}

var severityWeight = map[string]float64{
	signal.SeverityCritical: 4.0,
	signal.SeverityHigh:     2.5,
	signal.SeverityMedium:   1.0,
	signal.SeverityLow:      0.3,
}

// SeverityWeight is the friction weight of a severity; missing or unknown
// severities count as medium.
func SeverityWeight(severity string) float64 {
	if w, ok := severityWeight[severity]; ok {
		return w
	}
	return 1.0
}

func hasSeverity(e *signal.Event) bool {
	_, ok := severityOrder[e.Severity]
	return ok
}

// Escalation is a signal whose severity exceeds everything seen earlier in
// its thread.
type Escalation struct {
	Event *signal.Event
	Topic string
	From  string
	To    string
}

// DetectEscalations threads the severity-bearing signals of the full
// history and records each rise above the thread's running maximum. A
// non-empty stage keeps only escalations tagged with that stage.
func DetectEscalations(all []*signal.Event, stage signal.Stage) []Escalation {
	var rated []*signal.Event
	for _, e := range all {
		if hasSeverity(e) {
			rated = append(rated, e)
		}
	}

	var out []Escalation
	for _, th := range GroupThreads(rated) {
		peak := severityOrder[th.Events[0].Severity]
		peakName := th.Events[0].Severity
		for _, e := range th.Events[1:] {
			sev := severityOrder[e.Severity]
			if sev > peak {
				if stage == "" || stageOf(e) == stage {
					out = append(out, Escalation{Event: e, Topic: th.Key, From: peakName, To: e.Severity})
				}
				peak = sev
				peakName = e.Severity
			}
		}
	}
	return out
}
