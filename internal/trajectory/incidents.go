package trajectory

import (
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

// IncidentConfig holds the day thresholds that separate incidents within a
// thread.
type IncidentConfig struct {
	// ResolutionGapDays applies after a resolution, to new tickets and
	// inbound emails only.
	ResolutionGapDays int
	// TimeGapDays splits on any silence this long.
	TimeGapDays int
}

var DefaultIncidentConfig = IncidentConfig{ResolutionGapDays: 7, TimeGapDays: 14}

// gapDays is the whole-day distance between two events, truncated.
func gapDays(prev, next time.Time) int {
	if prev.IsZero() || next.IsZero() {
		return 0
	}
	return int(signal.UTC(next).Sub(signal.UTC(prev)) / (24 * time.Hour))
}

// SplitIntoIncidents walks a chronologically sorted thread and cuts it into
// incidents. Concatenating the result reproduces the input.
func SplitIntoIncidents(events []*signal.Event, cfg IncidentConfig) [][]*signal.Event {
	if len(events) == 0 {
		return nil
	}
	var incidents [][]*signal.Event
	current := []*signal.Event{events[0]}
	resolved := events[0].EventType == signal.EventTicketResolved

	for _, e := range events[1:] {
		gap := gapDays(current[len(current)-1].OccurredAt, e.OccurredAt)

		boundary := false
		switch {
		case e.EventType == signal.EventTicketReopened:
			boundary = true
		case resolved && (e.EventType == signal.EventTicketCreated || e.EventType == signal.EventEmailReceived) && gap >= cfg.ResolutionGapDays:
			boundary = true
		case gap >= cfg.TimeGapDays:
			boundary = true
		}

		if boundary {
			incidents = append(incidents, current)
			current = []*signal.Event{e}
			resolved = e.EventType == signal.EventTicketResolved
			continue
		}
		current = append(current, e)
		if e.EventType == signal.EventTicketResolved {
			resolved = true
		}
	}
	return append(incidents, current)
}

// Recurrence is one signal belonging to the second or later incident of its
// thread.
type Recurrence struct {
	Event          *signal.Event
	Topic          string
	IncidentNumber int
	TotalIncidents int
}

// DetectRecurrence threads the full history, splits each thread into
// incidents and returns the signals of every incident numbered 2 or more.
// A non-empty stage keeps only signals tagged with that stage.
func DetectRecurrence(all []*signal.Event, stage signal.Stage, cfg IncidentConfig) []Recurrence {
	var out []Recurrence
	for _, th := range GroupThreads(all) {
		incidents := SplitIntoIncidents(th.Events, cfg)
		if len(incidents) < 2 {
			continue
		}
		for n, inc := range incidents[1:] {
			for _, e := range inc {
				if stage != "" && stageOf(e) != stage {
					continue
				}
				out = append(out, Recurrence{Event: e, Topic: th.Key, IncidentNumber: n + 2, TotalIncidents: len(incidents)})
			}
		}
	}
	return out
}
