package health

import (
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

const (
	DefaultWindowDays = 30

	neutralScore = 75.0
)

// CategoryScore is the breakdown of one health category.
type CategoryScore struct {
	Score       float64 `json:"score"`
	Impact      float64 `json:"impact"`
	Resolution  float64 `json:"resolution"`
	Trend       float64 `json:"trend"`
	SignalCount int     `json:"signal_count"`
	Confidence  string  `json:"confidence"`
}

// Score is the product health snapshot over a recent window.
type Score struct {
	Score             int                                     `json:"score"`
	Breakdown         map[signal.HealthCategory]int           `json:"category_breakdown"`
	Categories        map[signal.HealthCategory]CategoryScore `json:"categories"`
	ConfidenceTier    string                                  `json:"confidence_tier"`
	SignalCount       int                                     `json:"signal_count"`
	WindowSignalCount int                                     `json:"window_signal_count"`
	WindowDays        int                                     `json:"window_days"`
	SeverityCounts    map[string]int                          `json:"severity_counts"`
	WhatWorks         []string                                `json:"what_works"`
	WhatDoesnt        []string                                `json:"what_doesnt"`
	Summary           string                                  `json:"signal_summary"`
}

// Window keeps events at or after now-days. When nothing falls inside the
// window the full history is used instead.
func Window(events []*signal.Event, now time.Time, days int) []*signal.Event {
	if days <= 0 {
		return events
	}
	since := signal.UTC(now).AddDate(0, 0, -days)
	var out []*signal.Event
	for _, e := range events {
		if !e.OccurredAt.IsZero() && !signal.UTC(e.OccurredAt).Before(since) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return events
	}
	return out
}

// Compute scores reliability, performance and (when the registration states
// an intended use) fitness for purpose over the windowed tagged events.
// Ticket pairing looks at the full history so resolutions outside the window
// still count.
func Compute(all []*signal.Event, reg signal.Registration, now time.Time, windowDays int) *Score {
	sorted := append([]*signal.Event(nil), all...)
	signal.SortChronological(sorted)
	events := Window(sorted, now, windowDays)

	paired := make(map[*signal.Event]bool)
	for _, p := range trajectory.PairTickets(sorted) {
		paired[p.Created] = true
	}

	groups := make(map[signal.HealthCategory][]*signal.Event)
	for _, e := range events {
		for _, c := range e.Metadata.HealthCategories() {
			if c.Valid() {
				groups[c] = append(groups[c], e)
			}
		}
	}

	s := &Score{
		Breakdown:         make(map[signal.HealthCategory]int),
		Categories:        make(map[signal.HealthCategory]CategoryScore),
		ConfidenceTier:    signal.ConfidenceTier(len(sorted)),
		SignalCount:       len(sorted),
		WindowSignalCount: len(events),
		WindowDays:        windowDays,
	}
	cats := []signal.HealthCategory{signal.CategoryReliability, signal.CategoryPerformance}
	if reg.IntendedUse != "" {
		cats = append(cats, signal.CategoryFitness)
	}
	for _, c := range cats {
		cs := scoreCategory(groups[c], paired)
		s.Categories[c] = cs
		s.Breakdown[c] = int(cs.Score)
	}

	rel := s.Categories[signal.CategoryReliability].Score
	perf := s.Categories[signal.CategoryPerformance].Score
	if reg.IntendedUse != "" {
		s.Score = int(rel*0.35 + perf*0.35 + s.Categories[signal.CategoryFitness].Score*0.30)
	} else {
		s.Score = int(rel*0.5 + perf*0.5)
	}

	summarize(s, events, reg)
	return s
}

func scoreCategory(events []*signal.Event, paired map[*signal.Event]bool) CategoryScore {
	if len(events) == 0 {
		return CategoryScore{Score: neutralScore, Impact: neutralScore, Resolution: neutralScore, Trend: neutralScore, Confidence: trajectory.ConfidenceLow}
	}

	var net float64
	created, matched := 0, 0
	for _, e := range events {
		switch e.Metadata.Valence() {
		case signal.ValenceNegative:
			net += trajectory.SeverityWeight(e.Severity)
		case signal.ValencePositive:
			net -= trajectory.SeverityWeight(e.Severity) * 0.5
		}
		if e.EventType == signal.EventTicketCreated {
			created++
			if paired[e] {
				matched++
			}
		}
	}
	impact := clamp(100 - net*5)
	resolution := neutralScore
	if created > 0 {
		resolution = float64(matched) / float64(created) * 100
	}
	trend := trendScore(events)

	cs := CategoryScore{
		Score:       trajectory.Round1(clamp(impact*0.5 + resolution*0.3 + trend*0.2)),
		Impact:      trajectory.Round1(impact),
		Resolution:  trajectory.Round1(resolution),
		Trend:       trajectory.Round1(trend),
		SignalCount: len(events),
		Confidence:  trajectory.ConfidenceLow,
	}
	if len(events) >= 2 {
		cs.Confidence = trajectory.ConfidenceHigh
	}
	return cs
}

// trendScore compares the negative severity burden of the recent half with
// the earlier half. Above 75 is improving, below is worsening.
func trendScore(events []*signal.Event) float64 {
	if len(events) < 4 {
		return neutralScore
	}
	mid := len(events) / 2
	earlier := negativeBurden(events[:mid])
	recent := negativeBurden(events[mid:])
	switch {
	case earlier == 0 && recent == 0:
		return neutralScore
	case earlier == 0:
		return clamp(neutralScore - recent*10)
	}
	return clamp(neutralScore + (1-recent/earlier)*25)
}

func negativeBurden(events []*signal.Event) float64 {
	var sum float64
	for _, e := range events {
		if e.Metadata.Valence() == signal.ValenceNegative {
			sum += trajectory.SeverityWeight(e.Severity)
		}
	}
	return sum / float64(len(events))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
