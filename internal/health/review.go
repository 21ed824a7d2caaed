package health

import (
	"fmt"
	"strings"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

const listLimit = 5

// ReviewDraft is a vendor review awaiting human approval.
type ReviewDraft struct {
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	ConfidenceTier string `json:"confidence_tier"`
}

// adverse severities put a negative signal on the "didn't go well" list.
var adverse = map[string]bool{
	signal.SeverityCritical: true,
	signal.SeverityHigh:     true,
	signal.SeverityMedium:   true,
}

func summarize(s *Score, events []*signal.Event, reg signal.Registration) {
	s.SeverityCounts = map[string]int{
		signal.SeverityCritical: 0,
		signal.SeverityHigh:     0,
		signal.SeverityMedium:   0,
		signal.SeverityLow:      0,
	}
	s.WhatWorks = []string{}
	s.WhatDoesnt = []string{}
	for _, e := range events {
		sev := e.Severity
		if sev == "" {
			sev = signal.SeverityMedium
		}
		if _, ok := s.SeverityCounts[sev]; ok {
			s.SeverityCounts[sev]++
		}

		label := e.Title
		if label == "" {
			label = e.EventType
		}
		if label == "" {
			label = "event"
		}
		switch e.Metadata.Valence() {
		case signal.ValencePositive:
			s.WhatWorks = append(s.WhatWorks, label)
		case signal.ValenceNegative:
			if adverse[sev] {
				s.WhatDoesnt = append(s.WhatDoesnt, label)
			}
		}
	}
	s.Summary = fmt.Sprintf(
		"Over the analysis window, %d signal events were recorded for %s. Severity breakdown: %d critical, %d high, %d medium, %d low.",
		len(events), reg.ProductName,
		s.SeverityCounts[signal.SeverityCritical], s.SeverityCounts[signal.SeverityHigh],
		s.SeverityCounts[signal.SeverityMedium], s.SeverityCounts[signal.SeverityLow])
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// Draft writes the templated review for a computed score.
func Draft(s *Score, reg signal.Registration) ReviewDraft {
	n := s.WindowSignalCount
	tier := signal.ConfidenceTier(n)

	var b strings.Builder
	if reg.IntendedUse != "" {
		fmt.Fprintf(&b, "We adopted %s for: %q.\n\n", reg.ProductName, reg.IntendedUse)
	}
	if tier == signal.TierPreliminary {
		fmt.Fprintf(&b, "Note: This is an early-stage review based on only %d signal event(s). Scores may shift significantly as more data comes in.\n\n", n)
	}
	fmt.Fprintf(&b, "Overall Health Score: %d/100\n\n", s.Score)

	if works := head(s.WhatWorks, listLimit); len(works) > 0 {
		b.WriteString("What went well:\n")
		for _, w := range works {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}
	if doesnt := head(s.WhatDoesnt, listLimit); len(doesnt) > 0 {
		b.WriteString("What didn't go well:\n")
		for _, w := range doesnt {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}
	if len(s.WhatWorks) == 0 && len(s.WhatDoesnt) == 0 {
		b.WriteString("No clearly positive or negative signals in this window.\n\n")
	}

	b.WriteString("Score breakdown:\n")
	fmt.Fprintf(&b, "- Reliability: %d/100\n", s.Breakdown[signal.CategoryReliability])
	fmt.Fprintf(&b, "- Performance: %d/100\n", s.Breakdown[signal.CategoryPerformance])
	if v, ok := s.Breakdown[signal.CategoryFitness]; ok {
		fmt.Fprintf(&b, "- Fitness for Purpose: %d/100\n", v)
	}
	fmt.Fprintf(&b, "\nThis review is based on %d signal event(s). Please review and approve or edit before sharing.", n)

	return ReviewDraft{
		Subject:        fmt.Sprintf("Review: %s by %s", reg.ProductName, reg.VendorName),
		Body:           b.String(),
		ConfidenceTier: s.ConfidenceTier,
	}
}
