package health

import (
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func day(n int) time.Time { return t0.AddDate(0, 0, n) }

func tagged(eventType, title, severity string, v signal.Valence, at time.Time, cats ...signal.HealthCategory) *signal.Event {
	e := &signal.Event{
		EventType:  eventType,
		Title:      title,
		Severity:   severity,
		OccurredAt: at,
		Metadata:   signal.Metadata{},
	}
	e.Metadata.Apply(signal.Tags{
		Valence:          v,
		Subject:          signal.SubjectVendorIssue,
		StageTopic:       signal.StageStabilization,
		HealthCategories: cats,
	}, "deterministic", at)
	return e
}

func TestWindowFallsBackToFullHistory(t *testing.T) {
	old := tagged(signal.EventVendorEmail, "old", "", signal.ValenceNeutral, day(0))
	if got := Window([]*signal.Event{old}, day(100), 30); len(got) != 1 {
		t.Fatalf("window=%d want fallback to 1", len(got))
	}

	recent := tagged(signal.EventVendorEmail, "recent", "", signal.ValenceNeutral, day(90))
	got := Window([]*signal.Event{old, recent}, day(100), 30)
	if len(got) != 1 || got[0] != recent {
		t.Fatalf("window kept %d events", len(got))
	}
}

func TestComputeNeutralWithoutCategories(t *testing.T) {
	e := tagged(signal.EventVendorEmail, "hello", "", signal.ValenceNeutral, day(0))
	s := Compute([]*signal.Event{e}, signal.Registration{ProductName: "Acme"}, day(1), DefaultWindowDays)
	if s.Score != 75 {
		t.Fatalf("score=%d want 75", s.Score)
	}
	if _, ok := s.Breakdown[signal.CategoryFitness]; ok {
		t.Fatal("fitness scored without an intended use")
	}
	if s.Categories[signal.CategoryReliability].Confidence != "low" {
		t.Fatalf("confidence=%q", s.Categories[signal.CategoryReliability].Confidence)
	}
}

func TestComputeReliabilityImpactAndResolution(t *testing.T) {
	a := tagged(signal.EventTicketCreated, "Outage A", signal.SeverityCritical, signal.ValenceNegative, day(0), signal.CategoryReliability)
	a.SourceID = "A"
	fix := tagged(signal.EventTicketResolved, "Outage A", "", signal.ValenceNeutral, day(2))
	fix.SourceID = "A"
	b := tagged(signal.EventTicketCreated, "Outage B", signal.SeverityCritical, signal.ValenceNegative, day(3), signal.CategoryReliability)
	b.SourceID = "B"

	s := Compute([]*signal.Event{b, fix, a}, signal.Registration{ProductName: "Acme"}, day(10), DefaultWindowDays)

	rel := s.Categories[signal.CategoryReliability]
	if rel.Impact != 60 || rel.Resolution != 50 || rel.Trend != 75 || rel.Score != 60 {
		t.Fatalf("reliability=%+v", rel)
	}
	if rel.Confidence != "high" || rel.SignalCount != 2 {
		t.Fatalf("reliability confidence=%q count=%d", rel.Confidence, rel.SignalCount)
	}
	if s.Breakdown[signal.CategoryPerformance] != 75 {
		t.Fatalf("performance=%d", s.Breakdown[signal.CategoryPerformance])
	}
	if s.Score != 67 {
		t.Fatalf("score=%d want 67", s.Score)
	}
	if s.SeverityCounts[signal.SeverityCritical] != 2 || s.SeverityCounts[signal.SeverityMedium] != 1 {
		t.Fatalf("severity counts=%v", s.SeverityCounts)
	}
	if len(s.WhatDoesnt) != 2 || s.WhatDoesnt[0] != "Outage A" || len(s.WhatWorks) != 0 {
		t.Fatalf("works=%v doesnt=%v", s.WhatWorks, s.WhatDoesnt)
	}
	if s.ConfidenceTier != signal.TierPreliminary {
		t.Fatalf("tier=%q", s.ConfidenceTier)
	}
}

func TestComputeWeighsFitnessWhenIntendedUseSet(t *testing.T) {
	e := tagged(signal.EventVendorEmail, "Does not fit our workflow", "", signal.ValenceNegative, day(0), signal.CategoryFitness)
	reg := signal.Registration{ProductName: "Acme", IntendedUse: "invoice routing"}
	s := Compute([]*signal.Event{e}, reg, day(1), DefaultWindowDays)
	if s.Breakdown[signal.CategoryFitness] != 85 {
		t.Fatalf("fitness=%d want 85", s.Breakdown[signal.CategoryFitness])
	}
	if s.Score != 78 {
		t.Fatalf("score=%d want 78", s.Score)
	}
}

func TestTrendScore(t *testing.T) {
	improving := []*signal.Event{
		tagged(signal.EventCommentAdded, "a", signal.SeverityHigh, signal.ValenceNegative, day(0)),
		tagged(signal.EventCommentAdded, "b", signal.SeverityHigh, signal.ValenceNegative, day(1)),
		tagged(signal.EventCommentAdded, "c", "", signal.ValencePositive, day(2)),
		tagged(signal.EventCommentAdded, "d", "", signal.ValencePositive, day(3)),
	}
	if got := trendScore(improving); got != 100 {
		t.Fatalf("improving trend=%v want 100", got)
	}

	worsening := []*signal.Event{
		tagged(signal.EventCommentAdded, "a", "", signal.ValenceNeutral, day(0)),
		tagged(signal.EventCommentAdded, "b", "", signal.ValenceNeutral, day(1)),
		tagged(signal.EventCommentAdded, "c", signal.SeverityMedium, signal.ValenceNegative, day(2)),
		tagged(signal.EventCommentAdded, "d", signal.SeverityMedium, signal.ValenceNegative, day(3)),
	}
	if got := trendScore(worsening); got != 65 {
		t.Fatalf("worsening trend=%v want 65", got)
	}

	if got := trendScore(improving[:3]); got != 75 {
		t.Fatalf("short trend=%v want 75", got)
	}
}

func TestDraftBody(t *testing.T) {
	good := tagged(signal.EventTicketResolved, "Sync fixed", "", signal.ValencePositive, day(0))
	bad := tagged(signal.EventTicketCreated, "Login broken", signal.SeverityHigh, signal.ValenceNegative, day(1), signal.CategoryReliability)
	minor := tagged(signal.EventCommentAdded, "Typo in docs", signal.SeverityLow, signal.ValenceNegative, day(2))
	reg := signal.Registration{VendorName: "Acme Corp", ProductName: "Acme", IntendedUse: "ticket triage"}

	s := Compute([]*signal.Event{good, bad, minor}, reg, day(3), DefaultWindowDays)
	d := Draft(s, reg)

	if d.Subject != "Review: Acme by Acme Corp" {
		t.Fatalf("subject=%q", d.Subject)
	}
	if d.ConfidenceTier != signal.TierPreliminary {
		t.Fatalf("tier=%q", d.ConfidenceTier)
	}
	for _, want := range []string{
		`We adopted Acme for: "ticket triage".`,
		"early-stage review based on only 3 signal event(s)",
		"What went well:\n- Sync fixed\n",
		"What didn't go well:\n- Login broken\n",
		"- Fitness for Purpose: 75/100",
		"based on 3 signal event(s). Please review",
	} {
		if !strings.Contains(d.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, d.Body)
		}
	}
	if strings.Contains(d.Body, "Typo in docs") {
		t.Fatal("low severity negative listed as a problem")
	}
}

func TestDraftWithoutSignalsOfNote(t *testing.T) {
	events := make([]*signal.Event, 0, 6)
	for i := 0; i < 6; i++ {
		events = append(events, tagged(signal.EventCommentAdded, "note", "", signal.ValenceNeutral, day(i)))
	}
	reg := signal.Registration{VendorName: "V", ProductName: "P"}
	d := Draft(Compute(events, reg, day(7), DefaultWindowDays), reg)
	if strings.Contains(d.Body, "early-stage") {
		t.Fatal("developing tier should not carry the preliminary note")
	}
	if !strings.Contains(d.Body, "No clearly positive or negative signals") {
		t.Fatalf("body=%s", d.Body)
	}
	if strings.Contains(d.Body, "Fitness for Purpose") {
		t.Fatal("fitness listed without an intended use")
	}
}

func TestSummarizeIgnoresUnknownSeverities(t *testing.T) {
	urgent := tagged(signal.EventTicketCreated, "Urgent sync stall", "urgent", signal.ValenceNegative, day(0))
	minor := tagged(signal.EventTicketCreated, "Typo in UI", signal.SeverityLow, signal.ValenceNegative, day(1))
	broken := tagged(signal.EventTicketCreated, "Export broken", signal.SeverityHigh, signal.ValenceNegative, day(2))

	s := &Score{}
	summarize(s, []*signal.Event{urgent, minor, broken}, signal.Registration{ProductName: "Acme"})
	if len(s.WhatDoesnt) != 1 || s.WhatDoesnt[0] != "Export broken" {
		t.Fatalf("doesnt=%v", s.WhatDoesnt)
	}
	if len(s.SeverityCounts) != 4 || s.SeverityCounts[signal.SeverityHigh] != 1 || s.SeverityCounts[signal.SeverityLow] != 1 {
		t.Fatalf("severity counts=%v", s.SeverityCounts)
	}
}
