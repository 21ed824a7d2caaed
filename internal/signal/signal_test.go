package signal

import (
	"testing"
	"time"
)

func TestConfidenceTierBoundaries(t *testing.T) {
	cases := map[int]string{
		0:  TierPreliminary,
		4:  TierPreliminary,
		5:  TierDeveloping,
		14: TierDeveloping,
		15: TierSolid,
		80: TierSolid,
	}
	for n, want := range cases {
		if got := ConfidenceTier(n); got != want {
			t.Fatalf("ConfidenceTier(%d)=%q want %q", n, got, want)
		}
	}
}

func TestStageRankOrder(t *testing.T) {
	for i, s := range Stages {
		if s.Rank() != i {
			t.Fatalf("stage %s rank=%d want %d", s, s.Rank(), i)
		}
	}
	if Stage("bogus").Valid() {
		t.Fatal("expected unknown stage to be invalid")
	}
}

func TestMetadataDefaultsWhenUntagged(t *testing.T) {
	var m Metadata
	if m.StageTopic() != StageProductive {
		t.Fatalf("expected productive default, got %s", m.StageTopic())
	}
	if m.Subject() != SubjectVendorComm {
		t.Fatalf("expected vendor_comm default, got %s", m.Subject())
	}
	if m.HasTags() {
		t.Fatal("nil metadata should not report tags")
	}
}

func TestMetadataApplyAndReadBack(t *testing.T) {
	m := Metadata{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.Apply(Tags{
		Valence:          ValenceNegative,
		Subject:          SubjectVendorIssue,
		StageTopic:       StageStabilization,
		HealthCategories: []HealthCategory{CategoryReliability},
	}, "deterministic", at)
	got := m.Tags()
	if got.Valence != ValenceNegative || got.Subject != SubjectVendorIssue || got.StageTopic != StageStabilization {
		t.Fatalf("unexpected tags: %+v", got)
	}
	if !m.HasCategory(CategoryReliability) || m.HasCategory(CategoryPerformance) {
		t.Fatalf("unexpected categories: %v", got.HealthCategories)
	}
	if !m.ClassifiedAt().Equal(at) || m.Classifier() != "deterministic" {
		t.Fatalf("unexpected provenance: %v %q", m.ClassifiedAt(), m.Classifier())
	}
}

func TestMetadataHealthCategoriesFromJSONShape(t *testing.T) {
	m := Metadata{KeyHealthCategories: []any{"performance", 3, "reliability"}}
	cats := m.HealthCategories()
	if len(cats) != 2 || cats[0] != CategoryPerformance || cats[1] != CategoryReliability {
		t.Fatalf("unexpected categories: %v", cats)
	}
}

func TestNormalizeTimesConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	e := &Event{OccurredAt: time.Date(2026, 1, 1, 20, 0, 0, 0, loc)}
	NormalizeTimes([]*Event{e})
	if e.OccurredAt.Location() != time.UTC || e.OccurredAt.Day() != 2 {
		t.Fatalf("expected UTC next-day timestamp, got %v", e.OccurredAt)
	}
}

func TestDaysSinceClampsNegative(t *testing.T) {
	reg := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	if got := DaysSince(reg, reg.AddDate(0, 0, -3)); got != 0 {
		t.Fatalf("expected 0 for pre-registration signal, got %d", got)
	}
	if got := DaysSince(reg, reg.Add(49*time.Hour)); got != 2 {
		t.Fatalf("expected 2 days, got %d", got)
	}
}

func TestCloneDoesNotShareMetadata(t *testing.T) {
	e := &Event{ID: "a", Metadata: Metadata{KeyValence: "neutral"}}
	cp := e.Clone()
	cp.Metadata[KeyValence] = "negative"
	if e.Metadata.Valence() != ValenceNeutral {
		t.Fatal("clone mutated original metadata")
	}
}
