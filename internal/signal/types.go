package signal

import (
	"sort"
	"time"
)

type Stage string

const (
	StageOnboarding    Stage = "onboarding"
	StageIntegration   Stage = "integration"
	StageStabilization Stage = "stabilization"
	StageProductive    Stage = "productive"
	StageOptimization  Stage = "optimization"
)

// Stages lists the lifecycle stages in ordinal order.
var Stages = []Stage{StageOnboarding, StageIntegration, StageStabilization, StageProductive, StageOptimization}

// Rank returns the ordinal of the stage, or -1 when the label is unknown.
func (s Stage) Rank() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Rank() >= 0 }

type Valence string

const (
	ValencePositive Valence = "positive"
	ValenceNegative Valence = "negative"
	ValenceNeutral  Valence = "neutral"
)

func (v Valence) Valid() bool {
	switch v {
	case ValencePositive, ValenceNegative, ValenceNeutral:
		return true
	}
	return false
}

type Subject string

const (
	SubjectInternalImpl  Subject = "internal_impl"
	SubjectVendorIssue   Subject = "vendor_issue"
	SubjectVendorRequest Subject = "vendor_request"
	SubjectVendorComm    Subject = "vendor_comm"
)

func (s Subject) Valid() bool {
	switch s {
	case SubjectInternalImpl, SubjectVendorIssue, SubjectVendorRequest, SubjectVendorComm:
		return true
	}
	return false
}

type HealthCategory string

const (
	CategoryReliability HealthCategory = "reliability"
	CategoryPerformance HealthCategory = "performance"
	CategoryFitness     HealthCategory = "fitness_for_purpose"
)

// HealthCategories lists every health category in reporting order.
var HealthCategories = []HealthCategory{CategoryReliability, CategoryPerformance, CategoryFitness}

func (c HealthCategory) Valid() bool {
	switch c {
	case CategoryReliability, CategoryPerformance, CategoryFitness:
		return true
	}
	return false
}

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Event types the engine reasons about. Adapters may emit others; those are
// carried through untouched.
const (
	EventTicketCreated        = "ticket_created"
	EventTicketResolved       = "ticket_resolved"
	EventTicketReopened       = "ticket_reopened"
	EventCommentAdded         = "comment_added"
	EventVendorEmail          = "vendor_email"
	EventEmailReceived        = "email_received"
	EventSupportEmailReceived = "support_email_received"
	EventFeatureRequest       = "feature_request"
)

const (
	SourceJira  = "jira"
	SourceEmail = "email"
)

// Event is one normalized signal. Only Metadata is ever written by the
// engine.
type Event struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ProductID  string    `json:"product_id"`
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id,omitempty"`
	EventType  string    `json:"event_type"`
	Severity   string    `json:"severity,omitempty"`
	Title      string    `json:"title,omitempty"`
	Body       string    `json:"body,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Clone returns a copy that shares nothing mutable with e.
func (e *Event) Clone() *Event {
	cp := *e
	cp.Metadata = e.Metadata.Clone()
	return &cp
}

// Label is a short display name used in metric details and summaries.
func (e *Event) Label() string {
	s := e.Title
	if s == "" {
		s = e.EventType
	}
	if s == "" {
		s = "signal"
	}
	return Truncate(s, 45)
}

// Registration is one tenant's adoption of a vendor product. Its ID is the
// product id that the tenant's signals are keyed by.
type Registration struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	VendorName  string    `json:"vendor_name"`
	ProductName string    `json:"product_name"`
	IntendedUse string    `json:"intended_use,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

const RegistrationActive = "active"

// Product identifies a vendor offering independently of who adopted it.
type Product struct {
	VendorName  string `json:"vendor_name"`
	ProductName string `json:"product_name"`
}

func (r Registration) Product() Product {
	return Product{VendorName: r.VendorName, ProductName: r.ProductName}
}

// UTC normalizes t so every chronological comparison happens in one zone.
func UTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// NormalizeTimes converts every occurrence timestamp to UTC in place.
func NormalizeTimes(events []*Event) []*Event {
	for _, e := range events {
		e.OccurredAt = UTC(e.OccurredAt)
	}
	return events
}

// SortChronological orders events by occurrence, keeping input order for
// equal timestamps.
func SortChronological(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return UTC(events[i].OccurredAt).Before(UTC(events[j].OccurredAt))
	})
}

// DaysSince returns whole days from registration to occurrence, clamped at 0.
func DaysSince(registeredAt, occurredAt time.Time) int {
	if registeredAt.IsZero() || occurredAt.IsZero() {
		return 0
	}
	d := UTC(occurredAt).Sub(UTC(registeredAt))
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// Truncate shortens s to max runes, ending with an ellipsis when cut.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
