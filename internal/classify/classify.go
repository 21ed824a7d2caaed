package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

// Input is everything a classifier may look at for one signal.
type Input struct {
	SourceType            string `json:"source_type"`
	EventType             string `json:"event_type"`
	Severity              string `json:"severity,omitempty"`
	Title                 string `json:"title,omitempty"`
	Body                  string `json:"body,omitempty"`
	ProductName           string `json:"product_name"`
	DaysSinceRegistration int    `json:"days_since_registration"`
}

// InputFor builds the classifier input for e under reg.
func InputFor(e *signal.Event, reg signal.Registration) Input {
	return Input{
		SourceType:            e.SourceType,
		EventType:             e.EventType,
		Severity:              e.Severity,
		Title:                 e.Title,
		Body:                  e.Body,
		ProductName:           reg.ProductName,
		DaysSinceRegistration: signal.DaysSince(reg.CreatedAt, e.OccurredAt),
	}
}

// Classifier maps one signal to its four tags. Implementations are pure;
// callers persist the result.
type Classifier interface {
	Classify(ctx context.Context, in Input) (signal.Tags, error)
	Name() string
}

// ValidationError reports an oracle response whose shape or values fall
// outside the enumerated sets.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// Validate checks each field against its enumerated set and drops unknown
// health categories.
func Validate(t signal.Tags) (signal.Tags, error) {
	if !t.Valence.Valid() {
		return t, &ValidationError{Field: "valence", Value: string(t.Valence)}
	}
	if !t.Subject.Valid() {
		return t, &ValidationError{Field: "subject", Value: string(t.Subject)}
	}
	if !t.StageTopic.Valid() {
		return t, &ValidationError{Field: "stage_topic", Value: string(t.StageTopic)}
	}
	cats := make([]signal.HealthCategory, 0, len(t.HealthCategories))
	for _, c := range t.HealthCategories {
		c = signal.HealthCategory(strings.TrimSpace(string(c)))
		if c.Valid() {
			cats = append(cats, c)
		}
	}
	t.HealthCategories = cats
	return t, nil
}
