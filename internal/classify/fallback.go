package classify

import (
	"context"
	"errors"
	"log"

	"github.com/joelkehle/adoption-trajectory/internal/llm"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

// FallbackClassifier tries the primary classifier and answers with the
// deterministic one on any failure. Classify never returns an error.
type FallbackClassifier struct {
	primary  Classifier
	fallback DeterministicClassifier
}

// NewFallbackClassifier wraps primary. A nil primary means deterministic
// only.
func NewFallbackClassifier(primary Classifier) *FallbackClassifier {
	return &FallbackClassifier{primary: primary}
}

func (f *FallbackClassifier) Name() string {
	if f.primary == nil {
		return DeterministicName
	}
	return f.primary.Name()
}

func (f *FallbackClassifier) Classify(ctx context.Context, in Input) (signal.Tags, error) {
	tags, _ := f.ClassifyWithSource(ctx, in)
	return tags, nil
}

// ClassifyWithSource also reports which classifier produced the tags.
func (f *FallbackClassifier) ClassifyWithSource(ctx context.Context, in Input) (signal.Tags, string) {
	if f.primary == nil {
		return f.fallback.Tags(in), DeterministicName
	}
	tags, err := f.primary.Classify(ctx, in)
	if err == nil {
		if tags, err = Validate(tags); err == nil {
			return tags, f.primary.Name()
		}
	}
	log.Printf("classify oracle_fallback event_type=%s reason=%s err=%v", in.EventType, fallbackReason(err), err)
	return f.fallback.Tags(in), DeterministicName
}

func fallbackReason(err error) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return "invalid_shape"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, errEmptyOracleResponse):
		return "empty"
	}
	return string(llm.ClassifyTransportError(err))
}
