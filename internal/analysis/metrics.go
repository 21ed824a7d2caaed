package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/adoption-trajectory/internal/metrics"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/store"
)

// Series computes one named time series over the product's tagged history.
// An empty stage covers every stage.
func (s *Service) Series(ctx context.Context, tenantID, productID, name string, stage signal.Stage) (any, error) {
	return s.metric(ctx, "trajectory.series", tenantID, productID, name, stage, metrics.Series)
}

// Events lists the signals behind one metric, newest last.
func (s *Service) Events(ctx context.Context, tenantID, productID, name string, stage signal.Stage) (any, error) {
	return s.metric(ctx, "trajectory.events", tenantID, productID, name, stage, metrics.Events)
}

func (s *Service) metric(ctx context.Context, spanName, tenantID, productID, name string, stage signal.Stage,
	compute func(string, metrics.Input) (any, error)) (any, error) {
	if stage != "" && !stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, stage)
	}
	reg, events, err := s.prepare(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	_, span := s.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("product_id", reg.ID),
		attribute.String("metric", name),
	))
	defer span.End()

	out, err := compute(name, metrics.Input{Registration: reg, Events: events, Now: s.cfg.Now(), Stage: stage})
	if errors.Is(err, metrics.ErrUnknownMetric) {
		return nil, fmt.Errorf("%w: unknown metric %q", ErrInvalidInput, name)
	}
	return out, err
}

// ListDrafts returns a tenant's review drafts, newest first, optionally
// filtered by status.
func (s *Service) ListDrafts(ctx context.Context, tenantID, status string) ([]store.Draft, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return s.store.ListDrafts(ctx, tenantID, strings.TrimSpace(status))
}

func (s *Service) Draft(ctx context.Context, tenantID, draftID string) (store.Draft, error) {
	if strings.TrimSpace(tenantID) == "" {
		return store.Draft{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return s.store.Draft(ctx, tenantID, draftID)
}

// DraftReview is a reviewer's decision on a draft.
type DraftReview struct {
	Status     string  `json:"status"`
	EditedBody *string `json:"edited_body,omitempty"`
}

var reviewStatuses = map[string]bool{
	store.DraftStatusApproved: true,
	store.DraftStatusDeclined: true,
	store.DraftStatusEdited:   true,
}

// ReviewDraft records a decision and stamps reviewed_at. An edit must carry
// the new body.
func (s *Service) ReviewDraft(ctx context.Context, tenantID, draftID string, review DraftReview) (store.Draft, error) {
	if strings.TrimSpace(tenantID) == "" {
		return store.Draft{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if !reviewStatuses[review.Status] {
		return store.Draft{}, fmt.Errorf("%w: status must be approved, declined or edited", ErrInvalidInput)
	}
	if review.Status == store.DraftStatusEdited && (review.EditedBody == nil || strings.TrimSpace(*review.EditedBody) == "") {
		return store.Draft{}, fmt.Errorf("%w: edited_body is required when status is edited", ErrInvalidInput)
	}
	d, err := s.store.UpdateDraft(ctx, tenantID, draftID, review.Status, review.EditedBody, s.cfg.Now().UTC())
	if err != nil {
		return store.Draft{}, err
	}
	log.Printf("trajectory draft_reviewed tenant=%s draft=%s status=%s", tenantID, draftID, review.Status)
	return d, nil
}
