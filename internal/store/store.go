package store

import (
	"context"
	"errors"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/health"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a write reused an id owned by another record.
	ErrConflict = errors.New("conflict")
)

// TagWrite is one classification headed for the tag cache.
type TagWrite struct {
	SignalID     string
	Tags         signal.Tags
	Classifier   string
	ClassifiedAt time.Time
}

// Snapshot is a stored analysis run. Peers read the trajectory half as
// benchmark input and the health half for health benchmarks.
type Snapshot struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	ProductID  string                 `json:"product_id"`
	Health     *health.Score          `json:"health,omitempty"`
	Trajectory *trajectory.Trajectory `json:"trajectory,omitempty"`
	Summaries  map[string]string      `json:"summaries,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Draft is a stored review draft.
type Draft struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenant_id"`
	ProductID string             `json:"product_id"`
	Review    health.ReviewDraft `json:"review"`
	Status    string             `json:"status"`
	// EditedBody replaces the generated body once a reviewer edits it.
	EditedBody *string    `json:"edited_body"`
	ReviewedAt *time.Time `json:"reviewed_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

const (
	DraftStatusPending  = "draft"
	DraftStatusApproved = "approved"
	DraftStatusDeclined = "declined"
	DraftStatusEdited   = "edited"
)

// Store is the persistence boundary of the engine. Signals come back ordered
// by occurred_at with cached tags merged into their metadata.
type Store interface {
	CreateRegistration(ctx context.Context, reg signal.Registration) (signal.Registration, error)
	Registration(ctx context.Context, tenantID, productID string) (signal.Registration, error)
	ListRegistrations(ctx context.Context, tenantID string) ([]signal.Registration, error)

	SetCategory(ctx context.Context, product signal.Product, category string) error
	CategoryFor(ctx context.Context, product signal.Product) (string, error)
	ProductsInCategory(ctx context.Context, category string, exclude signal.Product, limit int) ([]signal.Product, error)
	ActiveRegistrationsFor(ctx context.Context, products []signal.Product) ([]signal.Registration, error)
	ActiveRegistrationsWithUse(ctx context.Context, exclude signal.Product, limit int) ([]signal.Registration, error)

	InsertSignals(ctx context.Context, events []*signal.Event) error
	Signals(ctx context.Context, tenantID, productID string) ([]*signal.Event, error)
	SaveTags(ctx context.Context, writes []TagWrite) error

	SaveSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error)
	LatestSnapshot(ctx context.Context, tenantID, productID string) (Snapshot, error)
	SaveDraft(ctx context.Context, d Draft) (Draft, error)
	LatestDraft(ctx context.Context, tenantID, productID string) (Draft, error)
	ListDrafts(ctx context.Context, tenantID, status string) ([]Draft, error)
	Draft(ctx context.Context, tenantID, draftID string) (Draft, error)
	UpdateDraft(ctx context.Context, tenantID, draftID, status string, editedBody *string, reviewedAt time.Time) (Draft, error)

	Close() error
}
