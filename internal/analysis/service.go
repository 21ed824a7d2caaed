package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/adoption-trajectory/internal/benchmark"
	"github.com/joelkehle/adoption-trajectory/internal/classify"
	"github.com/joelkehle/adoption-trajectory/internal/health"
	"github.com/joelkehle/adoption-trajectory/internal/narrative"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/store"
	"github.com/joelkehle/adoption-trajectory/internal/tracing"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

const (
	DefaultBackfillConcurrency = 8
	DefaultTagMaxAge           = 30 * 24 * time.Hour
)

// ErrInvalidInput marks requests the service refuses before touching the
// store.
var ErrInvalidInput = errors.New("invalid input")

type Config struct {
	BackfillConcurrency int
	// TagMaxAge is how long deterministic tags stay valid. Oracle tags never
	// expire. Zero keeps every cached tag.
	TagMaxAge  time.Duration
	WindowDays int
	Now        func() time.Time
}

// Service runs the classify, score, benchmark and narrate pipeline for one
// tenant's product at a time.
type Service struct {
	store      store.Store
	classifier *classify.FallbackClassifier
	bench      *benchmark.Engine
	narrator   narrative.Narrator
	cfg        Config
	tracer     trace.Tracer
}

func NewService(st store.Store, classifier *classify.FallbackClassifier, bench *benchmark.Engine, narrator narrative.Narrator, cfg Config) *Service {
	if classifier == nil {
		classifier = classify.NewFallbackClassifier(nil)
	}
	if narrator == nil {
		narrator = narrative.Fallback{}
	}
	if cfg.BackfillConcurrency <= 0 {
		cfg.BackfillConcurrency = DefaultBackfillConcurrency
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = health.DefaultWindowDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:      st,
		classifier: classifier,
		bench:      bench,
		narrator:   narrator,
		cfg:        cfg,
		tracer:     tracing.Tracer(),
	}
}

// TrajectoryReport is a computed trajectory with its peer benchmark.
type TrajectoryReport struct {
	*trajectory.Trajectory
	Benchmarks *benchmark.Result `json:"benchmarks"`
}

// HealthReport is a computed health score with its peer benchmark.
type HealthReport struct {
	*health.Score
	Benchmarks *benchmark.HealthResult `json:"benchmarks"`
}

// Analysis is the outcome of a full analyze run.
type Analysis struct {
	SnapshotID string              `json:"snapshot_id"`
	Trajectory *TrajectoryReport   `json:"trajectory"`
	Health     *HealthReport       `json:"health"`
	Summaries  narrative.Summaries `json:"summaries"`
	Draft      store.Draft         `json:"draft"`
}

// Report is everything a rendered product report shows. Summaries come from
// the latest analyze run when there is one.
type Report struct {
	Registration signal.Registration
	Trajectory   *TrajectoryReport
	Health       *HealthReport
	Summaries    narrative.Summaries
	GeneratedAt  time.Time
}

func (s *Service) Register(ctx context.Context, reg signal.Registration) (signal.Registration, error) {
	reg.TenantID = strings.TrimSpace(reg.TenantID)
	reg.VendorName = strings.TrimSpace(reg.VendorName)
	reg.ProductName = strings.TrimSpace(reg.ProductName)
	if reg.TenantID == "" || reg.VendorName == "" || reg.ProductName == "" {
		return signal.Registration{}, fmt.Errorf("%w: tenant_id, vendor_name and product_name are required", ErrInvalidInput)
	}
	return s.store.CreateRegistration(ctx, reg)
}

func (s *Service) SetCategory(ctx context.Context, product signal.Product, category string) error {
	category = strings.TrimSpace(category)
	if product.VendorName == "" || product.ProductName == "" || category == "" {
		return fmt.Errorf("%w: vendor_name, product_name and category are required", ErrInvalidInput)
	}
	return s.store.SetCategory(ctx, product, category)
}

// Ingest stores a batch of normalized events for a registered product and
// classifies them on write. It returns the number of events stored.
func (s *Service) Ingest(ctx context.Context, tenantID, productID string, events []*signal.Event) (int, error) {
	reg, err := s.store.Registration(ctx, tenantID, productID)
	if err != nil {
		return 0, err
	}
	for i, e := range events {
		if e == nil || strings.TrimSpace(e.EventType) == "" || e.OccurredAt.IsZero() {
			return 0, fmt.Errorf("%w: event %d needs event_type and occurred_at", ErrInvalidInput, i)
		}
		e.TenantID = reg.TenantID
		e.ProductID = reg.ID
		if e.Metadata == nil {
			e.Metadata = signal.Metadata{}
		}
	}
	signal.NormalizeTimes(events)
	if err := s.store.InsertSignals(ctx, events); err != nil {
		return 0, err
	}
	// Classify what the store holds; a skipped duplicate keeps its stored body.
	stored, err := s.store.Signals(ctx, reg.TenantID, reg.ID)
	if err != nil {
		return len(events), err
	}
	if _, err := s.backfill(ctx, reg, stored); err != nil {
		return len(events), err
	}
	log.Printf("trajectory ingest_done tenant=%s product=%s signals=%d", reg.TenantID, reg.ID, len(events))
	return len(events), nil
}

// Backfill classifies every untagged or stale signal of a product and
// returns how many were written.
func (s *Service) Backfill(ctx context.Context, tenantID, productID string) (int, error) {
	reg, events, err := s.load(ctx, tenantID, productID)
	if err != nil {
		return 0, err
	}
	return s.backfill(ctx, reg, events)
}

// Trajectory recomputes the adoption trajectory from the full signal
// history and benchmarks it against peers.
func (s *Service) Trajectory(ctx context.Context, tenantID, productID string) (*TrajectoryReport, error) {
	reg, events, err := s.prepare(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	traj := s.score(ctx, reg, events)
	bench, err := s.benchmarkTrajectory(ctx, reg, traj)
	if err != nil {
		return nil, err
	}
	return &TrajectoryReport{Trajectory: traj, Benchmarks: bench}, nil
}

// Health scores the recent window of a product's signals.
func (s *Service) Health(ctx context.Context, tenantID, productID string) (*HealthReport, error) {
	reg, events, err := s.prepare(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	score := health.Compute(events, reg, s.cfg.Now(), s.cfg.WindowDays)
	return s.benchmarkHealth(ctx, reg, score)
}

// Analyze computes trajectory and health, writes the narrative summaries,
// stores a snapshot for peers to read and drafts a review.
func (s *Service) Analyze(ctx context.Context, tenantID, productID string) (*Analysis, error) {
	reg, events, err := s.prepare(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	now := s.cfg.Now()
	traj := s.score(ctx, reg, events)
	score := health.Compute(events, reg, now, s.cfg.WindowDays)

	summaries := s.narrator.Summarize(ctx, narrative.Input{
		ProductName:  reg.ProductName,
		VendorName:   reg.VendorName,
		Trajectory:   traj,
		Health:       score,
		Events:       events,
		WindowEvents: health.Window(events, now, s.cfg.WindowDays),
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	traj.Summary = summaries[narrative.KeyTrajectory]
	for i := range traj.Stages {
		traj.Stages[i].Summary = summaries[narrative.StageKey(traj.Stages[i].Name)]
	}

	snap, err := s.store.SaveSnapshot(ctx, store.Snapshot{
		TenantID:   reg.TenantID,
		ProductID:  reg.ID,
		Health:     score,
		Trajectory: traj,
		Summaries:  summaries,
	})
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	draft, err := s.store.SaveDraft(ctx, store.Draft{
		TenantID:  reg.TenantID,
		ProductID: reg.ID,
		Review:    health.Draft(score, reg),
		Status:    store.DraftStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}

	tb, err := s.benchmarkTrajectory(ctx, reg, traj)
	if err != nil {
		return nil, err
	}
	hr, err := s.benchmarkHealth(ctx, reg, score)
	if err != nil {
		return nil, err
	}
	log.Printf("trajectory analyze_done tenant=%s product=%s snapshot=%s stage=%s health=%d", reg.TenantID, reg.ID, snap.ID, traj.CurrentStage, score.Score)
	return &Analysis{
		SnapshotID: snap.ID,
		Trajectory: &TrajectoryReport{Trajectory: traj, Benchmarks: tb},
		Health:     hr,
		Summaries:  summaries,
		Draft:      draft,
	}, nil
}

// Report computes trajectory and health with their benchmarks for
// rendering.
func (s *Service) Report(ctx context.Context, tenantID, productID string) (*Report, error) {
	reg, events, err := s.prepare(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	now := s.cfg.Now()
	traj := s.score(ctx, reg, events)
	score := health.Compute(events, reg, now, s.cfg.WindowDays)

	var summaries narrative.Summaries
	snap, err := s.store.LatestSnapshot(ctx, reg.TenantID, reg.ID)
	switch {
	case err == nil && len(snap.Summaries) > 0:
		summaries = snap.Summaries
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("latest snapshot: %w", err)
	default:
		summaries = narrative.Fallback{}.Summarize(ctx, narrative.Input{
			ProductName:  reg.ProductName,
			VendorName:   reg.VendorName,
			Trajectory:   traj,
			Health:       score,
			Events:       events,
			WindowEvents: health.Window(events, now, s.cfg.WindowDays),
		})
	}

	tb, err := s.benchmarkTrajectory(ctx, reg, traj)
	if err != nil {
		return nil, err
	}
	hr, err := s.benchmarkHealth(ctx, reg, score)
	if err != nil {
		return nil, err
	}
	return &Report{
		Registration: reg,
		Trajectory:   &TrajectoryReport{Trajectory: traj, Benchmarks: tb},
		Health:       hr,
		Summaries:    summaries,
		GeneratedAt:  now,
	}, nil
}

func (s *Service) load(ctx context.Context, tenantID, productID string) (signal.Registration, []*signal.Event, error) {
	reg, err := s.store.Registration(ctx, tenantID, productID)
	if err != nil {
		return signal.Registration{}, nil, err
	}
	events, err := s.store.Signals(ctx, tenantID, productID)
	if err != nil {
		return signal.Registration{}, nil, fmt.Errorf("load signals: %w", err)
	}
	return reg, events, nil
}

// prepare loads the history and makes sure every signal carries fresh tags.
func (s *Service) prepare(ctx context.Context, tenantID, productID string) (signal.Registration, []*signal.Event, error) {
	reg, events, err := s.load(ctx, tenantID, productID)
	if err != nil {
		return signal.Registration{}, nil, err
	}
	if _, err := s.backfill(ctx, reg, events); err != nil {
		return signal.Registration{}, nil, err
	}
	return reg, events, nil
}

// stale reports whether m needs classifying: no tags yet, or deterministic
// tags older than TagMaxAge.
func (s *Service) stale(m signal.Metadata, now time.Time) bool {
	if !m.HasTags() {
		return true
	}
	if s.cfg.TagMaxAge <= 0 || m.Classifier() != classify.DeterministicName {
		return false
	}
	at := m.ClassifiedAt()
	return at.IsZero() || now.Sub(at) > s.cfg.TagMaxAge
}

// backfill classifies what needs it in parallel, commits every write in one
// store call and then applies the tags to events in memory. Nothing is
// written when ctx is canceled.
func (s *Service) backfill(ctx context.Context, reg signal.Registration, events []*signal.Event) (int, error) {
	ctx, span := s.tracer.Start(ctx, "trajectory.classify", trace.WithAttributes(
		attribute.String("product_id", reg.ID),
		attribute.Int("signals", len(events)),
	))
	defer span.End()

	now := s.cfg.Now()
	var todo []*signal.Event
	for _, e := range events {
		if e.Metadata == nil {
			e.Metadata = signal.Metadata{}
		}
		if s.stale(e.Metadata, now) {
			todo = append(todo, e)
		}
	}
	span.SetAttributes(attribute.Int("classified", len(todo)))
	if len(todo) == 0 {
		return 0, nil
	}

	writes := make([]store.TagWrite, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BackfillConcurrency)
	for i, e := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tags, source := s.classifier.ClassifyWithSource(gctx, classify.InputFor(e, reg))
			writes[i] = store.TagWrite{SignalID: e.ID, Tags: tags, Classifier: source, ClassifiedAt: now}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backfill canceled")
		return 0, err
	}

	if err := s.store.SaveTags(ctx, writes); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save tags")
		return 0, fmt.Errorf("save tags: %w", err)
	}
	for i, e := range todo {
		e.Metadata.Apply(writes[i].Tags, writes[i].Classifier, writes[i].ClassifiedAt)
	}
	log.Printf("trajectory backfill_done product=%s classified=%d", reg.ID, len(todo))
	return len(todo), nil
}

func (s *Service) score(ctx context.Context, reg signal.Registration, events []*signal.Event) *trajectory.Trajectory {
	_, span := s.tracer.Start(ctx, "trajectory.score", trace.WithAttributes(attribute.String("product_id", reg.ID)))
	defer span.End()
	traj := trajectory.Compute(events)
	span.SetAttributes(
		attribute.String("current_stage", string(traj.CurrentStage)),
		attribute.Float64("overall_smoothness", traj.OverallSmoothness),
	)
	return traj
}

// benchmarkTrajectory returns a nil block when no engine is configured or no
// peer qualifies. Only cancellation is an error.
func (s *Service) benchmarkTrajectory(ctx context.Context, reg signal.Registration, traj *trajectory.Trajectory) (*benchmark.Result, error) {
	if s.bench == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "trajectory.benchmark", trace.WithAttributes(attribute.String("product_id", reg.ID)))
	defer span.End()
	res, err := s.bench.Trajectory(ctx, reg, traj)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return nil, err
		}
		log.Printf("trajectory benchmark_skipped product=%s err=%v", reg.ID, err)
		return nil, nil
	}
	if res != nil {
		span.SetAttributes(attribute.Int("peers", res.PeerCount))
	}
	return res, nil
}

func (s *Service) benchmarkHealth(ctx context.Context, reg signal.Registration, score *health.Score) (*HealthReport, error) {
	out := &HealthReport{Score: score}
	if s.bench == nil {
		return out, nil
	}
	res, err := s.bench.Health(ctx, reg, score)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		log.Printf("health benchmark_skipped product=%s err=%v", reg.ID, err)
		return out, nil
	}
	out.Benchmarks = res
	return out, nil
}
