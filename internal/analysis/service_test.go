package analysis

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/benchmark"
	"github.com/joelkehle/adoption-trajectory/internal/classify"
	"github.com/joelkehle/adoption-trajectory/internal/metrics"
	"github.com/joelkehle/adoption-trajectory/internal/narrative"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type countingClassifier struct {
	mu     sync.Mutex
	calls  int
	onCall func(ctx context.Context) error
}

func (c *countingClassifier) Name() string { return "oracle-test" }

func (c *countingClassifier) Classify(ctx context.Context, in classify.Input) (signal.Tags, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.onCall != nil {
		if err := c.onCall(ctx); err != nil {
			return signal.Tags{}, err
		}
	}
	return signal.Tags{
		Valence:          signal.ValenceNegative,
		Subject:          signal.SubjectVendorIssue,
		StageTopic:       signal.StageIntegration,
		HealthCategories: []signal.HealthCategory{signal.CategoryReliability},
	}, nil
}

func (c *countingClassifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "analysis.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, st store.Store, tenant, vendor, product string) signal.Registration {
	t.Helper()
	ctx := context.Background()
	reg, err := st.CreateRegistration(ctx, signal.Registration{
		TenantID:    tenant,
		VendorName:  vendor,
		ProductName: product,
		IntendedUse: "payment reconciliation",
		CreatedAt:   t0,
	})
	if err != nil {
		t.Fatalf("create registration: %v", err)
	}
	events := []*signal.Event{
		{TenantID: tenant, ProductID: reg.ID, SourceType: signal.SourceJira, EventType: signal.EventTicketCreated, Severity: signal.SeverityHigh, Title: "Webhook delivery broken", OccurredAt: t0.AddDate(0, 0, 20)},
		{TenantID: tenant, ProductID: reg.ID, SourceType: signal.SourceJira, EventType: signal.EventTicketResolved, Severity: signal.SeverityHigh, Title: "Webhook delivery broken", OccurredAt: t0.AddDate(0, 0, 22)},
		{TenantID: tenant, ProductID: reg.ID, SourceType: signal.SourceEmail, EventType: signal.EventVendorEmail, Title: "Welcome to getting started", OccurredAt: t0.AddDate(0, 0, 1)},
	}
	if err := st.InsertSignals(ctx, events); err != nil {
		t.Fatalf("insert signals: %v", err)
	}
	return reg
}

func TestTrajectoryBackfillsOnceAndCachesTags(t *testing.T) {
	st := newTestStore(t)
	reg := seed(t, st, "t1", "Acme", "Ledger")
	oracle := &countingClassifier{}
	clk := &clock{now: t0.AddDate(0, 0, 40)}
	svc := NewService(st, classify.NewFallbackClassifier(oracle), nil, nil, Config{TagMaxAge: DefaultTagMaxAge, Now: clk.Now})

	ctx := context.Background()
	rep, err := svc.Trajectory(ctx, "t1", reg.ID)
	if err != nil {
		t.Fatalf("trajectory: %v", err)
	}
	if oracle.count() != 3 {
		t.Fatalf("classifier calls=%d want 3", oracle.count())
	}
	if rep.CurrentStage != signal.StageIntegration || rep.SignalCount != 3 {
		t.Fatalf("current=%s signals=%d", rep.CurrentStage, rep.SignalCount)
	}
	if rep.Benchmarks != nil {
		t.Fatal("benchmark block without an engine")
	}

	events, err := st.Signals(ctx, "t1", reg.ID)
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	for _, e := range events {
		if e.Metadata.Classifier() != "oracle-test" || !e.Metadata.ClassifiedAt().Equal(clk.now) {
			t.Fatalf("cached tags missing on %s: %v", e.ID, e.Metadata)
		}
	}

	// Oracle tags do not expire.
	clk.now = clk.now.AddDate(1, 0, 0)
	if _, err := svc.Trajectory(ctx, "t1", reg.ID); err != nil {
		t.Fatalf("second trajectory: %v", err)
	}
	if oracle.count() != 3 {
		t.Fatalf("classifier calls=%d after cache hit, want 3", oracle.count())
	}
}

func TestStaleDeterministicTagsAreReclassified(t *testing.T) {
	st := newTestStore(t)
	reg := seed(t, st, "t1", "Acme", "Ledger")
	clk := &clock{now: t0.AddDate(0, 0, 30)}
	svc := NewService(st, nil, nil, nil, Config{TagMaxAge: 30 * 24 * time.Hour, Now: clk.Now})

	ctx := context.Background()
	n, err := svc.Backfill(ctx, "t1", reg.ID)
	if err != nil || n != 3 {
		t.Fatalf("first backfill n=%d err=%v", n, err)
	}

	clk.now = clk.now.AddDate(0, 0, 10)
	if n, _ := svc.Backfill(ctx, "t1", reg.ID); n != 0 {
		t.Fatalf("fresh tags reclassified: n=%d", n)
	}

	clk.now = clk.now.AddDate(0, 0, 25)
	if n, _ := svc.Backfill(ctx, "t1", reg.ID); n != 3 {
		t.Fatalf("stale tags kept: n=%d want 3", n)
	}
}

func TestCanceledBackfillWritesNothing(t *testing.T) {
	st := newTestStore(t)
	reg := seed(t, st, "t1", "Acme", "Ledger")

	ctx, cancel := context.WithCancel(context.Background())
	oracle := &countingClassifier{onCall: func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}}
	svc := NewService(st, classify.NewFallbackClassifier(oracle), nil, nil, Config{BackfillConcurrency: 1, Now: func() time.Time { return t0 }})

	if _, err := svc.Trajectory(ctx, "t1", reg.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	events, err := st.Signals(context.Background(), "t1", reg.ID)
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	for _, e := range events {
		if e.Metadata.HasTags() {
			t.Fatalf("tags written after cancellation: %v", e.Metadata)
		}
	}
}

func TestUnknownProductIsNotFound(t *testing.T) {
	svc := NewService(newTestStore(t), nil, nil, nil, Config{})
	if _, err := svc.Trajectory(context.Background(), "t1", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v want store.ErrNotFound", err)
	}
	if _, err := svc.Ingest(context.Background(), "t1", "missing", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ingest err=%v want store.ErrNotFound", err)
	}
}

func TestIngestClassifiesOnWrite(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	reg, err := st.CreateRegistration(ctx, signal.Registration{TenantID: "t1", VendorName: "Acme", ProductName: "Ledger", CreatedAt: t0})
	if err != nil {
		t.Fatalf("create registration: %v", err)
	}
	svc := NewService(st, nil, nil, nil, Config{Now: func() time.Time { return t0.AddDate(0, 0, 5) }})

	local := time.FixedZone("PST", -8*3600)
	n, err := svc.Ingest(ctx, "t1", reg.ID, []*signal.Event{
		{TenantID: "other", EventType: signal.EventTicketCreated, Title: "SSO login error", OccurredAt: t0.AddDate(0, 0, 2).In(local)},
	})
	if err != nil || n != 1 {
		t.Fatalf("ingest n=%d err=%v", n, err)
	}
	events, err := st.Signals(ctx, "t1", reg.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("signals=%d err=%v", len(events), err)
	}
	e := events[0]
	if e.Metadata.Classifier() != classify.DeterministicName || e.Metadata.Valence() != signal.ValenceNegative {
		t.Fatalf("metadata=%v", e.Metadata)
	}
	if e.OccurredAt.Location() != time.UTC {
		t.Fatalf("occurred_at not UTC: %v", e.OccurredAt)
	}

	_, err = svc.Ingest(ctx, "t1", reg.ID, []*signal.Event{{Title: "no type"}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v want ErrInvalidInput", err)
	}
}

func TestIngestKeepsStoredSignals(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	own, err := st.CreateRegistration(ctx, signal.Registration{TenantID: "t1", VendorName: "Acme", ProductName: "Ledger", CreatedAt: t0})
	if err != nil {
		t.Fatalf("create registration: %v", err)
	}
	other, err := st.CreateRegistration(ctx, signal.Registration{TenantID: "t2", VendorName: "Globex", ProductName: "Books", CreatedAt: t0})
	if err != nil {
		t.Fatalf("create registration: %v", err)
	}
	svc := NewService(st, nil, nil, nil, Config{Now: func() time.Time { return t0.AddDate(0, 0, 5) }})

	if _, err := svc.Ingest(ctx, "t1", own.ID, []*signal.Event{
		{ID: "sig-1", EventType: signal.EventTicketCreated, Title: "SSO login error", OccurredAt: t0.AddDate(0, 0, 1)},
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := svc.Ingest(ctx, "t1", own.ID, []*signal.Event{
		{ID: "sig-1", EventType: signal.EventTicketResolved, Title: "All good", OccurredAt: t0.AddDate(0, 0, 2)},
	}); err != nil {
		t.Fatalf("repeat ingest: %v", err)
	}
	if _, err := svc.Ingest(ctx, "t2", other.ID, []*signal.Event{
		{ID: "sig-1", EventType: signal.EventVendorEmail, Title: "Hello", OccurredAt: t0.AddDate(0, 0, 3)},
	}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("cross-tenant ingest err=%v want ErrConflict", err)
	}

	events, err := st.Signals(ctx, "t1", own.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("signals=%d err=%v", len(events), err)
	}
	e := events[0]
	if e.Title != "SSO login error" || e.EventType != signal.EventTicketCreated || e.Metadata.Valence() != signal.ValenceNegative {
		t.Fatalf("stored signal rewritten: %+v", e)
	}
}

func TestAnalyzeStoresSnapshotAndDraft(t *testing.T) {
	st := newTestStore(t)
	reg := seed(t, st, "t1", "Acme", "Ledger")
	now := t0.AddDate(0, 0, 25)
	svc := NewService(st, nil, nil, narrative.Fallback{}, Config{Now: func() time.Time { return now }})

	ctx := context.Background()
	res, err := svc.Analyze(ctx, "t1", reg.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.HasPrefix(res.Trajectory.Summary, "Ledger is in the ") {
		t.Fatalf("trajectory summary=%q", res.Trajectory.Summary)
	}
	if res.Draft.Review.Subject != "Review: Ledger by Acme" || res.Draft.Status != store.DraftStatusPending {
		t.Fatalf("draft=%+v", res.Draft)
	}

	snap, err := st.LatestSnapshot(ctx, "t1", reg.ID)
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if snap.ID != res.SnapshotID || snap.Health == nil || snap.Trajectory == nil {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.Trajectory.Summary != res.Trajectory.Summary || snap.Summaries[narrative.KeyHealth] == "" {
		t.Fatal("summaries not stored with the snapshot")
	}
	draft, err := st.LatestDraft(ctx, "t1", reg.ID)
	if err != nil || draft.ID != res.Draft.ID {
		t.Fatalf("latest draft=%+v err=%v", draft, err)
	}
}

func TestTrajectoryBenchmarksAgainstAnalyzedPeer(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	own := seed(t, st, "t1", "Acme", "Ledger")
	peer := seed(t, st, "t2", "Globex", "Books")

	now := time.Now().UTC()
	bench := benchmark.NewEngine(st, benchmark.Config{Now: func() time.Time { return now }})
	svc := NewService(st, nil, bench, nil, Config{Now: func() time.Time { return now }})

	if _, err := svc.Analyze(ctx, "t2", peer.ID); err != nil {
		t.Fatalf("analyze peer: %v", err)
	}
	rep, err := svc.Trajectory(ctx, "t1", own.ID)
	if err != nil {
		t.Fatalf("trajectory: %v", err)
	}
	if rep.Benchmarks == nil || rep.Benchmarks.PeerCount != 1 || rep.Benchmarks.Category != benchmark.LabelSimilarUse {
		t.Fatalf("benchmarks=%+v", rep.Benchmarks)
	}
}

func TestReportPrefersStoredSummaries(t *testing.T) {
	st := newTestStore(t)
	reg := seed(t, st, "t1", "Acme", "Ledger")
	now := t0.AddDate(0, 0, 25)
	svc := NewService(st, nil, nil, nil, Config{Now: func() time.Time { return now }})
	ctx := context.Background()

	rep, err := svc.Report(ctx, "t1", reg.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if rep.Registration.ProductName != "Ledger" || rep.Summaries[narrative.KeyTrajectory] == "" {
		t.Fatalf("report=%+v", rep)
	}

	if _, err := st.SaveSnapshot(ctx, store.Snapshot{
		TenantID:   "t1",
		ProductID:  reg.ID,
		Trajectory: rep.Trajectory.Trajectory,
		Summaries:  map[string]string{narrative.KeyTrajectory: "stored prose"},
	}); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	rep, err = svc.Report(ctx, "t1", reg.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if got := rep.Summaries[narrative.KeyTrajectory]; got != "stored prose" {
		t.Fatalf("summary=%q want stored prose", got)
	}
}

func TestSeriesAndEventsReadTaggedHistory(t *testing.T) {
	st := newTestStore(t)
	reg := seed(t, st, "t1", "Acme", "Ledger")
	now := t0.AddDate(0, 0, 40)
	svc := NewService(st, classify.NewFallbackClassifier(&countingClassifier{}), nil, nil, Config{Now: func() time.Time { return now }})
	ctx := context.Background()

	out, err := svc.Series(ctx, "t1", reg.ID, "issue-rate", "")
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	rate, ok := out.(*metrics.IssueRateSeries)
	if !ok {
		t.Fatalf("series type=%T", out)
	}
	if len(rate.Points) != 41 || rate.Points[22].Count != 2 || rate.DaysSinceRegistration != 40 {
		t.Fatalf("points=%d day22=%+v", len(rate.Points), rate.Points[22])
	}

	out, err = svc.Events(ctx, "t1", reg.ID, "resolution", signal.StageIntegration)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	res := out.(*metrics.ResolutionTimeline)
	if len(res.Events) != 1 || res.Events[0].ResolutionHours != 48 || res.Events[0].Severity != signal.SeverityHigh {
		t.Fatalf("resolution events=%+v", res.Events)
	}

	out, err = svc.Events(ctx, "t1", reg.ID, "resolution", signal.StageProductive)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if n := len(out.(*metrics.ResolutionTimeline).Events); n != 0 {
		t.Fatalf("productive resolution events=%d", n)
	}
}

func TestSeriesRejectsUnknownNamesAndStages(t *testing.T) {
	st := newTestStore(t)
	reg := seed(t, st, "t1", "Acme", "Ledger")
	svc := NewService(st, nil, nil, nil, Config{})
	ctx := context.Background()

	if _, err := svc.Series(ctx, "t1", reg.ID, "happiness", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown metric err=%v", err)
	}
	if _, err := svc.Events(ctx, "t1", reg.ID, "friction", signal.Stage("launch")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown stage err=%v", err)
	}
	if _, err := svc.Events(ctx, "t2", reg.ID, "friction", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign tenant err=%v", err)
	}
}

func TestReviewDraftRecordsDecision(t *testing.T) {
	st := newTestStore(t)
	reg := seed(t, st, "t1", "Acme", "Ledger")
	now := t0.AddDate(0, 0, 25)
	svc := NewService(st, nil, nil, narrative.Fallback{}, Config{Now: func() time.Time { return now }})
	ctx := context.Background()

	res, err := svc.Analyze(ctx, "t1", reg.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	pending, err := svc.ListDrafts(ctx, "t1", store.DraftStatusPending)
	if err != nil || len(pending) != 1 || pending[0].ID != res.Draft.ID {
		t.Fatalf("pending=%+v err=%v", pending, err)
	}

	if _, err := svc.ReviewDraft(ctx, "t1", res.Draft.ID, DraftReview{Status: "sent"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad status err=%v", err)
	}
	if _, err := svc.ReviewDraft(ctx, "t1", res.Draft.ID, DraftReview{Status: store.DraftStatusEdited}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("edit without body err=%v", err)
	}
	if _, err := svc.ReviewDraft(ctx, "t2", res.Draft.ID, DraftReview{Status: store.DraftStatusApproved}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign tenant err=%v", err)
	}

	body := "Reworded review."
	got, err := svc.ReviewDraft(ctx, "t1", res.Draft.ID, DraftReview{Status: store.DraftStatusEdited, EditedBody: &body})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if got.Status != store.DraftStatusEdited || *got.EditedBody != body || got.ReviewedAt == nil || !got.ReviewedAt.Equal(now) {
		t.Fatalf("reviewed=%+v", got)
	}

	fetched, err := svc.Draft(ctx, "t1", res.Draft.ID)
	if err != nil || fetched.Status != store.DraftStatusEdited {
		t.Fatalf("fetched=%+v err=%v", fetched, err)
	}
	if pending, _ := svc.ListDrafts(ctx, "t1", store.DraftStatusPending); len(pending) != 0 {
		t.Fatalf("still pending=%+v", pending)
	}
	if _, err := svc.ListDrafts(ctx, " ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing tenant err=%v", err)
	}
}
