package benchmark

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/health"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/store"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

var now = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu          sync.Mutex
	categories  map[signal.Product]string
	regs        []signal.Registration
	signals     map[string][]*signal.Event
	snapshots   map[string]store.Snapshot
	signalCalls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		categories:  make(map[signal.Product]string),
		signals:     make(map[string][]*signal.Event),
		snapshots:   make(map[string]store.Snapshot),
		signalCalls: make(map[string]int),
	}
}

func (f *fakeSource) CategoryFor(_ context.Context, p signal.Product) (string, error) {
	c, ok := f.categories[p]
	if !ok {
		return "", store.ErrNotFound
	}
	return c, nil
}

func (f *fakeSource) ProductsInCategory(_ context.Context, category string, exclude signal.Product, limit int) ([]signal.Product, error) {
	var out []signal.Product
	for p, c := range f.categories {
		if c == category && p != exclude && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeSource) ActiveRegistrationsFor(_ context.Context, products []signal.Product) ([]signal.Registration, error) {
	want := make(map[signal.Product]bool)
	for _, p := range products {
		want[p] = true
	}
	var out []signal.Registration
	for _, r := range f.regs {
		if r.Status == signal.RegistrationActive && want[r.Product()] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) ActiveRegistrationsWithUse(_ context.Context, exclude signal.Product, limit int) ([]signal.Registration, error) {
	var out []signal.Registration
	for _, r := range f.regs {
		if r.Status == signal.RegistrationActive && r.IntendedUse != "" && r.Product() != exclude && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) Signals(ctx context.Context, _, productID string) ([]*signal.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.signalCalls[productID]++
	f.mu.Unlock()
	return f.signals[productID], nil
}

func (f *fakeSource) LatestSnapshot(ctx context.Context, _, productID string) (store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return store.Snapshot{}, err
	}
	s, ok := f.snapshots[productID]
	if !ok {
		return store.Snapshot{}, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeSource) addPeer(id, vendor, product, use string) signal.Registration {
	reg := signal.Registration{
		ID:          id,
		TenantID:    "tenant-" + id,
		VendorName:  vendor,
		ProductName: product,
		IntendedUse: use,
		Status:      signal.RegistrationActive,
		CreatedAt:   now.AddDate(0, -6, 0),
	}
	f.regs = append(f.regs, reg)
	return reg
}

func oneStage(stage signal.Stage, smooth float64, metrics map[trajectory.Metric]float64) *trajectory.Trajectory {
	t := trajectory.Empty()
	t.Stage(stage).Smoothness = &smooth
	t.Stage(stage).Metrics = metrics
	t.OverallSmoothness = smooth
	return t
}

func TestCompareExample(t *testing.T) {
	got := Compare(ptr(80), []float64{95, 60, 90, 70})
	if got == nil {
		t.Fatal("expected stat")
	}
	if got.Average != 78.75 || got.Median != 80 || got.Percentile != 50 || got.PeerCount != 4 {
		t.Fatalf("got=%+v", got)
	}
}

func TestCompareEdges(t *testing.T) {
	if Compare(nil, []float64{1}) != nil {
		t.Fatal("nil own should give nil")
	}
	if Compare(ptr(1), nil) != nil {
		t.Fatal("no peers should give nil")
	}
	if got := Compare(ptr(70), []float64{70, 70, 50}); got.Percentile != 33 || got.Median != 70 {
		t.Fatalf("ties: got=%+v", got)
	}
	if got := Compare(ptr(100), []float64{10}); got.Percentile != 100 {
		t.Fatalf("single peer: got=%+v", got)
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("We use it for the Billing of invoices")
	if len(got) != 3 || !got["use"] || !got["billing"] || !got["invoices"] {
		t.Fatalf("tokens=%v", got)
	}
}

func TestFindPeersByCategory(t *testing.T) {
	src := newFakeSource()
	own := signal.Registration{ID: "own", VendorName: "Acme", ProductName: "Widget", Status: signal.RegistrationActive}
	src.regs = append(src.regs, own)
	src.categories[own.Product()] = "crm"
	src.categories[signal.Product{VendorName: "Beta", ProductName: "Gizmo"}] = "crm"
	src.categories[signal.Product{VendorName: "Other", ProductName: "Thing"}] = "erp"
	beta := src.addPeer("beta", "Beta", "Gizmo", "")
	src.addPeer("other", "Other", "Thing", "")

	m, err := FindPeers(context.Background(), src, own)
	if err != nil {
		t.Fatalf("find peers: %v", err)
	}
	if m.Label != "crm" || len(m.Peers) != 1 || m.Peers[0].ID != beta.ID {
		t.Fatalf("match=%+v", m)
	}
}

func TestFindPeersFallsBackToIntendedUse(t *testing.T) {
	src := newFakeSource()
	own := signal.Registration{ID: "own", VendorName: "Acme", ProductName: "Widget", IntendedUse: "automated invoice processing"}
	src.categories[own.Product()] = "lonely"
	best := src.addPeer("best", "Beta", "Gizmo", "invoice processing for finance")
	src.addPeer("miss", "Gamma", "Mail", "marketing emails")
	second := src.addPeer("second", "Delta", "Flow", "processing pipelines")
	src.addPeer("same-product", "Acme", "Widget", "automated invoice processing")

	m, err := FindPeers(context.Background(), src, own)
	if err != nil {
		t.Fatalf("find peers: %v", err)
	}
	if m.Label != LabelSimilarUse || len(m.Peers) != 2 {
		t.Fatalf("match=%+v", m)
	}
	if m.Peers[0].ID != best.ID || m.Peers[1].ID != second.ID {
		t.Fatalf("ranking=%s,%s", m.Peers[0].ID, m.Peers[1].ID)
	}
}

func TestFindPeersNone(t *testing.T) {
	src := newFakeSource()
	src.addPeer("p", "Beta", "Gizmo", "invoice processing")
	m, err := FindPeers(context.Background(), src, signal.Registration{VendorName: "Acme", ProductName: "Widget"})
	if err != nil || len(m.Peers) != 0 {
		t.Fatalf("match=%+v err=%v", m, err)
	}
}

func TestTrajectoryBenchmarkFromSnapshots(t *testing.T) {
	src := newFakeSource()
	own := signal.Registration{ID: "own", VendorName: "Acme", ProductName: "Widget"}
	src.categories[own.Product()] = "crm"
	peers := []struct {
		id       string
		smooth   float64
		friction float64
	}{{"a", 60, 50}, {"b", 70, 60}, {"c", 90, 95}, {"d", 95, 100}}
	for _, p := range peers {
		reg := src.addPeer(p.id, "V-"+p.id, "P-"+p.id, "")
		src.categories[reg.Product()] = "crm"
		src.snapshots[p.id] = store.Snapshot{
			Trajectory: oneStage(signal.StageIntegration, p.smooth, map[trajectory.Metric]float64{trajectory.MetricFriction: p.friction}),
			CreatedAt:  now.Add(-time.Hour),
		}
	}
	stale := src.addPeer("stale", "V-stale", "P-stale", "")
	src.categories[stale.Product()] = "crm"
	src.snapshots["stale"] = store.Snapshot{Trajectory: oneStage(signal.StageIntegration, 10, nil), CreatedAt: now.AddDate(0, 0, -30)}

	engine := NewEngine(src, Config{Concurrency: 2, SnapshotMaxAge: DefaultSnapshotMaxAge, Now: func() time.Time { return now }})
	ownTraj := oneStage(signal.StageIntegration, 80, map[trajectory.Metric]float64{trajectory.MetricFriction: 90, trajectory.MetricEffort: 40})

	res, err := engine.Trajectory(context.Background(), own, ownTraj)
	if err != nil {
		t.Fatalf("benchmark: %v", err)
	}
	if res == nil {
		t.Fatal("expected result")
	}
	if res.Category != "crm" || res.PeerCount != 4 {
		t.Fatalf("category=%q peers=%d", res.Category, res.PeerCount)
	}
	if o := res.Overall; o.Average != 78.75 || o.Median != 80 || o.Percentile != 50 {
		t.Fatalf("overall=%+v", o)
	}
	st := res.Stages[signal.StageIntegration]
	if st == nil || st.Average != 78.75 || st.PeerCount != 4 {
		t.Fatalf("integration=%+v", st)
	}
	if f := st.Metrics[trajectory.MetricFriction]; f == nil || f.Percentile != 50 || f.Average != 76.25 {
		t.Fatalf("friction=%+v", f)
	}
	if _, ok := st.Metrics[trajectory.MetricEffort]; ok {
		t.Fatal("effort has no peer values and should be absent")
	}
	if _, ok := res.Stages[signal.StageOnboarding]; ok {
		t.Fatal("unscored stage should have no benchmark")
	}
	if src.signalCalls["stale"] != 1 || src.signalCalls["a"] != 0 {
		t.Fatalf("signal reads=%v", src.signalCalls)
	}
}

func TestTrajectoryBenchmarkRecomputesWithoutMutatingPeerSignals(t *testing.T) {
	src := newFakeSource()
	own := signal.Registration{ID: "own", VendorName: "Acme", ProductName: "Widget", IntendedUse: "invoice processing"}
	peer := src.addPeer("p", "Beta", "Gizmo", "invoice processing")
	raw := []*signal.Event{
		{ID: "s1", ProductID: peer.ID, SourceType: signal.SourceJira, EventType: signal.EventTicketCreated, Severity: signal.SeverityHigh, Title: "Login error", OccurredAt: now.AddDate(0, -5, 0)},
		{ID: "s2", ProductID: peer.ID, SourceType: signal.SourceJira, EventType: signal.EventTicketResolved, Title: "Login error", OccurredAt: now.AddDate(0, -5, 2)},
	}
	src.signals[peer.ID] = raw

	engine := NewEngine(src, Config{Now: func() time.Time { return now }})
	res, err := engine.Trajectory(context.Background(), own, oneStage(signal.StageOnboarding, 50, nil))
	if err != nil {
		t.Fatalf("benchmark: %v", err)
	}
	if res == nil || res.PeerCount != 1 || res.Category != LabelSimilarUse || res.Overall == nil {
		t.Fatalf("res=%+v", res)
	}
	for _, e := range raw {
		if e.Metadata.HasTags() {
			t.Fatalf("peer signal %s mutated: %v", e.ID, e.Metadata)
		}
	}
}

func TestTrajectoryBenchmarkNoPeers(t *testing.T) {
	engine := NewEngine(newFakeSource(), Config{})
	res, err := engine.Trajectory(context.Background(), signal.Registration{VendorName: "A", ProductName: "B"}, trajectory.Empty())
	if err != nil || res != nil {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestTrajectoryBenchmarkCanceled(t *testing.T) {
	src := newFakeSource()
	own := signal.Registration{ID: "own", VendorName: "Acme", ProductName: "Widget", IntendedUse: "invoice processing"}
	src.addPeer("p", "Beta", "Gizmo", "invoice processing")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(src, Config{}).Trajectory(ctx, own, oneStage(signal.StageOnboarding, 50, nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestHealthBenchmark(t *testing.T) {
	src := newFakeSource()
	own := signal.Registration{ID: "own", VendorName: "Acme", ProductName: "Widget", IntendedUse: "invoice processing"}
	for i, score := range []int{60, 70, 90, 95} {
		id := string(rune('a' + i))
		src.addPeer(id, "V"+id, "P"+id, "invoice processing")
		src.snapshots[id] = store.Snapshot{Health: &health.Score{
			Score:     score,
			Breakdown: map[signal.HealthCategory]int{signal.CategoryReliability: score, signal.CategoryPerformance: 100},
		}}
	}
	src.addPeer("none", "Vn", "Pn", "invoice processing")

	ownScore := &health.Score{
		Score:     80,
		Breakdown: map[signal.HealthCategory]int{signal.CategoryReliability: 80, signal.CategoryPerformance: 100, signal.CategoryFitness: 50},
	}
	res, err := NewEngine(src, Config{}).Health(context.Background(), own, ownScore)
	if err != nil {
		t.Fatalf("health benchmark: %v", err)
	}
	if res.PeerCount != 4 || res.Category != LabelSimilarUse {
		t.Fatalf("res=%+v", res)
	}
	if res.Overall.Average != 78.75 || res.Overall.Percentile != 50 {
		t.Fatalf("overall=%+v", res.Overall)
	}
	if perf := res.Categories[signal.CategoryPerformance]; perf == nil || perf.Percentile != 0 {
		t.Fatalf("performance=%+v", perf)
	}
	if _, ok := res.Categories[signal.CategoryFitness]; ok {
		t.Fatal("fitness has no peer values")
	}
}
