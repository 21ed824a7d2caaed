package benchmark

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/adoption-trajectory/internal/classify"
	"github.com/joelkehle/adoption-trajectory/internal/health"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/store"
	"github.com/joelkehle/adoption-trajectory/internal/trajectory"
)

const (
	DefaultConcurrency    = 4
	DefaultSnapshotMaxAge = 7 * 24 * time.Hour
)

// Source is everything the engine reads about peers.
type Source interface {
	PeerSource
	Signals(ctx context.Context, tenantID, productID string) ([]*signal.Event, error)
	LatestSnapshot(ctx context.Context, tenantID, productID string) (store.Snapshot, error)
}

type Config struct {
	Concurrency int
	// SnapshotMaxAge bounds how old a stored peer trajectory may be before it
	// is recomputed from signals. Zero accepts any age.
	SnapshotMaxAge time.Duration
	Now            func() time.Time
}

type Engine struct {
	src Source
	cfg Config
}

// StageStat is a stage benchmark plus per-metric benchmarks.
type StageStat struct {
	Stat
	Metrics map[trajectory.Metric]*Stat `json:"metrics,omitempty"`
}

// Result is the trajectory benchmark block. PeerCount counts peers that
// contributed at least one scored stage.
type Result struct {
	Category  string                      `json:"category"`
	PeerCount int                         `json:"peer_count"`
	Overall   *Stat                       `json:"overall"`
	Stages    map[signal.Stage]*StageStat `json:"stages"`
}

// HealthResult benchmarks a health score against each peer's latest one.
type HealthResult struct {
	Category   string                          `json:"category"`
	PeerCount  int                             `json:"peer_count"`
	Overall    *Stat                           `json:"overall"`
	Categories map[signal.HealthCategory]*Stat `json:"categories"`
}

func NewEngine(src Source, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{src: src, cfg: cfg}
}

type peerScores struct {
	overall *float64
	stages  map[signal.Stage]float64
	metrics map[signal.Stage]map[trajectory.Metric]float64
}

func scoresOf(t *trajectory.Trajectory) peerScores {
	ps := peerScores{
		stages:  make(map[signal.Stage]float64),
		metrics: make(map[signal.Stage]map[trajectory.Metric]float64),
	}
	var sum float64
	for _, st := range t.Stages {
		if st.Smoothness == nil {
			continue
		}
		sum += *st.Smoothness
		ps.stages[st.Name] = trajectory.Round1(*st.Smoothness)
		m := make(map[trajectory.Metric]float64, len(st.Metrics))
		for k, v := range st.Metrics {
			m[k] = trajectory.Round1(v)
		}
		ps.metrics[st.Name] = m
	}
	if len(ps.stages) > 0 {
		ps.overall = ptr(trajectory.Round1(sum / float64(len(ps.stages))))
	}
	return ps
}

// Trajectory benchmarks own against its peers. It returns nil when no peer
// contributes a score.
func (e *Engine) Trajectory(ctx context.Context, reg signal.Registration, own *trajectory.Trajectory) (*Result, error) {
	if own == nil {
		return nil, nil
	}
	match, err := FindPeers(ctx, e.src, reg)
	if err != nil {
		return nil, err
	}
	if len(match.Peers) == 0 {
		return nil, nil
	}

	scores := make([]peerScores, len(match.Peers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, peer := range match.Peers {
		g.Go(func() error {
			t, err := e.peerTrajectory(gctx, peer)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Printf("benchmark peer_skipped product=%s err=%v", peer.ID, err)
				return nil
			}
			scores[i] = scoresOf(t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var overall []float64
	stageVals := make(map[signal.Stage][]float64)
	metricVals := make(map[signal.Stage]map[trajectory.Metric][]float64)
	for _, ps := range scores {
		if ps.overall == nil {
			continue
		}
		overall = append(overall, *ps.overall)
		for st, v := range ps.stages {
			stageVals[st] = append(stageVals[st], v)
			if metricVals[st] == nil {
				metricVals[st] = make(map[trajectory.Metric][]float64)
			}
			for m, mv := range ps.metrics[st] {
				metricVals[st][m] = append(metricVals[st][m], mv)
			}
		}
	}
	if len(overall) == 0 {
		return nil, nil
	}

	res := &Result{
		Category:  match.Label,
		PeerCount: len(overall),
		Overall:   Compare(ptr(own.OverallSmoothness), overall),
		Stages:    make(map[signal.Stage]*StageStat),
	}
	for _, st := range signal.Stages {
		row := own.Stage(st)
		if row == nil {
			continue
		}
		stat := Compare(row.Smoothness, stageVals[st])
		if stat == nil {
			continue
		}
		ss := &StageStat{Stat: *stat}
		for _, m := range trajectory.Metrics {
			v, ok := row.Metrics[m]
			if !ok {
				continue
			}
			if ms := Compare(ptr(v), metricVals[st][m]); ms != nil {
				if ss.Metrics == nil {
					ss.Metrics = make(map[trajectory.Metric]*Stat)
				}
				ss.Metrics[m] = ms
			}
		}
		res.Stages[st] = ss
	}
	return res, nil
}

func (e *Engine) peerTrajectory(ctx context.Context, peer signal.Registration) (*trajectory.Trajectory, error) {
	snap, err := e.src.LatestSnapshot(ctx, peer.TenantID, peer.ID)
	switch {
	case err == nil:
		if e.fresh(snap) {
			return snap.Trajectory, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	events, err := e.src.Signals(ctx, peer.TenantID, peer.ID)
	if err != nil {
		return nil, err
	}
	return trajectory.Compute(TagDeterministic(events, peer, e.cfg.Now())), nil
}

func (e *Engine) fresh(snap store.Snapshot) bool {
	if snap.Trajectory == nil || len(snap.Trajectory.Stages) == 0 {
		return false
	}
	return e.cfg.SnapshotMaxAge <= 0 || e.cfg.Now().Sub(snap.CreatedAt) <= e.cfg.SnapshotMaxAge
}

// TagDeterministic returns copies of events with a deterministic
// classification filled in wherever none is cached. The input is untouched.
func TagDeterministic(events []*signal.Event, reg signal.Registration, at time.Time) []*signal.Event {
	var det classify.DeterministicClassifier
	out := make([]*signal.Event, 0, len(events))
	for _, ev := range events {
		c := ev.Clone()
		if !c.Metadata.HasTags() {
			c.Metadata.Apply(det.Tags(classify.InputFor(c, reg)), classify.DeterministicName, at)
		}
		out = append(out, c)
	}
	return out
}

// Health benchmarks own against the latest stored health score of each
// peer. It returns nil when no peer has one.
func (e *Engine) Health(ctx context.Context, reg signal.Registration, own *health.Score) (*HealthResult, error) {
	if own == nil {
		return nil, nil
	}
	match, err := FindPeers(ctx, e.src, reg)
	if err != nil {
		return nil, err
	}
	if len(match.Peers) == 0 {
		return nil, nil
	}

	found := make([]*health.Score, len(match.Peers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, peer := range match.Peers {
		g.Go(func() error {
			snap, err := e.src.LatestSnapshot(gctx, peer.TenantID, peer.ID)
			switch {
			case err == nil:
				found[i] = snap.Health
			case gctx.Err() != nil:
				return gctx.Err()
			case !errors.Is(err, store.ErrNotFound):
				log.Printf("benchmark peer_skipped product=%s err=%v", peer.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var peers []*health.Score
	for _, s := range found {
		if s != nil {
			peers = append(peers, s)
		}
	}
	if len(peers) == 0 {
		return nil, nil
	}

	overall := make([]float64, 0, len(peers))
	for _, s := range peers {
		overall = append(overall, float64(s.Score))
	}
	res := &HealthResult{
		Category:   match.Label,
		PeerCount:  len(peers),
		Overall:    Compare(ptr(float64(own.Score)), overall),
		Categories: make(map[signal.HealthCategory]*Stat),
	}
	for _, c := range signal.HealthCategories {
		v, ok := own.Breakdown[c]
		if !ok {
			continue
		}
		var vals []float64
		for _, s := range peers {
			if pv, ok := s.Breakdown[c]; ok {
				vals = append(vals, float64(pv))
			}
		}
		if stat := Compare(ptr(float64(v)), vals); stat != nil {
			res.Categories[c] = stat
		}
	}
	return res, nil
}
