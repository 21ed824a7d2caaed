package trajectory

import (
	"fmt"
	"strings"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

const (
	StatusCompleted = "completed"
	StatusCurrent   = "current"
	StatusUpcoming  = "upcoming"

	neutralOverall = 50.0
)

var concernLabels = map[Metric]string{
	MetricFriction:   "high issue friction",
	MetricRecurrence: "recurring issues",
	MetricEscalation: "escalating severity",
	MetricResolution: "slow resolution",
	MetricEffort:     "high communication effort",
}

// StageResult is one row of the trajectory. Smoothness, DateRange and the
// metric maps are nil for stages without signals.
type StageResult struct {
	Name             signal.Stage       `json:"name"`
	Status           string             `json:"status"`
	SignalCount      int                `json:"signal_count"`
	Smoothness       *float64           `json:"smoothness_score"`
	DateRange        *DateRange         `json:"date_range"`
	Explanation      string             `json:"explanation"`
	Metrics          map[Metric]float64 `json:"metrics"`
	MetricDetails    map[Metric]string  `json:"metric_details,omitempty"`
	MetricConfidence map[Metric]string  `json:"metric_confidence,omitempty"`
	Summary          string             `json:"summary,omitempty"`
}

// Trajectory is the computed maturity picture of one product.
type Trajectory struct {
	CurrentStage       signal.Stage  `json:"current_stage"`
	PeakStage          signal.Stage  `json:"peak_stage"`
	Stages             []StageResult `json:"stages"`
	RegressionDetected bool          `json:"regression_detected"`
	RegressionDetail   string        `json:"regression_detail,omitempty"`
	OverallSmoothness  float64       `json:"overall_smoothness"`
	Confidence         string        `json:"confidence"`
	SignalCount        int           `json:"signal_count"`
	Summary            string        `json:"summary,omitempty"`
}

// Stage returns the row for name, or nil.
func (t *Trajectory) Stage(name signal.Stage) *StageResult {
	for i := range t.Stages {
		if t.Stages[i].Name == name {
			return &t.Stages[i]
		}
	}
	return nil
}

// Scored reports whether any stage carries a smoothness score.
func (t *Trajectory) Scored() bool {
	for _, s := range t.Stages {
		if s.Smoothness != nil {
			return true
		}
	}
	return false
}

// Empty is the trajectory of a product with no signals.
func Empty() *Trajectory {
	t := &Trajectory{
		CurrentStage:      signal.StageOnboarding,
		PeakStage:         signal.StageOnboarding,
		OverallSmoothness: neutralOverall,
		Confidence:        signal.ConfidenceTier(0),
	}
	for _, st := range signal.Stages {
		row := StageResult{Name: st, Status: StatusUpcoming, Explanation: "Not reached yet."}
		if st == signal.StageOnboarding {
			row.Status = StatusCurrent
			row.Explanation = "No signals yet."
		}
		t.Stages = append(t.Stages, row)
	}
	return t
}

// Compute builds the trajectory from tagged events using the default
// incident thresholds.
func Compute(events []*signal.Event) *Trajectory {
	return ComputeWithConfig(events, DefaultIncidentConfig)
}

// ComputeWithConfig builds the trajectory. Events are read, never modified;
// ordering happens on a private copy of the slice.
func ComputeWithConfig(events []*signal.Event, cfg IncidentConfig) *Trajectory {
	if len(events) == 0 {
		return Empty()
	}
	sorted := append([]*signal.Event(nil), events...)
	signal.SortChronological(sorted)

	tl := BuildTimeline(sorted)
	hist := NewHistory(sorted, cfg)

	t := &Trajectory{
		CurrentStage:       tl.CurrentStage,
		PeakStage:          tl.PeakStage,
		RegressionDetected: tl.RegressionDetected,
		RegressionDetail:   tl.RegressionDetail,
		Confidence:         signal.ConfidenceTier(len(sorted)),
		SignalCount:        len(sorted),
	}

	var sum float64
	scored := 0
	for _, st := range signal.Stages {
		row := StageResult{Name: st, Status: stageStatus(st, tl.CurrentStage)}
		stageEvents := tl.StageEvents[st]
		if len(stageEvents) == 0 {
			row.Explanation = fmt.Sprintf("No signals classified as %s.", st)
			t.Stages = append(t.Stages, row)
			continue
		}

		sm := ScoreStage(st, stageEvents, hist)
		smooth := Round1(Combine(st, sm.Scores))
		row.SignalCount = len(stageEvents)
		row.Smoothness = &smooth
		row.Metrics = sm.Scores
		row.MetricDetails = sm.Details
		row.MetricConfidence = sm.Confidence
		row.Explanation = explain(st, sm.Scores, smooth, len(stageEvents))
		if r, ok := tl.Ranges[st]; ok {
			r := r
			row.DateRange = &r
		}
		t.Stages = append(t.Stages, row)
		sum += smooth
		scored++
	}

	t.OverallSmoothness = neutralOverall
	if scored > 0 {
		t.OverallSmoothness = Round1(sum / float64(scored))
	}
	return t
}

func stageStatus(st, current signal.Stage) string {
	switch {
	case st == current:
		return StatusCurrent
	case st.Rank() < current.Rank():
		return StatusCompleted
	}
	return StatusUpcoming
}

// Quality buckets a smoothness score.
func Quality(smooth float64) string {
	switch {
	case smooth >= 70:
		return "smooth"
	case smooth >= 40:
		return "moderate"
	}
	return "rough"
}

// WeakestMetric is the lowest-scoring metric, earliest on ties.
func WeakestMetric(scores map[Metric]float64) Metric {
	worst := Metrics[0]
	for _, m := range Metrics[1:] {
		if scores[m] < scores[worst] {
			worst = m
		}
	}
	return worst
}

// ConcernLabel names the weakness a metric stands for.
func ConcernLabel(m Metric) string { return concernLabels[m] }

func explain(st signal.Stage, scores map[Metric]float64, smooth float64, n int) string {
	name := string(st)
	name = strings.ToUpper(name[:1]) + name[1:]
	out := fmt.Sprintf("%s was %s (%d %s). ", name, Quality(smooth), n, plural(n, "signal"))
	if smooth < 70 {
		return out + fmt.Sprintf("Main concern: %s.", ConcernLabel(WeakestMetric(scores)))
	}
	return out + "No major concerns."
}
