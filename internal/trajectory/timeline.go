package trajectory

import (
	"fmt"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

const (
	recentWindow = 10
	tieEpsilon   = 1e-9
)

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Timeline is the stage segmentation of one product's history.
type Timeline struct {
	CurrentStage       signal.Stage
	PeakStage          signal.Stage
	StageEvents        map[signal.Stage][]*signal.Event
	Ranges             map[signal.Stage]DateRange
	RegressionDetected bool
	RegressionDetail   string
}

// stageOf reads the stage tag, treating untagged or unknown labels as
// productive.
func stageOf(e *signal.Event) signal.Stage {
	s := e.Metadata.StageTopic()
	if !s.Valid() {
		return signal.StageProductive
	}
	return s
}

// BuildTimeline buckets chronologically sorted events by stage, picks the
// current stage by a recency-weighted vote over the last ten signals and
// flags regression when the current stage ranks below the peak.
func BuildTimeline(events []*signal.Event) Timeline {
	tl := Timeline{
		CurrentStage: signal.StageOnboarding,
		PeakStage:    signal.StageOnboarding,
		StageEvents:  make(map[signal.Stage][]*signal.Event),
		Ranges:       make(map[signal.Stage]DateRange),
	}
	for _, e := range events {
		st := stageOf(e)
		tl.StageEvents[st] = append(tl.StageEvents[st], e)

		at := signal.UTC(e.OccurredAt)
		if at.IsZero() {
			continue
		}
		r, ok := tl.Ranges[st]
		if !ok {
			tl.Ranges[st] = DateRange{Start: at, End: at}
			continue
		}
		if at.Before(r.Start) {
			r.Start = at
		}
		if at.After(r.End) {
			r.End = at
		}
		tl.Ranges[st] = r
	}
	if len(events) == 0 {
		return tl
	}

	tl.CurrentStage = currentStage(events)
	for _, st := range signal.Stages {
		if len(tl.StageEvents[st]) > 0 {
			tl.PeakStage = st
		}
	}
	if tl.CurrentStage.Rank() < tl.PeakStage.Rank() {
		tl.RegressionDetected = true
		tl.RegressionDetail = fmt.Sprintf(
			"Integration appears to have regressed from %s to %s. Recent signals show %s-type activity.",
			tl.PeakStage, tl.CurrentStage, tl.CurrentStage)
	}
	return tl
}

// currentStage votes over the most recent signals. Internal implementation
// work counts double and later signals weigh more. Equal totals go to the
// later stage.
func currentStage(events []*signal.Event) signal.Stage {
	start := len(events) - recentWindow
	if start < 0 {
		start = 0
	}
	votes := make(map[signal.Stage]float64)
	for i, e := range events[start:] {
		w := 1.0
		if e.Metadata.Subject() == signal.SubjectInternalImpl {
			w = 2.0
		}
		votes[stageOf(e)] += w * (1 + float64(i)*0.1)
	}

	top := -1.0
	for _, v := range votes {
		if v > top {
			top = v
		}
	}
	best := signal.StageOnboarding
	for _, st := range signal.Stages {
		if v, ok := votes[st]; ok && v >= top-tieEpsilon {
			best = st
		}
	}
	return best
}
