package trajectory

import "github.com/joelkehle/adoption-trajectory/internal/signal"

type Metric string

const (
	MetricFriction   Metric = "friction"
	MetricRecurrence Metric = "recurrence"
	MetricEscalation Metric = "escalation"
	MetricResolution Metric = "resolution"
	MetricEffort     Metric = "effort"
)

// Metrics lists the sub-metrics in reporting order. Ties for the weakest
// metric resolve to the earliest entry.
var Metrics = []Metric{MetricFriction, MetricRecurrence, MetricEscalation, MetricResolution, MetricEffort}

// StageWeights is hand-tuned. Early stages lean on friction and resolution;
// later ones on recurrence and effort. Each row sums to 1.
var StageWeights = map[signal.Stage]map[Metric]float64{
	signal.StageOnboarding:    {MetricFriction: 0.35, MetricRecurrence: 0.10, MetricEscalation: 0.15, MetricResolution: 0.30, MetricEffort: 0.10},
	signal.StageIntegration:   {MetricFriction: 0.30, MetricRecurrence: 0.15, MetricEscalation: 0.15, MetricResolution: 0.25, MetricEffort: 0.15},
	signal.StageStabilization: {MetricFriction: 0.25, MetricRecurrence: 0.20, MetricEscalation: 0.20, MetricResolution: 0.20, MetricEffort: 0.15},
	signal.StageProductive:    {MetricFriction: 0.20, MetricRecurrence: 0.25, MetricEscalation: 0.15, MetricResolution: 0.15, MetricEffort: 0.25},
	signal.StageOptimization:  {MetricFriction: 0.20, MetricRecurrence: 0.25, MetricEscalation: 0.15, MetricResolution: 0.15, MetricEffort: 0.25},
}

// Combine weights the sub-metric scores for stage into one smoothness score.
func Combine(stage signal.Stage, scores map[Metric]float64) float64 {
	weights, ok := StageWeights[stage]
	if !ok {
		weights = StageWeights[signal.StageProductive]
	}
	var total float64
	for _, m := range Metrics {
		total += weights[m] * scores[m]
	}
	return clamp(total)
}
